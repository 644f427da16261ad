package cli

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/roach88/gatehouse/internal/config"
	"github.com/roach88/gatehouse/internal/escalation"
	"github.com/roach88/gatehouse/internal/model"
	"github.com/roach88/gatehouse/internal/notify"
	"github.com/roach88/gatehouse/internal/pgstore"
	"github.com/roach88/gatehouse/internal/roles"
	"github.com/roach88/gatehouse/internal/store"
	"github.com/roach88/gatehouse/internal/workflow"
)

// backend is the store surface the CLI needs. Implemented by store.Store
// and pgstore.Store.
type backend interface {
	workflow.Store
	escalation.Persister
	ListDocuments(ctx context.Context, docType model.DocumentType) ([]model.Document, error)
	ListOpenEscalations(ctx context.Context) ([]model.EscalationItem, error)
	ListEscalationsByDocument(ctx context.Context, documentID string) ([]model.EscalationItem, error)
	Close() error
}

var (
	_ backend = (*store.Store)(nil)
	_ backend = (*pgstore.Store)(nil)
)

// runtime wires one engine over the configured store.
type runtime struct {
	store      backend
	bundle     *config.Bundle
	engine     *workflow.Engine
	scheduler  *escalation.Scheduler
	dispatcher *notify.Dispatcher
	nc         *nats.Conn
}

// loadBundle returns the configured workflow bundle.
func loadBundle(o *RootOptions) (*config.Bundle, error) {
	if o.Config == "" {
		return config.Default()
	}
	return config.Load(o.Config)
}

func openBackend(ctx context.Context, o *RootOptions) (backend, error) {
	switch o.Driver {
	case "postgres":
		var opts []pgstore.Option
		if o.Schema != "" {
			opts = append(opts, pgstore.WithSchema(o.Schema))
		}
		return pgstore.Open(ctx, o.DB, opts...)
	default:
		return store.Open(o.DB)
	}
}

// openRuntime opens the store, restores open escalation items and builds
// the engine. Callers must Close the runtime.
func openRuntime(ctx context.Context, o *RootOptions) (*runtime, error) {
	bundle, err := loadBundle(o)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load configuration", err)
	}
	st, err := openBackend(ctx, o)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open store", err)
	}
	r := &runtime{store: st, bundle: bundle}

	sinks := []notify.Sink{notify.LogSink{}}
	if o.NATSURL != "" {
		sink, nc, err := notify.DialNATS(o.NATSURL)
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "connect notifications", err)
		}
		r.nc = nc
		sinks = append(sinks, sink)
	}
	r.dispatcher = notify.NewDispatcher(sinks...)

	r.scheduler = escalation.NewScheduler(
		escalation.WithPublisher(r.dispatcher),
		escalation.WithPersister(st),
		escalation.WithPolicies(bundle.Escalations...),
	)
	open, err := st.ListOpenEscalations(ctx)
	if err != nil {
		r.Close(ctx)
		return nil, WrapExitError(ExitCommandError, "restore escalations", err)
	}
	if n := r.scheduler.Restore(open); n > 0 {
		slog.Debug("escalations restored", "count", n)
	}

	r.engine, err = workflow.New(ctx, st,
		roles.NewResolver(bundle.Directory, bundle.Policy),
		bundle.Graphs,
		workflow.WithPublisher(r.dispatcher),
		workflow.WithEscalations(r.scheduler),
	)
	if err != nil {
		r.Close(ctx)
		return nil, WrapExitError(ExitCommandError, "build engine", err)
	}
	return r, nil
}

// Close delivers pending notifications and releases connections.
func (r *runtime) Close(ctx context.Context) {
	r.dispatcher.Drain(ctx)
	r.dispatcher.Close()
	if r.nc != nil {
		if err := r.nc.Drain(); err != nil {
			slog.Warn("nats drain failed", "error", err)
		}
	}
	if err := r.store.Close(); err != nil {
		slog.Warn("store close failed", "error", err)
	}
}

// withRuntime opens a runtime, runs fn and closes the runtime. Open
// failures are reported through f.
func withRuntime(ctx context.Context, o *RootOptions, f *OutputFormatter, fn func(*runtime) error) error {
	r, err := openRuntime(ctx, o)
	if err != nil {
		_ = f.Error(ErrCodeSetup, err.Error(), nil)
		return err
	}
	defer r.Close(ctx)
	return fn(r)
}
