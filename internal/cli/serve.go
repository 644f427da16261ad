package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var poll time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the escalation scheduler and notification dispatcher",
		Long: `Run the escalation scheduler and the notification dispatcher until
interrupted. Open escalation items are restored from the store at startup
and fire when their deadline passes. Notifications go to the log and, with
--nats-url, to NATS subjects gatehouse.<kind>.<document_type>.

Items scheduled, acknowledged or closed by other processes are picked up
every --poll interval. An item closed elsewhere is never fired again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, cmd, poll)
		},
	}
	cmd.Flags().DurationVar(&poll, "poll", 30*time.Second, "interval for picking up escalation items scheduled elsewhere (0 disables)")
	return cmd
}

func runServe(ctx context.Context, o *RootOptions, cmd *cobra.Command, poll time.Duration) error {
	f := o.formatter(cmd)
	r, err := openRuntime(ctx, o)
	if err != nil {
		_ = f.Error(ErrCodeSetup, err.Error(), nil)
		return err
	}

	slog.Info("gatehouse serving",
		"driver", o.Driver,
		"document_types", len(r.bundle.Graphs),
		"open_escalations", r.scheduler.Len(),
		"nats", o.NATSURL != "",
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.scheduler.Run(gctx)
	})
	g.Go(func() error {
		return r.dispatcher.Run(gctx)
	})
	if poll > 0 {
		g.Go(func() error {
			return pollEscalations(gctx, r, poll)
		})
	}
	err = g.Wait()

	// Deliver what the last sweep queued before closing connections.
	r.Close(context.Background())
	delivered, failed := r.dispatcher.Stats()
	slog.Info("gatehouse stopped", "delivered", delivered, "failed", failed)

	if err != nil && !errors.Is(err, context.Canceled) {
		_ = f.Error(ErrCodeInternal, err.Error(), nil)
		return WrapExitError(ExitCommandError, "serve", err)
	}
	return f.Success(map[string]int64{"delivered": delivered, "failed": failed}, func(w io.Writer) {
		fmt.Fprintf(w, "stopped: %d notifications delivered, %d failed\n", delivered, failed)
	})
}

// pollEscalations restores items that other processes persisted and
// refreshes tracked items that other processes acknowledged or closed.
func pollEscalations(ctx context.Context, r *runtime, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		open, err := r.store.ListOpenEscalations(ctx)
		if err != nil {
			slog.Warn("escalation poll failed", "error", err)
			continue
		}
		if n := r.scheduler.Restore(open); n > 0 {
			slog.Info("escalations picked up", "count", n)
		}
		n, err := r.scheduler.Refresh(ctx)
		if err != nil {
			slog.Warn("escalation refresh failed", "error", err)
		}
		if n > 0 {
			slog.Info("escalations refreshed", "count", n)
		}
	}
}
