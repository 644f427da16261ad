package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/gatehouse/internal/escalation"
	"github.com/roach88/gatehouse/internal/model"
)

// EscalationOutput is the printed form of an escalation item.
type EscalationOutput struct {
	ID             string `json:"id"`
	DocumentID     string `json:"document_id"`
	Action         string `json:"action_name"`
	Phase          string `json:"phase,omitempty"`
	Status         string `json:"status"`
	AssignedRole   string `json:"assigned_role"`
	EscalateToRole string `json:"escalate_to_role,omitempty"`
	Level          int    `json:"level"`
	Deadline       string `json:"deadline"`
}

func escalationOutput(item model.EscalationItem) EscalationOutput {
	return EscalationOutput{
		ID:             item.ID,
		DocumentID:     item.DocumentID,
		Action:         item.ActionName,
		Phase:          item.Phase,
		Status:         string(item.Status),
		AssignedRole:   item.AssignedRole,
		EscalateToRole: item.EscalateToRole,
		Level:          item.Level,
		Deadline:       model.FormatTime(item.Deadline),
	}
}

func (e EscalationOutput) render(w io.Writer) {
	line := fmt.Sprintf("%s %s %s [%s] %s level %d, due %s", e.ID, e.DocumentID, e.Action, e.Status, e.AssignedRole, e.Level, e.Deadline)
	if e.EscalateToRole != "" {
		line += ", then " + e.EscalateToRole
	}
	fmt.Fprintln(w, line)
}

func escalationOutputs(items []model.EscalationItem) []EscalationOutput {
	out := make([]EscalationOutput, len(items))
	for i, item := range items {
		out[i] = escalationOutput(item)
	}
	return out
}

func renderEscalations(items []EscalationOutput) func(io.Writer) {
	return func(w io.Writer) {
		if len(items) == 0 {
			fmt.Fprintln(w, "no escalation items")
			return
		}
		for _, item := range items {
			item.render(w)
		}
	}
}

// NewEscalationsCommand creates the escalations command.
func NewEscalationsCommand(rootOpts *RootOptions) *cobra.Command {
	var document string
	cmd := &cobra.Command{
		Use:   "escalations",
		Short: "List escalation items",
		Long: `List open escalation items ordered by deadline, or every item of one
document with --document.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			ctx := cmd.Context()
			return withRuntime(ctx, rootOpts, f, func(r *runtime) error {
				var (
					items []model.EscalationItem
					err   error
				)
				if document != "" {
					items, err = r.store.ListEscalationsByDocument(ctx, document)
				} else {
					items, err = r.store.ListOpenEscalations(ctx)
					escalation.SortByDeadline(items)
				}
				if err != nil {
					return f.Fail(err)
				}
				out := escalationOutputs(items)
				return f.Success(out, renderEscalations(out))
			})
		},
	}
	cmd.Flags().StringVar(&document, "document", "", "list every item of this document")
	return cmd
}

// newItemCommand builds ack, complete and cancel, which differ only in the
// scheduler operation.
func newItemCommand(rootOpts *RootOptions, use, short string, op func(*escalation.Scheduler) func(context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <escalation-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			ctx := cmd.Context()
			return withRuntime(ctx, rootOpts, f, func(r *runtime) error {
				id := args[0]
				if _, err := r.scheduler.Get(id); err != nil {
					// Closed items are not restored; report their stored status.
					item, lerr := r.store.LoadEscalation(ctx, id)
					if lerr != nil {
						return f.Fail(err)
					}
					return f.Fail(fmt.Errorf("%s %s (%s): %w", use, id, item.Status, escalation.ErrItemClosed))
				}
				if err := op(r.scheduler)(ctx, id); err != nil {
					return f.Fail(err)
				}
				item, err := r.scheduler.Get(id)
				if err != nil {
					return f.Fail(err)
				}
				out := escalationOutput(item)
				return f.Success(out, out.render)
			})
		},
	}
}

// NewAckCommand creates the ack command.
func NewAckCommand(rootOpts *RootOptions) *cobra.Command {
	return newItemCommand(rootOpts, "ack", "Acknowledge an escalation item",
		func(s *escalation.Scheduler) func(context.Context, string) error { return s.Acknowledge })
}

// NewCompleteCommand creates the complete command.
func NewCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	return newItemCommand(rootOpts, "complete", "Complete an escalation item",
		func(s *escalation.Scheduler) func(context.Context, string) error { return s.Complete })
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return newItemCommand(rootOpts, "cancel", "Withdraw an escalation item",
		func(s *escalation.Scheduler) func(context.Context, string) error { return s.Cancel })
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fire every escalation item past its deadline once",
		Long: `Fire every escalation item past its deadline and exit. Useful from cron
when serve is not running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			ctx := cmd.Context()
			return withRuntime(ctx, rootOpts, f, func(r *runtime) error {
				fired, err := r.scheduler.Sweep(ctx)
				if err != nil {
					return f.Fail(err)
				}
				out := escalationOutputs(fired)
				return f.Success(out, renderEscalations(out))
			})
		},
	}
}
