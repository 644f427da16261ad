package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/gatehouse/internal/ledger"
	"github.com/roach88/gatehouse/internal/model"
)

// TrailOutput is a document's audit trail.
type TrailOutput struct {
	DocumentID string             `json:"document_id"`
	Entries    []model.AuditEntry `json:"entries"`
	Verified   *bool              `json:"verified,omitempty"`
}

func (t TrailOutput) render(w io.Writer) {
	if len(t.Entries) == 0 {
		fmt.Fprintf(w, "no audit entries for %s\n", t.DocumentID)
	}
	for _, e := range t.Entries {
		from := string(e.From)
		if from == "" {
			from = "-"
		}
		line := fmt.Sprintf("#%d %s %s %s %s -> %s", e.Seq, model.FormatTime(e.Timestamp), e.ActorID, e.Action, from, e.To)
		if e.Denial != "" {
			line += " [" + e.Denial + "]"
		}
		if e.Reason != nil && *e.Reason != "" {
			line += fmt.Sprintf(" %q", *e.Reason)
		}
		fmt.Fprintln(w, line)
		for _, c := range e.Snapshot.Variance {
			fmt.Fprintf(w, "    %s %s%% %s\n", c.Field, c.PercentDeviation.StringFixed(2), c.Band)
		}
	}
	if t.Verified != nil && *t.Verified {
		fmt.Fprintf(w, "hash chain verified (%d entries)\n", len(t.Entries))
	}
}

// NewTrailCommand creates the trail command.
func NewTrailCommand(rootOpts *RootOptions) *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "trail <document-id>",
		Short: "Print a document's audit trail",
		Long: `Print a document's audit trail, oldest first. With --verify the hash
chain is recomputed and a broken chain exits with code 1.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			ctx := cmd.Context()
			return withRuntime(ctx, rootOpts, f, func(r *runtime) error {
				id := args[0]
				entries, err := r.engine.Trail(ctx, id)
				if err != nil {
					return f.Fail(err)
				}
				out := TrailOutput{DocumentID: id, Entries: entries}
				if verify {
					err := ledger.VerifyChain(id, entries)
					var ce *ledger.ChainError
					if errors.As(err, &ce) {
						_ = f.Error(ErrCodeChainBroken, ce.Error(), map[string]string{
							"document_id": ce.DocumentID,
							"seq":         fmt.Sprint(ce.Seq),
						})
						return WrapExitError(ExitFailure, "audit chain broken", err)
					}
					if err != nil {
						return f.Fail(err)
					}
					ok := true
					out.Verified = &ok
				}
				return f.Success(out, out.render)
			})
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "recompute the hash chain")
	return cmd
}
