package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/gatehouse/internal/model"
	"github.com/roach88/gatehouse/internal/variance"
	"github.com/roach88/gatehouse/internal/workflow"
)

// DocumentOutput is the printed form of a document.
type DocumentOutput struct {
	ID        string        `json:"id"`
	Type      string        `json:"document_type"`
	State     string        `json:"current_state"`
	Locked    bool          `json:"locked"`
	LockedAt  string        `json:"locked_at,omitempty"`
	Version   int64         `json:"version"`
	CreatedBy string        `json:"created_by"`
	CreatedAt string        `json:"created_at"`
	Payload   model.Payload `json:"payload"`
}

func documentOutput(d model.Document) DocumentOutput {
	out := DocumentOutput{
		ID:        d.ID,
		Type:      string(d.Type),
		State:     string(d.State),
		Locked:    d.Locked(),
		Version:   d.Version,
		CreatedBy: d.CreatedBy,
		CreatedAt: model.FormatTime(d.CreatedAt),
		Payload:   d.Payload,
	}
	if d.LockedAt != nil {
		out.LockedAt = model.FormatTime(*d.LockedAt)
	}
	if out.Payload == nil {
		out.Payload = model.Payload{}
	}
	return out
}

func (d DocumentOutput) render(w io.Writer) {
	lock := "unlocked"
	if d.Locked {
		lock = "locked since " + d.LockedAt
	}
	fmt.Fprintf(w, "%s (%s) %s, version %d, %s\n", d.ID, d.Type, d.State, d.Version, lock)
	fmt.Fprintf(w, "  created by %s at %s\n", d.CreatedBy, d.CreatedAt)
	for _, k := range sortedKeys(d.Payload) {
		fmt.Fprintf(w, "  %s = %v\n", k, d.Payload[k])
	}
}

// parsePayload decodes a JSON object flag. Numbers keep their text form.
func parsePayload(flag, raw string) (model.Payload, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	p, err := model.DecodePayload([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return p, nil
}

// parseMeasurement parses field=theoretical:observed.
func parseMeasurement(s string) (variance.Measurement, error) {
	field, values, ok := strings.Cut(s, "=")
	if !ok || field == "" {
		return variance.Measurement{}, fmt.Errorf("measurement %q: want field=theoretical:observed", s)
	}
	theo, obs, ok := strings.Cut(values, ":")
	if !ok {
		return variance.Measurement{}, fmt.Errorf("measurement %q: want field=theoretical:observed", s)
	}
	t, err := decimal.NewFromString(strings.TrimSpace(theo))
	if err != nil {
		return variance.Measurement{}, fmt.Errorf("measurement %q theoretical: %w", s, err)
	}
	o, err := decimal.NewFromString(strings.TrimSpace(obs))
	if err != nil {
		return variance.Measurement{}, fmt.Errorf("measurement %q observed: %w", s, err)
	}
	return variance.Measurement{Field: strings.TrimSpace(field), Theoretical: t, Observed: o}, nil
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		req     workflow.CreateRequest
		docType string
		payload string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a document in its initial state",
		Example: `  gatehouse create --type quote --actor alice --payload '{"customer":"Acme","total":1200}'
  gatehouse create --type material_reception --id r-17 --actor dave`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			p, err := parsePayload("payload", payload)
			if err != nil {
				return f.Fail(&workflow.RequestError{Op: "create", Fields: map[string]string{"Payload": err.Error()}})
			}
			req.Type = model.DocumentType(docType)
			req.Payload = p

			ctx := cmd.Context()
			return withRuntime(ctx, rootOpts, f, func(r *runtime) error {
				doc, err := r.engine.Create(ctx, req)
				if err != nil {
					return f.Fail(err)
				}
				out := documentOutput(doc)
				return f.Success(out, out.render)
			})
		},
	}
	cmd.Flags().StringVar(&docType, "type", "", "document type")
	cmd.Flags().StringVar(&req.ID, "id", "", "document id (generated when empty)")
	cmd.Flags().StringVar(&req.ActorID, "actor", "", "acting user")
	cmd.Flags().StringVar(&payload, "payload", "", "initial payload as a JSON object")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

// TransitionOutput is the printed result of an applied transition.
type TransitionOutput struct {
	Document   DocumentOutput        `json:"document"`
	Action     string                `json:"action"`
	AuditSeq   int64                 `json:"audit_seq"`
	Alerts     []model.VarianceCheck `json:"alerts,omitempty"`
	Escalation string                `json:"escalation_id,omitempty"`
	Archived   []string              `json:"archived_escalations,omitempty"`
}

func (t TransitionOutput) render(w io.Writer) {
	fmt.Fprintf(w, "%s: %s -> %s (audit #%d)\n", t.Action, t.Document.ID, t.Document.State, t.AuditSeq)
	for _, a := range t.Alerts {
		fmt.Fprintf(w, "  variance %s: %s%% %s\n", a.Field, a.PercentDeviation.StringFixed(2), a.Band)
	}
	if t.Escalation != "" {
		fmt.Fprintf(w, "  escalation scheduled: %s\n", t.Escalation)
	}
	for _, id := range t.Archived {
		fmt.Fprintf(w, "  escalation archived: %s\n", id)
	}
	t.Document.render(w)
}

// NewTransitionCommand creates the transition command.
func NewTransitionCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		req      workflow.TransitionRequest
		measures []string
		payload  string
	)
	cmd := &cobra.Command{
		Use:   "transition <document-id> <to-state>",
		Short: "Request a state transition",
		Long: `Request a state transition. The request passes the graph, lock,
capability, self-approval, variance and justification gates in that order;
a denial is recorded in the audit trail and exits with code 1.`,
		Example: `  gatehouse transition q-1 Approved --actor carol
  gatehouse transition q-1 PendingApproval --actor alice --justification "customer increased the volume"
  gatehouse transition r-1 AwaitingFrontDeskValidation --actor ivan \
    --measure cement=100:107 --measure humidity=5:12 --justification "certificate checked"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			req.DocumentID = args[0]
			req.To = model.State(args[1])
			for _, m := range measures {
				parsed, err := parseMeasurement(m)
				if err != nil {
					return f.Fail(&workflow.RequestError{Op: "transition", Fields: map[string]string{"Measurements": err.Error()}})
				}
				req.Measurements = append(req.Measurements, parsed)
			}
			p, err := parsePayload("payload", payload)
			if err != nil {
				return f.Fail(&workflow.RequestError{Op: "transition", Fields: map[string]string{"Payload": err.Error()}})
			}
			req.Payload = p

			ctx := cmd.Context()
			return withRuntime(ctx, rootOpts, f, func(r *runtime) error {
				res, err := r.engine.RequestTransition(ctx, req)
				if err != nil {
					return f.Fail(err)
				}
				out := TransitionOutput{
					Document:   documentOutput(res.Document),
					Action:     string(res.Entry.Action),
					AuditSeq:   res.Entry.Seq,
					Alerts:     res.Alerts,
					Escalation: res.EscalationID,
				}
				for _, item := range res.Archived {
					out.Archived = append(out.Archived, item.ID)
				}
				return f.Success(out, out.render)
			})
		},
	}
	cmd.Flags().StringVar(&req.ActorID, "actor", "", "acting user")
	cmd.Flags().StringVar(&req.Justification, "justification", "", "justification text (rollbacks, critical variance)")
	cmd.Flags().StringArrayVar(&measures, "measure", nil, "measurement as field=theoretical:observed (repeatable)")
	cmd.Flags().StringVar(&payload, "payload", "", "payload patch applied with the transition (JSON object)")
	cmd.Flags().Int64Var(&req.ExpectedVersion, "expected-version", 0, "fail unless the document is at this version")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

// NewAmendCommand creates the amend command.
func NewAmendCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		req   workflow.AmendRequest
		patch string
	)
	cmd := &cobra.Command{
		Use:     "amend <document-id>",
		Short:   "Change payload fields of an unlocked document",
		Example: `  gatehouse amend q-1 --actor alice --patch '{"total":1350}' --reason "volume change"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			p, err := parsePayload("patch", patch)
			if err != nil {
				return f.Fail(&workflow.RequestError{Op: "amend", Fields: map[string]string{"Patch": err.Error()}})
			}
			req.DocumentID = args[0]
			req.Patch = p

			ctx := cmd.Context()
			return withRuntime(ctx, rootOpts, f, func(r *runtime) error {
				doc, err := r.engine.Amend(ctx, req)
				if err != nil {
					return f.Fail(err)
				}
				out := documentOutput(doc)
				return f.Success(out, out.render)
			})
		},
	}
	cmd.Flags().StringVar(&req.ActorID, "actor", "", "acting user")
	cmd.Flags().StringVar(&patch, "patch", "", "fields to change as a JSON object")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "reason recorded in the audit trail")
	cmd.Flags().Int64Var(&req.ExpectedVersion, "expected-version", 0, "fail unless the document is at this version")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("patch")
	return cmd
}

// ShowOutput is a document plus the transitions an actor may request.
type ShowOutput struct {
	Document  DocumentOutput `json:"document"`
	Actor     string         `json:"actor,omitempty"`
	Available []AvailableOut `json:"available,omitempty"`
}

// AvailableOut is one requestable transition.
type AvailableOut struct {
	To                 string `json:"to"`
	Name               string `json:"name,omitempty"`
	NeedsJustification bool   `json:"needs_justification,omitempty"`
	NeedsMeasurements  bool   `json:"needs_measurements,omitempty"`
}

func (s ShowOutput) render(w io.Writer) {
	s.Document.render(w)
	if s.Actor == "" {
		return
	}
	if len(s.Available) == 0 {
		fmt.Fprintf(w, "no transitions available to %s\n", s.Actor)
		return
	}
	fmt.Fprintf(w, "available to %s:\n", s.Actor)
	for _, a := range s.Available {
		var needs []string
		if a.NeedsJustification {
			needs = append(needs, "justification")
		}
		if a.NeedsMeasurements {
			needs = append(needs, "measurements")
		}
		line := "  -> " + a.To
		if a.Name != "" {
			line += " (" + a.Name + ")"
		}
		if len(needs) > 0 {
			line += " needs " + strings.Join(needs, ", ")
		}
		fmt.Fprintln(w, line)
	}
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show a document and the transitions an actor may request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			ctx := cmd.Context()
			return withRuntime(ctx, rootOpts, f, func(r *runtime) error {
				doc, err := r.engine.Get(ctx, args[0])
				if err != nil {
					return f.Fail(err)
				}
				out := ShowOutput{Document: documentOutput(doc), Actor: actor}
				if actor != "" {
					avail, err := r.engine.AvailableTransitions(ctx, doc.ID, actor)
					if err != nil {
						return f.Fail(err)
					}
					for _, a := range avail {
						out.Available = append(out.Available, AvailableOut{
							To:                 string(a.To),
							Name:               a.Name,
							NeedsJustification: a.NeedsJustification,
							NeedsMeasurements:  a.NeedsMeasurements,
						})
					}
				}
				return f.Success(out, out.render)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "list transitions available to this user")
	return cmd
}
