package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/gatehouse/internal/config"
	"github.com/roach88/gatehouse/internal/workflow"
)

// ValidationResult summarizes a valid configuration.
type ValidationResult struct {
	Source      string            `json:"source"`
	Documents   []DocumentSummary `json:"documents"`
	Roles       []string          `json:"roles"`
	Actors      int               `json:"actors"`
	Escalations []string          `json:"escalations"`
}

// DocumentSummary describes one document graph.
type DocumentSummary struct {
	Type     string   `json:"type"`
	Initial  string   `json:"initial"`
	States   int      `json:"states"`
	Terminal []string `json:"terminal"`
	Edges    []string `json:"edges"`

	Warnings []workflow.Warning `json:"warnings,omitempty"`
}

// ConfigErrorDetail is one configuration error.
type ConfigErrorDetail struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

func (d ConfigErrorDetail) String() string {
	var b strings.Builder
	if d.File != "" {
		fmt.Fprintf(&b, "%s:%d:%d: ", d.File, d.Line, d.Column)
	}
	if d.Path != "" {
		b.WriteString(d.Path + ": ")
	}
	b.WriteString(d.Message)
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config]",
		Short: "Validate a workflow configuration",
		Long: `Validate a CUE workflow configuration against the schema and check its
cross references (roles, actors, escalation policies, graph shape).

Without an argument the --config setting is validated, or the built-in
plant configuration when that is empty.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts.formatter(cmd), path)
		},
	}
}

func runValidate(f *OutputFormatter, path string) error {
	var (
		bundle *config.Bundle
		err    error
	)
	source := path
	if path == "" {
		source = "built-in plant configuration"
		bundle, err = config.Default()
	} else {
		bundle, err = config.Load(path)
	}
	if err != nil {
		details := configErrorDetails(err)
		_ = f.Error(ErrCodeConfig, fmt.Sprintf("%d configuration error(s)", len(details)), details)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	result := ValidationResult{
		Source:    source,
		Documents: make([]DocumentSummary, 0, len(bundle.Graphs)),
		Roles:     bundle.Policy.Roles(),
		Actors:    bundle.Directory.Len(),
	}
	for _, g := range bundle.Graphs {
		result.Documents = append(result.Documents, summarizeGraph(g))
	}
	for _, p := range bundle.Escalations {
		result.Escalations = append(result.Escalations, p.Name)
	}
	return f.Success(result, result.render)
}

func summarizeGraph(g *workflow.Graph) DocumentSummary {
	s := DocumentSummary{
		Type:    string(g.Type),
		Initial: string(g.Initial),
		States:  len(g.States),

		Warnings: workflow.Analyze(g),
	}
	for _, t := range g.Terminal {
		s.Terminal = append(s.Terminal, string(t))
	}
	for _, e := range g.Edges {
		var flags []string
		if !e.Requires.IsZero() {
			flags = append(flags, "requires "+e.Requires.String())
		}
		for _, f := range []struct {
			set  bool
			name string
		}{
			{e.ForbidSelfApproval, "no self-approval"},
			{e.RequiresVarianceCheck, "variance"},
			{e.Rollback, "rollback"},
			{e.Locks, "locks"},
			{e.Unlocks, "unlocks"},
			{e.KeepsLock, "keeps lock"},
			{e.Blocked, "blocked"},
			{e.RequiresClosedEscalations, "closed escalations"},
		} {
			if f.set {
				flags = append(flags, f.name)
			}
		}
		if e.Escalation != "" {
			flags = append(flags, "escalates "+e.Escalation)
		}
		line := string(e.From) + " -> " + string(e.To)
		if len(flags) > 0 {
			line += " [" + strings.Join(flags, "; ") + "]"
		}
		s.Edges = append(s.Edges, line)
	}
	return s
}

func (r ValidationResult) render(w io.Writer) {
	fmt.Fprintf(w, "✓ %s is valid\n", r.Source)
	for _, d := range r.Documents {
		fmt.Fprintf(w, "  %s: %d states, initial %s, terminal %s\n", d.Type, d.States, d.Initial, strings.Join(d.Terminal, ", "))
		for _, e := range d.Edges {
			fmt.Fprintf(w, "    %s\n", e)
		}
		for _, warn := range d.Warnings {
			fmt.Fprintf(w, "    warning: %s\n", warn.Message)
		}
	}
	fmt.Fprintf(w, "  %d roles, %d actors, %d escalation policies\n", len(r.Roles), r.Actors, len(r.Escalations))
}

// configErrorDetails flattens joined configuration errors.
func configErrorDetails(err error) []ConfigErrorDetail {
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}
	out := make([]ConfigErrorDetail, 0, len(errs))
	for _, e := range errs {
		var ce *config.Error
		if !errors.As(e, &ce) {
			out = append(out, ConfigErrorDetail{Message: e.Error()})
			continue
		}
		d := ConfigErrorDetail{Path: ce.Path, Message: ce.Message}
		if ce.Pos.IsValid() {
			d.File = ce.Pos.Filename()
			d.Line = ce.Pos.Line()
			d.Column = ce.Pos.Column()
		}
		out = append(out, d)
	}
	return out
}
