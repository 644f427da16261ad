package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/gatehouse/internal/model"
)

// GoldenSnapshot is the part of a result compared against golden files.
// Hashes, audit ids and timestamps are left out; the trace and final
// states alone pin down the behavior of a scenario.
type GoldenSnapshot struct {
	Scenario string        `json:"scenario"`
	Trace    []TraceEvent  `json:"trace"`
	States   []GoldenState `json:"states"`
}

// GoldenState is the final state of one document.
type GoldenState struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Locked  bool   `json:"locked"`
	Version int64  `json:"version"`
}

// Snapshot builds the canonical golden bytes for a result.
func Snapshot(name string, r *Result) ([]byte, error) {
	snap := GoldenSnapshot{Scenario: name, Trace: r.Trace, States: []GoldenState{}}
	for _, d := range r.Documents {
		snap.States = append(snap.States, GoldenState{ID: d.ID, State: d.State, Locked: d.Locked, Version: d.Version})
	}
	return model.CanonicalizeJSON(snap)
}

// RunWithGolden runs a scenario and compares its snapshot with
// testdata/golden/<name>.golden. Regenerate with `go test -update`.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
