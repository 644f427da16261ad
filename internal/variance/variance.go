// Package variance compares observed quantities against a reference formula
// and classifies the deviation into tolerance bands.
//
// Thresholds are caller-supplied per field so business policy can vary by
// document type. Arithmetic uses decimal.Decimal so that boundary cases
// (1020 against 1000 is exactly 2%) classify exactly.
package variance

import (
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/roach88/gatehouse/internal/model"
)

var (
	// ErrUnknownField is returned when no thresholds exist for a measured field.
	ErrUnknownField = errors.New("no thresholds configured for field")

	// ErrInvalidThresholds is returned when thresholds are not 0 < warning < critical.
	ErrInvalidThresholds = errors.New("thresholds must satisfy 0 < warning < critical")
)

var hundred = decimal.NewFromInt(100)

// Thresholds are the band limits for one field.
type Thresholds struct {
	Warning  decimal.Decimal
	Critical decimal.Decimal
	Mode     model.VarianceMode
}

// Validate checks that bands are monotonic.
func (t Thresholds) Validate() error {
	if !t.Warning.IsPositive() || !t.Critical.GreaterThan(t.Warning) {
		return fmt.Errorf("%w (warning=%s, critical=%s)", ErrInvalidThresholds, t.Warning, t.Critical)
	}
	switch t.Mode {
	case model.ModeRelative, model.ModeAbsolute, "":
	default:
		return fmt.Errorf("unknown variance mode %q", t.Mode)
	}
	return nil
}

// Table maps field names to thresholds.
type Table map[string]Thresholds

// Validate checks every entry.
func (t Table) Validate() error {
	for field, th := range t {
		if err := th.Validate(); err != nil {
			return fmt.Errorf("field %q: %w", field, err)
		}
	}
	return nil
}

// Measurement is one observed value against its theoretical reference.
type Measurement struct {
	Field       string          `json:"field" validate:"required"`
	Theoretical decimal.Decimal `json:"theoretical"`
	Observed    decimal.Decimal `json:"observed"`
}

// Evaluate computes the deviation of observed from theoretical and classifies it.
//
// Band rules: deviation > critical is critical; deviation >= warning is
// warning (the warning boundary is inclusive, the critical one is not);
// anything below is ok. In relative mode a theoretical value <= 0 yields ok
// with zero deviation since no ratio can be formed against it. Absolute mode
// forms no ratio and always measures |observed - theoretical|.
func Evaluate(field string, theoretical, observed decimal.Decimal, th Thresholds) model.VarianceCheck {
	mode := th.Mode
	if mode == "" {
		mode = model.ModeRelative
	}
	check := model.VarianceCheck{
		Field:            field,
		Mode:             mode,
		Theoretical:      theoretical,
		Observed:         observed,
		PercentDeviation: decimal.Zero,
		Band:             model.BandOK,
	}
	diff := observed.Sub(theoretical).Abs()
	if mode == model.ModeRelative {
		if !theoretical.IsPositive() {
			return check
		}
		check.PercentDeviation = diff.Div(theoretical).Mul(hundred)
	} else {
		check.PercentDeviation = diff
	}

	switch {
	case check.PercentDeviation.GreaterThan(th.Critical):
		check.Band = model.BandCritical
	case check.PercentDeviation.GreaterThanOrEqual(th.Warning):
		check.Band = model.BandWarning
	}
	return check
}

// Report aggregates per-field checks.
type Report struct {
	Checks      []model.VarianceCheck
	HasCritical bool
	HasWarning  bool
}

// Critical returns the checks in the critical band.
func (r Report) Critical() []model.VarianceCheck {
	return r.inBand(model.BandCritical)
}

// Warnings returns the checks in the warning band.
func (r Report) Warnings() []model.VarianceCheck {
	return r.inBand(model.BandWarning)
}

func (r Report) inBand(b model.Band) []model.VarianceCheck {
	var out []model.VarianceCheck
	for _, c := range r.Checks {
		if c.Band == b {
			out = append(out, c)
		}
	}
	return out
}

// EvaluateAll evaluates every measurement against the table.
// Checks are returned sorted by field name so reports are deterministic.
// A measurement for a field absent from the table is an error.
func EvaluateAll(measurements []Measurement, table Table) (Report, error) {
	var report Report
	for _, m := range measurements {
		th, ok := table[m.Field]
		if !ok {
			return Report{}, fmt.Errorf("evaluate %q: %w", m.Field, ErrUnknownField)
		}
		check := Evaluate(m.Field, m.Theoretical, m.Observed, th)
		switch check.Band {
		case model.BandCritical:
			report.HasCritical = true
		case model.BandWarning:
			report.HasWarning = true
		}
		report.Checks = append(report.Checks, check)
	}
	slices.SortStableFunc(report.Checks, func(a, b model.VarianceCheck) int {
		switch {
		case a.Field < b.Field:
			return -1
		case a.Field > b.Field:
			return 1
		}
		return 0
	})
	return report, nil
}
