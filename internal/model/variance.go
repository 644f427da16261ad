package model

import "github.com/shopspring/decimal"

// Band classifies a variance check.
type Band string

const (
	BandOK       Band = "ok"
	BandWarning  Band = "warning"
	BandCritical Band = "critical"
)

// VarianceMode selects how deviation is measured for a field.
type VarianceMode string

const (
	// ModeRelative measures |observed - theoretical| / theoretical * 100.
	ModeRelative VarianceMode = "relative"
	// ModeAbsolute measures |observed - theoretical| in the field's own unit
	// (percentage points for humidity).
	ModeAbsolute VarianceMode = "absolute"
)

// VarianceCheck is the result of comparing an observed quantity to a
// theoretical quantity for a named field.
type VarianceCheck struct {
	Field            string          `json:"field"`
	Mode             VarianceMode    `json:"mode"`
	Theoretical      decimal.Decimal `json:"theoretical"`
	Observed         decimal.Decimal `json:"observed"`
	PercentDeviation decimal.Decimal `json:"percent_deviation"`
	Band             Band            `json:"band"`
}
