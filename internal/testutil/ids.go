package testutil

import "github.com/roach88/gatehouse/internal/model"

// IDs holds one sequential generator per identifier namespace.
//
// The same run with fresh IDs produces byte-identical audit trails and
// escalation handles, which golden traces rely on.
type IDs struct {
	Documents   *model.SequentialGenerator
	Escalations *model.SequentialGenerator
}

// NewIDs creates generators yielding "id-1", "id-2", ... and "esc-1", ...
func NewIDs() IDs {
	return IDs{
		Documents:   model.NewSequentialGenerator("id"),
		Escalations: model.NewSequentialGenerator("esc"),
	}
}
