package model

import (
	"strconv"

	"github.com/google/uuid"
)

// IDGenerator produces identifiers for documents, audit entries and
// escalation handles.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 identifiers.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequentialGenerator returns prefix-1, prefix-2, ... for deterministic
// tests and golden traces.
//
// Thread-safety: safe for concurrent use.
type SequentialGenerator struct {
	prefix string
	seq    Sequence
}

// NewSequentialGenerator creates a generator with the given prefix.
func NewSequentialGenerator(prefix string) *SequentialGenerator {
	return &SequentialGenerator{prefix: prefix}
}

// Generate returns the next identifier.
func (g *SequentialGenerator) Generate() string {
	return g.prefix + "-" + strconv.FormatInt(g.seq.Next(), 10)
}

