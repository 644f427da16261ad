package testutil

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Epoch is the start time of deterministic runs.
var Epoch = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

// NewClock returns a fake clock at start, or at Epoch when start is zero.
//
// Time only moves when the caller advances it, so deadlines and audit
// timestamps are reproducible across runs.
func NewClock(start time.Time) *clockwork.FakeClock {
	if start.IsZero() {
		start = Epoch
	}
	return clockwork.NewFakeClockAt(start)
}
