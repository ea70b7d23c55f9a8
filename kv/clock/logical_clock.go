package clock

import (
	"context"

	"github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// LogicalClock is a clock whose readings are plain counters. Each call to Now returns the previous
// value plus one. It is used by tests and by single-node tools where wall-clock time is irrelevant.
type LogicalClock struct {
	now *atomic.Uint64
}

var _ Clock = &LogicalClock{}

// NewLogicalClockStartingAt returns a clock whose first Now reading is start.
func NewLogicalClockStartingAt(start hybridtime.HybridTime) *LogicalClock {
	return &LogicalClock{now: atomic.NewUint64(start.ToUint64() - 1)}
}

func (c *LogicalClock) Now() hybridtime.HybridTime {
	return hybridtime.HybridTime(c.now.Inc())
}

func (c *LogicalClock) NowLatest() hybridtime.HybridTime {
	return c.Now()
}

// Update raises the counter to ht if it is currently lower.
func (c *LogicalClock) Update(ht hybridtime.HybridTime) error {
	if !ht.IsValid() {
		return errors.New("cannot update a logical clock to an invalid hybrid time")
	}
	for {
		current := c.now.Load()
		if ht.ToUint64() <= current {
			return nil
		}
		if c.now.CAS(current, ht.ToUint64()) {
			return nil
		}
	}
}

func (c *LogicalClock) WaitUntilAfter(_ context.Context, ht hybridtime.HybridTime) error {
	return errors.Annotate(ErrServiceUnavailable, "logical clock does not support WaitUntilAfter")
}

// WaitUntilAfterLocally succeeds only if ht has already been reached; a logical clock only moves
// when somebody reads it, so there is nothing to wait for.
func (c *LogicalClock) WaitUntilAfterLocally(_ context.Context, ht hybridtime.HybridTime) error {
	if c.IsAfter(ht) {
		return nil
	}
	return errors.Annotatef(ErrServiceUnavailable, "logical clock has not reached %v", ht)
}

func (c *LogicalClock) IsAfter(ht hybridtime.HybridTime) bool {
	return c.now.Load() >= ht.ToUint64()
}

func (c *LogicalClock) GetGlobalLatest() (hybridtime.HybridTime, error) {
	return hybridtime.Invalid, errors.Annotate(ErrNotSupported, "logical clock has no global properties")
}
