package clock

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// ErrTimedOut is returned when a clock wait cannot finish before the context deadline.
var ErrTimedOut = errors.New("timed out waiting for clock")

// HybridClock combines the wall clock with a logical counter. Readings taken within the same
// microsecond, or while the wall clock lags behind a hybrid time received through Update, are
// distinguished by the logical component.
type HybridClock struct {
	mu sync.Mutex
	// next is the hybrid time the next reading returns unless the wall clock has moved past it.
	next hybridtime.HybridTime

	maxError  time.Duration
	maxSkew   time.Duration
	wallClock func() time.Time
}

var _ Clock = &HybridClock{}

// NewHybridClock creates a clock reading the system wall clock. maxError bounds the local clock
// error, maxSkew bounds the difference between clocks of different servers.
func NewHybridClock(maxError, maxSkew time.Duration) *HybridClock {
	return NewHybridClockWithWallClock(maxError, maxSkew, time.Now)
}

// NewHybridClockWithWallClock creates a clock reading physical time from wallClock.
func NewHybridClockWithWallClock(maxError, maxSkew time.Duration, wallClock func() time.Time) *HybridClock {
	return &HybridClock{
		maxError:  maxError,
		maxSkew:   maxSkew,
		wallClock: wallClock,
	}
}

func (c *HybridClock) wallMicros() uint64 {
	return uint64(c.wallClock().UnixNano() / int64(time.Microsecond))
}

// nowWithErrorLocked returns a new reading and the max error of that reading in microseconds.
func (c *HybridClock) nowWithErrorLocked() (hybridtime.HybridTime, uint64) {
	nowUsec := c.wallMicros()
	errorUsec := uint64(c.maxError / time.Microsecond)
	if physical := hybridtime.FromMicros(nowUsec); physical > c.next {
		c.next = physical
	}
	ht := c.next
	c.next++

	// The reading is ahead of the wall clock. Assuming the true time is as early as now-error, the
	// error interval has to stretch up to the reading.
	if last := ht.PhysicalMicros(); last > nowUsec {
		if nowUsec > errorUsec {
			errorUsec = last - (nowUsec - errorUsec)
		} else {
			errorUsec = last
		}
	}
	return ht, errorUsec
}

func (c *HybridClock) Now() hybridtime.HybridTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	ht, _ := c.nowWithErrorLocked()
	return ht
}

func (c *HybridClock) NowLatest() hybridtime.HybridTime {
	c.mu.Lock()
	now, errorUsec := c.nowWithErrorLocked()
	c.mu.Unlock()
	return hybridtime.FromMicrosAndLogical(now.PhysicalMicros()+errorUsec, now.Logical())
}

// Update makes later readings higher than ht. Hybrid times more than the max clock skew ahead of
// the local wall clock are rejected since they most likely come from a misbehaving server.
func (c *HybridClock) Update(ht hybridtime.HybridTime) error {
	if !ht.IsValid() {
		return errors.New("cannot update a hybrid clock to an invalid hybrid time")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now, _ := c.nowWithErrorLocked()
	if now > ht {
		clockUpdateCounter.WithLabelValues("ignored").Inc()
		return nil
	}
	ahead := time.Duration(ht.PhysicalMicros()-now.PhysicalMicros()) * time.Microsecond
	if ahead > c.maxSkew {
		clockUpdateCounter.WithLabelValues("rejected").Inc()
		log.Warn("rejecting clock update beyond max clock skew",
			zap.Stringer("update", ht),
			zap.Stringer("now", now),
			zap.Duration("ahead", ahead),
			zap.Duration("max-clock-skew", c.maxSkew))
		return errors.Annotatef(ErrUpdateTooFarAhead, "update %v is %v ahead of %v", ht, ahead, now)
	}
	c.next = ht + 1
	clockUpdateCounter.WithLabelValues("advanced").Inc()
	return nil
}

// WaitUntilAfter sleeps until the earliest possible current time on any server is past ht.
func (c *HybridClock) WaitUntilAfter(ctx context.Context, ht hybridtime.HybridTime) error {
	start := time.Now()
	defer func() { clockWaitHistogram.WithLabelValues("global").Observe(time.Since(start).Seconds()) }()

	c.mu.Lock()
	now, errorUsec := c.nowWithErrorLocked()
	c.mu.Unlock()

	thenUsec := ht.PhysicalMicros()
	nowEarliestUsec := uint64(0)
	if now.PhysicalMicros() > errorUsec {
		nowEarliestUsec = now.PhysicalMicros() - errorUsec
	}
	if thenUsec < nowEarliestUsec {
		return nil
	}
	return sleepWithContext(ctx, time.Duration(thenUsec-nowEarliestUsec+1)*time.Microsecond)
}

// WaitUntilAfterLocally sleeps until this clock's readings are past ht. Unlike WaitUntilAfter it
// gives no guarantee about other servers.
func (c *HybridClock) WaitUntilAfterLocally(ctx context.Context, ht hybridtime.HybridTime) error {
	start := time.Now()
	defer func() { clockWaitHistogram.WithLabelValues("local").Observe(time.Since(start).Seconds()) }()

	for {
		now := c.Now()
		if now > ht {
			return nil
		}
		waitUsec := ht.PhysicalMicros() - now.PhysicalMicros()
		if waitUsec == 0 {
			waitUsec = 1
		}
		if err := sleepWithContext(ctx, time.Duration(waitUsec)*time.Microsecond); err != nil {
			return err
		}
	}
}

// IsAfter reports whether every later reading will be higher than ht, without taking a reading.
func (c *HybridClock) IsAfter(ht hybridtime.HybridTime) bool {
	physical := hybridtime.FromMicros(c.wallMicros())
	c.mu.Lock()
	defer c.mu.Unlock()
	return ht < hybridtime.MaxOf(c.next, physical)
}

// GetGlobalLatest returns Now shifted by the max clock skew.
func (c *HybridClock) GetGlobalLatest() (hybridtime.HybridTime, error) {
	now := c.Now()
	skewUsec := uint64(c.maxSkew / time.Microsecond)
	return hybridtime.FromMicrosAndLogical(now.PhysicalMicros()+skewUsec, now.Logical()), nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < d {
		return errors.Annotatef(ErrTimedOut, "waiting %v would pass the deadline", d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errors.Annotate(ErrTimedOut, ctx.Err().Error())
	}
}
