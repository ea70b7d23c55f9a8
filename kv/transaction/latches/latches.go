package latches

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"
	"github.com/pingcap/errors"
)

// Latches serialize tablet writes that touch the same rows. A write gets its hybrid time only
// after it holds the latch of every row it writes, so two writes to one row never validate against
// the same row state and the later one always gets the higher hybrid time.
//
// A latch is a per-row lock. All rows of a write are latched at once, so writers never hold some
// latches while waiting for others. The holder map is guarded by a single mutex.
type Latches struct {
	mu sync.Mutex
	// holders maps each latched row key to the guard of the write holding it.
	holders map[string]*Guard
	// Validation, if set, is called by Validate. Tests use it to observe latched writes.
	Validation func(ht hybridtime.HybridTime, keys [][]byte)
}

// Guard is held by a write for the rows it latched. Release it exactly once the write is done;
// further calls do nothing.
type Guard struct {
	latches  *Latches
	keys     [][]byte
	released chan struct{}
	once     sync.Once
}

func NewLatches() *Latches {
	return &Latches{
		holders: make(map[string]*Guard),
	}
}

func distinctKeys(keys [][]byte) [][]byte {
	seen := make(map[string]struct{}, len(keys))
	distinct := make([][]byte, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[string(key)]; ok {
			continue
		}
		seen[string(key)] = struct{}{}
		distinct = append(distinct, key)
	}
	return distinct
}

// TryAcquire latches every row in keys and returns the guard. If any row is already latched it
// latches nothing and returns a channel that is closed when the holder releases.
func (l *Latches) TryAcquire(keys [][]byte) (*Guard, <-chan struct{}) {
	return l.tryAcquire(distinctKeys(keys))
}

func (l *Latches) tryAcquire(keys [][]byte) (*Guard, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, key := range keys {
		if holder, ok := l.holders[string(key)]; ok {
			return nil, holder.released
		}
	}
	g := &Guard{latches: l, keys: keys, released: make(chan struct{})}
	for _, key := range keys {
		l.holders[string(key)] = g
	}
	return g, nil
}

// Acquire latches every row in keys, waiting for as long as other writes hold any of them or
// until ctx is done.
func (l *Latches) Acquire(ctx context.Context, keys [][]byte) (*Guard, error) {
	keys = distinctKeys(keys)
	var start time.Time
	for {
		g, released := l.tryAcquire(keys)
		if g != nil {
			if !start.IsZero() {
				latchWaitHistogram.WithLabelValues("acquired").Observe(time.Since(start).Seconds())
			}
			return g, nil
		}
		if start.IsZero() {
			start = time.Now()
		}
		select {
		case <-released:
		case <-ctx.Done():
			latchWaitHistogram.WithLabelValues("canceled").Observe(time.Since(start).Seconds())
			return nil, errors.Annotatef(ctx.Err(), "waiting for latches of %d rows", len(keys))
		}
	}
}

// Keys returns the distinct row keys the guard latched, in first-seen order.
func (g *Guard) Keys() [][]byte {
	return g.keys
}

func (g *Guard) Release() {
	g.once.Do(func() {
		l := g.latches
		l.mu.Lock()
		for _, key := range g.keys {
			if l.holders[string(key)] == g {
				delete(l.holders, string(key))
			}
		}
		l.mu.Unlock()
		close(g.released)
	})
}

// Validate calls Validation if it is set.
func (l *Latches) Validate(ht hybridtime.HybridTime, g *Guard) {
	if l.Validation != nil {
		l.Validation(ht, g.keys)
	}
}

func (l *Latches) numLatched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.holders)
}
