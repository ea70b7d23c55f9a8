// Package workload drives concurrent writers and readers against one tablet and checks that every
// write is visible to reads at the safe time taken after it returned.
package workload

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pingcap-incubator/tinytablet/kv/config"
	"github.com/pingcap-incubator/tinytablet/kv/tablet"
	"github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Summary describes a finished run.
type Summary struct {
	Writes         int64
	RejectedWrites int64
	Reads          int64
	ReadTimeouts   int64
	Violations     int64
	LastSafeTime   hybridtime.HybridTime
	Elapsed        time.Duration
}

func (s *Summary) String() string {
	return fmt.Sprintf("writes=%d rejected=%d reads=%d read-timeouts=%d violations=%d last-safe-time=%v elapsed=%v",
		s.Writes, s.RejectedWrites, s.Reads, s.ReadTimeouts, s.Violations, s.LastSafeTime, s.Elapsed)
}

type runner struct {
	tablet  *tablet.Tablet
	writer  *tablet.LocalWriter
	cfg     config.WorkloadConfig
	limiter *rate.Limiter

	// committed holds, per key, the highest hybrid time of a write that has returned.
	mu        sync.Mutex
	committed map[string]hybridtime.HybridTime

	writes         *atomic.Int64
	rejectedWrites *atomic.Int64
	reads          *atomic.Int64
	readTimeouts   *atomic.Int64
	violations     *atomic.Int64
	lastSafeTime   *atomic.Uint64
}

// Run writes through w and reads its tablet until cfg.Duration has passed or ctx is done. A run
// with visibility violations returns the summary together with an error.
func Run(ctx context.Context, w *tablet.LocalWriter, cfg config.WorkloadConfig) (*Summary, error) {
	t := w.Tablet()
	limit := rate.Inf
	if cfg.WriteRate > 0 {
		limit = rate.Limit(cfg.WriteRate)
	}
	burst := cfg.Writers
	if burst < 1 {
		burst = 1
	}
	r := &runner{
		tablet:         t,
		writer:         w,
		cfg:            cfg,
		limiter:        rate.NewLimiter(limit, burst),
		committed:      make(map[string]hybridtime.HybridTime),
		writes:         atomic.NewInt64(0),
		rejectedWrites: atomic.NewInt64(0),
		reads:          atomic.NewInt64(0),
		readTimeouts:   atomic.NewInt64(0),
		violations:     atomic.NewInt64(0),
		lastSafeTime:   atomic.NewUint64(0),
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration.Duration)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < cfg.Writers; i++ {
		seed := int64(i)
		g.Go(func() error { return r.write(gctx, rand.New(rand.NewSource(seed))) })
	}
	for i := 0; i < cfg.Readers; i++ {
		seed := int64(1000 + i)
		g.Go(func() error { return r.read(gctx, rand.New(rand.NewSource(seed))) })
	}
	err := g.Wait()

	summary := &Summary{
		Writes:         r.writes.Load(),
		RejectedWrites: r.rejectedWrites.Load(),
		Reads:          r.reads.Load(),
		ReadTimeouts:   r.readTimeouts.Load(),
		Violations:     r.violations.Load(),
		LastSafeTime:   hybridtime.HybridTime(r.lastSafeTime.Load()),
		Elapsed:        time.Since(start),
	}
	log.Info("workload finished", zap.String("tablet", t.ID()), zap.Stringer("summary", summary))
	if err != nil {
		return summary, err
	}
	if summary.Violations > 0 {
		return summary, errors.Errorf("%d reads missed committed writes", summary.Violations)
	}
	return summary, nil
}

func done(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (r *runner) key(rnd *rand.Rand) []byte {
	return []byte(fmt.Sprintf("key-%06d", rnd.Intn(r.cfg.Keys)))
}

func (r *runner) write(ctx context.Context, rnd *rand.Rand) error {
	for !done(ctx) {
		if err := r.limiter.Wait(ctx); err != nil {
			// The run is over.
			return nil
		}
		key := r.key(rnd)
		value := []byte(fmt.Sprintf("%d", rnd.Int63()))
		var (
			ht  hybridtime.HybridTime
			err error
		)
		if rnd.Intn(4) == 0 {
			ht, err = r.writer.Insert(ctx, key, value)
		} else {
			ht, err = r.writer.Upsert(ctx, key, value)
		}
		if err != nil {
			if errors.Cause(err) == tablet.ErrRowAlreadyExists {
				r.rejectedWrites.Inc()
				continue
			}
			if done(ctx) {
				return nil
			}
			return errors.Annotatef(err, "write %s", key)
		}
		r.writes.Inc()
		r.mu.Lock()
		if ht > r.committed[string(key)] {
			r.committed[string(key)] = ht
		}
		r.mu.Unlock()
	}
	return nil
}

func (r *runner) read(ctx context.Context, rnd *rand.Rand) error {
	for !done(ctx) {
		key := r.key(rnd)
		r.mu.Lock()
		expected, written := r.committed[string(key)]
		r.mu.Unlock()

		// A read is bounded by max-wait-for-safe-time, not by the end of the run, so a read that is
		// in progress when the run ends still counts.
		snap, safeTime, err := r.tablet.ReadAtSafeTime(context.Background())
		if err != nil {
			if tablet.IsServiceUnavailable(err) {
				r.readTimeouts.Inc()
				log.Warn("read at safe time timed out", zap.String("tablet", r.tablet.ID()), zap.Error(err))
				continue
			}
			return errors.Annotate(err, "read at safe time")
		}
		r.reads.Inc()
		r.raiseLastSafeTime(safeTime)

		row, err := r.tablet.Get(snap, key)
		switch {
		case tablet.IsRowNotFound(err):
			if written {
				r.reportViolation(key, expected, hybridtime.Invalid, safeTime)
			}
		case err != nil:
			return errors.Annotatef(err, "get %s", key)
		case written && row.HybridTime < expected:
			r.reportViolation(key, expected, row.HybridTime, safeTime)
		}
	}
	return nil
}

func (r *runner) raiseLastSafeTime(ht hybridtime.HybridTime) {
	for {
		cur := r.lastSafeTime.Load()
		if ht.ToUint64() <= cur || r.lastSafeTime.CAS(cur, ht.ToUint64()) {
			return
		}
	}
}

func (r *runner) reportViolation(key []byte, expected, got, safeTime hybridtime.HybridTime) {
	r.violations.Inc()
	log.Error("read missed a committed write",
		zap.ByteString("key", key),
		zap.Stringer("committed-at", expected),
		zap.Stringer("read-version", got),
		zap.Stringer("safe-time", safeTime))
}
