package tablet

import (
	"bytes"
	"context"
	"time"

	"github.com/google/btree"
	"github.com/pingcap-incubator/tinytablet/kv/clock"
	"github.com/pingcap-incubator/tinytablet/kv/tablet/mvcc"
	"github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// TakeReadSnapshot waits until every operation at or before ht has committed and returns a
// snapshot that sees exactly those operations.
//
// The wait ends at the earlier of max-wait-for-safe-time from now and the context deadline minus
// client-deadline-margin, so that a caller still gets an answer before its own deadline. Running
// out of time, or a clock that cannot reach ht, is reported as ErrServiceUnavailable.
func (t *Tablet) TakeReadSnapshot(ctx context.Context, ht hybridtime.HybridTime) (mvcc.Snapshot, error) {
	start := time.Now()
	deadline := start.Add(t.cfg.MaxWaitForSafeTime.Duration)
	if clientDeadline, ok := ctx.Deadline(); ok {
		if d := clientDeadline.Add(-t.cfg.ClientDeadlineMargin.Duration); d.Before(deadline) {
			deadline = d
		}
	}
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	_, err := t.mvcc.WaitForCleanSnapshotAtHybridTime(waitCtx, ht)
	if err != nil {
		readSnapshotWaitHistogram.WithLabelValues("failed").Observe(time.Since(start).Seconds())
		if mvcc.IsTimedOut(err) || errors.Cause(err) == clock.ErrServiceUnavailable {
			log.Warn("no clean read snapshot in time",
				zap.String("tablet", t.id),
				zap.Stringer("hybrid-time", ht),
				zap.Duration("waited", time.Since(start)),
				zap.Error(err))
			return mvcc.Snapshot{}, errors.Annotatef(ErrServiceUnavailable, "read at %v: %v", ht, err)
		}
		return mvcc.Snapshot{}, errors.Trace(err)
	}
	readSnapshotWaitHistogram.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	// Everything at or before ht has committed, so ht itself belongs in the snapshot.
	return mvcc.NewSnapshotAt(ht.Incremented()), nil
}

// ReadAtSafeTime returns a snapshot at the tablet's current safe time together with that time.
func (t *Tablet) ReadAtSafeTime(ctx context.Context) (mvcc.Snapshot, hybridtime.HybridTime, error) {
	safeTime := t.mvcc.GetMaxSafeTimeToReadAt()
	snap, err := t.TakeReadSnapshot(ctx, safeTime)
	if err != nil {
		return mvcc.Snapshot{}, hybridtime.Invalid, err
	}
	return snap, safeTime, nil
}

// Get returns the newest version of key visible in snap.
func (t *Tablet) Get(snap mvcc.Snapshot, key []byte) (Row, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var (
		row   Row
		found bool
	)
	t.rows.AscendGreaterOrEqual(&rowVersion{key: key, ht: hybridtime.Max}, func(i btree.Item) bool {
		v := i.(*rowVersion)
		if !bytes.Equal(v.key, key) {
			return false
		}
		if !snap.IsCommitted(v.ht) {
			return true
		}
		if !v.deleted {
			row = Row{Key: v.key, Value: v.value, HybridTime: v.ht}
			found = true
		}
		return false
	})
	if !found {
		return Row{}, errors.Annotatef(ErrRowNotFound, "get %q", key)
	}
	return row, nil
}

// Scan returns the rows visible in snap with keys in [start, end), in key order. A nil end means no
// upper bound and limit <= 0 means no limit.
func (t *Tablet) Scan(snap mvcc.Snapshot, start, end []byte, limit int) []Row {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var (
		rows     []Row
		current  []byte
		started  bool
		resolved bool
	)
	t.rows.AscendGreaterOrEqual(&rowVersion{key: start, ht: hybridtime.Max}, func(i btree.Item) bool {
		v := i.(*rowVersion)
		if end != nil && bytes.Compare(v.key, end) >= 0 {
			return false
		}
		if !started || !bytes.Equal(v.key, current) {
			current, started, resolved = v.key, true, false
		}
		if resolved || !snap.IsCommitted(v.ht) {
			return true
		}
		resolved = true
		if !v.deleted {
			rows = append(rows, Row{Key: v.key, Value: v.value, HybridTime: v.ht})
		}
		return limit <= 0 || len(rows) < limit
	})
	return rows
}
