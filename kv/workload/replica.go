package workload

import (
	"bytes"
	"context"

	"github.com/pingcap-incubator/tinytablet/kv/tablet"
	"github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Replicate feeds entries, ordered by hybrid time, to follower through an Applier with the given
// number of workers and returns the hybrid time of the last entry once every entry is committed.
func Replicate(follower *tablet.Tablet, entries []tablet.LogEntry, workers int) (hybridtime.HybridTime, error) {
	a := tablet.NewApplier(follower, workers)
	a.Start()
	defer a.Stop()
	for _, e := range entries {
		if err := a.Submit(e); err != nil {
			return hybridtime.Invalid, errors.Annotatef(err, "replicate op %d", e.OpID)
		}
	}
	ht := a.Flush()
	log.Info("replicated log", zap.String("tablet", follower.ID()), zap.Int("entries", len(entries)), zap.Stringer("last", ht))
	return ht, nil
}

// Compare scans both tablets at ht and returns an error describing the first difference.
func Compare(ctx context.Context, a, b *tablet.Tablet, ht hybridtime.HybridTime) error {
	snapA, err := a.TakeReadSnapshot(ctx, ht)
	if err != nil {
		return errors.Annotatef(err, "snapshot %s", a.ID())
	}
	snapB, err := b.TakeReadSnapshot(ctx, ht)
	if err != nil {
		return errors.Annotatef(err, "snapshot %s", b.ID())
	}
	rowsA := a.Scan(snapA, nil, nil, 0)
	rowsB := b.Scan(snapB, nil, nil, 0)
	for i := 0; i < len(rowsA) && i < len(rowsB); i++ {
		ra, rb := rowsA[i], rowsB[i]
		if !bytes.Equal(ra.Key, rb.Key) || !bytes.Equal(ra.Value, rb.Value) || ra.HybridTime != rb.HybridTime {
			return errors.Errorf("tablets differ at row %d: %s has %q@%v, %s has %q@%v",
				i, a.ID(), ra.Key, ra.HybridTime, b.ID(), rb.Key, rb.HybridTime)
		}
	}
	if len(rowsA) != len(rowsB) {
		return errors.Errorf("%s has %d rows at %v, %s has %d", a.ID(), len(rowsA), ht, b.ID(), len(rowsB))
	}
	return nil
}
