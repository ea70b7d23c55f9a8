package tablet

import (
	"github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// LogEntry is a write as recorded in the replicated log.
type LogEntry struct {
	OpID       int64
	HybridTime hybridtime.HybridTime
	Ops        []RowOperation
}

// Bootstrap replays entries that are already durable. Their hybrid times were assigned when they
// were first written, so they are started and committed offline; once all of them are in, the
// clock and the safe time are moved past the highest one.
func (t *Tablet) Bootstrap(entries []LogEntry) error {
	maxHT := hybridtime.Min
	for _, e := range entries {
		if err := t.mvcc.StartOperationAtHybridTime(e.HybridTime); err != nil {
			return errors.Annotatef(err, "replay op %d", e.OpID)
		}
		t.mvcc.StartApplyingOperation(e.HybridTime)
		t.apply(e.HybridTime, e.Ops)
		t.mvcc.OfflineCommitOperation(e.HybridTime)
		maxHT = hybridtime.MaxOf(maxHT, e.HybridTime)
	}
	if len(entries) == 0 {
		return nil
	}
	if err := t.clock.Update(maxHT); err != nil {
		return errors.Annotatef(err, "update clock to %v after replay", maxHT)
	}
	t.mvcc.OfflineAdjustSafeTime(maxHT)
	log.Info("tablet bootstrapped",
		zap.String("tablet", t.id),
		zap.Int("entries", len(entries)),
		zap.Stringer("max-hybrid-time", maxHT),
		zap.Stringer("clean-time", t.mvcc.GetCleanHybridTime()))
	return nil
}
