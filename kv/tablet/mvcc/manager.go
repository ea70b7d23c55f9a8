// Package mvcc tracks the hybrid times of the write operations on one tablet and decides which of
// them a reader may see.
//
// Writers start an operation to get its hybrid time, move it to the applying state once its
// effects can no longer be undone, and commit it. Operations may commit in any order. Readers take
// a Snapshot, either of the current state or a clean one at a hybrid time once everything at or
// before it has committed.
package mvcc

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/pingcap-incubator/tinytablet/kv/clock"
	"github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// OperationState is the state of an operation that has started but not yet committed or aborted.
type OperationState int

const (
	// StateInFlight operations may still be aborted.
	StateInFlight OperationState = iota
	// StateApplying operations are making their effects durable and must commit.
	StateApplying
)

func (s OperationState) String() string {
	switch s {
	case StateInFlight:
		return "IN_FLIGHT"
	case StateApplying:
		return "APPLYING"
	}
	return "UNKNOWN"
}

type inFlightOp struct {
	ht    hybridtime.HybridTime
	state OperationState
}

func (op *inFlightOp) Less(than btree.Item) bool {
	return op.ht < than.(*inFlightOp).ht
}

const inFlightBTreeDegree = 16

// Manager is the MVCC state of a single tablet. It is safe for concurrent use.
type Manager struct {
	clock clock.Clock

	mu sync.Mutex
	// inFlight holds *inFlightOp ordered by hybrid time.
	inFlight *btree.BTree
	curSnap  Snapshot
	// No operation will start at or before this hybrid time. It only moves forward.
	noNewOpsAtOrBefore hybridtime.HybridTime
	waiters            []*waiter
}

func NewManager(c clock.Clock) *Manager {
	return &Manager{
		clock:              c,
		inFlight:           btree.New(inFlightBTreeDegree),
		curSnap:            NewSnapshot(),
		noNewOpsAtOrBefore: hybridtime.Min,
	}
}

// invariantViolation reports a caller bug. The manager state has not been changed when it is
// called; the deferred unlock of the caller releases the mutex while the panic unwinds.
func invariantViolation(ht hybridtime.HybridTime, format string, args ...interface{}) {
	err := errors.Errorf(format, args...)
	log.Error("mvcc invariant violated", zap.Stringer("hybrid-time", ht), zap.Error(err))
	panic(err)
}

func checkValid(ht hybridtime.HybridTime, op string) {
	if !ht.IsValid() {
		invariantViolation(ht, "%s called with an invalid hybrid time", op)
	}
}

func (m *Manager) findLocked(ht hybridtime.HybridTime) *inFlightOp {
	item := m.inFlight.Get(&inFlightOp{ht: ht})
	if item == nil {
		return nil
	}
	return item.(*inFlightOp)
}

// earliestInFlightLocked returns hybridtime.Max when nothing is in flight.
func (m *Manager) earliestInFlightLocked() hybridtime.HybridTime {
	item := m.inFlight.Min()
	if item == nil {
		return hybridtime.Max
	}
	return item.(*inFlightOp).ht
}

// initLocked registers ht as in flight. It returns false if ht is at or below the safe time bound
// or already in flight.
func (m *Manager) initLocked(ht hybridtime.HybridTime) bool {
	// The bound may have moved between reading the clock and taking the lock.
	if ht <= m.noNewOpsAtOrBefore {
		return false
	}
	if m.curSnap.IsCommitted(ht) {
		invariantViolation(ht, "trying to start an operation at hybrid time %v which is already committed", ht)
	}
	if m.inFlight.Has(&inFlightOp{ht: ht}) {
		return false
	}
	m.inFlight.ReplaceOrInsert(&inFlightOp{ht: ht, state: StateInFlight})
	return true
}

// StartOperation assigns a new hybrid time from the clock and registers it as in flight.
func (m *Manager) StartOperation() hybridtime.HybridTime {
	for {
		// Read the clock outside of the lock; initLocked rejects readings the safe time has passed.
		now := m.clock.Now()
		if m.tryStart(now) {
			operationCounter.WithLabelValues("start").Inc()
			return now
		}
		operationCounter.WithLabelValues("start_retry").Inc()
	}
}

func (m *Manager) tryStart(ht hybridtime.HybridTime) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initLocked(ht)
}

// StartOperationAtLatest is like StartOperation but uses the latest possible current time, for
// operations that wait for their hybrid time to pass before committing.
func (m *Manager) StartOperationAtLatest() hybridtime.HybridTime {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		now := m.clock.NowLatest()
		if m.initLocked(now) {
			operationCounter.WithLabelValues("start").Inc()
			return now
		}
		operationCounter.WithLabelValues("start_retry").Inc()
	}
}

// StartOperationAtHybridTime registers an operation at a hybrid time chosen by the caller, as done
// when replaying a log. It fails if ht is already committed, already in flight, or not above the
// safe time bound.
func (m *Manager) StartOperationAtHybridTime(ht hybridtime.HybridTime) error {
	if !ht.IsValid() {
		return errors.Annotate(ErrIllegalState, "cannot start an operation at an invalid hybrid time")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.curSnap.IsCommitted(ht) {
		return errors.Annotatef(ErrIllegalState, "hybrid time %v is already committed", ht)
	}
	if !m.initLocked(ht) {
		return errors.Annotatef(ErrIllegalState,
			"an operation with hybrid time %v is already in flight or the hybrid time is not above the safe time %v",
			ht, m.noNewOpsAtOrBefore)
	}
	operationCounter.WithLabelValues("start_offline").Inc()
	return nil
}

// StartApplyingOperation marks an in-flight operation as applying. From then on it can no longer
// be aborted.
func (m *Manager) StartApplyingOperation(ht hybridtime.HybridTime) {
	checkValid(ht, "StartApplyingOperation")
	m.mu.Lock()
	defer m.mu.Unlock()
	op := m.findLocked(ht)
	if op == nil {
		invariantViolation(ht, "cannot mark hybrid time %v as APPLYING: not in the in-flight map", ht)
	}
	if op.state != StateInFlight {
		invariantViolation(ht, "cannot mark hybrid time %v as APPLYING: wrong state: %v", ht, op.state)
	}
	op.state = StateApplying
	operationCounter.WithLabelValues("apply").Inc()
}

// commitLocked removes an applying operation from the in-flight set and records it as committed.
// It returns whether ht was the earliest operation in flight.
func (m *Manager) commitLocked(ht hybridtime.HybridTime, online bool) bool {
	if online && !m.clock.IsAfter(ht) {
		invariantViolation(ht, "trying to commit an operation with a future hybrid time: %v", ht)
	}
	op := m.findLocked(ht)
	if op == nil {
		invariantViolation(ht, "trying to remove hybrid time which isn't in the in-flight set: %v", ht)
	}
	if op.state != StateApplying {
		invariantViolation(ht, "trying to commit an operation which never entered APPLYING state: %v (state %v)", ht, op.state)
	}
	wasEarliest := m.earliestInFlightLocked() == ht
	m.inFlight.Delete(op)
	m.curSnap.addCommitted(ht)
	return wasEarliest
}

// CommitOperation commits an applying operation. The clock must already be past ht.
func (m *Manager) CommitOperation(ht hybridtime.HybridTime) {
	checkValid(ht, "CommitOperation")
	m.mu.Lock()
	defer m.mu.Unlock()
	wasEarliest := m.commitLocked(ht, true)
	// No operation will start at or before ht from now on.
	m.adjustSafeTimeLocked(ht)
	if wasEarliest {
		m.adjustCleanTimeLocked()
	}
	m.wakeWaitersLocked()
	operationCounter.WithLabelValues("commit").Inc()
}

// OfflineCommitOperation commits an operation started with StartOperationAtHybridTime. It does not
// move the safe time; the watermark only advances if ht was the earliest operation in flight and
// the safe time already covers it.
func (m *Manager) OfflineCommitOperation(ht hybridtime.HybridTime) {
	checkValid(ht, "OfflineCommitOperation")
	m.mu.Lock()
	defer m.mu.Unlock()
	wasEarliest := m.commitLocked(ht, false)
	if wasEarliest && m.noNewOpsAtOrBefore >= ht {
		m.adjustCleanTimeLocked()
	}
	m.wakeWaitersLocked()
	operationCounter.WithLabelValues("commit_offline").Inc()
}

// OfflineAdjustSafeTime promises that no operation will start at or before ht and advances the
// watermark as far as that allows.
func (m *Manager) OfflineAdjustSafeTime(ht hybridtime.HybridTime) {
	checkValid(ht, "OfflineAdjustSafeTime")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adjustSafeTimeLocked(ht)
	m.adjustCleanTimeLocked()
	m.wakeWaitersLocked()
	log.Debug("adjusted mvcc safe time offline",
		zap.Stringer("safe-time", m.noNewOpsAtOrBefore),
		zap.Stringer("clean-time", m.curSnap.allCommittedBefore))
}

// AbortOperation removes an in-flight operation that never started applying. The watermark is not
// moved.
func (m *Manager) AbortOperation(ht hybridtime.HybridTime) {
	checkValid(ht, "AbortOperation")
	m.mu.Lock()
	defer m.mu.Unlock()
	op := m.findLocked(ht)
	if op == nil {
		invariantViolation(ht, "trying to remove hybrid time which isn't in the in-flight set: %v", ht)
	}
	if op.state != StateInFlight {
		invariantViolation(ht, "operation with hybrid time %v cannot be aborted in state %v", ht, op.state)
	}
	m.inFlight.Delete(op)
	m.wakeWaitersLocked()
	operationCounter.WithLabelValues("abort").Inc()
}

func (m *Manager) adjustSafeTimeLocked(ht hybridtime.HybridTime) {
	if m.noNewOpsAtOrBefore < ht {
		m.noNewOpsAtOrBefore = ht
	}
}

// adjustCleanTimeLocked advances the watermark to the earliest in-flight operation, or past the
// safe time when that comes first.
func (m *Manager) adjustCleanTimeLocked() {
	cleanTime := m.noNewOpsAtOrBefore.Incremented()
	if m.inFlight.Len() > 0 {
		if earliest := m.earliestInFlightLocked(); earliest <= m.noNewOpsAtOrBefore {
			cleanTime = earliest
		}
	}
	m.curSnap.advanceWatermark(cleanTime)
}

// GetMaxSafeTimeToReadAt returns the highest hybrid time at or before which no operation can
// commit anymore except those already in flight. The result never decreases: it is recorded as the
// new safe time bound so that an operation racing with this call cannot start below it.
func (m *Manager) GetMaxSafeTimeToReadAt() hybridtime.HybridTime {
	m.mu.Lock()
	defer m.mu.Unlock()
	var safeTime hybridtime.HybridTime
	if m.inFlight.Len() == 0 {
		safeTime = m.clock.Now()
	} else {
		safeTime = m.earliestInFlightLocked().Decremented()
		// An operation started at the latest possible time can be ahead of the clock. Recording a
		// bound past the clock would make StartOperation retry until the clock catches up.
		if !m.clock.IsAfter(safeTime) {
			safeTime = hybridtime.MinOf(safeTime, m.clock.Now())
		}
	}
	if safeTime > m.noNewOpsAtOrBefore {
		m.adjustSafeTimeLocked(safeTime)
		// Waits at or below the new bound may be satisfied now.
		m.wakeWaitersLocked()
	}
	return m.noNewOpsAtOrBefore
}

// allCommittedLocked reports whether every operation at or before ht has committed.
func (m *Manager) allCommittedLocked(ht hybridtime.HybridTime) bool {
	if m.inFlight.Len() == 0 {
		return m.clock.IsAfter(ht)
	}
	earliest := m.earliestInFlightLocked()
	if earliest <= ht {
		return false
	}
	// Nothing at or before ht is in flight and nothing can start there anymore.
	if ht <= m.noNewOpsAtOrBefore {
		return true
	}
	return !m.curSnap.MayHaveUncommittedOperationsAtOrBefore(ht)
}

// AreAllOperationsCommitted reports whether every operation at or before ht has committed. It may
// conservatively return false.
func (m *Manager) AreAllOperationsCommitted(ht hybridtime.HybridTime) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allCommittedLocked(ht)
}

func (m *Manager) CountOperationsInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight.Len()
}

// GetCleanHybridTime returns the watermark: every operation before it has committed.
func (m *Manager) GetCleanHybridTime() hybridtime.HybridTime {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.curSnap.allCommittedBefore
}

// TakeSnapshot returns the current commit state.
func (m *Manager) TakeSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.curSnap.clone()
}

// WaitForCleanSnapshotAtHybridTime waits until the clock has passed ht and every operation at or
// before ht has committed, then returns a clean snapshot of everything before ht. Timing out leaves
// the manager untouched; use IsTimedOut to recognize it.
func (m *Manager) WaitForCleanSnapshotAtHybridTime(ctx context.Context, ht hybridtime.HybridTime) (Snapshot, error) {
	checkValid(ht, "WaitForCleanSnapshotAtHybridTime")
	if err := m.clock.WaitUntilAfterLocally(ctx, ht); err != nil {
		return Snapshot{}, errors.Annotatef(err, "waiting for the clock to pass %v", ht)
	}
	if err := m.waitUntil(ctx, waitForAllCommitted, ht); err != nil {
		return Snapshot{}, err
	}
	return NewSnapshotAt(ht), nil
}

// highestApplyingLocked returns the highest hybrid time in the applying state.
func (m *Manager) highestApplyingLocked() (hybridtime.HybridTime, bool) {
	var ht hybridtime.HybridTime
	found := false
	m.inFlight.Descend(func(i btree.Item) bool {
		op := i.(*inFlightOp)
		if op.state == StateApplying {
			ht, found = op.ht, true
			return false
		}
		return true
	})
	return ht, found
}

func (m *Manager) anyApplyingAtOrBeforeLocked(ht hybridtime.HybridTime) bool {
	found := false
	m.inFlight.Ascend(func(i btree.Item) bool {
		op := i.(*inFlightOp)
		if op.ht > ht {
			return false
		}
		if op.state == StateApplying {
			found = true
			return false
		}
		return true
	})
	return found
}

// WaitForApplyingOperationsToCommit blocks until every operation that is applying at the time of
// the call has committed. Operations that start applying later are not waited for.
func (m *Manager) WaitForApplyingOperationsToCommit() {
	m.mu.Lock()
	ht, ok := m.highestApplyingLocked()
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := m.waitUntil(context.Background(), waitForNoneApplying, ht); err != nil {
		log.Warn("failed waiting for applying operations to commit", zap.Stringer("hybrid-time", ht), zap.Error(err))
	}
}

func (m *Manager) waitUntil(ctx context.Context, kind waitKind, ht hybridtime.HybridTime) error {
	start := time.Now()
	defer func() { waitDurationHistogram.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds()) }()

	m.mu.Lock()
	w := &waiter{ht: ht, kind: kind, done: make(chan struct{})}
	if m.isDoneWaitingLocked(w) {
		m.mu.Unlock()
		return nil
	}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-w.done:
		// Satisfied while we were acquiring the lock.
		return nil
	default:
	}
	m.removeWaiterLocked(w)
	waitTimeoutCounter.WithLabelValues(kind.String()).Inc()
	return errors.Annotatef(ErrTimedOut, "timed out waiting for all operations with ht <= %v to commit: %v", ht, ctx.Err())
}
