package mvcc

import (
	"testing"
	"time"

	"github.com/pingcap-incubator/tinytablet/kv/clock"
	"github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"
	"github.com/stretchr/testify/assert"
)

func TestScopedOperation(t *testing.T) {
	m, _ := newTestManager()

	func() {
		t1 := NewScopedOperation(m)
		defer t1.Close()
		t2 := NewScopedOperation(m)
		defer t2.Close()

		assert.Equal(t, hybridtime.HybridTime(1), t1.HybridTime())
		assert.Equal(t, hybridtime.HybridTime(2), t2.HybridTime())

		t1.StartApplying()
		t1.Commit()

		snap := m.TakeSnapshot()
		assert.True(t, snap.IsCommitted(t1.HybridTime()))
		assert.False(t, snap.IsCommitted(t2.HybridTime()))
	}()

	// Closing t2 aborted it.
	snap := m.TakeSnapshot()
	assert.True(t, snap.IsCommitted(1))
	assert.False(t, snap.IsCommitted(2))
	assert.Equal(t, 0, m.CountOperationsInFlight())
}

func TestScopedOperationAbort(t *testing.T) {
	m, _ := newTestManager()

	op := NewScopedOperation(m)
	op.Abort()
	// Close after an explicit abort does nothing.
	op.Close()
	assert.Equal(t, 0, m.CountOperationsInFlight())
	assert.False(t, m.TakeSnapshot().IsCommitted(op.HybridTime()))
}

func TestScopedOperationClosedWhileApplying(t *testing.T) {
	m, _ := newTestManager()

	op := NewScopedOperation(m)
	op.StartApplying()
	assertInvariantViolation(t, "cannot be aborted in state APPLYING", op.Close)

	// The operation is still applying and can be committed.
	m.CommitOperation(op.HybridTime())
	assert.True(t, m.TakeSnapshot().IsCommitted(op.HybridTime()))
}

func TestScopedOperationAtLatest(t *testing.T) {
	m, _ := newTestManager()

	op := NewScopedOperationAtLatest(m)
	defer op.Close()
	assert.Equal(t, hybridtime.HybridTime(1), op.HybridTime())
	op.StartApplying()
	op.Commit()
	assert.Equal(t, hybridtime.HybridTime(2), m.GetCleanHybridTime())
}

func TestScopedOperationFailedCommitKeepsDiagnostic(t *testing.T) {
	wall := time.Now()
	c := clock.NewHybridClockWithWallClock(200*time.Millisecond, 500*time.Millisecond,
		func() time.Time { return wall })
	m := NewManager(c)

	op := NewScopedOperationAtLatest(m)
	op.StartApplying()
	// The clock never reaches the operation's hybrid time, so the commit fails. The deferred Close
	// must not replace that failure with an abort of an applying operation.
	assertInvariantViolation(t, "future hybrid time", func() {
		defer op.Close()
		op.Commit()
	})
	assert.Equal(t, 1, m.CountOperationsInFlight())
}
