package mvcc

import "github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"

// ScopedOperation starts an operation and makes sure it does not stay in flight forever. Callers
// defer Close right after creating it:
//
//	op := mvcc.NewScopedOperation(m)
//	defer op.Close()
//	...
//	op.StartApplying()
//	op.Commit()
//
// Close aborts the operation unless it was committed or aborted. Closing an operation that is
// applying but not committed is an invariant violation.
type ScopedOperation struct {
	manager *Manager
	ht      hybridtime.HybridTime
	done    bool
}

func NewScopedOperation(m *Manager) *ScopedOperation {
	return &ScopedOperation{manager: m, ht: m.StartOperation()}
}

// NewScopedOperationAtLatest starts the operation with StartOperationAtLatest.
func NewScopedOperationAtLatest(m *Manager) *ScopedOperation {
	return &ScopedOperation{manager: m, ht: m.StartOperationAtLatest()}
}

func (op *ScopedOperation) HybridTime() hybridtime.HybridTime {
	return op.ht
}

func (op *ScopedOperation) StartApplying() {
	op.manager.StartApplyingOperation(op.ht)
}

// Commit marks the operation done before delegating, so that a deferred Close after a failed
// commit does not report a second violation.
func (op *ScopedOperation) Commit() {
	op.done = true
	op.manager.CommitOperation(op.ht)
}

func (op *ScopedOperation) Abort() {
	op.done = true
	op.manager.AbortOperation(op.ht)
}

func (op *ScopedOperation) Close() {
	if op.done {
		return
	}
	op.done = true
	op.manager.AbortOperation(op.ht)
}
