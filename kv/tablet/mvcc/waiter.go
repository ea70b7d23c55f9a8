package mvcc

import "github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"

type waitKind int

const (
	waitForAllCommitted waitKind = iota
	waitForNoneApplying
)

func (k waitKind) String() string {
	switch k {
	case waitForAllCommitted:
		return "all_committed"
	case waitForNoneApplying:
		return "none_applying"
	}
	return "unknown"
}

// waiter is a goroutine blocked until a condition on the manager state holds. done is closed,
// under the manager mutex, once it does.
type waiter struct {
	ht   hybridtime.HybridTime
	kind waitKind
	done chan struct{}
}

func (m *Manager) isDoneWaitingLocked(w *waiter) bool {
	switch w.kind {
	case waitForAllCommitted:
		return m.allCommittedLocked(w.ht)
	case waitForNoneApplying:
		return !m.anyApplyingAtOrBeforeLocked(w.ht)
	}
	return false
}

// wakeWaitersLocked re-evaluates every waiter and releases the satisfied ones.
func (m *Manager) wakeWaitersLocked() {
	if len(m.waiters) == 0 {
		return
	}
	remaining := m.waiters[:0]
	for _, w := range m.waiters {
		if m.isDoneWaitingLocked(w) {
			close(w.done)
			continue
		}
		remaining = append(remaining, w)
	}
	for i := len(remaining); i < len(m.waiters); i++ {
		m.waiters[i] = nil
	}
	m.waiters = remaining
}

func (m *Manager) removeWaiterLocked(w *waiter) {
	for i, other := range m.waiters {
		if other == w {
			last := len(m.waiters) - 1
			m.waiters[i] = m.waiters[last]
			m.waiters[last] = nil
			m.waiters = m.waiters[:last]
			return
		}
	}
}

func (m *Manager) numWaiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
