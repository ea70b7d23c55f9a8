package mvcc

import (
	"sort"
	"strings"

	"github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"
)

// Snapshot answers whether the operation with a given hybrid time is committed.
//
// Every hybrid time below allCommittedBefore is committed. Hybrid times in
// [allCommittedBefore, noneCommittedAtOrAfter) are committed only if they appear in committed,
// and nothing at or above noneCommittedAtOrAfter is committed. A Snapshot is immutable once it
// has been handed out, so it can be shared between goroutines.
type Snapshot struct {
	allCommittedBefore hybridtime.HybridTime
	// Sorted, every element >= allCommittedBefore.
	committed              []hybridtime.HybridTime
	noneCommittedAtOrAfter hybridtime.HybridTime
}

// NewSnapshot returns a snapshot in which nothing is committed yet: every valid hybrid time is at
// or above hybridtime.Initial.
func NewSnapshot() Snapshot {
	return Snapshot{
		allCommittedBefore:     hybridtime.Initial,
		noneCommittedAtOrAfter: hybridtime.Initial,
	}
}

// NewSnapshotAt returns a point-in-time snapshot in which every operation before ht is committed
// and none at or after it.
func NewSnapshotAt(ht hybridtime.HybridTime) Snapshot {
	return Snapshot{
		allCommittedBefore:     ht,
		noneCommittedAtOrAfter: ht,
	}
}

// SnapshotIncludingAllOperations returns a snapshot that considers every operation committed.
func SnapshotIncludingAllOperations() Snapshot {
	return NewSnapshotAt(hybridtime.Max)
}

// SnapshotIncludingNoOperations returns a snapshot that considers no operation committed.
func SnapshotIncludingNoOperations() Snapshot {
	return NewSnapshotAt(hybridtime.Min)
}

func (s Snapshot) IsCommitted(ht hybridtime.HybridTime) bool {
	if ht < s.allCommittedBefore {
		return true
	}
	if s.noneCommittedAtOrAfter <= ht {
		return false
	}
	return s.inCommittedSet(ht)
}

func (s Snapshot) inCommittedSet(ht hybridtime.HybridTime) bool {
	i := sort.Search(len(s.committed), func(i int) bool { return s.committed[i] >= ht })
	return i < len(s.committed) && s.committed[i] == ht
}

// MayHaveCommittedOperationsAtOrAfter returns false only if it is certain that no operation at or
// after ht is committed in this snapshot.
func (s Snapshot) MayHaveCommittedOperationsAtOrAfter(ht hybridtime.HybridTime) bool {
	return ht < s.noneCommittedAtOrAfter
}

// MayHaveUncommittedOperationsAtOrBefore returns false only if it is certain that every operation
// at or before ht is committed in this snapshot.
func (s Snapshot) MayHaveUncommittedOperationsAtOrBefore(ht hybridtime.HybridTime) bool {
	// The watermark cannot move past the only operation that was in flight when it committed, in
	// which case that operation sits exactly on the watermark in the committed set.
	if ht == s.allCommittedBefore {
		return !s.inCommittedSet(ht)
	}
	return ht > s.allCommittedBefore
}

// IsClean reports whether the watermark alone describes the snapshot.
func (s Snapshot) IsClean() bool {
	return len(s.committed) == 0
}

func (s Snapshot) String() string {
	var b strings.Builder
	b.WriteString("MvccSnapshot[committed={T|T < ")
	b.WriteString(s.allCommittedBefore.String())
	if len(s.committed) == 0 {
		b.WriteString("}]")
		return b.String()
	}
	b.WriteString(" or (T in {")
	for i, ht := range s.committed {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(ht.String())
	}
	b.WriteString("})}]")
	return b.String()
}

// clone returns a copy that does not share the committed slice.
func (s Snapshot) clone() Snapshot {
	if len(s.committed) > 0 {
		s.committed = append([]hybridtime.HybridTime(nil), s.committed...)
	} else {
		s.committed = nil
	}
	return s
}

// addCommitted records ht as committed.
func (s *Snapshot) addCommitted(ht hybridtime.HybridTime) {
	if s.IsCommitted(ht) {
		return
	}
	i := sort.Search(len(s.committed), func(i int) bool { return s.committed[i] >= ht })
	s.committed = append(s.committed, 0)
	copy(s.committed[i+1:], s.committed[i:])
	s.committed[i] = ht

	if s.noneCommittedAtOrAfter <= ht {
		s.noneCommittedAtOrAfter = ht.Incremented()
	}
}

// advanceWatermark moves allCommittedBefore forward to ht and drops the committed entries it now
// covers. The watermark never moves back.
func (s *Snapshot) advanceWatermark(ht hybridtime.HybridTime) {
	if ht <= s.allCommittedBefore {
		return
	}
	s.allCommittedBefore = ht
	i := sort.Search(len(s.committed), func(i int) bool { return s.committed[i] >= ht })
	s.committed = append(s.committed[:0], s.committed[i:]...)
	if s.noneCommittedAtOrAfter < ht {
		s.noneCommittedAtOrAfter = ht
	}
}
