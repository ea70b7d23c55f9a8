// Package hybridtime defines HybridTime, the totally ordered timestamp handed out by tablet clocks.
//
// A HybridTime packs a physical wall-clock reading in microseconds together with a logical counter
// in the low LogicalBits bits, so that many timestamps can be minted within one microsecond while
// still sorting by wall-clock time.
package hybridtime

import (
	"fmt"
	"strconv"
	"time"
)

// LogicalBits is the number of low bits reserved for the logical component.
const LogicalBits = 12

const logicalMask = (uint64(1) << LogicalBits) - 1

// MaxLogical is the largest logical value a HybridTime can carry for one physical reading.
const MaxLogical = logicalMask

// HybridTime is an opaque, totally ordered timestamp.
type HybridTime uint64

const (
	// Min sorts before every valid hybrid time.
	Min HybridTime = 0
	// Initial is the first hybrid time an operation can be assigned.
	Initial HybridTime = 1
	// Max sorts after every valid hybrid time.
	Max HybridTime = HybridTime(^uint64(0))
	// Invalid marks an unset hybrid time. It must never be compared as if it were valid.
	Invalid HybridTime = Max - 1
)

// FromMicros returns a hybrid time with the given physical component and a zero logical component.
func FromMicros(micros uint64) HybridTime {
	return HybridTime(micros << LogicalBits)
}

// FromMicrosAndLogical composes a hybrid time from its physical and logical components.
func FromMicrosAndLogical(micros uint64, logical uint64) HybridTime {
	return HybridTime(micros<<LogicalBits | logical&logicalMask)
}

// FromTime returns the hybrid time for a wall-clock reading with a zero logical component.
func FromTime(t time.Time) HybridTime {
	return FromMicros(uint64(t.UnixNano() / int64(time.Microsecond)))
}

// PhysicalMicros returns the physical component in microseconds since the Unix epoch.
func (ht HybridTime) PhysicalMicros() uint64 {
	return uint64(ht) >> LogicalBits
}

// Logical returns the logical component.
func (ht HybridTime) Logical() uint64 {
	return uint64(ht) & logicalMask
}

// IsValid reports whether ht is a usable timestamp.
func (ht HybridTime) IsValid() bool {
	return ht != Invalid
}

// CompareTo returns -1, 0 or 1 when ht is before, equal to or after other.
func (ht HybridTime) CompareTo(other HybridTime) int {
	switch {
	case ht < other:
		return -1
	case ht > other:
		return 1
	default:
		return 0
	}
}

// Incremented returns the next hybrid time. Max is returned unchanged.
func (ht HybridTime) Incremented() HybridTime {
	if ht == Max {
		return Max
	}
	return ht + 1
}

// Decremented returns the previous hybrid time. Min is returned unchanged.
func (ht HybridTime) Decremented() HybridTime {
	if ht == Min {
		return Min
	}
	return ht - 1
}

// AddMicros shifts the physical component, keeping the logical one.
func (ht HybridTime) AddMicros(micros int64) HybridTime {
	phys := int64(ht.PhysicalMicros()) + micros
	if phys < 0 {
		phys = 0
	}
	return FromMicrosAndLogical(uint64(phys), ht.Logical())
}

// ToUint64 returns the raw encoded value.
func (ht HybridTime) ToUint64() uint64 {
	return uint64(ht)
}

func (ht HybridTime) String() string {
	switch ht {
	case Max:
		return "<max>"
	case Invalid:
		return "<invalid>"
	}
	return strconv.FormatUint(uint64(ht), 10)
}

// ToDebugString renders the physical and logical components separately.
func (ht HybridTime) ToDebugString() string {
	switch ht {
	case Max, Invalid, Min:
		return ht.String()
	}
	return fmt.Sprintf("{ physical: %d logical: %d }", ht.PhysicalMicros(), ht.Logical())
}

// MaxOf returns the later of two hybrid times.
func MaxOf(a, b HybridTime) HybridTime {
	if a > b {
		return a
	}
	return b
}

// MinOf returns the earlier of two hybrid times.
func MinOf(a, b HybridTime) HybridTime {
	if a < b {
		return a
	}
	return b
}
