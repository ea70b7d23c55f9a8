package hybridtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrdering(t *testing.T) {
	assert.True(t, Min < Initial)
	assert.True(t, Initial < FromMicros(1))
	assert.True(t, FromMicros(1) < Invalid)
	assert.True(t, Invalid < Max)

	assert.Equal(t, -1, HybridTime(3).CompareTo(4))
	assert.Equal(t, 0, HybridTime(4).CompareTo(4))
	assert.Equal(t, 1, HybridTime(5).CompareTo(4))

	assert.False(t, Invalid.IsValid())
	assert.True(t, Min.IsValid())
}

func TestIncrementDecrement(t *testing.T) {
	assert.Equal(t, HybridTime(11), HybridTime(10).Incremented())
	assert.Equal(t, HybridTime(9), HybridTime(10).Decremented())
	assert.Equal(t, Max, Max.Incremented())
	assert.Equal(t, Min, Min.Decremented())
}

func TestPhysicalAndLogical(t *testing.T) {
	ht := FromMicrosAndLogical(1234567, 42)
	assert.Equal(t, uint64(1234567), ht.PhysicalMicros())
	assert.Equal(t, uint64(42), ht.Logical())

	// Logical values wrap into the mask rather than spilling into the physical part.
	ht = FromMicrosAndLogical(7, MaxLogical+1)
	assert.Equal(t, uint64(7), ht.PhysicalMicros())
	assert.Equal(t, uint64(0), ht.Logical())

	assert.True(t, FromMicrosAndLogical(5, MaxLogical) < FromMicros(6))

	shifted := FromMicrosAndLogical(100, 3).AddMicros(50)
	assert.Equal(t, uint64(150), shifted.PhysicalMicros())
	assert.Equal(t, uint64(3), shifted.Logical())
	assert.Equal(t, uint64(0), FromMicros(10).AddMicros(-20).PhysicalMicros())

	now := time.Unix(1500000000, 5000)
	assert.Equal(t, uint64(1500000000000005), FromTime(now).PhysicalMicros())
}

func TestString(t *testing.T) {
	assert.Equal(t, "17", HybridTime(17).String())
	assert.Equal(t, "0", Min.String())
	assert.Equal(t, "<max>", Max.String())
	assert.Equal(t, "<invalid>", Invalid.String())
	assert.Equal(t, "{ physical: 9 logical: 2 }", FromMicrosAndLogical(9, 2).ToDebugString())
}

func TestMaxMinOf(t *testing.T) {
	assert.Equal(t, HybridTime(9), MaxOf(3, 9))
	assert.Equal(t, HybridTime(3), MinOf(3, 9))
}
