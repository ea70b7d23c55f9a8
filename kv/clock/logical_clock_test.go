package clock

import (
	"context"
	"testing"

	"github.com/pingcap-incubator/tinytablet/kv/config"
	"github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogicalClockNow(t *testing.T) {
	c := NewLogicalClockStartingAt(hybridtime.Initial)
	assert.Equal(t, hybridtime.HybridTime(1), c.Now())
	assert.Equal(t, hybridtime.HybridTime(2), c.Now())
	assert.Equal(t, hybridtime.HybridTime(3), c.NowLatest())

	c = NewLogicalClockStartingAt(hybridtime.HybridTime(10))
	assert.Equal(t, hybridtime.HybridTime(10), c.Now())
}

func TestLogicalClockUpdate(t *testing.T) {
	c := NewLogicalClockStartingAt(hybridtime.Initial)
	require.NoError(t, c.Update(hybridtime.HybridTime(20)))
	assert.Equal(t, hybridtime.HybridTime(21), c.Now())

	// Updating to a lower value never moves the clock back.
	require.NoError(t, c.Update(hybridtime.HybridTime(5)))
	assert.Equal(t, hybridtime.HybridTime(22), c.Now())

	assert.Error(t, c.Update(hybridtime.Invalid))
}

func TestLogicalClockIsAfter(t *testing.T) {
	c := NewLogicalClockStartingAt(hybridtime.Initial)
	now := c.Now()
	assert.True(t, c.IsAfter(now))
	assert.False(t, c.IsAfter(now+1))
}

func TestLogicalClockWaits(t *testing.T) {
	c := NewLogicalClockStartingAt(hybridtime.Initial)
	now := c.Now()
	ctx := context.Background()

	require.NoError(t, c.WaitUntilAfterLocally(ctx, now))
	err := c.WaitUntilAfterLocally(ctx, now+10)
	assert.Equal(t, ErrServiceUnavailable, errors.Cause(err))

	err = c.WaitUntilAfter(ctx, now)
	assert.Equal(t, ErrServiceUnavailable, errors.Cause(err))

	_, err = c.GetGlobalLatest()
	assert.Equal(t, ErrNotSupported, errors.Cause(err))
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.NewTestConfig()
	c, err := New(&cfg.Clock)
	require.NoError(t, err)
	assert.IsType(t, &LogicalClock{}, c)

	cfg = config.NewDefaultConfig()
	c, err = New(&cfg.Clock)
	require.NoError(t, err)
	assert.IsType(t, &HybridClock{}, c)

	_, err = New(&config.ClockConfig{Type: "atomic"})
	assert.Error(t, err)
}
