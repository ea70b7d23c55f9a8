// Package clock supplies the hybrid timestamps the MVCC manager assigns to operations.
package clock

import (
	"context"

	"github.com/pingcap-incubator/tinytablet/kv/config"
	"github.com/pingcap-incubator/tinytablet/kv/util/hybridtime"
	"github.com/pingcap/errors"
)

var (
	// ErrNotSupported is returned for operations a clock implementation cannot provide.
	ErrNotSupported = errors.New("clock does not support this operation")
	// ErrServiceUnavailable is returned when a clock cannot wait for the requested time.
	ErrServiceUnavailable = errors.New("clock wait unavailable")
	// ErrUpdateTooFarAhead is returned by Update when the hybrid time exceeds the allowed skew.
	ErrUpdateTooFarAhead = errors.New("tried to update clock beyond the max clock skew")
)

// Clock assigns timestamps to operations.
//
// Implementations must guarantee that Now is strictly monotonic: for two calls returning t1 and
// then t2, t1 < t2. Update must never move the clock backwards.
type Clock interface {
	// Now returns a new hybrid time for the current instant.
	Now() hybridtime.HybridTime
	// NowLatest returns a hybrid time for the current instant plus the clock's max error.
	NowLatest() hybridtime.HybridTime
	// Update advances the clock so that later readings are higher than ht.
	Update(ht hybridtime.HybridTime) error
	// WaitUntilAfter waits until ht has passed on every machine in the cluster.
	WaitUntilAfter(ctx context.Context, ht hybridtime.HybridTime) error
	// WaitUntilAfterLocally waits until this clock has advanced past ht.
	WaitUntilAfterLocally(ctx context.Context, ht hybridtime.HybridTime) error
	// IsAfter reports whether ht has definitely passed, i.e. any later Now returns a higher value.
	IsAfter(ht hybridtime.HybridTime) bool
	// GetGlobalLatest returns a loose upper bound on the current time across the cluster.
	GetGlobalLatest() (hybridtime.HybridTime, error)
}

// New builds the clock described by cfg.
func New(cfg *config.ClockConfig) (Clock, error) {
	switch cfg.Type {
	case config.ClockTypeLogical:
		return NewLogicalClockStartingAt(hybridtime.Initial), nil
	case config.ClockTypeHybrid, "":
		return NewHybridClock(cfg.MaxClockError.Duration, cfg.MaxClockSkew.Duration), nil
	}
	return nil, errors.Errorf("unknown clock type %q", cfg.Type)
}
