package mvcc

import (
	"github.com/pingcap-incubator/tinytablet/kv/clock"
	"github.com/pingcap/errors"
)

var (
	// ErrTimedOut is returned when a wait does not finish before its context is done.
	ErrTimedOut = errors.New("mvcc wait timed out")
	// ErrIllegalState is returned when an offline operation cannot start at the requested hybrid time.
	ErrIllegalState = errors.New("illegal mvcc state")
)

// IsTimedOut reports whether err comes from a wait that ran out of time, either for the clock or
// for in-flight operations.
func IsTimedOut(err error) bool {
	cause := errors.Cause(err)
	return cause == ErrTimedOut || cause == clock.ErrTimedOut
}

// IsIllegalState reports whether err was caused by ErrIllegalState.
func IsIllegalState(err error) bool {
	return errors.Cause(err) == ErrIllegalState
}
