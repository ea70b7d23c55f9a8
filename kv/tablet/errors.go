package tablet

import "github.com/pingcap/errors"

var (
	ErrRowNotFound      = errors.New("row not found")
	ErrRowAlreadyExists = errors.New("row already exists")
	ErrEmptyWrite       = errors.New("write has no row operations")
	// ErrServiceUnavailable is returned when a read could not get a consistent snapshot in time.
	// The caller may retry.
	ErrServiceUnavailable = errors.New("tablet service unavailable")
	ErrApplierStopped     = errors.New("applier stopped")
)

func IsRowNotFound(err error) bool {
	return errors.Cause(err) == ErrRowNotFound
}

func IsServiceUnavailable(err error) bool {
	return errors.Cause(err) == ErrServiceUnavailable
}
