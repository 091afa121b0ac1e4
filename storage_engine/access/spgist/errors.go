package spgist

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrOversizeValue: the leaf tuple cannot fit a page and the policy cannot shrink it.
	ErrOversizeValue = errors.New("index row size exceeds maximum")

	// ErrConflict: a conditional lock on a child page failed during descent.
	// Insert reports it as RetryNeeded.
	ErrConflict = errors.New("concurrent insert conflict")

	// ErrInterrupted is the cancel cause of a soft interrupt; the insert is retried.
	ErrInterrupted = errors.New("insert interrupted")

	// ErrCancelled: the context was cancelled for good.
	ErrCancelled = errors.New("operation cancelled")

	// ErrCorruption: a tuple or page is in a state the algorithms never produce.
	ErrCorruption = errors.New("index corrupted")

	// ErrWouldBlock is returned by PageStore.TryReadAndLock when the page lock is held.
	ErrWouldBlock = errors.New("page lock would block")
)

func corruptf(format string, args ...any) error {
	return errors.Wrapf(ErrCorruption, format, args...)
}

// CriticalSectionError is the panic value raised when a page mutation fails after
// it started. The pages involved are in an unknown state and must not be written out.
type CriticalSectionError struct {
	Op  string
	Err error
}

func (e *CriticalSectionError) Error() string {
	return fmt.Sprintf("failure inside critical section of %s: %v", e.Op, e.Err)
}

func (e *CriticalSectionError) Unwrap() error {
	return e.Err
}

func mustNot(op string, err error) {
	if err != nil {
		panic(&CriticalSectionError{Op: op, Err: err})
	}
}
