package core

import "fmt"

// NotFoundError is a user-correctable miss: a week, member or tenant
// that doesn't exist. Rendered verbatim as the reply text.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

func notFoundf(format string, args ...any) *NotFoundError {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

// SchedulerError wraps a trigger install/remove failure. The tenant
// state is already saved when this occurs; the user is told to re-issue
// the command, which repairs the trigger.
type SchedulerError struct {
	Err error
}

func (e *SchedulerError) Error() string { return "scheduler: " + e.Err.Error() }
func (e *SchedulerError) Unwrap() error { return e.Err }

// StoreError wraps an opaque persistence failure. The operation is
// treated as not applied.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string { return "store: " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// NotifierError wraps an outbound delivery failure.
type NotifierError struct {
	Err error
}

func (e *NotifierError) Error() string { return "notifier: " + e.Err.Error() }
func (e *NotifierError) Unwrap() error { return e.Err }
