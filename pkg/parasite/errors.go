package parasite

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Error kinds. Match them with errors.Is.
var (
	ErrPrepareFailed         = errors.New("prepare failed")
	ErrInfectFailed          = errors.New("infect failed")
	ErrInvalidState          = errors.New("invalid state")
	ErrRPCCallFailed         = errors.New("rpc call failed")
	ErrSyscallDispatchFailed = errors.New("syscall dispatch failed")
	ErrCureFailed            = errors.New("cure failed")

	// caller contract violations, rejected before the target is touched
	ErrArgsTooLarge      = errors.New("args larger than negotiated buffer")
	ErrNotPlainData      = errors.New("type is not plain fixed-layout data")
	ErrCallInFlight      = errors.New("another call is in flight on this control block")
	ErrCommandOutOfRange = errors.New("command out of range")
)

// Operation names carried by Error.Op.
const (
	OpPrepare      = "prepare"
	OpInfect       = "infect"
	OpSetLogFd     = "set_log_fd"
	OpParasiteArgs = "parasite_args"
	OpRPCCallSync  = "rpc_call_sync"
	OpSyscall      = "syscall"
	OpCure         = "cure"
)

// Error is returned by every fallible controller operation. Status is the
// signed status of the underlying native operation: -errno for system
// errors, 0 when the native layer returned nothing at all.
type Error struct {
	Kind   error
	Op     string
	Status int
	Err    error
}

func newError(kind error, op string, err error) *Error {
	return &Error{
		Kind:   kind,
		Op:     op,
		Status: nativeStatus(err),
		Err:    err,
	}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s (status %d)", e.Op, e.Kind, e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// statusError is implemented by native errors that carry their own status.
type statusError interface {
	Status() int
}

// StatusError is a native failure with an explicit status and no errno.
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string { return fmt.Sprintf("%s (%d)", e.Msg, e.Code) }
func (e *StatusError) Status() int   { return e.Code }

func nativeStatus(err error) int {
	if err == nil {
		return 0
	}
	var se statusError
	if errors.As(err, &se) {
		return se.Status()
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	return -1
}

// IsKind reports whether err is a controller error of the given kind.
func IsKind(err error, kind error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}
