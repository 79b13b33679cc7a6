package binder

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Error represents a structured binder error with context and errno mapping
type Error struct {
	Op    string        // Operation that failed (e.g., "OPEN", "TRANSACT")
	Dev   string        // Device path ("" if not applicable)
	Code  ErrorCode     // High-level error category
	Errno syscall.Errno // Kernel errno (0 if not applicable)
	Msg   string        // Human-readable message
	Inner error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.Dev != "" {
		parts = append(parts, fmt.Sprintf("dev=%s", e.Dev))
	}

	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("binder: %s (%s)", msg, strings.Join(parts, " "))
	}

	return fmt.Sprintf("binder: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support by error category
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeDeviceNotFound    ErrorCode = "device not found"
	ErrCodePermissionDenied  ErrorCode = "permission denied"
	ErrCodeVersionMismatch   ErrorCode = "unsupported kernel ABI version"
	ErrCodeMapFailed         ErrorCode = "receive mapping failed"
	ErrCodeInvalidParameters ErrorCode = "invalid parameters"
	ErrCodeNotSupported      ErrorCode = "binder not supported"
	ErrCodeIOError           ErrorCode = "driver I/O error"
)

// Error constructors

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Msg:  msg,
	}
}

// NewDeviceError creates a new error bound to a device path
func NewDeviceError(op, dev string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Dev:  dev,
		Code: code,
		Msg:  msg,
	}
}

// WrapError wraps an existing error with binder context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	// If it's already a structured error, just update the operation
	if be, ok := inner.(*Error); ok {
		return &Error{
			Op:    op,
			Dev:   be.Dev,
			Code:  be.Code,
			Errno: be.Errno,
			Msg:   be.Msg,
			Inner: be.Inner,
		}
	}

	code := ErrCodeIOError
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		code = mapErrnoToCode(errno)
		return &Error{
			Op:    op,
			Code:  code,
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  code,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapErrnoToCode maps syscall errno to binder error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT:
		return ErrCodeDeviceNotFound
	case syscall.EPERM, syscall.EACCES:
		return ErrCodePermissionDenied
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.ENOSYS, syscall.EOPNOTSUPP, syscall.ENODEV:
		return ErrCodeNotSupported
	case syscall.ENOMEM:
		return ErrCodeMapFailed
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Errno == errno
	}
	return false
}
