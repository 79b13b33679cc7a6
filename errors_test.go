package binder

import (
	"errors"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("TRANSACT", ErrCodeInvalidParameters, "nil remote object")

	if err.Op != "TRANSACT" {
		t.Errorf("Expected Op=TRANSACT, got %s", err.Op)
	}

	if err.Code != ErrCodeInvalidParameters {
		t.Errorf("Expected Code=ErrCodeInvalidParameters, got %s", err.Code)
	}

	expected := "binder: nil remote object (op=TRANSACT)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestDeviceError(t *testing.T) {
	err := NewDeviceError("VERSION", "/dev/binder", ErrCodeVersionMismatch, "unexpected version 7")

	if err.Dev != "/dev/binder" {
		t.Errorf("Expected Dev=/dev/binder, got %s", err.Dev)
	}

	expected := "binder: unexpected version 7 (op=VERSION dev=/dev/binder)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestWrapErrno(t *testing.T) {
	err := WrapError("OPEN", syscall.ENOENT)

	if err.Errno != syscall.ENOENT {
		t.Errorf("Expected Errno=ENOENT, got %v", err.Errno)
	}

	if err.Code != ErrCodeDeviceNotFound {
		t.Errorf("Expected Code=ErrCodeDeviceNotFound, got %s", err.Code)
	}

	if !errors.Is(err, syscall.ENOENT) {
		t.Error("Expected errors.Is to match the wrapped errno")
	}

	if !IsErrno(err, syscall.ENOENT) {
		t.Error("Expected IsErrno to match")
	}

	if !IsCode(err, ErrCodeDeviceNotFound) {
		t.Error("Expected IsCode to match")
	}
}

func TestWrapNil(t *testing.T) {
	if WrapError("OPEN", nil) != nil {
		t.Error("Wrapping nil should return nil")
	}
}

func TestWrapStructured(t *testing.T) {
	inner := NewDeviceError("VERSION", "/dev/hwbinder", ErrCodeVersionMismatch, "no match")
	err := WrapError("OPEN", inner)

	if err.Op != "OPEN" {
		t.Errorf("Expected Op=OPEN, got %s", err.Op)
	}

	if err.Dev != "/dev/hwbinder" {
		t.Errorf("Expected device context to carry over, got %s", err.Dev)
	}

	if !errors.Is(err, inner) {
		t.Error("Expected errors.Is to match by category")
	}
}

func TestErrnoMapping(t *testing.T) {
	tests := []struct {
		errno syscall.Errno
		code  ErrorCode
	}{
		{syscall.ENOENT, ErrCodeDeviceNotFound},
		{syscall.EACCES, ErrCodePermissionDenied},
		{syscall.EPERM, ErrCodePermissionDenied},
		{syscall.EINVAL, ErrCodeInvalidParameters},
		{syscall.ENODEV, ErrCodeNotSupported},
		{syscall.ENOMEM, ErrCodeMapFailed},
		{syscall.EIO, ErrCodeIOError},
	}

	for _, tt := range tests {
		if got := mapErrnoToCode(tt.errno); got != tt.code {
			t.Errorf("mapErrnoToCode(%v) = %s, want %s", tt.errno, got, tt.code)
		}
	}
}
