package binder

import (
	"fmt"
	"math"
)

// Status is the outcome of a transaction as seen by the caller. Zero is
// success; any non-negative value is the kernel-reported status from the
// reply envelope, and errno-range negatives are application errors such
// as -EBADMSG. The terminal-reply sentinels below live at the bottom of
// the int32 range, the way libbinder keeps its status_t errors, so they
// can never collide with an errno or an application-defined reply
// status.
type Status int32

const (
	StatusOK Status = 0

	statusErrorBase Status = math.MinInt32

	// StatusDeadObject reports the remote object's owning process died
	// before a reply could be produced.
	StatusDeadObject Status = statusErrorBase + 9

	// StatusFailed reports the driver rejected or aborted the
	// transaction.
	StatusFailed Status = statusErrorBase + 10
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusFailed:
		return "FAILED"
	case StatusDeadObject:
		return "DEAD_OBJECT"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}
