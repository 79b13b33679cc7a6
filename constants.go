package binder

import (
	"github.com/droidipc/go-binder/internal/constants"
	"github.com/droidipc/go-binder/internal/uapi"
)

// Re-export constants for public API
const (
	DefaultDevice = constants.DefaultDevice
	HwDevice      = constants.HwDevice
	VndDevice     = constants.VndDevice

	DefaultMaxBinderThreads = constants.DefaultMaxBinderThreads
)

// Transaction flags as seen by handlers and local objects.
const (
	TxFlagOneway     = uapi.TxFlagOneway
	TxFlagRootObject = uapi.TxFlagRootObject
	TxFlagStatusCode = uapi.TxFlagStatusCode
	TxFlagAcceptFDs  = uapi.TxFlagAcceptFDs
)
