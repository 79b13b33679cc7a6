// Package constants holds internal defaults for the go-binder driver core.
package constants

// Device paths commonly served by the binder driver. The caller picks one;
// the RPC header dialect is chosen from the path at open time.
const (
	DefaultDevice = "/dev/binder"
	HwDevice      = "/dev/hwbinder"
	VndDevice     = "/dev/vndbinder"
)

// Receive mapping sizing
//
// The mapped region is the kernel's drop zone for transaction payloads.
// The size rule is inherited from the Android process state: 1 MiB minus
// two pages, so the mapping plus its guard pages stay under a megabyte of
// address space per session.
const (
	VMSizeBase         = 1 << 20
	VMSizeReservePages = 2
)

// DefaultMaxBinderThreads is the max-threads hint passed to the driver at
// open time. Zero keeps the driver's own default.
const DefaultMaxBinderThreads = 0

// ReadBufferPackets sizes the receive scratch buffer: room for this many
// maximum-size command packets per combined write/read call.
const ReadBufferPackets = 64
