// Package binder implements a user-space client for the Android binder
// kernel driver: it opens a binder character device, negotiates the
// kernel ABI variant, maps the receive region, and runs the command-
// stream engine behind synchronous and one-way IPC.
//
// The package is the driver core only. Object registries, request
// writers, thread pools, and name services live in the layers above and
// reach the core through the collaborator interfaces in objects.go.
package binder

import (
	"strconv"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/droidipc/go-binder/internal/constants"
	"github.com/droidipc/go-binder/internal/logging"
	"github.com/droidipc/go-binder/internal/uapi"
)

// Driver is a session bound to one open binder descriptor. It owns the
// descriptor and the receive mapping, shares itself through Retain and
// Release, and routes all I/O through the ABI adapter selected at open
// time.
//
// A session is single-threaded with respect to its descriptor: callers
// serialise Read and Transact themselves, typically with one looper
// goroutine per session. The reference count is the only internal
// synchronisation.
type Driver struct {
	refs     atomic.Int32
	fd       int
	dev      string
	vm       []byte
	io       uapi.ABI
	protocol Protocol
	log      *logging.Logger
	metrics  *Metrics
	observer Observer

	// writeRead drives the combined write/read ioctl. Replaced by a
	// scripted transport in tests.
	writeRead func(write, read *uapi.IOBuf) error
}

func newDriver(fd int, dev string, io uapi.ABI, protocol Protocol) *Driver {
	d := &Driver{
		fd:       fd,
		dev:      dev,
		io:       io,
		protocol: protocol,
		log:      logging.Default(),
		metrics:  NewMetrics(),
		observer: NoOpObserver{},
	}
	d.refs.Store(1)
	d.writeRead = func(write, read *uapi.IOBuf) error {
		return d.io.WriteRead(d.fd, write, read)
	}
	return d
}

// abiForVersion selects the adapter whose sentinel equals the version
// the kernel reported, or nil for an unknown kernel.
func abiForVersion(version int32) uapi.ABI {
	switch version {
	case uapi.IO32.Version():
		return uapi.IO32
	case uapi.IO64.Version():
		return uapi.IO64
	default:
		return nil
	}
}

// Open opens a binder device, negotiates the kernel ABI, and maps the
// receive region. The returned session has a reference count of one.
func Open(dev string) (*Driver, error) {
	fd, err := unix.Open(dev, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, WrapError("OPEN", err)
	}

	version, err := uapi.BinderVersion(fd)
	if err != nil {
		unix.Close(fd)
		return nil, WrapError("VERSION", err)
	}

	io := abiForVersion(version)
	if io == nil {
		unix.Close(fd)
		return nil, NewDeviceError("VERSION", dev, ErrCodeVersionMismatch,
			"unexpected version "+strconv.Itoa(int(version)))
	}
	logging.Default().Debug("opened device", "dev", dev, "version", version,
		"pointer_width", io.PointerWidth())

	// The mapping is the kernel's drop zone for transaction payloads:
	// user code only ever reads it.
	vmsize := constants.VMSizeBase - constants.VMSizeReservePages*unix.Getpagesize()
	vm, err := unix.Mmap(fd, 0, vmsize, unix.PROT_READ,
		unix.MAP_PRIVATE|unix.MAP_NORESERVE)
	if err != nil {
		unix.Close(fd)
		return nil, &Error{Op: "MMAP", Dev: dev, Code: ErrCodeMapFailed,
			Errno: errnoOf(err), Msg: err.Error(), Inner: err}
	}

	if err := uapi.SetMaxThreads(fd, constants.DefaultMaxBinderThreads); err != nil {
		// Informational hint; the driver default still applies.
		logging.Default().Error("failed to set max threads", "dev", dev, "err", err)
	}

	d := newDriver(fd, dev, io, protocolForDevice(dev))
	d.vm = vm
	return d, nil
}

// Retain adds a reference to the session.
func (d *Driver) Retain() *Driver {
	d.refs.Add(1)
	return d
}

// Release drops a reference. The final release unmaps the receive region
// and closes the descriptor, in that order, exactly once. There is no
// explicit drain: the driver's close semantics dispose of in-flight
// state.
func (d *Driver) Release() {
	if d.refs.Add(-1) != 0 {
		return
	}
	d.log.Debug("closing", "dev", d.dev)
	if d.vm != nil {
		_ = unix.Munmap(d.vm)
		d.vm = nil
	}
	if d.fd >= 0 {
		_ = unix.Close(d.fd)
		d.fd = -1
	}
}

// FD exposes the raw descriptor, mainly for tests and pollers.
func (d *Driver) FD() int { return d.fd }

// Dev is the device path the session was opened with.
func (d *Driver) Dev() string { return d.dev }

// IO is the ABI adapter selected at open time.
func (d *Driver) IO() uapi.ABI { return d.io }

// Metrics exposes the session's counters.
func (d *Driver) Metrics() *Metrics { return d.metrics }

// SetObserver installs an instrumentation hook for the command stream.
// Passing nil restores the no-op observer. Set it before the looper
// starts; the session does not synchronise the swap.
func (d *Driver) SetObserver(o Observer) {
	if o == nil {
		o = NoOpObserver{}
	}
	d.observer = o
}

// Poll blocks until the driver descriptor is readable. The optional aux
// descriptor is the cancellation path: callers make it readable to break
// a blocked looper out of Poll; its revents are reported back through
// the argument.
func (d *Driver) Poll(aux *unix.PollFd) (int16, error) {
	fds := make([]unix.PollFd, 1, 2)
	fds[0] = unix.PollFd{
		Fd:     int32(d.fd),
		Events: unix.POLLIN | unix.POLLERR | unix.POLLHUP | unix.POLLNVAL,
	}
	if aux != nil {
		fds = append(fds, *aux)
	}
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if aux != nil {
				aux.Revents = 0
			}
			return 0, WrapError("POLL", err)
		}
		break
	}
	if aux != nil {
		aux.Revents = fds[1].Revents
	}
	return fds[0].Revents, nil
}

// LocalRequestNew constructs a fresh outbound request prefixed with the
// RPC header of the session's dialect.
func (d *Driver) LocalRequestNew(iface string) *LocalRequest {
	req := NewLocalRequest()
	d.protocol.WriteRPCHeader(req, iface)
	return req
}

func errnoOf(err error) unix.Errno {
	if errno, ok := err.(unix.Errno); ok {
		return errno
	}
	return 0
}
