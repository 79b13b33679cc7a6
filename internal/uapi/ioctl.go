package uapi

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Ioctl request codes use the kernel _IOC encoding: direction in the top
// two bits, payload size in bits 16-29, then the type and number bytes.
// This is a separate namespace from the wire opcodes in uapi.go.
const (
	iocWrite = 1
	iocRead  = 2

	iocNrShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, typ, nr, size uint32) uint32 {
	return dir<<iocDirShift | size<<iocSizeShift | typ<<iocTypeShift | nr<<iocNrShift
}

func iow(typ, nr, size uint32) uint32  { return ioc(iocWrite, typ, nr, size) }
func iowr(typ, nr, size uint32) uint32 { return ioc(iocRead|iocWrite, typ, nr, size) }

// BinderVersionCode is _IOWR('b', 9, int32): reports the kernel ABI
// version used to select the adapter.
var BinderVersionCode = iowr('b', 9, 4)

// BinderSetMaxThreadsCode is _IOW('b', 5, uint32): an informational hint,
// zero keeps the driver default.
var BinderSetMaxThreadsCode = iow('b', 5, 4)

// binderWriteReadCode is _IOWR('b', 1, struct binder_write_read); the
// struct size, and so the request code, depends on the pointer width.
func binderWriteReadCode(ptrSize int) uint32 {
	if ptrSize == 8 {
		return iowr('b', 1, uint32(unsafe.Sizeof(writeReadCmd64{})))
	}
	return iowr('b', 1, uint32(unsafe.Sizeof(writeReadCmd32{})))
}

// writeReadCmd64 mirrors the kernel's 64-bit struct binder_write_read.
type writeReadCmd64 struct {
	WriteSize     uint64
	WriteConsumed uint64
	WriteBuffer   uint64
	ReadSize      uint64
	ReadConsumed  uint64
	ReadBuffer    uint64
}

// Compile-time size check - must match the kernel layout exactly
var _ [48]byte = [unsafe.Sizeof(writeReadCmd64{})]byte{}

// writeReadCmd32 mirrors the 32-bit layout: same fields, 32-bit widths.
type writeReadCmd32 struct {
	WriteSize     uint32
	WriteConsumed uint32
	WriteBuffer   uint32
	ReadSize      uint32
	ReadConsumed  uint32
	ReadBuffer    uint32
}

// Compile-time size check
var _ [24]byte = [unsafe.Sizeof(writeReadCmd32{})]byte{}

// Ioctl issues an ioctl on the descriptor, retrying EINTR. Other errnos,
// including EAGAIN, surface to the caller.
func Ioctl(fd int, req uint32, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return errno
		}
		return nil
	}
}

// BinderVersion queries the kernel ABI version of an open binder
// descriptor.
func BinderVersion(fd int) (int32, error) {
	var version int32
	if err := Ioctl(fd, BinderVersionCode, unsafe.Pointer(&version)); err != nil {
		return 0, err
	}
	return version, nil
}

// SetMaxThreads passes the looper-count hint to the driver.
func SetMaxThreads(fd int, n uint32) error {
	return Ioctl(fd, BinderSetMaxThreadsCode, unsafe.Pointer(&n))
}

func (a *abi) WriteRead(fd int, write, read *IOBuf) error {
	if a.ptr == 8 {
		return writeRead64(fd, a.bwr, write, read)
	}
	return writeRead32(fd, a.bwr, write, read)
}

func writeRead64(fd int, code uint32, write, read *IOBuf) error {
	var bwr writeReadCmd64
	if write != nil {
		bwr.WriteSize = uint64(write.Size)
		bwr.WriteConsumed = uint64(write.Consumed)
		bwr.WriteBuffer = sliceAddr(write.Data)
	}
	if read != nil {
		bwr.ReadSize = uint64(read.Size)
		bwr.ReadConsumed = uint64(read.Consumed)
		bwr.ReadBuffer = sliceAddr(read.Data)
	}
	err := Ioctl(fd, code, unsafe.Pointer(&bwr))
	keepBuffersAlive(write, read)
	if err != nil {
		return err
	}
	if write != nil {
		write.Consumed = int(bwr.WriteConsumed)
	}
	if read != nil {
		read.Consumed = int(bwr.ReadConsumed)
	}
	return nil
}

func writeRead32(fd int, code uint32, write, read *IOBuf) error {
	var bwr writeReadCmd32
	if write != nil {
		bwr.WriteSize = uint32(write.Size)
		bwr.WriteConsumed = uint32(write.Consumed)
		bwr.WriteBuffer = uint32(sliceAddr(write.Data))
	}
	if read != nil {
		bwr.ReadSize = uint32(read.Size)
		bwr.ReadConsumed = uint32(read.Consumed)
		bwr.ReadBuffer = uint32(sliceAddr(read.Data))
	}
	err := Ioctl(fd, code, unsafe.Pointer(&bwr))
	keepBuffersAlive(write, read)
	if err != nil {
		return err
	}
	if write != nil {
		write.Consumed = int(bwr.WriteConsumed)
	}
	if read != nil {
		read.Consumed = int(bwr.ReadConsumed)
	}
	return nil
}

// keepBuffersAlive pins the backing arrays until the kernel has finished
// with the addresses embedded in the bwr struct.
func keepBuffersAlive(write, read *IOBuf) {
	if write != nil {
		runtime.KeepAlive(write.Data)
	}
	if read != nil {
		runtime.KeepAlive(read.Data)
	}
}
