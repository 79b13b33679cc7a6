package binder

import (
	"encoding/binary"
	"errors"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/droidipc/go-binder/internal/logging"
	"github.com/droidipc/go-binder/internal/uapi"
)

// write submits the remaining write view through the combined write/read
// call, with no read side, retrying while the driver reports EAGAIN. On
// success the view is fully consumed.
func (d *Driver) write(buf *uapi.IOBuf) error {
	for {
		if d.log.Enabled(logging.LevelDebug) {
			d.log.Dump('<', buf.Data[buf.Consumed:buf.Size])
		}
		err := d.writeRead(buf, nil)
		if errors.Is(err, unix.EAGAIN) {
			continue
		}
		if err != nil {
			d.metrics.DriverErrors.Add(1)
		}
		return err
	}
}

// submit drives the combined write/read call with both views, retrying
// while the driver reports EAGAIN.
func (d *Driver) submit(write, read *uapi.IOBuf) error {
	for {
		if write != nil && d.log.Enabled(logging.LevelDebug) {
			d.log.Dump('<', write.Data[write.Consumed:write.Size])
		}
		err := d.writeRead(write, read)
		if errors.Is(err, unix.EAGAIN) {
			continue
		}
		if err != nil {
			d.metrics.DriverErrors.Add(1)
		}
		return err
	}
}

// cmd sends an opcode-only packet.
func (d *Driver) cmd(op uint32) error {
	buf := make([]byte, uapi.OpcodeSize)
	binary.LittleEndian.PutUint32(buf, op)
	return d.write(&uapi.IOBuf{Data: buf, Size: len(buf)})
}

// cmdUint32 sends an opcode with a single 32-bit payload word.
func (d *Driver) cmdUint32(op uint32, arg uint32) error {
	buf := make([]byte, uapi.OpcodeSize+4)
	binary.LittleEndian.PutUint32(buf, op)
	binary.LittleEndian.PutUint32(buf[uapi.OpcodeSize:], arg)
	return d.write(&uapi.IOBuf{Data: buf, Size: len(buf)})
}

// cmdData sends an opcode followed by the payload bytes it declares.
func (d *Driver) cmdData(op uint32, payload []byte) error {
	buf := make([]byte, uapi.OpcodeSize+uapi.PayloadSize(op))
	binary.LittleEndian.PutUint32(buf, op)
	copy(buf[uapi.OpcodeSize:], payload)
	return d.write(&uapi.IOBuf{Data: buf, Size: len(buf)})
}

// cmdPointer sends an opcode with a pointer-width payload.
func (d *Driver) cmdPointer(op uint32, ptr uint64) error {
	buf := make([]byte, uapi.OpcodeSize+d.io.PointerWidth())
	binary.LittleEndian.PutUint32(buf, op)
	n := d.io.EncodePointer(buf[uapi.OpcodeSize:], ptr)
	return d.write(&uapi.IOBuf{Data: buf, Size: uapi.OpcodeSize + n})
}

// deathNotification sends a request/clear death-notification record for
// a remote object.
func (d *Driver) deathNotification(op uint32, obj RemoteObject) error {
	if obj == nil {
		return NewError("DEATH_NOTIFICATION", ErrCodeInvalidParameters, "nil remote object")
	}
	buf := make([]byte, uapi.OpcodeSize+d.io.DeathNotificationSize())
	binary.LittleEndian.PutUint32(buf, op)
	n := d.io.EncodeDeathNotification(buf[uapi.OpcodeSize:], obj.Handle())
	return d.write(&uapi.IOBuf{Data: buf, Size: uapi.OpcodeSize + n})
}

// replyStatus answers an inbound transaction with a status-only reply.
func (d *Driver) replyStatus(status Status) error {
	d.log.Debug("< BC_REPLY", "status", int32(status))
	st := int32(status)
	buf := make([]byte, uapi.OpcodeSize+d.io.TransactionSize())
	binary.LittleEndian.PutUint32(buf, d.io.BC().Reply)
	n := d.io.EncodeStatusReply(buf[uapi.OpcodeSize:], &st)
	err := d.write(&uapi.IOBuf{Data: buf, Size: uapi.OpcodeSize + n})
	runtime.KeepAlive(&st)
	d.metrics.StatusReplies.Add(1)
	return err
}

// replyData answers an inbound transaction with a data reply, switching
// to the scatter-gather envelope when the reply declares extra buffers.
func (d *Driver) replyData(reply *LocalReply) error {
	data := reply.Data()
	offsets := reply.Offsets()
	extra := reply.ExtraBuffersSize()

	buf := make([]byte, uapi.OpcodeSize+d.io.TransactionSGSize())
	var n int
	var offsetsBuf []byte
	if extra > 0 {
		d.log.Debug("< BC_REPLY_SG", "bytes", len(data), "extra", extra)
		binary.LittleEndian.PutUint32(buf, d.io.BC().ReplySG)
		n, offsetsBuf = d.io.EncodeTransactionSG(buf[uapi.OpcodeSize:], 0, 0, 0, data, offsets, extra)
	} else {
		d.log.Debug("< BC_REPLY", "bytes", len(data))
		binary.LittleEndian.PutUint32(buf, d.io.BC().Reply)
		n, offsetsBuf = d.io.EncodeTransaction(buf[uapi.OpcodeSize:], 0, 0, 0, data, offsets)
	}

	err := d.write(&uapi.IOBuf{Data: buf, Size: uapi.OpcodeSize + n})
	runtime.KeepAlive(data)
	runtime.KeepAlive(offsetsBuf)
	d.metrics.RepliesOut.Add(1)
	return err
}

// IncRefs asks the driver for a weak reference on a remote handle.
func (d *Driver) IncRefs(handle uint32) error {
	d.log.Debug("< BC_INCREFS", "handle", handle)
	return d.cmdUint32(d.io.BC().IncRefs, handle)
}

// DecRefs drops a weak reference on a remote handle.
func (d *Driver) DecRefs(handle uint32) error {
	d.log.Debug("< BC_DECREFS", "handle", handle)
	return d.cmdUint32(d.io.BC().DecRefs, handle)
}

// AcquireRef asks the driver for a strong reference on a remote handle.
func (d *Driver) AcquireRef(handle uint32) error {
	d.log.Debug("< BC_ACQUIRE", "handle", handle)
	return d.cmdUint32(d.io.BC().Acquire, handle)
}

// ReleaseRef drops a strong reference on a remote handle.
func (d *Driver) ReleaseRef(handle uint32) error {
	d.log.Debug("< BC_RELEASE", "handle", handle)
	return d.cmdUint32(d.io.BC().Release, handle)
}

// RequestDeathNotification subscribes to the death of a remote object.
func (d *Driver) RequestDeathNotification(obj RemoteObject) error {
	d.log.Debug("< BC_REQUEST_DEATH_NOTIFICATION")
	return d.deathNotification(d.io.BC().RequestDeathNotification, obj)
}

// ClearDeathNotification cancels a death subscription.
func (d *Driver) ClearDeathNotification(obj RemoteObject) error {
	d.log.Debug("< BC_CLEAR_DEATH_NOTIFICATION")
	return d.deathNotification(d.io.BC().ClearDeathNotification, obj)
}

// EnterLooper declares the calling thread available for inbound work.
func (d *Driver) EnterLooper() error {
	d.log.Debug("< BC_ENTER_LOOPER")
	return d.cmd(d.io.BC().EnterLooper)
}

// ExitLooper withdraws the calling thread from inbound work.
func (d *Driver) ExitLooper() error {
	d.log.Debug("< BC_EXIT_LOOPER")
	return d.cmd(d.io.BC().ExitLooper)
}

// FreeBuffer returns a kernel-owned transaction buffer to the driver.
// The zero pointer is a no-op. This is the sole way receive-mapping
// ranges go back to the kernel; Buffer.Free routes here.
func (d *Driver) FreeBuffer(ptr uint64) error {
	if ptr == 0 {
		return nil
	}
	d.log.Debug("< BC_FREE_BUFFER", "ptr", ptr)
	err := d.cmdPointer(d.io.BC().FreeBuffer, ptr)
	if err == nil {
		d.metrics.BuffersFreed.Add(1)
		d.observer.ObserveBufferFreed()
	}
	return err
}
