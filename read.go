package binder

import (
	"encoding/binary"

	"github.com/droidipc/go-binder/internal/uapi"
)

// readBuf is the receive scratch area handed to the driver. The embedded
// IOBuf's Consumed tracks the fill level between calls: the driver
// appends after any preserved partial tail.
type readBuf struct {
	buf uapi.IOBuf
}

func (d *Driver) newReadBuf() *readBuf {
	// Handing the driver zeroed memory keeps reads of the framing
	// deterministic even if the driver returns short.
	data := make([]byte, d.io.ReadBufferSize())
	return &readBuf{buf: uapi.IOBuf{Data: data, Size: len(data)}}
}

// nextCommand peeks the next complete packet in the view. It returns the
// opcode when both the opcode and its declared payload fit in the
// remaining bytes, and zero otherwise - a partial tail stays for the
// next read.
func nextCommand(view *uapi.IOBuf) uint32 {
	remaining := view.Size - view.Consumed
	if remaining < uapi.OpcodeSize {
		return 0
	}
	op := binary.LittleEndian.Uint32(view.Data[view.Consumed:])
	if remaining < uapi.OpcodeSize+uapi.PayloadSize(op) {
		return 0
	}
	return op
}

// compact moves the unparsed tail to the head of the backing storage so
// the next read appends to it.
func (rb *readBuf) compact(view *uapi.IOBuf) {
	tail := view.Size - view.Consumed
	copy(rb.buf.Data, rb.buf.Data[view.Consumed:view.Size])
	rb.buf.Consumed = tail
}

// handleCommands iterates the complete packets currently in the receive
// buffer, dispatching each, then preserves any partial tail.
func (d *Driver) handleCommands(reg ObjectRegistry, h Handler, rb *readBuf) {
	view := uapi.IOBuf{Data: rb.buf.Data, Size: rb.buf.Consumed}
	for {
		op := nextCommand(&view)
		if op == 0 {
			break
		}
		payload := view.Data[view.Consumed+uapi.OpcodeSize : view.Consumed+uapi.OpcodeSize+uapi.PayloadSize(op)]
		d.handleCommand(reg, h, op, payload)
		view.Consumed += uapi.OpcodeSize + uapi.PayloadSize(op)
	}
	rb.compact(&view)
}

// Read blocks for driver-delivered commands and dispatches them. It
// drains buffered commands completely, returning the first syscall error
// encountered or nil on a clean drain.
func (d *Driver) Read(reg ObjectRegistry, h Handler) error {
	rb := d.newReadBuf()
	if err := d.submit(nil, &rb.buf); err != nil {
		return WrapError("READ", err)
	}
	d.handleCommands(reg, h, rb)
	for rb.buf.Consumed > 0 {
		if err := d.submit(nil, &rb.buf); err != nil {
			return WrapError("READ", err)
		}
		d.handleCommands(reg, h, rb)
	}
	return nil
}
