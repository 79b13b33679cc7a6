package binder

import "github.com/droidipc/go-binder/internal/uapi"

// Buffer is a scoped holder for a kernel-owned region of the receive
// mapping. The kernel lends the region to user space with each delivered
// transaction; Free returns it with a free-buffer command, exactly once.
type Buffer struct {
	drv  *Driver
	ptr  uint64
	size int
}

// Pointer is the address of the region inside the receive mapping.
func (b *Buffer) Pointer() uint64 {
	if b == nil {
		return 0
	}
	return b.ptr
}

// Bytes views the kernel-owned region. The view is only valid until Free.
func (b *Buffer) Bytes() []byte {
	if b == nil || b.ptr == 0 {
		return nil
	}
	return uapi.MemSlice(b.ptr, b.size)
}

// Free returns the region to the driver. Safe on nil and on an already
// released holder.
func (b *Buffer) Free() {
	if b == nil || b.ptr == 0 {
		return
	}
	ptr := b.ptr
	b.ptr = 0
	b.drv.FreeBuffer(ptr)
}

// payload accumulates the flat data of an outbound request or reply, the
// positions of embedded binder objects within it, and the total size of
// any extra buffers shipped alongside (scatter-gather).
type payload struct {
	data    []byte
	offsets []uint64
	extra   int
}

// Append adds plain bytes to the flat payload.
func (p *payload) Append(b []byte) {
	p.data = append(p.data, b...)
}

// AppendObject adds bytes that encode a binder object, recording the
// object's position in the offset table.
func (p *payload) AppendObject(b []byte) {
	p.offsets = append(p.offsets, uint64(len(p.data)))
	p.data = append(p.data, b...)
}

// DeclareExtraBuffer accounts for an out-of-line buffer that rides along
// with the transaction. A non-zero total switches the envelope to its
// scatter-gather variant.
func (p *payload) DeclareExtraBuffer(size int) {
	p.extra += size
}

func (p *payload) Data() []byte          { return p.data }
func (p *payload) Offsets() []uint64     { return p.offsets }
func (p *payload) ExtraBuffersSize() int { return p.extra }

// LocalRequest is an outbound request under construction. Typed argument
// marshalling lives in the writer layer above the core; the request only
// carries the flat bytes and the object offset table.
type LocalRequest struct {
	payload
}

// NewLocalRequest creates an empty outbound request. Most callers want
// Driver.LocalRequestNew instead, which prefixes the RPC header of the
// session's dialect.
func NewLocalRequest() *LocalRequest {
	return &LocalRequest{}
}

// LocalReply is the reply produced by a local object or handler for an
// inbound transaction.
type LocalReply struct {
	payload
}

// NewLocalReply creates an empty reply.
func NewLocalReply() *LocalReply {
	return &LocalReply{}
}

// RemoteRequest is an inbound transaction as presented to local objects
// and handlers. The payload stays in the kernel-owned receive mapping;
// the request holds the obligation to return it, discharged by Release.
type RemoteRequest struct {
	pid     int32
	euid    uint32
	iface   string
	objects []uint64
	buf     *Buffer
}

// Pid is the sender's process id as reported by the driver.
func (r *RemoteRequest) Pid() int32 { return r.pid }

// Euid is the sender's effective uid as reported by the driver.
func (r *RemoteRequest) Euid() uint32 { return r.euid }

// Interface is the interface token extracted by the RPC dialect, or ""
// when the request carried no recognisable header.
func (r *RemoteRequest) Interface() string { return r.iface }

// Payload views the kernel-owned transaction data. Valid until Release;
// callers needing the bytes afterwards must copy.
func (r *RemoteRequest) Payload() []byte { return r.buf.Bytes() }

// ObjectOffsets lists positions of embedded binder objects within the
// payload.
func (r *RemoteRequest) ObjectOffsets() []uint64 { return r.objects }

// Release returns the kernel buffer. Exactly one free-buffer command is
// emitted per accepted payload, no matter how often Release is called.
func (r *RemoteRequest) Release() {
	r.buf.Free()
}

// RemoteReply receives the payload of a two-way transaction's reply. An
// empty record stays empty when the transaction fails; otherwise it owns
// the kernel buffer until Release.
type RemoteReply struct {
	objects []uint64
	buf     *Buffer
}

// NewRemoteReply creates an empty reply record to pass to Transact.
func NewRemoteReply() *RemoteReply {
	return &RemoteReply{}
}

func (r *RemoteReply) setData(buf *Buffer, objects []uint64) {
	r.buf = buf
	r.objects = objects
}

// Payload views the kernel-owned reply data, nil when the record is
// empty. Valid until Release.
func (r *RemoteReply) Payload() []byte { return r.buf.Bytes() }

// ObjectOffsets lists positions of embedded binder objects within the
// payload.
func (r *RemoteReply) ObjectOffsets() []uint64 { return r.objects }

// Release returns the kernel buffer, if the record holds one.
func (r *RemoteReply) Release() {
	r.buf.Free()
}
