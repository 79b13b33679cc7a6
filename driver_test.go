package binder

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/droidipc/go-binder/internal/uapi"
)

// wirePacket is one command the fake kernel accepted from a write view.
// Envelope payloads are decoded at accept time, while the memory they
// reference is still alive.
type wirePacket struct {
	op      uint32
	payload []byte
	tx      *uapi.TxData
	txData  []byte
}

// fakeKernel is a scripted stand-in for the combined write/read ioctl.
// Writes are always fully consumed; reads drain the queued packet bytes,
// optionally capped per call to exercise partial-tail handling.
type fakeKernel struct {
	io       uapi.ABI
	pending  []byte
	maxRead  int
	accepted []wirePacket
	failWith error
	onWrite  func(pkt wirePacket)
}

func (k *fakeKernel) queue(op uint32, payload []byte) {
	pkt := make([]byte, uapi.OpcodeSize+len(payload))
	binary.LittleEndian.PutUint32(pkt, op)
	copy(pkt[uapi.OpcodeSize:], payload)
	k.pending = append(k.pending, pkt...)
}

func (k *fakeKernel) writeRead(w, r *uapi.IOBuf) error {
	if k.failWith != nil {
		return k.failWith
	}
	if w != nil {
		k.consume(w)
	}
	if r != nil {
		n := len(k.pending)
		if room := r.Size - r.Consumed; n > room {
			n = room
		}
		if k.maxRead > 0 && n > k.maxRead {
			n = k.maxRead
		}
		copy(r.Data[r.Consumed:], k.pending[:n])
		r.Consumed += n
		k.pending = k.pending[n:]
	}
	return nil
}

func (k *fakeKernel) isEnvelope(op uint32) bool {
	bc := k.io.BC()
	return op == bc.Transaction || op == bc.TransactionSG ||
		op == bc.Reply || op == bc.ReplySG
}

func (k *fakeKernel) consume(w *uapi.IOBuf) {
	view := w.Data[w.Consumed:w.Size]
	for len(view) >= uapi.OpcodeSize {
		op := binary.LittleEndian.Uint32(view)
		size := uapi.PayloadSize(op)
		payload := make([]byte, size)
		copy(payload, view[uapi.OpcodeSize:uapi.OpcodeSize+size])
		pkt := wirePacket{op: op, payload: payload}
		if k.isEnvelope(op) {
			pkt.tx = k.io.DecodeTransactionData(payload)
			if pkt.tx.Data != 0 && pkt.tx.Size > 0 {
				pkt.txData = append([]byte(nil), uapi.MemSlice(pkt.tx.Data, int(pkt.tx.Size))...)
			}
		}
		k.accepted = append(k.accepted, pkt)
		if k.onWrite != nil {
			k.onWrite(pkt)
		}
		view = view[uapi.OpcodeSize+size:]
	}
	w.Consumed = w.Size
}

func (k *fakeKernel) find(op uint32) *wirePacket {
	for i := range k.accepted {
		if k.accepted[i].op == op {
			return &k.accepted[i]
		}
	}
	return nil
}

func (k *fakeKernel) count(op uint32) int {
	n := 0
	for i := range k.accepted {
		if k.accepted[i].op == op {
			n++
		}
	}
	return n
}

func (k *fakeKernel) ops() []uint32 {
	out := make([]uint32, len(k.accepted))
	for i := range k.accepted {
		out[i] = k.accepted[i].op
	}
	return out
}

func newTestDriver(t *testing.T, io uapi.ABI) (*Driver, *fakeKernel) {
	t.Helper()
	k := &fakeKernel{io: io}
	d := newDriver(-1, DefaultDevice, io, protocolForDevice(DefaultDevice))
	d.writeRead = k.writeRead
	return d, k
}

// envelope builds the payload of an inbound BR_TRANSACTION / BR_REPLY
// packet whose data pointer references the given backing slice. The
// caller keeps data and the returned offsets array alive for the test.
func envelope(io uapi.ABI, target uint64, code, flags uint32, data []byte, offsets []uint64) ([]byte, []byte) {
	buf := make([]byte, io.TransactionSize())
	_, ob := io.EncodeTransaction(buf, target, code, flags, data, offsets)
	return buf, ob
}

func ptrCookiePayload(io uapi.ABI, ptr, cookie uint64) []byte {
	buf := make([]byte, io.PtrCookieSize())
	n := io.EncodePointer(buf, ptr)
	io.EncodePointer(buf[n:], cookie)
	return buf
}

func TestABIForVersion(t *testing.T) {
	if abiForVersion(8) != uapi.IO32 {
		t.Error("version 8 should select the 32-bit adapter")
	}
	if abiForVersion(9) != uapi.IO64 {
		t.Error("version 9 should select the 64-bit adapter")
	}
	if abiForVersion(7) != nil {
		t.Error("version 7 should not select an adapter")
	}
}

func TestOneWayTransact(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	bc, br := d.io.BC(), d.io.BR()

	// The driver acknowledges a one-way submission with
	// BR_TRANSACTION_COMPLETE in the same call.
	k.onWrite = func(pkt wirePacket) {
		if pkt.op == bc.Transaction {
			k.queue(br.TransactionComplete, nil)
		}
	}

	req := NewLocalRequest()
	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i)
	}
	req.Append(payload)

	status, err := d.Transact(nil, 0x1, 0x10, req, nil)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)

	pkt := k.find(bc.Transaction)
	require.NotNil(t, pkt, "one BC_TRANSACTION expected")
	require.Equal(t, uint64(0x1), pkt.tx.Target)
	require.Equal(t, uint32(0x10), pkt.tx.Code)
	require.NotZero(t, pkt.tx.Flags&uapi.TxFlagOneway, "one-way flag missing")
	require.Equal(t, payload, pkt.txData)
	require.Zero(t, k.count(bc.TransactionSG), "no SG envelope without extra buffers")
}

func TestTwoWayTransactWithInterleavedRefcount(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	bc, br := d.io.BC(), d.io.BR()

	obj := &MockLocalObject{}
	reg := NewMockRegistry()
	reg.AddLocal(0xaa, obj)

	pc := ptrCookiePayload(d.io, 0xaa, 0xbb)
	replyData := []byte{0xde, 0xad, 0xbe, 0xef}
	replyEnv, ob := envelope(d.io, 0, 0, 0, replyData, nil)

	k.queue(br.IncRefs, pc)
	k.queue(br.TransactionComplete, nil)
	k.queue(br.Reply, replyEnv)

	req := NewLocalRequest()
	req.Append([]byte{1, 2, 3, 4})
	reply := NewRemoteReply()

	status, err := d.Transact(reg, 0x2, 0x20, req, reply)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)

	// The interleaved increfs was serviced and acknowledged with the
	// same payload bytes, before the transact returned.
	require.Equal(t, 1, obj.IncRefsCalls())
	ack := k.find(bc.IncRefsDone)
	require.NotNil(t, ack)
	require.Equal(t, pc, ack.payload)

	// Reply payload transferred to the caller's record
	require.Equal(t, replyData, reply.Payload())

	ptr := reply.buf.Pointer()
	require.NotZero(t, ptr)
	require.Zero(t, k.count(bc.FreeBuffer), "buffer must not be freed before release")

	reply.Release()
	free := k.find(bc.FreeBuffer)
	require.NotNil(t, free, "release must free the kernel buffer")
	require.Equal(t, ptr, d.io.DecodeCookie(free.payload))

	// Releasing again must not free twice
	reply.Release()
	require.Equal(t, 1, k.count(bc.FreeBuffer))

	_ = ob
}

func TestDeadReply(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	k.queue(d.io.BR().DeadReply, nil)

	reply := NewRemoteReply()
	status, err := d.Transact(nil, 0x3, 0x1, NewLocalRequest(), reply)
	require.NoError(t, err)
	require.Equal(t, StatusDeadObject, status)
	require.Nil(t, reply.Payload(), "reply record stays empty on DEAD_OBJECT")
}

func TestFailedReply(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	k.queue(d.io.BR().FailedReply, nil)

	reply := NewRemoteReply()
	status, err := d.Transact(nil, 0x3, 0x1, NewLocalRequest(), reply)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, status)
	require.Nil(t, reply.Payload())
}

func TestReplyStatusEagainRemapped(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)

	st := -int32(unix.EAGAIN)
	env := make([]byte, d.io.TransactionSize())
	d.io.EncodeStatusReply(env, &st)
	k.queue(d.io.BR().Reply, env)

	reply := NewRemoteReply()
	status, err := d.Transact(nil, 0x4, 0x1, NewLocalRequest(), reply)
	require.NoError(t, err)
	require.Equal(t, Status(-int32(unix.EFAULT)), status,
		"EAGAIN inside a reply envelope is defensively remapped")
}

func TestTransactDriverError(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	k.failWith = unix.EIO

	status, err := d.Transact(nil, 0x1, 0x1, NewLocalRequest(), nil)
	require.Error(t, err)
	require.True(t, IsErrno(err, unix.EIO))
	require.Equal(t, Status(0), status)
}

func TestReadUnhandledTransaction(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	bc, br := d.io.BC(), d.io.BR()

	obj := &MockLocalObject{Support: TransactionUnhandled}
	reg := NewMockRegistry()
	reg.AddLocal(0x10, obj)
	h := &MockHandler{}

	data := []byte{9, 9, 9, 9}
	env, ob := envelope(d.io, 0x10, 0x99, 0, data, nil)
	k.queue(br.Transaction, env)

	require.NoError(t, d.Read(reg, h))

	// No handler callback; the peer gets a bad-message status reply.
	require.Zero(t, h.Calls())
	pkt := k.find(bc.Reply)
	require.NotNil(t, pkt, "status reply expected")
	require.NotZero(t, pkt.tx.Flags&uapi.TxFlagStatusCode)
	require.Equal(t, -int32(unix.EBADMSG), pkt.tx.Status)

	// The kernel buffer went back exactly once.
	require.Equal(t, 1, k.count(bc.FreeBuffer))
	_ = ob
}

func TestReadHandlerTransaction(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	bc, br := d.io.BC(), d.io.BR()

	obj := &MockLocalObject{Support: TransactionSupported}
	reg := NewMockRegistry()
	reg.AddLocal(0x10, obj)

	var gotPid int32
	var gotPayload []byte
	h := &MockHandler{
		TransactFunc: func(o LocalObject, req *RemoteRequest, code, flags uint32) (*LocalReply, Status) {
			gotPid = req.Pid()
			gotPayload = append([]byte(nil), req.Payload()...)
			reply := NewLocalReply()
			reply.Append([]byte{0xca, 0xfe})
			return reply, StatusOK
		},
	}

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	env, ob := envelope(d.io, 0x10, 0x42, 0, data, nil)
	k.queue(br.Transaction, env)

	require.NoError(t, d.Read(reg, h))
	require.Equal(t, 1, h.Calls())
	require.Equal(t, int32(0), gotPid)
	require.Equal(t, data, gotPayload)

	pkt := k.find(bc.Reply)
	require.NotNil(t, pkt, "data reply expected")
	require.Zero(t, pkt.tx.Flags&uapi.TxFlagStatusCode)
	require.Equal(t, []byte{0xca, 0xfe}, pkt.txData)
	require.Equal(t, 1, k.count(bc.FreeBuffer))
	_ = ob
}

func TestReadLooperTransaction(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	br := d.io.BR()

	obj := &MockLocalObject{
		Support: TransactionLooper,
		LooperFunc: func(req *RemoteRequest, code, flags uint32) (*LocalReply, Status) {
			return nil, StatusOK
		},
	}
	reg := NewMockRegistry()
	reg.AddLocal(0x10, obj)
	h := &MockHandler{}

	data := []byte{1}
	env, ob := envelope(d.io, 0x10, 0x1, 0, data, nil)
	k.queue(br.Transaction, env)

	require.NoError(t, d.Read(reg, h))
	require.Equal(t, 1, obj.LooperCalls())
	require.Zero(t, h.Calls(), "looper transactions bypass the handler")
	// nil reply from the looper produces a status reply
	pkt := k.find(d.io.BC().Reply)
	require.NotNil(t, pkt)
	require.NotZero(t, pkt.tx.Flags&uapi.TxFlagStatusCode)
	require.Equal(t, int32(StatusOK), pkt.tx.Status)
	_ = ob
}

func TestReadOneWayInboundGetsNoReply(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	bc, br := d.io.BC(), d.io.BR()

	obj := &MockLocalObject{Support: TransactionSupported}
	reg := NewMockRegistry()
	reg.AddLocal(0x10, obj)
	h := &MockHandler{}

	data := []byte{7}
	env, ob := envelope(d.io, 0x10, 0x5, uapi.TxFlagOneway, data, nil)
	k.queue(br.Transaction, env)

	require.NoError(t, d.Read(reg, h))
	require.Equal(t, 1, h.Calls())
	require.Zero(t, k.count(bc.Reply))
	require.Zero(t, k.count(bc.ReplySG))
	require.Equal(t, 1, k.count(bc.FreeBuffer))
	_ = ob
}

func TestAcquireAckAndDecRefsSilence(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	bc, br := d.io.BC(), d.io.BR()

	obj := &MockLocalObject{}
	reg := NewMockRegistry()
	reg.AddLocal(0x77, obj)

	pc := ptrCookiePayload(d.io, 0x77, 0x88)
	k.queue(br.Acquire, pc)
	k.queue(br.DecRefs, pc)
	k.queue(br.Release, pc)

	require.NoError(t, d.Read(reg, nil))
	require.Equal(t, 1, obj.AcquireCalls())

	ack := k.find(bc.AcquireDone)
	require.NotNil(t, ack)
	require.Equal(t, pc, ack.payload)

	// decrefs and release are not acknowledged
	require.Zero(t, k.count(bc.IncRefsDone))
	require.Equal(t, 1, k.count(bc.AcquireDone))
}

func TestDeadBinderNotification(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	br := d.io.BR()

	remote := &MockRemoteObject{H: 0x42}
	reg := NewMockRegistry()
	reg.AddRemote(0x42, remote)

	cookie := make([]byte, d.io.CookieSize())
	d.io.EncodePointer(cookie, 0x42)
	k.queue(br.DeadBinder, cookie)
	k.queue(br.ClearDeathNotificationDone, cookie)

	require.NoError(t, d.Read(reg, nil))
	require.Equal(t, 1, remote.Deaths(), "death handler invoked exactly once")
}

func TestRequestDeathNotificationWrite(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	bc := d.io.BC()

	remote := &MockRemoteObject{H: 0x42}
	require.NoError(t, d.RequestDeathNotification(remote))

	pkt := k.find(bc.RequestDeathNotification)
	require.NotNil(t, pkt)
	require.Equal(t, uint32(0x42), binary.LittleEndian.Uint32(pkt.payload))

	require.NoError(t, d.ClearDeathNotification(remote))
	require.Equal(t, 1, k.count(bc.ClearDeathNotification))

	require.Error(t, d.RequestDeathNotification(nil))
}

func TestRefOpsAndLooperWrites(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	bc := d.io.BC()

	require.NoError(t, d.IncRefs(7))
	require.NoError(t, d.AcquireRef(7))
	require.NoError(t, d.ReleaseRef(7))
	require.NoError(t, d.DecRefs(7))
	require.NoError(t, d.EnterLooper())
	require.NoError(t, d.ExitLooper())

	want := []uint32{bc.IncRefs, bc.Acquire, bc.Release, bc.DecRefs,
		bc.EnterLooper, bc.ExitLooper}
	require.Equal(t, want, k.ops())

	for _, op := range want[:4] {
		pkt := k.find(op)
		require.Equal(t, uint32(7), binary.LittleEndian.Uint32(pkt.payload))
	}
}

func TestFreeBufferNull(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	require.NoError(t, d.FreeBuffer(0))
	require.Empty(t, k.accepted, "null free-buffer is a no-op")

	var b *Buffer
	b.Free() // nil holder is a no-op too
}

func TestPartialTailPreserved(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	br := d.io.BR()

	obj := &MockLocalObject{}
	reg := NewMockRegistry()
	reg.AddLocal(0x5, obj)

	k.queue(br.Noop, nil)
	k.queue(br.IncRefs, ptrCookiePayload(d.io, 0x5, 0x6))
	// Deliver in 7-byte slices: the first read holds one complete
	// packet plus a 3-byte tail of the next opcode.
	k.maxRead = 7

	require.NoError(t, d.Read(reg, nil))
	require.Equal(t, 1, obj.IncRefsCalls(), "split packet must still dispatch")
	require.Equal(t, uint64(2), d.metrics.CommandsIn.Load())
}

func TestShortReadDispatchesNothing(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	k.queue(d.io.BR().Noop, nil)
	k.maxRead = 3

	require.NoError(t, d.Read(nil, nil))
	// The 3-byte read parsed nothing; the follow-up completed the
	// packet.
	require.Equal(t, uint64(1), d.metrics.CommandsIn.Load())
}

func TestUnknownCommandIgnored(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	k.queue(uint32('r')<<24|99<<16|4, []byte{1, 2, 3, 4})
	k.queue(d.io.BR().Noop, nil)

	require.NoError(t, d.Read(nil, nil))
	require.Equal(t, uint64(1), d.metrics.UnknownCommands.Load())
	require.Equal(t, uint64(1), d.metrics.Noops.Load(), "parsing continues past unknown opcodes")
}

func TestSessionRefcount(t *testing.T) {
	fds := make([]int, 2)
	require.NoError(t, unix.Pipe(fds))
	defer unix.Close(fds[1])

	d := newDriver(fds[0], "test", uapi.IO64, defaultProtocol{})
	d.Retain()
	d.Retain()

	d.Release()
	d.Release()
	_, err := unix.FcntlInt(uintptr(fds[0]), unix.F_GETFD, 0)
	require.NoError(t, err, "descriptor must stay open while references remain")

	d.Release()
	_, err = unix.FcntlInt(uintptr(fds[0]), unix.F_GETFD, 0)
	require.Error(t, err, "final release closes the descriptor")
	require.Equal(t, -1, d.FD())

	// The reference count settles at zero after the final release.
	require.Equal(t, int32(0), d.refs.Load())
}

func TestLocalRequestNewHeader(t *testing.T) {
	d, _ := newTestDriver(t, uapi.IO64)

	req := d.LocalRequestNew("android.os.IServiceManager")
	require.NotEmpty(t, req.Data())
	require.Equal(t, "android.os.IServiceManager",
		d.protocol.ExtractInterface(req.Data()))
}

func TestApplicationStatusNotSentinel(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)

	// A legitimate reply whose application status happens to be a
	// small positive number must stay distinguishable from the
	// driver's terminal-reply sentinels.
	st := int32(2)
	env := make([]byte, d.io.TransactionSize())
	d.io.EncodeStatusReply(env, &st)
	k.queue(d.io.BR().Reply, env)

	reply := NewRemoteReply()
	status, err := d.Transact(nil, 0x5, 0x1, NewLocalRequest(), reply)
	require.NoError(t, err)
	require.Equal(t, Status(2), status)
	require.NotEqual(t, StatusDeadObject, status)
	require.NotEqual(t, StatusFailed, status)
}

// countingObserver records every hook invocation.
type countingObserver struct {
	txIn, txOut, replies, refOps, acks, freed, deaths int
}

func (o *countingObserver) ObserveTransactionIn(bytes uint64, handled bool) { o.txIn++ }
func (o *countingObserver) ObserveTransactionOut(bytes uint64, oneway bool) { o.txOut++ }
func (o *countingObserver) ObserveReply(bytes uint64, status int32)         { o.replies++ }
func (o *countingObserver) ObserveRefOp(acked bool) {
	o.refOps++
	if acked {
		o.acks++
	}
}
func (o *countingObserver) ObserveBufferFreed()       { o.freed++ }
func (o *countingObserver) ObserveDeathNotification() { o.deaths++ }

func TestObserverNotified(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	br := d.io.BR()

	obs := &countingObserver{}
	d.SetObserver(obs)

	obj := &MockLocalObject{}
	reg := NewMockRegistry()
	reg.AddLocal(0xaa, obj)

	pc := ptrCookiePayload(d.io, 0xaa, 0xbb)
	replyData := []byte{1, 2, 3, 4}
	replyEnv, ob := envelope(d.io, 0, 0, 0, replyData, nil)

	k.queue(br.IncRefs, pc)
	k.queue(br.TransactionComplete, nil)
	k.queue(br.Reply, replyEnv)

	reply := NewRemoteReply()
	_, err := d.Transact(reg, 0x2, 0x20, NewLocalRequest(), reply)
	require.NoError(t, err)
	reply.Release()

	require.Equal(t, 1, obs.txOut)
	require.Equal(t, 1, obs.replies)
	require.Equal(t, 1, obs.refOps)
	require.Equal(t, 1, obs.acks)
	require.Equal(t, 1, obs.freed)
	_ = ob

	// SetObserver(nil) restores the no-op hook
	d.SetObserver(nil)
	k.queue(br.IncRefs, pc)
	require.NoError(t, d.Read(reg, nil))
	require.Equal(t, 1, obs.refOps)
}

func TestScatterGatherSelection(t *testing.T) {
	d, k := newTestDriver(t, uapi.IO64)
	bc, br := d.io.BC(), d.io.BR()

	k.onWrite = func(pkt wirePacket) {
		if pkt.op == bc.Transaction || pkt.op == bc.TransactionSG {
			k.queue(br.TransactionComplete, nil)
		}
	}

	req := NewLocalRequest()
	req.Append([]byte{1, 2, 3, 4})
	req.DeclareExtraBuffer(128)

	_, err := d.Transact(nil, 0x1, 0x1, req, nil)
	require.NoError(t, err)
	require.Equal(t, 1, k.count(bc.TransactionSG), "extra buffers select the SG envelope")
	require.Zero(t, k.count(bc.Transaction))
}
