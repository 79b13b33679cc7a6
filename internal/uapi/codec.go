package uapi

import (
	"encoding/binary"
	"unsafe"

	"github.com/droidipc/go-binder/internal/constants"
)

var le = binary.LittleEndian

// Command numbers within each family. Shared by both ABIs; the opcodes
// differ only through the payload sizes encoded next to them.
const (
	bcNrTransaction              = 0
	bcNrReply                    = 1
	bcNrFreeBuffer               = 3
	bcNrIncRefs                  = 4
	bcNrAcquire                  = 5
	bcNrRelease                  = 6
	bcNrDecRefs                  = 7
	bcNrIncRefsDone              = 8
	bcNrAcquireDone              = 9
	bcNrEnterLooper              = 12
	bcNrExitLooper               = 13
	bcNrRequestDeathNotification = 14
	bcNrClearDeathNotification   = 15
	bcNrTransactionSG            = 17
	bcNrReplySG                  = 18

	brNrOK                         = 1
	brNrTransaction                = 2
	brNrReply                      = 3
	brNrDeadReply                  = 5
	brNrTransactionComplete        = 6
	brNrIncRefs                    = 7
	brNrAcquire                    = 8
	brNrRelease                    = 9
	brNrDecRefs                    = 10
	brNrNoop                       = 12
	brNrSpawnLooper                = 13
	brNrFinished                   = 14
	brNrDeadBinder                 = 15
	brNrClearDeathNotificationDone = 16
	brNrFailedReply                = 17
)

// abi implements ABI for one pointer width. Both instances are
// process-static and immutable after construction.
type abi struct {
	version int32
	ptr     int
	bc      BCOps
	br      BROps
	cmds    map[uint32]Cmd
	bwr     uint32
}

// IO32 and IO64 are the two kernel protocol variants. The version
// sentinels are what the BINDER_VERSION ioctl reports for each.
var (
	IO32 ABI = newABI(8, 4)
	IO64 ABI = newABI(9, 8)
)

func newABI(version int32, ptrSize int) *abi {
	a := &abi{version: version, ptr: ptrSize}

	tx := 6*ptrSize + 16
	txSG := tx + ptrSize
	ptrCookie := 2 * ptrSize
	death := 4 + ptrSize

	a.bc = BCOps{
		Transaction:              bcOp(bcNrTransaction, tx),
		Reply:                    bcOp(bcNrReply, tx),
		FreeBuffer:               bcOp(bcNrFreeBuffer, ptrSize),
		IncRefs:                  bcOp(bcNrIncRefs, 4),
		Acquire:                  bcOp(bcNrAcquire, 4),
		Release:                  bcOp(bcNrRelease, 4),
		DecRefs:                  bcOp(bcNrDecRefs, 4),
		IncRefsDone:              bcOp(bcNrIncRefsDone, ptrCookie),
		AcquireDone:              bcOp(bcNrAcquireDone, ptrCookie),
		RequestDeathNotification: bcOp(bcNrRequestDeathNotification, death),
		ClearDeathNotification:   bcOp(bcNrClearDeathNotification, death),
		EnterLooper:              bcOp(bcNrEnterLooper, 0),
		ExitLooper:               bcOp(bcNrExitLooper, 0),
		TransactionSG:            bcOp(bcNrTransactionSG, txSG),
		ReplySG:                  bcOp(bcNrReplySG, txSG),
	}
	a.br = BROps{
		OK:                         brOp(brNrOK, 0),
		Transaction:                brOp(brNrTransaction, tx),
		Reply:                      brOp(brNrReply, tx),
		DeadReply:                  brOp(brNrDeadReply, 0),
		TransactionComplete:        brOp(brNrTransactionComplete, 0),
		IncRefs:                    brOp(brNrIncRefs, ptrCookie),
		Acquire:                    brOp(brNrAcquire, ptrCookie),
		Release:                    brOp(brNrRelease, ptrCookie),
		DecRefs:                    brOp(brNrDecRefs, ptrCookie),
		Noop:                       brOp(brNrNoop, 0),
		SpawnLooper:                brOp(brNrSpawnLooper, 0),
		Finished:                   brOp(brNrFinished, 0),
		DeadBinder:                 brOp(brNrDeadBinder, ptrSize),
		ClearDeathNotificationDone: brOp(brNrClearDeathNotificationDone, ptrSize),
		FailedReply:                brOp(brNrFailedReply, 0),
	}
	a.cmds = map[uint32]Cmd{
		a.br.OK:                         CmdOK,
		a.br.Transaction:                CmdTransaction,
		a.br.Reply:                      CmdReply,
		a.br.DeadReply:                  CmdDeadReply,
		a.br.TransactionComplete:        CmdTransactionComplete,
		a.br.IncRefs:                    CmdIncRefs,
		a.br.Acquire:                    CmdAcquire,
		a.br.Release:                    CmdRelease,
		a.br.DecRefs:                    CmdDecRefs,
		a.br.Noop:                       CmdNoop,
		a.br.SpawnLooper:                CmdSpawnLooper,
		a.br.Finished:                   CmdFinished,
		a.br.DeadBinder:                 CmdDeadBinder,
		a.br.ClearDeathNotificationDone: CmdClearDeathNotificationDone,
		a.br.FailedReply:                CmdFailedReply,
	}
	a.bwr = binderWriteReadCode(ptrSize)
	return a
}

func (a *abi) Version() int32             { return a.version }
func (a *abi) PointerWidth() int          { return a.ptr }
func (a *abi) BC() *BCOps                 { return &a.bc }
func (a *abi) BR() *BROps                 { return &a.br }
func (a *abi) TransactionSize() int       { return 6*a.ptr + 16 }
func (a *abi) TransactionSGSize() int     { return a.TransactionSize() + a.ptr }
func (a *abi) PtrCookieSize() int         { return 2 * a.ptr }
func (a *abi) CookieSize() int            { return a.ptr }
func (a *abi) DeathNotificationSize() int { return 4 + a.ptr }

func (a *abi) ReadBufferSize() int {
	return constants.ReadBufferPackets * (OpcodeSize + a.TransactionSGSize())
}

func (a *abi) Cmd(op uint32) Cmd {
	if c, ok := a.cmds[op]; ok {
		return c
	}
	return CmdUnknown
}

func (a *abi) putPtr(b []byte, v uint64) {
	if a.ptr == 8 {
		le.PutUint64(b, v)
	} else {
		le.PutUint32(b, uint32(v))
	}
}

func (a *abi) getPtr(b []byte) uint64 {
	if a.ptr == 8 {
		return le.Uint64(b)
	}
	return uint64(le.Uint32(b))
}

// encodeEnvelope lays out a transaction envelope. data and offsetsBuf are
// referenced by address; the caller keeps them reachable across the
// submitting syscall.
func (a *abi) encodeEnvelope(buf []byte, target, cookie uint64, code, flags uint32, dataAddr uint64, dataSize int, offsetsBuf []byte) int {
	p, off := a.ptr, 0
	a.putPtr(buf[off:], target)
	off += p
	a.putPtr(buf[off:], cookie)
	off += p
	le.PutUint32(buf[off:], code)
	off += 4
	le.PutUint32(buf[off:], flags)
	off += 4
	le.PutUint32(buf[off:], 0) // sender pid, filled in by the kernel
	off += 4
	le.PutUint32(buf[off:], 0) // sender euid, filled in by the kernel
	off += 4
	a.putPtr(buf[off:], uint64(dataSize))
	off += p
	a.putPtr(buf[off:], uint64(len(offsetsBuf)))
	off += p
	a.putPtr(buf[off:], dataAddr)
	off += p
	a.putPtr(buf[off:], sliceAddr(offsetsBuf))
	off += p
	return off
}

// encodeOffsets converts object positions into the pointer-width array the
// driver expects next to the envelope.
func (a *abi) encodeOffsets(offsets []uint64) []byte {
	if len(offsets) == 0 {
		return nil
	}
	ob := make([]byte, len(offsets)*a.ptr)
	for i, o := range offsets {
		a.putPtr(ob[i*a.ptr:], o)
	}
	return ob
}

func (a *abi) EncodeTransaction(buf []byte, target uint64, code, flags uint32, data []byte, offsets []uint64) (int, []byte) {
	ob := a.encodeOffsets(offsets)
	n := a.encodeEnvelope(buf, target, 0, code, flags, sliceAddr(data), len(data), ob)
	return n, ob
}

func (a *abi) EncodeTransactionSG(buf []byte, target uint64, code, flags uint32, data []byte, offsets []uint64, extra int) (int, []byte) {
	ob := a.encodeOffsets(offsets)
	n := a.encodeEnvelope(buf, target, 0, code, flags, sliceAddr(data), len(data), ob)
	// The scatter-gather envelope appends the total size of the extra
	// buffers, aligned to the pointer width.
	a.putPtr(buf[n:], uint64(alignUp(extra, a.ptr)))
	return n + a.ptr, ob
}

func (a *abi) EncodeStatusReply(buf []byte, status *int32) int {
	addr := uint64(uintptr(unsafe.Pointer(status)))
	return a.encodeEnvelope(buf, 0, 0, 0, TxFlagStatusCode, addr, 4, nil)
}

func (a *abi) EncodeDeathNotification(buf []byte, handle uint32) int {
	le.PutUint32(buf, handle)
	a.putPtr(buf[4:], uint64(handle))
	return 4 + a.ptr
}

func (a *abi) EncodePointer(buf []byte, ptr uint64) int {
	a.putPtr(buf, ptr)
	return a.ptr
}

func (a *abi) DecodeTransactionData(data []byte) *TxData {
	p, off := a.ptr, 0
	tx := &TxData{}
	tx.Target = a.getPtr(data[off:])
	off += p
	tx.Cookie = a.getPtr(data[off:])
	off += p
	tx.Code = le.Uint32(data[off:])
	off += 4
	tx.Flags = le.Uint32(data[off:])
	off += 4
	tx.Pid = int32(le.Uint32(data[off:]))
	off += 4
	tx.Euid = le.Uint32(data[off:])
	off += 4
	tx.Size = a.getPtr(data[off:])
	off += p
	offsetsSize := a.getPtr(data[off:])
	off += p
	tx.Data = a.getPtr(data[off:])
	off += p
	offsetsAddr := a.getPtr(data[off:])

	if offsetsAddr != 0 && offsetsSize > 0 {
		raw := MemSlice(offsetsAddr, int(offsetsSize))
		tx.Offsets = make([]uint64, int(offsetsSize)/p)
		for i := range tx.Offsets {
			tx.Offsets[i] = a.getPtr(raw[i*p:])
		}
	}
	if tx.Flags&TxFlagStatusCode != 0 && tx.Data != 0 && tx.Size >= 4 {
		tx.Status = int32(le.Uint32(MemSlice(tx.Data, 4)))
	}
	return tx
}

func (a *abi) DecodeBinderPtrCookie(data []byte) (uint64, uint64) {
	return a.getPtr(data), a.getPtr(data[a.ptr:])
}

func (a *abi) DecodeCookie(data []byte) uint64 {
	return a.getPtr(data)
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// sliceAddr returns the address of a slice's backing array, or 0 for an
// empty slice.
func sliceAddr(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

// MemSlice views process memory at a raw address delivered by the driver.
// Uses pointer indirection to satisfy go vet's unsafeptr checker; the
// addresses point into the receive mapping, which never moves.
//
//go:noinline
func MemSlice(addr uint64, n int) []byte {
	if addr == 0 || n <= 0 {
		return nil
	}
	p := uintptr(addr)
	return unsafe.Slice((*byte)(*(*unsafe.Pointer)(unsafe.Pointer(&p))), n)
}
