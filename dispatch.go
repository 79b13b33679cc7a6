package binder

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/droidipc/go-binder/internal/uapi"
)

// handleCommand interprets one inbound packet. Opcodes are normalised to
// their ABI-neutral identity at this boundary; the numeric codes differ
// between the two kernel ABIs.
//
// Dispatch never propagates errors back to the read loop: transaction
// failures are reported to the peer as status replies, and a failed
// refcount acknowledgement is logged - the driver enforces correctness
// on its own.
func (d *Driver) handleCommand(reg ObjectRegistry, h Handler, op uint32, payload []byte) {
	d.metrics.CommandsIn.Add(1)
	switch d.io.Cmd(op) {
	case uapi.CmdNoop:
		d.log.Debug("> BR_NOOP")
		d.metrics.Noops.Add(1)
	case uapi.CmdOK:
		d.log.Debug("> BR_OK")
		d.metrics.Noops.Add(1)
	case uapi.CmdTransactionComplete:
		d.log.Debug("> BR_TRANSACTION_COMPLETE")
	case uapi.CmdSpawnLooper:
		d.log.Debug("> BR_SPAWN_LOOPER")
	case uapi.CmdFinished:
		d.log.Debug("> BR_FINISHED")
	case uapi.CmdClearDeathNotificationDone:
		d.log.Debug("> BR_CLEAR_DEATH_NOTIFICATION_DONE")

	case uapi.CmdIncRefs:
		obj := d.localForPtrCookie(reg, payload)
		d.log.Debug("> BR_INCREFS")
		if obj != nil {
			obj.HandleIncRefs()
		}
		d.metrics.RefOps.Add(1)
		// The acknowledgement echoes the ptr+cookie payload verbatim.
		d.log.Debug("< BC_INCREFS_DONE")
		acked := true
		if err := d.cmdData(d.io.BC().IncRefsDone, payload); err != nil {
			d.log.Warn("failed to acknowledge BR_INCREFS", "err", err)
			acked = false
		} else {
			d.metrics.RefAcks.Add(1)
		}
		d.observer.ObserveRefOp(acked)

	case uapi.CmdAcquire:
		obj := d.localForPtrCookie(reg, payload)
		d.log.Debug("> BR_ACQUIRE")
		if obj != nil {
			obj.HandleAcquire()
		}
		d.metrics.RefOps.Add(1)
		d.log.Debug("< BC_ACQUIRE_DONE")
		acked := true
		if err := d.cmdData(d.io.BC().AcquireDone, payload); err != nil {
			d.log.Warn("failed to acknowledge BR_ACQUIRE", "err", err)
			acked = false
		} else {
			d.metrics.RefAcks.Add(1)
		}
		d.observer.ObserveRefOp(acked)

	case uapi.CmdDecRefs:
		obj := d.localForPtrCookie(reg, payload)
		d.log.Debug("> BR_DECREFS")
		if obj != nil {
			obj.HandleDecRefs()
		}
		d.metrics.RefOps.Add(1)
		d.observer.ObserveRefOp(false)

	case uapi.CmdRelease:
		obj := d.localForPtrCookie(reg, payload)
		d.log.Debug("> BR_RELEASE")
		if obj != nil {
			obj.HandleRelease()
		}
		d.metrics.RefOps.Add(1)
		d.observer.ObserveRefOp(false)

	case uapi.CmdTransaction:
		d.handleTransaction(reg, h, payload)

	case uapi.CmdDeadBinder:
		handle := uint32(d.io.DecodeCookie(payload))
		d.log.Debug("> BR_DEAD_BINDER", "handle", handle)
		var obj RemoteObject
		if reg != nil {
			obj = reg.GetRemote(handle)
		}
		if obj != nil {
			obj.HandleDeathNotification()
		}
		d.metrics.DeathNotifications.Add(1)
		d.observer.ObserveDeathNotification()

	default:
		// Unknown opcodes are dropped so newer kernels stay usable.
		d.log.Warn("unexpected command", "op", fmt.Sprintf("0x%08x", op))
		d.metrics.UnknownCommands.Add(1)
	}
}

func (d *Driver) localForPtrCookie(reg ObjectRegistry, payload []byte) LocalObject {
	if reg == nil {
		return nil
	}
	ptr, cookie := d.io.DecodeBinderPtrCookie(payload)
	return reg.GetLocal(ptr, cookie)
}

// handleTransaction services one inbound transaction: decode, transfer
// buffer ownership to the request record, dispatch by the local object's
// own classification, and answer two-way transactions with exactly one
// reply - data or status.
func (d *Driver) handleTransaction(reg ObjectRegistry, h Handler, payload []byte) {
	tx := d.io.DecodeTransactionData(payload)
	d.log.Debug("> BR_TRANSACTION", "code", fmt.Sprintf("0x%08x", tx.Code),
		"bytes", tx.Size, "objects", len(tx.Offsets))
	d.metrics.TransactionsIn.Add(1)

	req := d.newRemoteRequest(tx)
	var obj LocalObject
	if reg != nil {
		obj = reg.GetLocal(tx.Target, tx.Cookie)
	}

	var reply *LocalReply
	status := Status(-int32(unix.EBADMSG))
	support := TransactionUnhandled
	if obj != nil {
		support = obj.CanHandleTransaction(req.Interface(), tx.Code)
	}
	switch support {
	case TransactionLooper:
		reply, status = obj.HandleLooperTransaction(req, tx.Code, tx.Flags)
	case TransactionSupported:
		if h != nil {
			reply, status = h.Transact(obj, req, tx.Code, tx.Flags)
		}
	default:
		d.log.Warn("unhandled transaction", "code", fmt.Sprintf("0x%08x", tx.Code))
	}
	d.observer.ObserveTransactionIn(tx.Size, support != TransactionUnhandled)

	// One-way transactions get no reply of any kind.
	if tx.Flags&uapi.TxFlagOneway == 0 {
		if reply != nil {
			d.replyData(reply)
		} else {
			d.replyStatus(status)
		}
	}

	req.Release()
}

// newRemoteRequest builds the inbound request record, transferring
// ownership of the kernel payload to it. Payload-less transactions
// return the (possibly null) buffer immediately.
func (d *Driver) newRemoteRequest(tx *uapi.TxData) *RemoteRequest {
	req := &RemoteRequest{pid: tx.Pid, euid: tx.Euid}
	if tx.Data != 0 && tx.Size > 0 {
		req.buf = &Buffer{drv: d, ptr: tx.Data, size: int(tx.Size)}
		req.objects = tx.Offsets
		req.iface = d.protocol.ExtractInterface(req.Payload())
	} else {
		d.FreeBuffer(tx.Data)
	}
	return req
}
