package binder

import (
	"encoding/binary"
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/droidipc/go-binder/internal/uapi"
)

// txStatusPending marks a transaction still waiting for its terminal
// status, mirroring the driver's EAGAIN convention.
var txStatusPending = Status(-int32(unix.EAGAIN))

// Transact issues a transaction to a remote handle and, unless it is
// one-way, waits for the reply. The transaction is one-way exactly when
// no reply record is supplied.
//
// While waiting, inbound commands unrelated to the reply - refcount
// handshakes, unrelated transactions, death notifications - are serviced
// in-line, in driver order, so cross-direction ordering holds.
//
// The returned Status is the kernel-reported outcome: StatusOK,
// StatusFailed, StatusDeadObject, or the reply envelope's own status.
// A non-nil error means the driver syscall itself failed. The reply
// record stays empty when no reply envelope arrives (driver error,
// StatusDeadObject, StatusFailed); a reply envelope that carries a
// payload hands it to the record whatever status it reports.
func (d *Driver) Transact(reg ObjectRegistry, handle, code uint32, req *LocalRequest, reply *RemoteReply) (Status, error) {
	data := req.Data()
	offsets := req.Offsets()
	extra := req.ExtraBuffersSize()

	var flags uint32
	if reply == nil {
		flags |= uapi.TxFlagOneway
	}

	wbuf := make([]byte, uapi.OpcodeSize+d.io.TransactionSGSize())
	var n int
	var offsetsBuf []byte
	if extra > 0 {
		d.log.Debug("< BC_TRANSACTION_SG", "handle", handle,
			"code", fmt.Sprintf("0x%08x", code), "extra", extra)
		binary.LittleEndian.PutUint32(wbuf, d.io.BC().TransactionSG)
		n, offsetsBuf = d.io.EncodeTransactionSG(wbuf[uapi.OpcodeSize:],
			uint64(handle), code, flags, data, offsets, extra)
	} else {
		d.log.Debug("< BC_TRANSACTION", "handle", handle,
			"code", fmt.Sprintf("0x%08x", code))
		binary.LittleEndian.PutUint32(wbuf, d.io.BC().Transaction)
		n, offsetsBuf = d.io.EncodeTransaction(wbuf[uapi.OpcodeSize:],
			uint64(handle), code, flags, data, offsets)
	}

	write := uapi.IOBuf{Data: wbuf, Size: uapi.OpcodeSize + n}
	rb := d.newReadBuf()
	d.metrics.TransactionsOut.Add(1)
	d.observer.ObserveTransactionOut(uint64(len(data)), reply == nil)

	// Any status other than the pending sentinel is the transaction
	// outcome; the sentinel keeps the loop going until the driver
	// produces one.
	status := txStatusPending
	for status == txStatusPending {
		if err := d.submit(&write, &rb.buf); err != nil {
			runtime.KeepAlive(data)
			runtime.KeepAlive(offsetsBuf)
			return 0, WrapError("TRANSACT", err)
		}
		status = d.txStatus(reg, rb, reply)
	}
	runtime.KeepAlive(data)
	runtime.KeepAlive(offsetsBuf)

	if status >= 0 {
		// Service whatever else the driver buffered behind the reply.
		d.handleCommands(reg, nil, rb)
		for rb.buf.Consumed > 0 {
			if err := d.submit(nil, &rb.buf); err != nil {
				return 0, WrapError("TRANSACT", err)
			}
			d.handleCommands(reg, nil, rb)
		}
	}
	return status, nil
}

// txStatus parses buffered commands with the transact-aware overlay:
// reply, dead_reply and failed_reply terminate the transaction, as does
// transaction_complete when no reply is expected; everything else is
// routed to the normal dispatcher so interleaved work is serviced before
// the reply is adopted.
func (d *Driver) txStatus(reg ObjectRegistry, rb *readBuf, reply *RemoteReply) Status {
	status := txStatusPending
	view := uapi.IOBuf{Data: rb.buf.Data, Size: rb.buf.Consumed}
	for status == txStatusPending {
		op := nextCommand(&view)
		if op == 0 {
			break
		}
		payload := view.Data[view.Consumed+uapi.OpcodeSize : view.Consumed+uapi.OpcodeSize+uapi.PayloadSize(op)]

		switch d.io.Cmd(op) {
		case uapi.CmdTransactionComplete:
			d.log.Debug("> BR_TRANSACTION_COMPLETE")
			if reply == nil {
				status = StatusOK
			}
		case uapi.CmdDeadReply:
			d.log.Debug("> BR_DEAD_REPLY")
			status = StatusDeadObject
		case uapi.CmdFailedReply:
			d.log.Debug("> BR_FAILED_REPLY")
			status = StatusFailed
		case uapi.CmdReply:
			tx := d.io.DecodeTransactionData(payload)
			d.log.Debug("> BR_REPLY", "status", tx.Status, "bytes", tx.Size)
			if reply != nil && tx.Data != 0 && tx.Size > 0 {
				reply.setData(&Buffer{drv: d, ptr: tx.Data, size: int(tx.Size)}, tx.Offsets)
			} else {
				d.FreeBuffer(tx.Data)
			}
			d.metrics.RepliesIn.Add(1)
			d.observer.ObserveReply(tx.Size, tx.Status)
			status = Status(tx.Status)
			if status == txStatusPending {
				// The driver should never report EAGAIN inside a
				// reply envelope; remap so the loop terminates.
				status = Status(-int32(unix.EFAULT))
			}
		default:
			d.handleCommand(reg, nil, op, payload)
		}

		view.Consumed += uapi.OpcodeSize + uapi.PayloadSize(op)
	}
	rb.compact(&view)
	return status
}
