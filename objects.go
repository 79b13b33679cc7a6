package binder

// TransactionSupport is a local object's answer to whether it can handle a
// given transaction code on a given interface.
type TransactionSupport int

const (
	// TransactionUnhandled means the object does not recognise the
	// code; the caller gets a bad-message status back.
	TransactionUnhandled TransactionSupport = iota

	// TransactionLooper marks codes the object services on the looper
	// thread itself, without going through the user handler.
	TransactionLooper

	// TransactionSupported marks codes dispatched to the user handler.
	TransactionSupported
)

// ObjectRegistry resolves driver-level identifiers to object records. It
// is maintained by the IPC layer above the driver core; lookups returning
// nil are handled gracefully.
type ObjectRegistry interface {
	// GetLocal resolves the pointer+cookie pair identifying a local
	// object.
	GetLocal(ptr, cookie uint64) LocalObject

	// GetRemote resolves a remote-object handle.
	GetRemote(handle uint32) RemoteObject
}

// LocalObject is an object this process exposes to its peers.
type LocalObject interface {
	// CanHandleTransaction classifies an inbound transaction before it
	// is dispatched.
	CanHandleTransaction(iface string, code uint32) TransactionSupport

	// HandleLooperTransaction services codes the object claims for the
	// looper thread. The returned reply may be nil, in which case the
	// status is sent instead.
	HandleLooperTransaction(req *RemoteRequest, code, flags uint32) (*LocalReply, Status)

	// Reference-count handshakes initiated by the driver.
	HandleIncRefs()
	HandleAcquire()
	HandleDecRefs()
	HandleRelease()
}

// RemoteObject is a reference to an object living in another process.
type RemoteObject interface {
	// Handle is the 32-bit driver handle of the remote object.
	Handle() uint32

	// HandleDeathNotification is invoked once when the driver reports
	// the owning process has died.
	HandleDeathNotification()
}

// Handler services inbound transactions the local object declared
// supported. Supplied by the user per read loop.
type Handler interface {
	Transact(obj LocalObject, req *RemoteRequest, code, flags uint32) (*LocalReply, Status)
}
