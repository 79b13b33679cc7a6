package binder

import "sync"

// MockRegistry is an ObjectRegistry backed by plain maps. It is useful
// for unit testing loopers and handlers without a real IPC layer.
type MockRegistry struct {
	mu      sync.RWMutex
	locals  map[uint64]LocalObject
	remotes map[uint32]RemoteObject
}

// NewMockRegistry creates an empty registry.
func NewMockRegistry() *MockRegistry {
	return &MockRegistry{
		locals:  make(map[uint64]LocalObject),
		remotes: make(map[uint32]RemoteObject),
	}
}

// AddLocal registers a local object under its pointer.
func (m *MockRegistry) AddLocal(ptr uint64, obj LocalObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locals[ptr] = obj
}

// AddRemote registers a remote object under its handle.
func (m *MockRegistry) AddRemote(handle uint32, obj RemoteObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remotes[handle] = obj
}

// GetLocal implements ObjectRegistry
func (m *MockRegistry) GetLocal(ptr, cookie uint64) LocalObject {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locals[ptr]
}

// GetRemote implements ObjectRegistry
func (m *MockRegistry) GetRemote(handle uint32) RemoteObject {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.remotes[handle]
}

// MockLocalObject implements LocalObject and tracks the calls it
// receives for verification.
type MockLocalObject struct {
	// Support is the answer given to CanHandleTransaction.
	Support TransactionSupport

	// LooperFunc, when set, services looper transactions.
	LooperFunc func(req *RemoteRequest, code, flags uint32) (*LocalReply, Status)

	mu          sync.Mutex
	canHandle   int
	looperCalls int
	increfs     int
	acquires    int
	decrefs     int
	releases    int
}

// CanHandleTransaction implements LocalObject
func (m *MockLocalObject) CanHandleTransaction(iface string, code uint32) TransactionSupport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canHandle++
	return m.Support
}

// HandleLooperTransaction implements LocalObject
func (m *MockLocalObject) HandleLooperTransaction(req *RemoteRequest, code, flags uint32) (*LocalReply, Status) {
	m.mu.Lock()
	m.looperCalls++
	m.mu.Unlock()
	if m.LooperFunc != nil {
		return m.LooperFunc(req, code, flags)
	}
	return nil, StatusOK
}

// HandleIncRefs implements LocalObject
func (m *MockLocalObject) HandleIncRefs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.increfs++
}

// HandleAcquire implements LocalObject
func (m *MockLocalObject) HandleAcquire() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquires++
}

// HandleDecRefs implements LocalObject
func (m *MockLocalObject) HandleDecRefs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decrefs++
}

// HandleRelease implements LocalObject
func (m *MockLocalObject) HandleRelease() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
}

// IncRefsCalls reports how many increfs handshakes arrived.
func (m *MockLocalObject) IncRefsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.increfs
}

// AcquireCalls reports how many acquire handshakes arrived.
func (m *MockLocalObject) AcquireCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquires
}

// LooperCalls reports how many looper transactions were serviced.
func (m *MockLocalObject) LooperCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.looperCalls
}

// MockRemoteObject implements RemoteObject.
type MockRemoteObject struct {
	H uint32

	mu     sync.Mutex
	deaths int
}

// Handle implements RemoteObject
func (m *MockRemoteObject) Handle() uint32 { return m.H }

// HandleDeathNotification implements RemoteObject
func (m *MockRemoteObject) HandleDeathNotification() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deaths++
}

// Deaths reports how many death notifications were delivered.
func (m *MockRemoteObject) Deaths() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deaths
}

// MockHandler implements Handler.
type MockHandler struct {
	// TransactFunc, when set, services supported transactions.
	TransactFunc func(obj LocalObject, req *RemoteRequest, code, flags uint32) (*LocalReply, Status)

	mu    sync.Mutex
	calls int
}

// Transact implements Handler
func (m *MockHandler) Transact(obj LocalObject, req *RemoteRequest, code, flags uint32) (*LocalReply, Status) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.TransactFunc != nil {
		return m.TransactFunc(obj, req, code, flags)
	}
	return nil, StatusOK
}

// Calls reports how many transactions reached the handler.
func (m *MockHandler) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
