package binder

import (
	"sync/atomic"
	"time"
)

// Metrics tracks operational statistics for one driver session
type Metrics struct {
	// Inbound command counters
	CommandsIn         atomic.Uint64 // Total inbound command packets
	Noops              atomic.Uint64 // BR_NOOP / BR_OK observations
	TransactionsIn     atomic.Uint64 // Inbound transactions dispatched
	RepliesIn          atomic.Uint64 // Replies received by transact
	RefOps             atomic.Uint64 // Inbound refcount commands
	DeathNotifications atomic.Uint64 // BR_DEAD_BINDER deliveries
	UnknownCommands    atomic.Uint64 // Opcodes logged and dropped

	// Outbound counters
	TransactionsOut atomic.Uint64 // Transactions submitted
	RepliesOut      atomic.Uint64 // Data replies sent
	StatusReplies   atomic.Uint64 // Status-only replies sent
	RefAcks         atomic.Uint64 // increfs_done / acquire_done acks
	BuffersFreed    atomic.Uint64 // free-buffer commands emitted

	// Error counters
	DriverErrors atomic.Uint64 // Syscall-level failures

	// Session lifecycle
	StartTime atomic.Int64 // Session open timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// MetricsSnapshot is a point-in-time copy of all counters
type MetricsSnapshot struct {
	CommandsIn         uint64
	Noops              uint64
	TransactionsIn     uint64
	RepliesIn          uint64
	RefOps             uint64
	DeathNotifications uint64
	UnknownCommands    uint64
	TransactionsOut    uint64
	RepliesOut         uint64
	StatusReplies      uint64
	RefAcks            uint64
	BuffersFreed       uint64
	DriverErrors       uint64
	Uptime             time.Duration
}

// Observer interface allows pluggable instrumentation of the command
// stream. Implementations must be safe for use from the looper thread;
// callbacks run in-line with dispatch.
type Observer interface {
	// ObserveTransactionIn is called for each inbound transaction,
	// with the payload size and whether a local object claimed it
	ObserveTransactionIn(bytes uint64, handled bool)

	// ObserveTransactionOut is called for each submitted transaction
	ObserveTransactionOut(bytes uint64, oneway bool)

	// ObserveReply is called when an outbound transaction's reply
	// envelope is adopted
	ObserveReply(bytes uint64, status int32)

	// ObserveRefOp is called for each inbound reference-count
	// command; acked is true when a _done acknowledgement went out
	ObserveRefOp(acked bool)

	// ObserveBufferFreed is called when a kernel buffer is returned
	ObserveBufferFreed()

	// ObserveDeathNotification is called for each dead-binder delivery
	ObserveDeathNotification()
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveTransactionIn(uint64, bool)  {}
func (NoOpObserver) ObserveTransactionOut(uint64, bool) {}
func (NoOpObserver) ObserveReply(uint64, int32)         {}
func (NoOpObserver) ObserveRefOp(bool)                  {}
func (NoOpObserver) ObserveBufferFreed()                {}
func (NoOpObserver) ObserveDeathNotification()          {}

// MetricsObserver implements Observer by recording into a Metrics
// instance. The session already feeds its own Metrics directly; use
// this with a separate instance when aggregating across sessions.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveTransactionIn(bytes uint64, handled bool) {
	o.metrics.TransactionsIn.Add(1)
}

func (o *MetricsObserver) ObserveTransactionOut(bytes uint64, oneway bool) {
	o.metrics.TransactionsOut.Add(1)
}

func (o *MetricsObserver) ObserveReply(bytes uint64, status int32) {
	o.metrics.RepliesIn.Add(1)
}

func (o *MetricsObserver) ObserveRefOp(acked bool) {
	o.metrics.RefOps.Add(1)
	if acked {
		o.metrics.RefAcks.Add(1)
	}
}

func (o *MetricsObserver) ObserveBufferFreed() {
	o.metrics.BuffersFreed.Add(1)
}

func (o *MetricsObserver) ObserveDeathNotification() {
	o.metrics.DeathNotifications.Add(1)
}

// Compile-time interface checks
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = NoOpObserver{}

// Snapshot captures the current counter values
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		CommandsIn:         m.CommandsIn.Load(),
		Noops:              m.Noops.Load(),
		TransactionsIn:     m.TransactionsIn.Load(),
		RepliesIn:          m.RepliesIn.Load(),
		RefOps:             m.RefOps.Load(),
		DeathNotifications: m.DeathNotifications.Load(),
		UnknownCommands:    m.UnknownCommands.Load(),
		TransactionsOut:    m.TransactionsOut.Load(),
		RepliesOut:         m.RepliesOut.Load(),
		StatusReplies:      m.StatusReplies.Load(),
		RefAcks:            m.RefAcks.Load(),
		BuffersFreed:       m.BuffersFreed.Load(),
		DriverErrors:       m.DriverErrors.Load(),
		Uptime:             time.Since(time.Unix(0, m.StartTime.Load())),
	}
}
