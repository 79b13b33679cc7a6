package binder

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes a session's Metrics counters in Prometheus format.
// Register it with a prometheus.Registerer to scrape a long-lived looper
// process.
type Collector struct {
	metrics *Metrics
	dev     string

	commandsIn         *prometheus.Desc
	transactionsIn     *prometheus.Desc
	transactionsOut    *prometheus.Desc
	repliesIn          *prometheus.Desc
	repliesOut         *prometheus.Desc
	statusReplies      *prometheus.Desc
	refAcks            *prometheus.Desc
	buffersFreed       *prometheus.Desc
	deathNotifications *prometheus.Desc
	unknownCommands    *prometheus.Desc
	driverErrors       *prometheus.Desc
}

// NewCollector creates a collector for the driver session. The device
// path becomes the "device" label on every series.
func NewCollector(d *Driver) *Collector {
	label := []string{"device"}
	return &Collector{
		metrics: d.Metrics(),
		dev:     d.Dev(),
		commandsIn: prometheus.NewDesc(
			"binder_commands_in_total",
			"Inbound command packets dispatched",
			label, nil,
		),
		transactionsIn: prometheus.NewDesc(
			"binder_transactions_in_total",
			"Inbound transactions dispatched to local objects",
			label, nil,
		),
		transactionsOut: prometheus.NewDesc(
			"binder_transactions_out_total",
			"Transactions submitted to the driver",
			label, nil,
		),
		repliesIn: prometheus.NewDesc(
			"binder_replies_in_total",
			"Replies received for outbound transactions",
			label, nil,
		),
		repliesOut: prometheus.NewDesc(
			"binder_replies_out_total",
			"Data replies sent for inbound transactions",
			label, nil,
		),
		statusReplies: prometheus.NewDesc(
			"binder_status_replies_total",
			"Status-only replies sent for inbound transactions",
			label, nil,
		),
		refAcks: prometheus.NewDesc(
			"binder_ref_acks_total",
			"Reference-count acknowledgements emitted",
			label, nil,
		),
		buffersFreed: prometheus.NewDesc(
			"binder_buffers_freed_total",
			"Kernel transaction buffers returned to the driver",
			label, nil,
		),
		deathNotifications: prometheus.NewDesc(
			"binder_death_notifications_total",
			"Death notifications delivered to remote objects",
			label, nil,
		),
		unknownCommands: prometheus.NewDesc(
			"binder_unknown_commands_total",
			"Inbound opcodes logged and dropped",
			label, nil,
		),
		driverErrors: prometheus.NewDesc(
			"binder_driver_errors_total",
			"Syscall-level driver failures",
			label, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.commandsIn
	ch <- c.transactionsIn
	ch <- c.transactionsOut
	ch <- c.repliesIn
	ch <- c.repliesOut
	ch <- c.statusReplies
	ch <- c.refAcks
	ch <- c.buffersFreed
	ch <- c.deathNotifications
	ch <- c.unknownCommands
	ch <- c.driverErrors
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), c.dev)
	}
	counter(c.commandsIn, s.CommandsIn)
	counter(c.transactionsIn, s.TransactionsIn)
	counter(c.transactionsOut, s.TransactionsOut)
	counter(c.repliesIn, s.RepliesIn)
	counter(c.repliesOut, s.RepliesOut)
	counter(c.statusReplies, s.StatusReplies)
	counter(c.refAcks, s.RefAcks)
	counter(c.buffersFreed, s.BuffersFreed)
	counter(c.deathNotifications, s.DeathNotifications)
	counter(c.unknownCommands, s.UnknownCommands)
	counter(c.driverErrors, s.DriverErrors)
}
