// Package metrics exposes LeadLine runtime metrics as a prometheus
// collector. Providers are queried at scrape time, so the collector never
// caches stale state.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ConnectionStatusProvider exposes the bridge connection manager's state.
type ConnectionStatusProvider interface {
	// ConnectionState returns the current state name (Disconnected,
	// Connecting, Connected, Reconnecting, Failed).
	ConnectionState() string
	// ReconnectAttempts returns the current reconnect attempt counter.
	ReconnectAttempts() int
}

// ActiveCallProvider reports whether a call session is in flight.
type ActiveCallProvider interface {
	HasActiveCall() bool
}

// CallRecordCounter returns call record counts grouped by a column.
type CallRecordCounter interface {
	CountByDirection(ctx context.Context) (map[string]int64, error)
	CountByOutcome(ctx context.Context) (map[string]int64, error)
}

// connectionStates is the fixed label set for the connection state gauge.
var connectionStates = []string{"Disconnected", "Connecting", "Connected", "Reconnecting", "Failed"}

// Collector is a prometheus.Collector that gathers LeadLine metrics at
// scrape time.
type Collector struct {
	conn      ConnectionStatusProvider
	session   ActiveCallProvider
	records   CallRecordCounter
	startTime time.Time

	// Metric descriptors.
	connStateDesc         *prometheus.Desc
	reconnectAttemptsDesc *prometheus.Desc
	activeCallDesc        *prometheus.Desc
	callsTotalDesc        *prometheus.Desc
	callOutcomesDesc      *prometheus.Desc
	uptimeDesc            *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if
// unavailable.
func NewCollector(
	conn ConnectionStatusProvider,
	session ActiveCallProvider,
	records CallRecordCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		conn:      conn,
		session:   session,
		records:   records,
		startTime: startTime,

		connStateDesc: prometheus.NewDesc(
			"leadline_bridge_connection_state",
			"Bridge connection state (1 for the current state, 0 otherwise)",
			[]string{"state"}, nil,
		),
		reconnectAttemptsDesc: prometheus.NewDesc(
			"leadline_bridge_reconnect_attempts",
			"Current reconnect attempt counter (resets on successful connect)",
			nil, nil,
		),
		activeCallDesc: prometheus.NewDesc(
			"leadline_active_call",
			"Whether a call session is in flight (0 or 1)",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"leadline_calls_total",
			"Total call records by direction",
			[]string{"direction"}, nil,
		),
		callOutcomesDesc: prometheus.NewDesc(
			"leadline_call_outcomes_total",
			"Total call records by outcome",
			[]string{"outcome"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"leadline_uptime_seconds",
			"Seconds since the LeadLine process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connStateDesc
	ch <- c.reconnectAttemptsDesc
	ch <- c.activeCallDesc
	ch <- c.callsTotalDesc
	ch <- c.callOutcomesDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Connection state as a one-hot gauge over the known states.
	if c.conn != nil {
		current := c.conn.ConnectionState()
		for _, state := range connectionStates {
			val := 0.0
			if state == current {
				val = 1.0
			}
			ch <- prometheus.MustNewConstMetric(
				c.connStateDesc, prometheus.GaugeValue, val, state,
			)
		}
		ch <- prometheus.MustNewConstMetric(
			c.reconnectAttemptsDesc, prometheus.GaugeValue,
			float64(c.conn.ReconnectAttempts()),
		)
	}

	// Active call gauge.
	if c.session != nil {
		val := 0.0
		if c.session.HasActiveCall() {
			val = 1.0
		}
		ch <- prometheus.MustNewConstMetric(
			c.activeCallDesc, prometheus.GaugeValue, val,
		)
	}

	// Call volume counters by direction and outcome.
	if c.records != nil {
		counts, err := c.records.CountByDirection(ctx)
		if err != nil {
			slog.Error("metrics: failed to count records by direction", "error", err)
		} else {
			for _, dir := range []string{"incoming", "outgoing"} {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(counts[dir]), dir,
				)
			}
		}

		outcomes, err := c.records.CountByOutcome(ctx)
		if err != nil {
			slog.Error("metrics: failed to count records by outcome", "error", err)
		} else {
			for outcome, n := range outcomes {
				ch <- prometheus.MustNewConstMetric(
					c.callOutcomesDesc, prometheus.CounterValue,
					float64(n), outcome,
				)
			}
		}
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
