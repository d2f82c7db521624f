// Package metrics exports FTP server metrics to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector is the Prometheus implementation of server.MetricsCollector.
// A nil *Collector ignores every call.
type Collector struct {
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	transfersTotal   *prometheus.CounterVec
	transferBytes    *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	connectionsTotal *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	sessionDuration  prometheus.Histogram
}

// NewCollector registers the ftpd metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)

	return &Collector{
		commandsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_commands_total",
				Help: "Total number of FTP commands by verb and outcome",
			},
			[]string{"command", "status"},
		),
		commandDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "ftpd_command_duration_milliseconds",
				Help: "Duration of FTP commands in milliseconds",
				Buckets: []float64{
					1,     // control-only commands
					10,    // filesystem metadata
					100,   // small transfers
					1000,  // 1s
					10000, // 10s - large transfers
					60000, // 1m
				},
			},
			[]string{"command"},
		),
		transfersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_transfers_total",
				Help: "Total number of completed transfers by operation",
			},
			[]string{"operation"},
		),
		transferBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_transfer_bytes_total",
				Help: "Total bytes moved over data connections by operation",
			},
			[]string{"operation"},
		),
		transferDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ftpd_transfer_duration_seconds",
				Help:    "Duration of completed transfers in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"operation"},
		),
		connectionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpd_connections_total",
				Help: "Total control connection attempts by outcome",
			},
			[]string{"accepted", "reason"},
		),
		activeSessions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ftpd_active_sessions",
				Help: "Current number of open sessions",
			},
		),
		sessionDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ftpd_session_duration_seconds",
				Help:    "Lifetime of closed sessions in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
	}
}

// RecordCommand records one dispatched command.
func (c *Collector) RecordCommand(cmd string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	c.commandsTotal.WithLabelValues(cmd, status(success)).Inc()
	c.commandDuration.WithLabelValues(cmd).Observe(float64(duration.Milliseconds()))
}

// RecordTransfer records a completed transfer.
func (c *Collector) RecordTransfer(operation string, bytes int64, duration time.Duration) {
	if c == nil {
		return
	}
	c.transfersTotal.WithLabelValues(operation).Inc()
	c.transferBytes.WithLabelValues(operation).Add(float64(bytes))
	c.transferDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordConnection records a connection attempt. Accepted connections open
// a session.
func (c *Collector) RecordConnection(accepted bool, reason string) {
	if c == nil {
		return
	}
	c.connectionsTotal.WithLabelValues(strconv.FormatBool(accepted), reason).Inc()
	if accepted {
		c.activeSessions.Inc()
	}
}

// RecordSessionClosed records the end of a session.
func (c *Collector) RecordSessionClosed(duration time.Duration) {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
	c.sessionDuration.Observe(duration.Seconds())
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
