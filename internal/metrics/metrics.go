// Package metrics provides Prometheus metrics for the panel server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements server.MetricsCollector with Prometheus counters
// and histograms.
type Collector struct {
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	transferBytes    *prometheus.CounterVec
	transfersTotal   *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	connectionsTotal *prometheus.CounterVec
	authTotal        *prometheus.CounterVec
	heartbeat        prometheus.Histogram
	appActions       *prometheus.CounterVec
}

// New registers the server metrics with reg. A nil reg means the default
// registry.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrtftp_commands_total",
				Help: "Total number of control commands",
			},
			[]string{"command", "success"},
		),
		commandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mrtftp_command_duration_seconds",
				Help:    "Control command duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		transferBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrtftp_transfer_bytes_total",
				Help: "Total bytes moved over data connections",
			},
			[]string{"operation"},
		),
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrtftp_transfers_total",
				Help: "Total number of completed transfers",
			},
			[]string{"operation"},
		),
		transferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mrtftp_transfer_duration_seconds",
				Help:    "Transfer duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"operation"},
		),
		connectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrtftp_connections_total",
				Help: "Total connection attempts",
			},
			[]string{"accepted", "reason"},
		),
		authTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrtftp_auth_attempts_total",
				Help: "Total authentication attempts",
			},
			[]string{"result"},
		),
		heartbeat: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mrtftp_heartbeat_latency_seconds",
				Help:    "Heartbeat channel round trip in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
		appActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrtftp_app_actions_total",
				Help: "Total panel and launcher lifecycle requests",
			},
			[]string{"verb"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler for the default
// registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns the metrics HTTP handler for g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordCommand records a control command.
func (c *Collector) RecordCommand(cmd string, success bool, duration time.Duration) {
	c.commandsTotal.WithLabelValues(cmd, strconv.FormatBool(success)).Inc()
	c.commandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

// RecordTransfer records a completed RETR or STOR.
func (c *Collector) RecordTransfer(operation string, bytes int64, duration time.Duration) {
	c.transferBytes.WithLabelValues(operation).Add(float64(bytes))
	c.transfersTotal.WithLabelValues(operation).Inc()
	c.transferDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordConnection records a connection attempt.
func (c *Collector) RecordConnection(accepted bool, reason string) {
	c.connectionsTotal.WithLabelValues(strconv.FormatBool(accepted), reason).Inc()
}

// RecordAuthentication records a PASS attempt. The user name is not used
// as a label to keep cardinality bounded.
func (c *Collector) RecordAuthentication(success bool, _ string) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authTotal.WithLabelValues(result).Inc()
}

// RecordHeartbeat records one heartbeat round trip.
func (c *Collector) RecordHeartbeat(latency time.Duration) {
	c.heartbeat.Observe(latency.Seconds())
}

// RecordAppAction counts a lifecycle request by verb.
func (c *Collector) RecordAppAction(verb string) {
	c.appActions.WithLabelValues(verb).Inc()
}
