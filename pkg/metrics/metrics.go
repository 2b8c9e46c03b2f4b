// Package metrics exposes the Prometheus counters/gauges the coordinator
// updates as connections come and go.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ConnectionsTotal   prometheus.Counter
	ConnectionsActive  prometheus.Gauge
	ConnectionErrors   prometheus.Counter
	ConnectionDuration prometheus.Histogram

	MessagesReceived prometheus.Counter
	MessagesSent     prometheus.Counter

	LockAcquires   *prometheus.CounterVec
	LockDenials    prometheus.Counter
	CommitsApplied prometheus.Counter

	RoomUsers *prometheus.GaugeVec
}

func New() *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "roomd_connections_total",
			Help: "Total number of WebSocket connections accepted",
		}),
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "roomd_connections_active",
			Help: "Number of currently active WebSocket connections",
		}),
		ConnectionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "roomd_connection_errors_total",
			Help: "Total number of connection-level errors",
		}),
		ConnectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomd_connection_duration_seconds",
			Help:    "Duration of a WebSocket connection from admit to disconnect",
			Buckets: prometheus.DefBuckets,
		}),
		MessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "roomd_messages_received_total",
			Help: "Total number of envelopes received from clients",
		}),
		MessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "roomd_messages_sent_total",
			Help: "Total number of envelopes written to clients",
		}),
		LockAcquires: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "roomd_lock_acquires_total",
			Help: "Total number of lock acquire attempts by outcome",
		}, []string{"outcome"}),
		LockDenials: promauto.NewCounter(prometheus.CounterOpts{
			Name: "roomd_lock_denials_total",
			Help: "Total number of LOCK_DENIED replies sent",
		}),
		CommitsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "roomd_commits_applied_total",
			Help: "Total number of commits fanned out to a room",
		}),
		RoomUsers: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomd_room_users",
			Help: "Current online user count per room",
		}, []string{"room"}),
	}
}

// TrackConnection marks one connection admitted and returns a closer to call
// on disconnect, which records its lifetime and decrements the active gauge.
func (m *Metrics) TrackConnection() func() {
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
	start := time.Now()
	return func() {
		m.ConnectionsActive.Dec()
		m.ConnectionDuration.Observe(time.Since(start).Seconds())
	}
}
