package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "peerctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	peerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerctl",
			Subsystem: "admin",
			Name:      "peer_operations_total",
			Help:      "Admin API peer operations by operation, peer state at request time and outcome.",
		},
		[]string{"op", "state", "outcome"},
	)
	peerFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerctl",
			Subsystem: "peer",
			Name:      "frames_total",
			Help:      "Lines exchanged with peers by direction and message kind.",
		},
		[]string{"direction", "kind"},
	)
	peerDecodeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "peerctl",
			Subsystem: "peer",
			Name:      "decode_failures_total",
			Help:      "Peer output lines that failed to decode.",
		},
	)
	peerDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerctl",
			Subsystem: "peer",
			Name:      "dropped_total",
			Help:      "Inbound lines dropped because a subscriber fell behind.",
		},
		[]string{"subscriber"},
	)
	peersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "peerctl",
			Subsystem: "peer",
			Name:      "active",
			Help:      "Peers currently registered with the supervisor.",
		},
	)
	peerExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerctl",
			Subsystem: "peer",
			Name:      "exits_total",
			Help:      "Peer output streams that closed, by final state.",
		},
		[]string{"state"},
	)
	handshakeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "peerctl",
			Subsystem: "peer",
			Name:      "handshake_duration_seconds",
			Help:      "Time from spawn to the initialize response.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration, peerOperations,
			peerFrames, peerDecodeFailures, peerDrops, peersActive, peerExits, handshakeDuration,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordPeerOperation counts one admin operation on a peer. state is the
// peer's state when the request arrived, "none" if it was not registered.
func RecordPeerOperation(op, state, outcome string) {
	RegisterMetrics()
	peerOperations.WithLabelValues(op, state, outcome).Inc()
}

// RecordFrame counts one line; direction is "in" or "out".
func RecordFrame(direction, kind string) {
	RegisterMetrics()
	peerFrames.WithLabelValues(direction, kind).Inc()
}

func RecordDecodeFailure() {
	RegisterMetrics()
	peerDecodeFailures.Inc()
}

func RecordDrop(subscriber string) {
	RegisterMetrics()
	peerDrops.WithLabelValues(subscriber).Inc()
}

func SetActivePeers(n int) {
	RegisterMetrics()
	peersActive.Set(float64(n))
}

func RecordExit(state string) {
	RegisterMetrics()
	peerExits.WithLabelValues(state).Inc()
}

func RecordHandshake(duration time.Duration) {
	RegisterMetrics()
	handshakeDuration.Observe(duration.Seconds())
}
