package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the hub.
type Metrics struct {
	// Session metrics
	SessionsActive        prometheus.Gauge
	SessionsCreatedTotal   prometheus.Counter
	SessionsDisposedTotal  prometheus.Counter
	ClientsActive          prometheus.Gauge

	// Message/transfer metrics
	MessagesAppliedTotal *prometheus.CounterVec
	BroadcastFanOutSize  prometheus.Histogram
	ChunksSentTotal      prometheus.Counter
	ChunksReceivedTotal  prometheus.Counter
	ChunksRejectedTotal  *prometheus.CounterVec
	TransfersActive      prometheus.Gauge
	TransferDuration     prometheus.Histogram

	// Replication metrics
	ReplicationPublishedTotal prometheus.Counter
	ReplicationDroppedTotal   *prometheus.CounterVec
	DedupHitRate              prometheus.Gauge

	// Merkle metrics
	MerkleVerificationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collabhub_sessions_active",
			Help: "Currently loaded document sessions",
		}),
		SessionsCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabhub_sessions_created_total",
			Help: "Total sessions created",
		}),
		SessionsDisposedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabhub_sessions_disposed_total",
			Help: "Total sessions disposed",
		}),
		ClientsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collabhub_clients_active",
			Help: "Currently connected clients across all sessions",
		}),
		MessagesAppliedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collabhub_messages_applied_total",
			Help: "Messages applied by a session, by type",
		}, []string{"type"}),
		BroadcastFanOutSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "collabhub_broadcast_fanout_size",
			Help:    "Number of clients a broadcast was sent to",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
		ChunksSentTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabhub_chunks_sent_total",
			Help: "Total file chunks sent",
		}),
		ChunksReceivedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabhub_chunks_received_total",
			Help: "Total file chunks received",
		}),
		ChunksRejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collabhub_chunks_rejected_total",
			Help: "File chunks rejected, by reason",
		}, []string{"reason"}),
		TransfersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collabhub_transfers_active",
			Help: "Currently active upload/download handlers",
		}),
		TransferDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "collabhub_transfer_duration_seconds",
			Help:    "Transfer completion time distribution",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
		ReplicationPublishedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabhub_replication_published_total",
			Help: "Messages published to the pub/sub fabric",
		}),
		ReplicationDroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collabhub_replication_dropped_total",
			Help: "Replicated messages dropped, by reason",
		}, []string{"reason"}),
		DedupHitRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collabhub_dedup_hit_rate",
			Help: "Fraction of replicated messages rejected as duplicates in the last window",
		}),
		MerkleVerificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collabhub_merkle_verifications_total",
			Help: "Merkle proof verifications, by result",
		}, []string{"result"}),
	}
}

// RecordSessionCreated updates session gauges/counters on creation.
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreatedTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionDisposed updates session gauges/counters on disposal.
func (m *Metrics) RecordSessionDisposed() {
	m.SessionsDisposedTotal.Inc()
	m.SessionsActive.Dec()
}

// RecordClientJoined increments the active client gauge.
func (m *Metrics) RecordClientJoined() { m.ClientsActive.Inc() }

// RecordClientLeft decrements the active client gauge.
func (m *Metrics) RecordClientLeft() { m.ClientsActive.Dec() }

// RecordMessageApplied increments the applied-message counter for type.
func (m *Metrics) RecordMessageApplied(msgType string) {
	m.MessagesAppliedTotal.WithLabelValues(msgType).Inc()
}

// RecordBroadcast observes a broadcast's fan-out size.
func (m *Metrics) RecordBroadcast(size int) {
	m.BroadcastFanOutSize.Observe(float64(size))
}

// RecordChunkSent increments the sent-chunk counter.
func (m *Metrics) RecordChunkSent() { m.ChunksSentTotal.Inc() }

// RecordChunkReceived increments the received-chunk counter.
func (m *Metrics) RecordChunkReceived() { m.ChunksReceivedTotal.Inc() }

// RecordChunkRejected increments the rejected-chunk counter for reason.
func (m *Metrics) RecordChunkRejected(reason string) {
	m.ChunksRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordTransferStart increments the active-transfer gauge.
func (m *Metrics) RecordTransferStart() { m.TransfersActive.Inc() }

// RecordTransferComplete decrements the active-transfer gauge and observes duration.
func (m *Metrics) RecordTransferComplete(durationSeconds float64) {
	m.TransfersActive.Dec()
	m.TransferDuration.Observe(durationSeconds)
}

// RecordReplicationPublished increments the published-message counter.
func (m *Metrics) RecordReplicationPublished() { m.ReplicationPublishedTotal.Inc() }

// RecordReplicationDropped increments the dropped-message counter for reason.
func (m *Metrics) RecordReplicationDropped(reason string) {
	m.ReplicationDroppedTotal.WithLabelValues(reason).Inc()
}

// SetDedupHitRate sets the dedup hit-rate gauge.
func (m *Metrics) SetDedupHitRate(rate float64) { m.DedupHitRate.Set(rate) }

// RecordMerkleVerification increments the Merkle verification counter by result.
func (m *Metrics) RecordMerkleVerification(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.MerkleVerificationsTotal.WithLabelValues(result).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
