// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the collector.
type Metrics struct {
	// Feed metrics, labeled by venue
	MessagesReceived  *prometheus.CounterVec
	EventsDecoded     *prometheus.CounterVec // venue, event_type
	UnknownEvents     *prometheus.CounterVec
	Reconnects        *prometheus.CounterVec
	ConnectionState   *prometheus.GaugeVec // 1 streaming, 0 down
	SubscriptionCount *prometheus.GaugeVec
	SubscriptionGoal  *prometheus.GaugeVec

	// Ingestion metrics
	SnapshotsInserted *prometheus.CounterVec
	SnapshotsSkipped  *prometheus.CounterVec
	TradesAccumulated *prometheus.CounterVec
	InstantMovers     *prometheus.CounterVec
	FlushDuration     *prometheus.HistogramVec
	PendingUpdates    *prometheus.GaugeVec

	// Job metrics
	JobRuns     *prometheus.CounterVec // job, status
	JobDuration *prometheus.HistogramVec
	AlertsFired *prometheus.CounterVec // alert_type
	ArbOpps     prometheus.Counter
	SpikesFound prometheus.Counter

	// Storage metrics
	TableBytes    *prometheus.GaugeVec
	DatabaseBytes prometheus.Gauge
	RowsDeleted   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on reg. A nil reg uses
// the default registry; tests pass their own to stay isolated.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "pmm"
	}
	auto := promauto.With(reg)

	return &Metrics{
		MessagesReceived: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_received_total",
			Help:      "Total WebSocket messages received",
		}, []string{"venue"}),
		EventsDecoded: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_decoded_total",
			Help:      "Total decoded feed events by type",
		}, []string{"venue", "event_type"}),
		UnknownEvents: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "unknown_events_total",
			Help:      "Total feed events with unhandled types",
		}, []string{"venue"}),
		Reconnects: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total WebSocket reconnect attempts",
		}, []string{"venue"}),
		ConnectionState: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connection_state",
			Help:      "1 when the venue stream is up, 0 otherwise",
		}, []string{"venue"}),
		SubscriptionCount: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "subscriptions",
			Help:      "Assets subscribed on the venue stream",
		}, []string{"venue"}),
		SubscriptionGoal: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "subscription_target",
			Help:      "Assets the venue stream should be subscribed to",
		}, []string{"venue"}),

		SnapshotsInserted: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "snapshots_inserted_total",
			Help:      "Snapshots written after gating",
		}, []string{"venue"}),
		SnapshotsSkipped: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "snapshots_skipped_total",
			Help:      "Snapshots suppressed by the write gate",
		}, []string{"venue"}),
		TradesAccumulated: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "trades_total",
			Help:      "Trade events folded into volume accumulation",
		}, []string{"venue"}),
		InstantMovers: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "instant_movers_total",
			Help:      "Instant mover detections broadcast",
		}, []string{"venue"}),
		FlushDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "flush_duration_seconds",
			Help:      "Snapshot batch flush duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"venue"}),
		PendingUpdates: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "pending_updates",
			Help:      "Updates buffered awaiting the next flush",
		}, []string{"venue"}),

		JobRuns: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Periodic job cycles by outcome",
		}, []string{"job", "status"}),
		JobDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Periodic job cycle duration",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"job"}),
		AlertsFired: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "alerts_total",
			Help:      "Alerts inserted by type",
		}, []string{"alert_type"}),
		ArbOpps: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "arbitrage_opportunities_total",
			Help:      "Cross-venue arbitrage opportunities recorded",
		}),
		SpikesFound: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "volume_spikes_total",
			Help:      "Volume spikes recorded",
		}),

		TableBytes: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "table_bytes",
			Help:      "Total relation size per tracked table",
		}, []string{"table"}),
		DatabaseBytes: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "database_bytes",
			Help:      "Total database size",
		}),
		RowsDeleted: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "rows_deleted_total",
			Help:      "Rows removed by retention per table",
		}, []string{"table"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
