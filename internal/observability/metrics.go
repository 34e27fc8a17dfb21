package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts failed Redis commands by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecommerce_redis_errors_total",
		Help: "Total number of Redis command errors",
	}, []string{"command"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livecommerce_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// LockAcquisitions counts lock attempts by lock kind and outcome.
	LockAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecommerce_lock_acquisitions_total",
		Help: "Lock acquisition attempts by kind and outcome",
	}, []string{"kind", "outcome"})

	// AdmissionRejections counts reservations refused by the admission gate.
	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecommerce_admission_rejections_total",
		Help: "Reservations rejected by reason",
	}, []string{"reason"})

	// BroadcastTransitions counts applied status transitions.
	BroadcastTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecommerce_broadcast_transitions_total",
		Help: "Broadcast status transitions",
	}, []string{"from", "to"})

	// RetryEvents counts retry queue activity by queue and event (scheduled, exhausted, cleared).
	RetryEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecommerce_recording_retry_events_total",
		Help: "Recording retry queue events",
	}, []string{"queue", "event"})

	// ProviderCallLatency records recording provider call latency by operation and status.
	ProviderCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livecommerce_provider_call_latency_seconds",
		Help:    "Recording provider call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	// VodFinalizations counts VOD pipeline outcomes.
	VodFinalizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecommerce_vod_finalizations_total",
		Help: "VOD finalization outcomes",
	}, []string{"outcome"})

	// RealtimeViewers is the last observed presence count per broadcast.
	RealtimeViewers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livecommerce_realtime_viewers",
		Help: "Viewers currently present per broadcast",
	}, []string{"broadcast_id"})

	// SchedulerRuns counts background job ticks by job and outcome.
	SchedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecommerce_scheduler_runs_total",
		Help: "Background job runs",
	}, []string{"job", "outcome"})

	// WebSocketConnectionsTotal is the gauge of open websocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livecommerce_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecommerce_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecommerce_rate_limit_decisions_total",
		Help: "Rate limit checks by resource and outcome",
	}, []string{"resource", "outcome"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// ObserveProviderCall records one provider round trip.
func ObserveProviderCall(operation, status string, start time.Time) {
	ProviderCallLatency.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}
