package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Barrier metrics
	BarrierLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cascade_barrier_latency_seconds",
			Help:    "Time from barrier injection to full collection",
			Buckets: prometheus.DefBuckets,
		},
	)

	BarrierEpoch = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_barrier_epoch",
			Help: "Barrier manager's in-flight prev epoch (most recently collected barrier)",
		},
	)

	BarrierCollectionsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_barrier_collections_failed_total",
			Help: "Total number of barrier collections that timed out or failed",
		},
	)

	// Compaction metrics
	CompactionBacklogBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cascade_compaction_backlog_bytes",
			Help: "Bytes of SSTs pending compaction, by level",
		},
		[]string{"level"},
	)

	CompactionTaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cascade_compaction_task_duration_seconds",
			Help:    "Time taken to run a single compaction task",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompactionTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_compaction_tasks_total",
			Help: "Total number of compaction tasks by outcome",
		},
		[]string{"outcome"},
	)

	// Shared buffer / cache metrics
	SharedBufferBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_shared_buffer_bytes",
			Help: "Bytes currently held in the shared buffer, not yet flushed",
		},
	)

	BlockCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_block_cache_hits_total",
			Help: "Total block cache hits",
		},
	)

	BlockCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_block_cache_misses_total",
			Help: "Total block cache misses",
		},
	)

	// Streaming operator metrics
	OperatorRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_operator_rows_total",
			Help: "Total rows processed by a streaming operator",
		},
		[]string{"fragment_id", "operator"},
	)

	OperatorBackpressureSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_operator_backpressure_seconds",
			Help:    "Time an operator spent blocked sending to a full channel",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"fragment_id"},
	)

	// Cluster / Raft metrics (meta replicas)
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_raft_is_leader",
			Help: "Whether this meta replica is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cascade_nodes_total",
			Help: "Total number of compute nodes by status",
		},
		[]string{"status"},
	)

	ActorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cascade_actors_total",
			Help: "Total number of running actors by fragment",
		},
		[]string{"fragment_id"},
	)

	// API metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_rpc_requests_total",
			Help: "Total number of RPCs by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_rpc_request_duration_seconds",
			Help:    "RPC duration in seconds by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		BarrierLatency,
		BarrierEpoch,
		BarrierCollectionsFailed,
		CompactionBacklogBytes,
		CompactionTaskDuration,
		CompactionTasksTotal,
		SharedBufferBytes,
		BlockCacheHitsTotal,
		BlockCacheMissesTotal,
		OperatorRowsTotal,
		OperatorBackpressureSeconds,
		RaftLeader,
		RaftAppliedIndex,
		NodesTotal,
		ActorsTotal,
		RPCRequestsTotal,
		RPCRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and recording them to a
// histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, started now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
