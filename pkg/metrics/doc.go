/*
Package metrics provides Prometheus metrics collection and exposition for Cascade.

The metrics package defines and registers every Cascade metric using the
Prometheus client library, providing observability into barrier latency,
compaction backlog, cache behavior, and streaming operator throughput.
Metrics are exposed via an HTTP endpoint for scraping by Prometheus
servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (barrier epoch)      │          │
	│  │  Counter: Monotonic increases (rows, RPCs)  │          │
	│  │  Histogram: Distributions (latency)         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Barrier: latency, epoch, failed collections│          │
	│  │  Compaction: backlog bytes, task duration   │          │
	│  │  Cache: shared buffer bytes, hit/miss       │          │
	│  │  Operators: rows processed, backpressure    │          │
	│  │  Cluster: nodes, actors, Raft leadership    │          │
	│  │  RPC: request count, duration               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Thread-safe for concurrent updates

Collector:
  - Samples point-in-time gauges on a 15s ticker (barrier epoch, live
    node count) from small interfaces (BarrierSource, ClusterSource) so
    this package never imports pkg/barrier or pkg/meta/cluster for more
    than the methods it reads
  - Collector is the only code that sets a metric: it updates
    cascade_barrier_epoch and cascade_nodes_total (live nodes only).
    Nothing in the repository updates the other counters, gauges and
    histograms; they are registered and exported at their initial values

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to a histogram or histogram vec

# Metrics Catalog

Barrier Metrics:

cascade_barrier_latency_seconds:
  - Type: Histogram
  - Description: time from injection to full collection of a barrier

cascade_barrier_epoch:
  - Type: Gauge
  - Description: the barrier manager's in_flight_prev_epoch, the most
    recently collected barrier (Hummock's committed epoch trails it by one)

cascade_barrier_collections_failed_total:
  - Type: Counter
  - Description: barrier collections that timed out or an actor failed

Compaction Metrics:

cascade_compaction_backlog_bytes{level}:
  - Type: Gauge
  - Description: bytes of SSTs pending compaction, by level

cascade_compaction_task_duration_seconds:
  - Type: Histogram
  - Description: time to run one compaction task

cascade_compaction_tasks_total{outcome}:
  - Type: Counter
  - Description: compaction tasks completed, by outcome (ok, failed)

Shared Buffer / Cache Metrics:

cascade_shared_buffer_bytes:
  - Type: Gauge
  - Description: bytes held in the shared buffer, not yet flushed

cascade_block_cache_hits_total / cascade_block_cache_misses_total:
  - Type: Counter
  - Description: block cache hit/miss counts

Streaming Operator Metrics:

cascade_operator_rows_total{fragment_id, operator}:
  - Type: Counter
  - Description: rows processed by a streaming operator

cascade_operator_backpressure_seconds{fragment_id}:
  - Type: Histogram
  - Description: time an operator spent blocked sending to a full channel

Cluster Metrics:

cascade_raft_is_leader / cascade_raft_applied_index:
  - Type: Gauge
  - Description: this meta replica's Raft leadership and applied index

cascade_nodes_total{status}:
  - Type: Gauge
  - Description: compute nodes by membership status

cascade_actors_total{fragment_id}:
  - Type: Gauge
  - Description: running actors, by fragment

RPC Metrics:

cascade_rpc_requests_total{method, status}:
  - Type: Counter
  - Description: RPCs served, by method and status

cascade_rpc_request_duration_seconds{method}:
  - Type: Histogram
  - Description: RPC duration by method

# Usage

Updating Gauge Metrics:

	import "github.com/cascadedb/cascade/pkg/metrics"

	metrics.BarrierEpoch.Set(float64(epoch))
	metrics.NodesTotal.WithLabelValues("active").Set(5)

Updating Counter Metrics:

	metrics.BarrierCollectionsFailed.Inc()
	metrics.OperatorRowsTotal.WithLabelValues("3", "hash_join").Add(float64(n))

Recording Histogram Observations:

	timer := metrics.NewTimer()
	// ... collect the barrier ...
	timer.ObserveDuration(metrics.BarrierLatency)

Complete Example:

	package main

	import (
		"net/http"

		"github.com/cascadedb/cascade/pkg/metrics"
	)

	func main() {
		collector := metrics.NewCollector(barrierManager, cluster)
		collector.Start()
		defer collector.Stop()

		http.Handle("/metrics", metrics.Handler())
		http.ListenAndServe(":9090", nil)
	}

# Integration Points

  - cmd/cascade meta: runs a Collector over the barrier manager and
    cluster membership
  - cmd/cascade meta, compute and compactor: serve Handler() on /metrics
    next to the health endpoints
  - Prometheus: scrapes /metrics

# Design Patterns

Package Init Registration:
  - All metrics registered in init(); MustRegister panics on duplicate
    registration, so a typo surfaces at process start, not at scrape time

Label Discipline:
  - fragment_id and method are bounded by the catalog/RPC surface, not by
    request volume; avoid per-row or per-epoch labels

Global Metrics:
  - Package-level variables, accessible from any Cascade package without
    a constructor

# Troubleshooting

Missing Metrics:
  - Check the metric is registered in init() and the variable is exported

High Cardinality:
  - Check for a label drawn from an unbounded domain (actor id, epoch);
    aggregate in logs instead

# Monitoring

Barrier Health:
  - Stuck epoch: cascade_barrier_epoch unchanged for > checkpoint interval
  - p99 latency: histogram_quantile(0.99, cascade_barrier_latency_seconds_bucket)
  - Failure rate: rate(cascade_barrier_collections_failed_total[5m])

Compaction Health:
  - Backlog growth: deriv(cascade_compaction_backlog_bytes[10m]) > 0
  - Failure rate: rate(cascade_compaction_tasks_total{outcome="failed"}[5m])

Cache Health:
  - Hit rate: rate(cascade_block_cache_hits_total[5m]) / (rate(cascade_block_cache_hits_total[5m]) + rate(cascade_block_cache_misses_total[5m]))

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
