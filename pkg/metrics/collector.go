package metrics

import (
	"context"
	"time"

	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/meta/cluster"
)

// BarrierSource is the subset of *barrier.Manager the collector reads.
// Kept as a small interface, the same decoupling pattern pkg/meta/recovery
// uses, so this package never needs to import pkg/barrier directly.
type BarrierSource interface {
	InFlightPrevEpoch() key.Epoch
}

// ClusterSource is the subset of *cluster.Cluster the collector reads.
type ClusterSource interface {
	Live(ctx context.Context) ([]*cluster.ComputeNode, error)
}

// Collector periodically samples meta's in-memory state into the
// BarrierEpoch gauge and the NodesTotal gauge (live nodes only, by
// status). It is the only code in the repository that updates a metric;
// the other registered counters, gauges and histograms are not updated
// anywhere.
type Collector struct {
	barrier BarrierSource
	cluster ClusterSource
	stopCh  chan struct{}
}

// NewCollector builds a Collector over a live barrier manager and cluster.
func NewCollector(barrier BarrierSource, cluster ClusterSource) *Collector {
	return &Collector{barrier: barrier, cluster: cluster, stopCh: make(chan struct{})}
}

// Start begins sampling every 15 seconds until Stop is called.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect(context.Background())
		for {
			select {
			case <-ticker.C:
				c.collect(context.Background())
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the sampling goroutine.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect(ctx context.Context) {
	c.collectBarrierMetrics()
	c.collectClusterMetrics(ctx)
}

func (c *Collector) collectBarrierMetrics() {
	if c.barrier == nil {
		return
	}
	BarrierEpoch.Set(float64(c.barrier.InFlightPrevEpoch()))
}

func (c *Collector) collectClusterMetrics(ctx context.Context) {
	if c.cluster == nil {
		return
	}
	nodes, err := c.cluster.Live(ctx)
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, n := range nodes {
		counts[n.Status.String()]++
	}
	NodesTotal.Reset()
	for status, count := range counts {
		NodesTotal.WithLabelValues(status).Set(float64(count))
	}
}
