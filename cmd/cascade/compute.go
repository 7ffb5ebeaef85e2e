package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/cascadedb/cascade/pkg/actor"
	"github.com/cascadedb/cascade/pkg/blockcache"
	"github.com/cascadedb/cascade/pkg/compute"
	"github.com/cascadedb/cascade/pkg/config"
	"github.com/cascadedb/cascade/pkg/hummock/flush"
	"github.com/cascadedb/cascade/pkg/hummock/localversion"
	"github.com/cascadedb/cascade/pkg/log"
	"github.com/cascadedb/cascade/pkg/meta/cluster"
	"github.com/cascadedb/cascade/pkg/metrics"
	"github.com/cascadedb/cascade/pkg/objectstore"
	"github.com/cascadedb/cascade/pkg/rpc"
)

// heartbeatInterval is how often a compute node refreshes its liveness
// with meta; heartbeatTimeout in meta.go is several multiples of this so
// a single delayed send doesn't look like a failure.
const heartbeatInterval = 5 * time.Second

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Run a compute node: actors, scheduler, local Hummock version mirror",
	RunE:  runCompute,
}

// logFailureHandler satisfies pkg/actor.FailureHandler by logging; the
// scheduler needs a FailureHandler before pkg/compute.Node can exist
// (Node itself also implements FailureHandler, but only once built,
// which needs the scheduler first), so this stands in at construction
// and is replaced by the Node as soon as the Node is built.
type logFailureHandler struct{ log zerolog.Logger }

func (h logFailureHandler) ActorFailed(id actor.ID, err error) {
	h.log.Error().Uint64("actor_id", uint64(id)).Err(err).Msg("actor failed, dropped from scheduler")
}

func runCompute(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPathFlag(cmd), cmd)
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithNodeID(cfg.NodeID)

	store, err := openObjectStore(cfg)
	if err != nil {
		return fmt.Errorf("compute: open object store: %w", err)
	}
	cache, err := blockcache.New(store, 4096, 256<<20)
	if err != nil {
		return fmt.Errorf("compute: open block cache: %w", err)
	}

	metaClient, err := rpc.DialMeta(cfg.MetaAddr, metaDialOption(cfg))
	if err != nil {
		return fmt.Errorf("compute: dial meta %s: %w", cfg.MetaAddr, err)
	}
	defer metaClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initial, versionStream, err := metaClient.PinVersion(ctx)
	if err != nil {
		return fmt.Errorf("compute: pin_version: %w", err)
	}
	mirror := localversion.New(initial, log.WithComponent("localversion"))
	go func() {
		if err := mirror.Run(ctx, versionStream); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("version mirror stopped")
		}
	}()

	scheduler := actor.NewScheduler(runtime.NumCPU(), logFailureHandler{logger}, log.WithComponent("scheduler"))
	node := compute.NewNode(cfg.NodeID, scheduler, mirror, metaClient, logger)
	scheduler.FailureHandler = node

	// Available to whatever hooks a sealed shared buffer at a barrier's
	// collect boundary into an upload; nothing in this binary calls its
	// Flush.
	_ = flush.New(cfg.NodeID, store, metaClient)

	// Compute's own listener stays plaintext even with cfg.TLS.Enabled:
	// issuing it a server cert needs the CA, and the CA only lives on
	// meta's metastore with no RPC yet to hand a compute node its own
	// signed identity.
	grpcServer := grpc.NewServer()
	rpc.RegisterComputeServer(grpcServer, &rpc.ComputeServer{Handlers: node})

	lis, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("compute: listen on %s: %w", cfg.BindAddr, err)
	}
	serveErrCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			serveErrCh <- fmt.Errorf("compute: rpc server: %w", err)
		}
	}()
	fmt.Printf("✓ Compute RPC listening on %s\n", cfg.BindAddr)

	if err := metaClient.Join(ctx, &cluster.ComputeNode{
		ID:              cfg.NodeID,
		Address:         cfg.BindAddr,
		ParallelismUnit: runtime.NumCPU(),
	}); err != nil {
		return fmt.Errorf("compute: join cluster: %w", err)
	}
	fmt.Println("✓ Joined cluster")

	go runHeartbeat(ctx, metaClient, cfg.NodeID, logger)

	metrics.SetVersion(Version)
	metrics.RegisterComponent("rpc", true, "ready")
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server exited")
		}
	}()
	fmt.Printf("✓ Metrics/health endpoints: http://%s/{metrics,health,ready,live}\n", cfg.MetricsAddr)

	fmt.Println("Compute node is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-serveErrCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	cancel()
	scheduler.Stop()
	grpcServer.GracefulStop()
	_ = metricsSrv.Close()
	fmt.Println("✓ Shutdown complete")
	return nil
}

// runHeartbeat pings meta's Heartbeat RPC until ctx is done. A single
// failed send is logged and retried on the next tick rather than ending
// the loop — meta's failure monitor tolerates a gap of several intervals
// before treating this node as lost.
func runHeartbeat(ctx context.Context, meta *rpc.MetaClient, nodeID string, logger zerolog.Logger) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := meta.Heartbeat(ctx, nodeID, time.Now().UnixMilli()); err != nil {
				logger.Error().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

// openObjectStore builds the objectstore.Store a compute node or
// compactor writes/reads SSTs through.
func openObjectStore(cfg *config.Config) (objectstore.Store, error) {
	switch cfg.ObjectStore.Kind {
	case "fs":
		return objectstore.NewFSStore(cfg.ObjectStore.Dir)
	case "memory", "":
		return objectstore.NewMemStore(), nil
	default:
		return nil, fmt.Errorf("config: unknown object_store.kind %q", cfg.ObjectStore.Kind)
	}
}
