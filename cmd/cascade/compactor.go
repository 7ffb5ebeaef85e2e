package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cascadedb/cascade/pkg/blockcache"
	"github.com/cascadedb/cascade/pkg/compactor"
	"github.com/cascadedb/cascade/pkg/config"
	"github.com/cascadedb/cascade/pkg/log"
	"github.com/cascadedb/cascade/pkg/metrics"
	"github.com/cascadedb/cascade/pkg/rpc"
)

var compactorCmd = &cobra.Command{
	Use:   "compactor",
	Short: "Run a compactor worker: pull compaction tasks from meta and execute them",
	RunE:  runCompactor,
}

func runCompactor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPathFlag(cmd), cmd)
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithNodeID(cfg.NodeID)

	store, err := openObjectStore(cfg)
	if err != nil {
		return fmt.Errorf("compactor: open object store: %w", err)
	}
	cache, err := blockcache.New(store, 4096, 256<<20)
	if err != nil {
		return fmt.Errorf("compactor: open block cache: %w", err)
	}

	metaClient, err := rpc.DialMeta(cfg.MetaAddr, metaDialOption(cfg))
	if err != nil {
		return fmt.Errorf("compactor: dial meta %s: %w", cfg.MetaAddr, err)
	}
	defer metaClient.Close()

	worker := compactor.New(cfg.NodeID, cache, store, metaClient, log.WithComponent("compactor"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()
	fmt.Println("✓ Compactor worker started")

	metrics.SetVersion(Version)
	metrics.RegisterComponent("compactor", true, "ready")
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

	fmt.Println("Compactor is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nShutting down...")

	cancel()
	<-done
	_ = metricsSrv.Close()
	fmt.Println("✓ Shutdown complete")
	return nil
}
