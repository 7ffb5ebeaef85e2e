package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/cascadedb/cascade/pkg/barrier"
	"github.com/cascadedb/cascade/pkg/config"
	"github.com/cascadedb/cascade/pkg/health"
	"github.com/cascadedb/cascade/pkg/hummock"
	"github.com/cascadedb/cascade/pkg/log"
	"github.com/cascadedb/cascade/pkg/meta/catalog"
	"github.com/cascadedb/cascade/pkg/meta/cluster"
	"github.com/cascadedb/cascade/pkg/meta/recovery"
	metaserver "github.com/cascadedb/cascade/pkg/meta/server"
	"github.com/cascadedb/cascade/pkg/metastore"
	"github.com/cascadedb/cascade/pkg/metrics"
	"github.com/cascadedb/cascade/pkg/rpc"
	"github.com/cascadedb/cascade/pkg/security"
)

// heartbeatTimeout is how long a compute node may go without a
// heartbeat before the failure monitor marks it dead and triggers
// recovery.
const heartbeatTimeout = 15 * time.Second

var metaCmd = &cobra.Command{
	Use:   "meta",
	Short: "Run a meta replica: catalog, cluster membership, barrier manager, Hummock version authority",
	RunE:  runMeta,
}

func runMeta(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPathFlag(cmd), cmd)
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithNodeID(cfg.NodeID)

	store, closeStore, err := openMetaStore(cfg)
	if err != nil {
		return fmt.Errorf("meta: open store: %w", err)
	}
	defer closeStore()

	clust := cluster.New(store)
	cat := catalog.New(store)
	hummockMgr := hummock.NewVersionManager(nil)
	placement := metaserver.NewActorPlacement()
	pool := rpc.NewComputePool(clust)

	injector := &rpc.Injector{Pool: pool, Router: placement}
	barrierMgr := barrier.NewManager(injector, hummockMgr, log.WithComponent("barrier"))
	barrierMgr.SourceActors = func() []barrier.ActorID { return fragmentActorIDs(cat, true) }
	barrierMgr.ActorsToCollect = func() []barrier.ActorID { return fragmentActorIDs(cat, false) }

	dropper := &rpc.ActorDropper{Pool: pool, Cluster: clust}
	builder := &metaserver.ObservingBuilder{Builder: &rpc.ActorBuilder{Pool: pool}, Placement: placement}
	recoveryCtrl := recovery.NewController(clust, cat, barrierMgr, dropper, hummockMgr, builder, nil, log.WithComponent("recovery"))
	barrierMgr.OnTickFailure = func(ctx context.Context) error {
		if recoveryCtrl.State() != recovery.Running {
			return nil
		}
		return recoveryCtrl.Recover(ctx, recovery.BarrierCollectionTimeout)
	}

	handlers := metaserver.New(barrierMgr, hummockMgr, clust, recoveryCtrl, log.WithComponent("meta_server"))

	serverOpts, err := metaServerOptions(cfg, store)
	if err != nil {
		return fmt.Errorf("meta: tls: %w", err)
	}
	grpcServer := grpc.NewServer(serverOpts...)
	rpc.RegisterMetaServer(grpcServer, &rpc.MetaServer{Handlers: handlers})

	lis, err := net.Listen("tcp", cfg.MetaAddr)
	if err != nil {
		return fmt.Errorf("meta: listen on %s: %w", cfg.MetaAddr, err)
	}
	serveErrCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			serveErrCh <- fmt.Errorf("meta: rpc server: %w", err)
		}
	}()
	fmt.Printf("✓ Meta RPC listening on %s\n", cfg.MetaAddr)

	barrierMgr.Start(func() int64 { return time.Now().UnixMilli() })
	fmt.Println("✓ Barrier manager started")

	collector := metrics.NewCollector(barrierMgr, clust)
	collector.Start()
	metrics.SetVersion(Version)
	metrics.RegisterComponent("raft", true, "ready")
	metrics.RegisterComponent("metastore", true, "ready")
	metrics.RegisterComponent("barrier", true, "ready")

	ctx, cancelMonitor := context.WithCancel(context.Background())
	go runFailureMonitor(ctx, clust, recoveryCtrl, logger)

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

	fmt.Println("Meta node is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-serveErrCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	cancelMonitor()
	barrierMgr.Stop()
	collector.Stop()
	grpcServer.GracefulStop()
	_ = metricsSrv.Close()
	fmt.Println("✓ Shutdown complete")
	return nil
}

// openMetaStore builds the metastore.Store this replica reads and
// writes through: a plain MemStore for a single-node demo (no peers
// configured), or a Raft-replicated BoltStore when cfg.Raft.Peers names
// a quorum.
func openMetaStore(cfg *config.Config) (metastore.Store, func(), error) {
	if len(cfg.Raft.Peers) == 0 {
		store := metastore.NewMemStore()
		return store, func() {}, nil
	}

	bolt, err := metastore.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open bolt store: %w", err)
	}
	fsm := metastore.NewFSM(bolt)
	node, err := metastore.NewRaftNode(metastore.RaftNodeConfig{
		NodeID:    cfg.NodeID,
		BindAddr:  cfg.BindAddr,
		DataDir:   cfg.DataDir,
		Peers:     cfg.Raft.Peers,
		Bootstrap: cfg.Raft.Bootstrap,
	}, fsm)
	if err != nil {
		return nil, nil, fmt.Errorf("start raft node: %w", err)
	}
	return node.Store(), func() { _ = node.Shutdown() }, nil
}

// metaServerOptions builds this replica's gRPC server options, adding
// TLS server credentials off a self-managed CA when cfg.TLS.Enabled.
// The CA's root material lives in the same metastore.Store as the
// catalog, so every replica that loads it derives the same identity.
func metaServerOptions(cfg *config.Config, store metastore.Store) ([]grpc.ServerOption, error) {
	if !cfg.TLS.Enabled {
		return nil, nil
	}

	if err := security.SetClusterEncryptionKey(security.DeriveKeyFromClusterID(cfg.TLS.ClusterID)); err != nil {
		return nil, err
	}
	ca := security.NewCertAuthority(store)
	if err := ca.LoadFromStore(); err != nil {
		if err := ca.Initialize(); err != nil {
			return nil, fmt.Errorf("initialize ca: %w", err)
		}
		if err := ca.SaveToStore(); err != nil {
			return nil, fmt.Errorf("save ca: %w", err)
		}
	}

	host, _, splitErr := net.SplitHostPort(cfg.BindAddr)
	if splitErr != nil {
		host = cfg.BindAddr
	}
	cert, err := nodeCertificate(ca, cfg.NodeID, host)
	if err != nil {
		return nil, fmt.Errorf("meta server cert: %w", err)
	}

	tlsCfg := &tls.Config{Certificates: []tls.Certificate{*cert}, ClientAuth: tls.RequireAnyClientCert}
	return []grpc.ServerOption{grpc.Creds(credentials.NewTLS(tlsCfg))}, nil
}

// nodeCertificate returns this node's server certificate, reusing a
// cached one from disk across restarts instead of asking ca to issue a
// fresh one every time the process starts. A cached cert is trusted only
// if it still chains to ca's current root (the root rotates independently
// of any one node's cert — a stale cache from a previous CA must not be
// trusted silently) and still has enough validity left.
func nodeCertificate(ca *security.CertAuthority, nodeID, host string) (*tls.Certificate, error) {
	certDir, err := security.GetCertDir("meta", nodeID)
	if err != nil {
		return nil, fmt.Errorf("cert dir: %w", err)
	}

	if security.CertExists(certDir) {
		cached, loadErr := security.LoadCertFromFile(certDir)
		if loadErr == nil {
			root, rootErr := x509.ParseCertificate(ca.GetRootCACert())
			if rootErr == nil {
				if verr := security.ValidateCertChain(cached.Leaf, root); verr == nil && !security.CertNeedsRotation(cached.Leaf) {
					return cached, nil
				}
			}
		}
	}

	issued, err := ca.IssueNodeCertificate(nodeID, "meta", []string{host}, nil)
	if err != nil {
		return nil, fmt.Errorf("issue: %w", err)
	}
	if err := security.SaveCertToFile(issued, certDir); err != nil {
		return nil, fmt.Errorf("persist cert: %w", err)
	}
	if err := security.SaveCACertToFile(ca.GetRootCACert(), certDir); err != nil {
		return nil, fmt.Errorf("persist ca cert: %w", err)
	}
	return issued, nil
}

// fragmentActorIDs lists actor ids across every catalog fragment.
// rootOnly restricts this to fragments with no Upstream — the source
// fragments a barrier is injected into directly; every other actor
// receives it by propagation across its inbound channel and reports its
// own Collect once it has forwarded the barrier downstream.
func fragmentActorIDs(cat *catalog.Catalog, rootOnly bool) []barrier.ActorID {
	fragments, err := cat.ListFragments(context.Background())
	if err != nil {
		return nil
	}
	var ids []barrier.ActorID
	for _, f := range fragments {
		if rootOnly && len(f.Upstream) != 0 {
			continue
		}
		for _, fa := range f.Actors {
			ids = append(ids, barrier.ActorID(fa.ActorID))
		}
	}
	return ids
}

// runFailureMonitor periodically marks unresponsive compute nodes dead
// and triggers recovery via the WorkerLoss path, alongside ActorFailure.
// It polls rather than reacting to a single
// missed heartbeat so a brief network blip doesn't thrash recovery. A
// node past its heartbeat deadline still gets one TCP reachability
// probe before condemnation — a node that's merely slow to send its
// heartbeat (GC pause, busy scheduler) usually still has its RPC
// listener up, and that distinguishes it from one that's actually gone.
func runFailureMonitor(ctx context.Context, clust *cluster.Cluster, ctrl *recovery.Controller, logger zerolog.Logger) {
	ticker := time.NewTicker(heartbeatTimeout / 3)
	defer ticker.Stop()
	probeTimeout := heartbeatTimeout / 3
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nodes, err := clust.Live(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("failure monitor: list live nodes")
				continue
			}
			now := time.Now().UnixMilli()
			lost := false
			for _, n := range nodes {
				if n.LastHeartbeat == 0 {
					continue // just joined, hasn't heartbeat yet
				}
				if time.Duration(now-n.LastHeartbeat)*time.Millisecond <= heartbeatTimeout {
					continue
				}
				logger.Warn().Str("node_id", n.ID).Msg("compute node missed its heartbeat deadline")

				probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
				result := health.NewTCPChecker(n.Address).WithTimeout(probeTimeout).Check(probeCtx)
				cancel()
				if result.Healthy {
					logger.Warn().Str("node_id", n.ID).Msg("node still reachable by tcp, holding off recovery")
					continue
				}

				logger.Error().Str("node_id", n.ID).Str("probe_error", result.Message).Msg("compute node unreachable, marking dead")
				if err := clust.MarkDead(ctx, n.ID); err != nil {
					logger.Error().Err(err).Str("node_id", n.ID).Msg("failure monitor: mark dead")
					continue
				}
				lost = true
			}
			if lost && ctrl.State() == recovery.Running {
				if err := ctrl.Recover(ctx, recovery.WorkerLoss); err != nil {
					logger.Error().Err(err).Msg("recovery failed")
				}
			}
		}
	}
}
