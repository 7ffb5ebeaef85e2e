package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// RaftNodeConfig names the pieces a meta replica needs to join or
// bootstrap a Raft group over its BoltStore. Peers lists every voter's
// nodeID@bindAddr, self included, the way a Bootstrap call needs the
// full initial configuration up front.
type RaftNodeConfig struct {
	NodeID    string
	BindAddr  string
	DataDir   string
	Peers     []string // "nodeID@host:port", only read by Bootstrap
	Bootstrap bool
}

// RaftNode replicates a BoltStore across meta replicas, the same
// transport/log-store/stable-store/snapshot-store wiring pkg/manager's
// single-node orchestrator uses, generalized to start from a static peer
// list instead of a join-token RPC dance: Cascade's meta replicas are
// named up front in pkg/config.RaftConfig rather than discovered at
// runtime.
type RaftNode struct {
	raft *raft.Raft
	fsm  *FSM
}

// NewRaftNode starts (but does not bootstrap) a Raft instance fronting
// fsm. Call Bootstrap on exactly one replica of a brand-new cluster;
// every other replica, and every replica of an existing cluster, starts
// with cfg.Bootstrap false and is added as a voter by the current leader
// out of band.
func NewRaftNode(cfg RaftNodeConfig, fsm *FSM) (*RaftNode, error) {
	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.HeartbeatTimeout = 500 * time.Millisecond
	raftCfg.ElectionTimeout = 500 * time.Millisecond
	raftCfg.CommitTimeout = 50 * time.Millisecond
	raftCfg.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("metastore: resolve raft bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("metastore: raft transport: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("metastore: raft snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("metastore: raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("metastore: raft stable store: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("metastore: start raft: %w", err)
	}
	node := &RaftNode{raft: r, fsm: fsm}

	if cfg.Bootstrap {
		servers, err := parsePeers(cfg.Peers)
		if err != nil {
			return nil, err
		}
		if len(servers) == 0 {
			servers = []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}}
		}
		future := r.BootstrapCluster(raft.Configuration{Servers: servers})
		if err := future.Error(); err != nil {
			return nil, fmt.Errorf("metastore: bootstrap raft cluster: %w", err)
		}
	}
	return node, nil
}

func parsePeers(peers []string) ([]raft.Server, error) {
	servers := make([]raft.Server, 0, len(peers))
	for _, p := range peers {
		id, addr, ok := splitPeer(p)
		if !ok {
			return nil, fmt.Errorf("metastore: malformed peer %q, want nodeID@host:port", p)
		}
		servers = append(servers, raft.Server{ID: raft.ServerID(id), Address: raft.ServerAddress(addr)})
	}
	return servers, nil
}

func splitPeer(p string) (id, addr string, ok bool) {
	for i := 0; i < len(p); i++ {
		if p[i] == '@' {
			return p[:i], p[i+1:], true
		}
	}
	return "", "", false
}

// IsLeader reports whether this replica currently holds the Raft
// leadership, gating the write path the way pkg/api guards mutating RPCs
// on the manager's own leader check.
func (n *RaftNode) IsLeader() bool { return n.raft.State() == raft.Leader }

// AddVoter adds a new replica to the cluster; only the current leader's
// call takes effect, matching raft's own semantics.
func (n *RaftNode) AddVoter(nodeID, addr string) error {
	return n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second).Error()
}

// Shutdown stops the Raft instance.
func (n *RaftNode) Shutdown() error {
	return n.raft.Shutdown().Error()
}

// Store returns a metastore.Store backed by this replica: Get/ScanPrefix
// read the local BoltStore directly (every replica replays the same
// applied log, so a local read is linearizable enough for meta's own
// read-mostly catalog/cluster lookups), while Txn only ever takes effect
// by going through raft.Apply so every replica's BoltStore stays in sync.
func (n *RaftNode) Store() Store { return raftStore{n} }

// raftStore adapts a RaftNode to the Store interface.
type raftStore struct{ node *RaftNode }

func (s raftStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	return s.node.fsm.store.Get(ctx, bucket, key)
}

func (s raftStore) ScanPrefix(ctx context.Context, bucket, prefix string) (map[string][]byte, error) {
	return s.node.fsm.store.ScanPrefix(ctx, bucket, prefix)
}

// Txn serializes ops as a Command and submits it to the Raft log. Only
// the leader's Apply call succeeds; a follower's submission returns
// raft's own "not leader" error, matching IsLeader's guard.
func (s raftStore) Txn(ctx context.Context, ops []Op) error {
	data, err := json.Marshal(Command{Ops: ops})
	if err != nil {
		return fmt.Errorf("metastore: marshal command: %w", err)
	}
	future := s.node.raft.Apply(data, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("metastore: raft apply: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return fmt.Errorf("metastore: fsm apply: %w", err)
		}
	}
	return nil
}

func (s raftStore) Close() error { return s.node.Shutdown() }
