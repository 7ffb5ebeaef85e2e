package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"
)

// FSM replicates a BoltStore's contents across meta replicas via Raft:
// every Txn call is appended to the Raft log as a Command, and Apply
// re-runs it against the local BoltStore once Raft commits it, the same
// apply-a-command-produces-new-state shape of a typical Raft FSM.
type FSM struct {
	store *BoltStore
}

// NewFSM wraps store for Raft replication.
func NewFSM(store *BoltStore) *FSM {
	return &FSM{store: store}
}

// Command is one replicated log entry: the ops of a single Txn call.
type Command struct {
	Ops []Op `json:"ops"`
}

// Apply implements raft.FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("metastore: unmarshal command: %w", err)
	}
	return f.store.Txn(context.Background(), cmd.Ops)
}

// Snapshot implements raft.FSM.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	dump, err := f.store.dump()
	if err != nil {
		return nil, fmt.Errorf("metastore: dump for snapshot: %w", err)
	}
	return &fsmSnapshot{data: dump}, nil
}

// Restore implements raft.FSM.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var dump map[string]map[string][]byte
	if err := json.NewDecoder(rc).Decode(&dump); err != nil {
		return fmt.Errorf("metastore: decode snapshot: %w", err)
	}
	return f.store.load(dump)
}

type fsmSnapshot struct {
	data map[string]map[string][]byte
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.data); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}
