package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cascadedb/cascade/pkg/barrier"
	"github.com/cascadedb/cascade/pkg/key"
	"github.com/cascadedb/cascade/pkg/meta/catalog"
	"github.com/cascadedb/cascade/pkg/meta/cluster"
)

// Reason is why recovery was triggered.
type Reason int

const (
	ActorFailure Reason = iota
	WorkerLoss
	BarrierCollectionTimeout
	ExplicitRebootstrap
)

func (r Reason) String() string {
	switch r {
	case ActorFailure:
		return "actor_failure"
	case WorkerLoss:
		return "worker_loss"
	case BarrierCollectionTimeout:
		return "barrier_collection_timeout"
	case ExplicitRebootstrap:
		return "explicit_rebootstrap"
	default:
		return "unknown"
	}
}

// State is the job-visible status the meta service reports during
// recovery.
type State int

const (
	Running State = iota
	Recovering
)

// ActorDropper drops every running actor across the compute fleet
//.
type ActorDropper interface {
	DropAllActors(ctx context.Context) error
}

// HummockRollback unpins snapshots above the recovery epoch and rolls
// back uncommitted state: shared-buffer entries discarded, upload tasks
// cancelled.
type HummockRollback interface {
	RollbackTo(ctx context.Context, recoveryEpoch key.Epoch) error
}

// ActorBuilder (re)builds actors for a fragment's recomputed placement
// on compute nodes, via the `UpdateActor`/`BuildActor` broadcast.
type ActorBuilder interface {
	BuildActors(ctx context.Context, fragment *catalog.Fragment) error
}

// Placer recomputes fragment → actor placement from the latest catalog
// and the currently live worker set. The default
// Placer (RoundRobinPlacer) spreads each fragment's existing actor count
// evenly across live nodes.
type Placer interface {
	Place(fragment *catalog.Fragment, liveNodes []*cluster.ComputeNode) ([]catalog.FragmentActor, error)
}

// Controller runs the recovery protocol end to end.
type Controller struct {
	Cluster  *cluster.Cluster
	Catalog  *catalog.Catalog
	Barrier  *barrier.Manager
	Dropper  ActorDropper
	Rollback HummockRollback
	Builder  ActorBuilder
	Placer   Placer

	log zerolog.Logger

	mu    sync.Mutex
	state State
}

// NewController builds a Controller. logger is typically
// pkg/log.WithComponent("recovery"). placer defaults to RoundRobinPlacer
// if nil.
func NewController(c *cluster.Cluster, cat *catalog.Catalog, b *barrier.Manager, dropper ActorDropper, rollback HummockRollback, builder ActorBuilder, placer Placer, logger zerolog.Logger) *Controller {
	if placer == nil {
		placer = RoundRobinPlacer{}
	}
	return &Controller{
		Cluster:  c,
		Catalog:  cat,
		Barrier:  b,
		Dropper:  dropper,
		Rollback: rollback,
		Builder:  builder,
		Placer:   placer,
		log:      logger,
	}
}

// State reports whether the controller currently considers the cluster
// to be recovering.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Recover runs the full six-step protocol. lastCommitted
// is the epoch the barrier manager had most recently committed to
// Hummock before the failure; recoveryEpoch is chosen as lastCommitted
// (the protocol requires a recovery epoch "≥ last committed", and the
// most recently committed epoch is always safe to resume from since
// every actor's state at that epoch is already durable).
func (c *Controller) Recover(ctx context.Context, reason Reason) error {
	c.log.Warn().Str("reason", reason.String()).Msg("entering recovery")

	// Step 1: stop issuing barriers, mark jobs Recovering.
	c.mu.Lock()
	c.state = Recovering
	c.mu.Unlock()
	c.Barrier.Pause()

	// Step 2: compute nodes drop all actors.
	if err := c.Dropper.DropAllActors(ctx); err != nil {
		return fmt.Errorf("recovery: drop actors: %w", err)
	}

	// Step 3: pick the recovery epoch and roll Hummock back to it.
	recoveryEpoch := c.Barrier.InFlightPrevEpoch()
	if err := c.Rollback.RollbackTo(ctx, recoveryEpoch); err != nil {
		return fmt.Errorf("recovery: rollback to epoch %d: %w", recoveryEpoch, err)
	}

	// Step 4: recompute fragment -> actor placement against live workers.
	liveNodes, err := c.Cluster.Live(ctx)
	if err != nil {
		return fmt.Errorf("recovery: list live nodes: %w", err)
	}
	fragments, err := c.Catalog.ListFragments(ctx)
	if err != nil {
		return fmt.Errorf("recovery: list fragments: %w", err)
	}
	for _, f := range fragments {
		actors, err := c.Placer.Place(f, liveNodes)
		if err != nil {
			return fmt.Errorf("recovery: place fragment %d: %w", f.ID, err)
		}
		f.Actors = actors
		if err := c.Catalog.UpdateFragment(ctx, f); err != nil {
			return fmt.Errorf("recovery: update fragment %d: %w", f.ID, err)
		}
	}

	// Step 5: broadcast UpdateActor/BuildActor; actors initialize state
	// tables at the recovery epoch.
	for _, f := range fragments {
		if err := c.Builder.BuildActors(ctx, f); err != nil {
			return fmt.Errorf("recovery: build actors for fragment %d: %w", f.ID, err)
		}
	}

	// Step 6: resume barrier injection at curr = recovery_epoch + 1
	// carrying a Resume mutation.
	c.Barrier.ResetInFlightPrevEpoch(recoveryEpoch)
	c.Barrier.PendingMutation = onceMutation(&barrier.Mutation{Kind: barrier.ResumeMutation})
	c.Barrier.Resume()

	c.mu.Lock()
	c.state = Running
	c.mu.Unlock()
	c.log.Info().Uint64("recovery_epoch", uint64(recoveryEpoch)).Msg("recovery complete")
	return nil
}

// onceMutation returns a PendingMutation hook that delivers m exactly
// once, then NoMutation on every subsequent tick — the Resume mutation
// only belongs on the first barrier after recovery.
func onceMutation(m *barrier.Mutation) func() *barrier.Mutation {
	var used bool
	var mu sync.Mutex
	return func() *barrier.Mutation {
		mu.Lock()
		defer mu.Unlock()
		if used {
			return nil
		}
		used = true
		return m
	}
}

// RoundRobinPlacer spreads a fragment's actors evenly across live nodes,
// preserving the fragment's existing actor count (a rescale mid-recovery
// is a separate concern; recovery simply relocates). If there are no
// live nodes, Place returns an error — an empty cluster cannot host any
// actor.
type RoundRobinPlacer struct{}

func (RoundRobinPlacer) Place(fragment *catalog.Fragment, liveNodes []*cluster.ComputeNode) ([]catalog.FragmentActor, error) {
	if len(liveNodes) == 0 {
		return nil, fmt.Errorf("recovery: no live compute nodes to place fragment %d onto", fragment.ID)
	}
	placed := make([]catalog.FragmentActor, len(fragment.Actors))
	for i, a := range fragment.Actors {
		node := liveNodes[i%len(liveNodes)]
		placed[i] = catalog.FragmentActor{ActorID: a.ActorID, NodeID: node.ID, VNodes: a.VNodes}
	}
	return placed, nil
}
