package barrier

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cascadedb/cascade/pkg/key"
)

// ActorID identifies one streaming actor the barrier manager injects
// into or collects from.
type ActorID uint64

// MutationKind tags the cluster-wide side effect a barrier carries.
// Distinct from streaming.MutationKind (pkg/streaming), which is the
// narrower per-operator mutation an actor applies locally; the manager
// deals in whole-graph changes before they are ever translated into one.
type MutationKind int

const (
	NoMutation MutationKind = iota
	ScaleMutation
	CreateJobMutation
	DropJobMutation
	PauseMutation
	ResumeMutation
	AssignSplitsMutation
)

// Mutation is the payload attached to the barrier for one epoch.
type Mutation struct {
	Kind   MutationKind
	VNodes map[ActorID][]key.VNode // meaningful for ScaleMutation
	Splits map[ActorID][]string    // meaningful for AssignSplitsMutation
}

// Injector delivers inject_barrier to one source actor, wherever it runs — locally, or over pkg/rpc to a remote
// compute node.
type Injector interface {
	InjectBarrier(ctx context.Context, actor ActorID, prevEpoch, epoch key.Epoch, actorsToCollect []ActorID, mutation *Mutation) error
}

// HummockCommitter advances the committed Hummock version once an
// epoch's barrier has been collected from every actor.
type HummockCommitter interface {
	CommitEpoch(ctx context.Context, epoch key.Epoch) error
}

// inFlight tracks one epoch's outstanding collect acknowledgements.
type inFlight struct {
	epoch   key.Epoch
	pending map[ActorID]bool
	done    chan struct{}
}

// Manager is the meta-side barrier manager. It owns in_flight_prev_epoch
// and the InflightActorInfo for whichever epoch is currently circulating
// the graph.
type Manager struct {
	Injector        Injector
	Hummock         HummockCommitter
	SourceActors    func() []ActorID
	ActorsToCollect func() []ActorID
	PendingMutation func() *Mutation
	Interval        time.Duration

	// CollectTimeout bounds how long a Tick waits on a stuck collect
	// before giving up on the epoch; defaultCollectTimeout if zero.
	// Without a bound, one actor that never acknowledges (crashed mid
	// processing, wedged on a channel send) would block the control loop
	// forever, since nothing else advances inFlightPrevEpoch.
	CollectTimeout time.Duration

	// OnTickFailure is invoked whenever a Tick returns an error —
	// inject failing for one actor, a commit failing, or a collect
	// timing out — so the failure can drive recovery instead of the
	// loop silently moving on to the next epoch. Wired to
	// pkg/meta/recovery.Controller.Recover(ctx, recovery.BarrierCollectionTimeout)
	// in a real deployment; nil disables recovery (tests that don't care).
	OnTickFailure func(ctx context.Context) error

	log zerolog.Logger

	mu                sync.Mutex
	inFlightPrevEpoch key.Epoch
	current           *inFlight
	logicalCounter    uint16

	paused atomic.Bool
	stopCh chan struct{}
}

// defaultCollectTimeout bounds a Tick's wait for every actor's collect
// acknowledgement when CollectTimeout is unset.
const defaultCollectTimeout = 30 * time.Second

// recoveryTriggerTimeout bounds how long OnTickFailure itself may run;
// recovery's own steps (drop actors, roll back Hummock, rebuild) carry
// their own deadlines downstream, this just stops a wedged recovery call
// from pinning the control-loop goroutine indefinitely.
const recoveryTriggerTimeout = time.Minute

// NewManager builds a Manager. logger is typically pkg/log.WithComponent("barrier").
func NewManager(injector Injector, hummock HummockCommitter, logger zerolog.Logger) *Manager {
	return &Manager{
		Injector:       injector,
		Hummock:        hummock,
		Interval:       time.Second,
		CollectTimeout: defaultCollectTimeout,
		log:            logger,
		stopCh:         make(chan struct{}),
	}
}

// Start runs the injection/collection loop until Stop is called. now
// supplies the wall-clock millisecond timestamp for each generated
// epoch, so tests can drive it deterministically.
func (m *Manager) Start(now func() int64) {
	go m.run(now)
}

// Stop ends the control loop.
func (m *Manager) Stop() {
	close(m.stopCh)
}

func (m *Manager) run(now func() int64) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if m.paused.Load() {
				continue
			}
			if err := m.Tick(context.Background(), now()); err != nil {
				m.log.Error().Err(err).Msg("barrier tick failed")
				m.triggerRecovery()
			}
		case <-m.stopCh:
			return
		}
	}
}

// triggerRecovery calls OnTickFailure, if set, bounding it with
// recoveryTriggerTimeout. Recovery itself pauses the control loop, so by
// the time this returns the next ticker-driven Tick will no-op until
// something Resumes it.
func (m *Manager) triggerRecovery() {
	if m.OnTickFailure == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recoveryTriggerTimeout)
	defer cancel()
	if err := m.OnTickFailure(ctx); err != nil {
		m.log.Error().Err(err).Msg("recovery after barrier tick failure failed")
	}
}

// Pause stops the control loop from issuing new ticks, the first step of
// recovery: "stops issuing barriers" without
// tearing down the loop goroutine itself. A Tick call made directly
// while paused still runs — Pause only affects the ticker-driven loop.
func (m *Manager) Pause() { m.paused.Store(true) }

// Resume lets the ticker-driven loop issue ticks again.
func (m *Manager) Resume() { m.paused.Store(false) }

// ResetInFlightPrevEpoch overwrites in_flight_prev_epoch directly,
// without running a Tick cycle. Recovery calls this once it has picked
// the recovery epoch, so resuming (step 6)
// injects its first barrier with prevEpoch = recoveryEpoch rather than
// whatever epoch was in flight when the failure occurred.
func (m *Manager) ResetInFlightPrevEpoch(epoch key.Epoch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlightPrevEpoch = epoch
}

// Tick runs one generate/inject/collect/commit cycle. nowMillis is the wall-clock millisecond timestamp the new
// epoch's physical-time component is derived from.
func (m *Manager) Tick(ctx context.Context, nowMillis int64) (err error) {
	m.mu.Lock()
	prev := m.inFlightPrevEpoch
	m.logicalCounter++
	epoch := key.NewEpoch(nowMillis, m.logicalCounter)
	toCollect := m.ActorsToCollect()
	var mutation *Mutation
	if m.PendingMutation != nil {
		mutation = m.PendingMutation()
	}
	fl := &inFlight{epoch: epoch, pending: make(map[ActorID]bool, len(toCollect)), done: make(chan struct{})}
	for _, a := range toCollect {
		fl.pending[a] = true
	}
	m.current = fl
	noActorsToCollect := len(fl.pending) == 0
	m.mu.Unlock()
	if noActorsToCollect {
		close(fl.done)
	}

	// Whatever ends this Tick in error leaves its epoch stuck in
	// m.current unless we clear it here — otherwise the next Tick call
	// would silently overwrite it, dropping the failed epoch without
	// ever committing or recovering it.
	defer func() {
		if err != nil {
			m.mu.Lock()
			if m.current == fl {
				m.current = nil
			}
			m.mu.Unlock()
		}
	}()

	for _, a := range m.SourceActors() {
		if ierr := m.Injector.InjectBarrier(ctx, a, prev, epoch, toCollect, mutation); ierr != nil {
			return fmt.Errorf("barrier: inject actor %d at epoch %d: %w", a, epoch, ierr)
		}
	}

	collectTimeout := m.CollectTimeout
	if collectTimeout <= 0 {
		collectTimeout = defaultCollectTimeout
	}
	timer := time.NewTimer(collectTimeout)
	defer timer.Stop()
	select {
	case <-fl.done:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		m.mu.Lock()
		pending := len(fl.pending)
		m.mu.Unlock()
		return fmt.Errorf("barrier: collect epoch %d timed out after %s waiting on %d actor(s)", epoch, collectTimeout, pending)
	}

	if cerr := m.Hummock.CommitEpoch(ctx, prev); cerr != nil {
		return fmt.Errorf("barrier: commit epoch %d: %w", prev, cerr)
	}

	m.mu.Lock()
	m.inFlightPrevEpoch = epoch
	if m.current == fl {
		m.current = nil
	}
	m.mu.Unlock()
	m.log.Debug().Uint64("prev_epoch", uint64(prev)).Uint64("epoch", uint64(epoch)).Msg("committed epoch")
	return nil
}

// Collect records that actor has flushed its per-epoch state for epoch,
// the acknowledgement a barrier's Tick is waiting to receive from every
// actor in actorsToCollect. A collect for an
// epoch that is not currently in flight (late, or for one already
// committed) is ignored.
func (m *Manager) Collect(actor ActorID, epoch key.Epoch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fl := m.current
	if fl == nil || fl.epoch != epoch {
		return
	}
	if _, ok := fl.pending[actor]; !ok {
		return
	}
	delete(fl.pending, actor)
	if len(fl.pending) == 0 {
		close(fl.done)
	}
}

// InFlightPrevEpoch returns in_flight_prev_epoch: the epoch of the most
// recently collected barrier. The next Tick injects it as prev and
// commits it to Hummock once that barrier is collected, so Hummock's
// committed epoch trails this value by one barrier.
func (m *Manager) InFlightPrevEpoch() key.Epoch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlightPrevEpoch
}
