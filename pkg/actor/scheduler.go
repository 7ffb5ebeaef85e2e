package actor

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// FailureHandler is notified when an actor's step returns an error or
// panics. The handler typically reports the failure to meta so recovery
// (pkg/meta/recovery) can drop and rebuild the actor's fragment.
type FailureHandler interface {
	ActorFailed(id ID, err error)
}

// Scheduler runs a bounded number of actors concurrently on a small
// goroutine pool: each actor gets its own driving goroutine, but must
// acquire one of Concurrency slots before running a step and releases it
// immediately after, so a node can host far more actors than it has
// slots without any one of them monopolizing a thread. A step blocked on
// a channel recv or a storage read yields its slot back to the Go
// runtime the same way any blocked goroutine does, so a stuck actor
// cannot starve the others.
type Scheduler struct {
	FailureHandler FailureHandler

	log zerolog.Logger
	sem chan struct{}

	mu      sync.Mutex
	cancels map[ID]context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler builds a Scheduler with the given concurrency (number of
// actors allowed to be mid-step at once). logger is typically
// pkg/log.WithComponent("actor").
func NewScheduler(concurrency int, fh FailureHandler, logger zerolog.Logger) *Scheduler {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Scheduler{
		FailureHandler: fh,
		log:            logger,
		sem:            make(chan struct{}, concurrency),
		cancels:        make(map[ID]context.CancelFunc),
	}
}

// Add starts driving a, polling it in a loop until ctx is cancelled, the
// actor is dropped, or a step fails. Adding an actor already running
// under this scheduler replaces its cancel function without stopping the
// old goroutine; callers must Drop before re-Add.
func (s *Scheduler) Add(ctx context.Context, a *Actor) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels[a.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx, a)
}

func (s *Scheduler) run(ctx context.Context, a *Actor) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case s.sem <- struct{}{}:
		}

		err := s.runStep(ctx, a)

		<-s.sem

		if err != nil {
			s.Drop(a.ID)
			if s.FailureHandler != nil {
				s.FailureHandler.ActorFailed(a.ID, err)
			}
			return
		}
	}
}

// runStep runs one step, converting a panic into an error so that one
// actor's bug never takes down the goroutine driving another.
func (s *Scheduler) runStep(ctx context.Context, a *Actor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("actor %d: panic: %v", a.ID, r)
		}
	}()
	if stepErr := a.step(ctx); stepErr != nil && ctx.Err() == nil {
		return fmt.Errorf("actor %d: %w", a.ID, stepErr)
	}
	return nil
}

// Drop stops driving the actor with id, if it is running. The actor's
// in-flight step (if any) observes ctx cancellation on its next
// suspension point and returns.
func (s *Scheduler) Drop(id ID) {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	if ok {
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop cancels every running actor and waits for their goroutines to
// exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	ids := make([]ID, 0, len(s.cancels))
	for id := range s.cancels {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Drop(id)
	}
	s.wg.Wait()
}
