package localversion

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cascadedb/cascade/pkg/hummock"
)

// DeltaSource is whatever feeds version deltas to a Mirror: a gRPC
// streaming client in production (pkg/rpc), an in-process channel in
// tests and single-binary deployments.
type DeltaSource interface {
	// Recv blocks for the next delta pushed by meta. It returns an error
	// (including ctx.Err()) when the stream ends.
	Recv(ctx context.Context) (hummock.Delta, error)
}

// Mirror holds a compute node's local copy of the current Hummock
// version, updated as meta pushes deltas. Reads (state table scans,
// streaming backfill) resolve against Current() without contacting meta.
type Mirror struct {
	log zerolog.Logger

	mu      sync.RWMutex
	current *hummock.Version

	subsMu sync.Mutex
	subs   []chan *hummock.Version
}

// New creates a mirror starting from an initial version, normally
// obtained by a one-shot RPC to meta when a compute node joins.
func New(initial *hummock.Version, log zerolog.Logger) *Mirror {
	if initial == nil {
		initial = hummock.NewVersion()
	}
	return &Mirror{current: initial, log: log.With().Str("component", "localversion").Logger()}
}

// Current returns the mirror's current version snapshot. The returned
// value is immutable and safe to use without holding any lock.
func (m *Mirror) Current() *hummock.Version {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe returns a channel that receives every new version as the
// mirror applies deltas. The channel is closed when ctx is done. Readers
// that only need eventual consistency should prefer Current(); Subscribe
// is for callers (e.g. a watermark-driven cleanup loop) that must react
// to every commit.
func (m *Mirror) Subscribe(ctx context.Context) <-chan *hummock.Version {
	ch := make(chan *hummock.Version, 8)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		for i, c := range m.subs {
			if c == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// Run pulls deltas from src until ctx is canceled or src.Recv errors,
// applying each one to the mirrored version. It is meant to run for the
// lifetime of a compute node in its own goroutine.
func (m *Mirror) Run(ctx context.Context, src DeltaSource) error {
	for {
		delta, err := src.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.log.Error().Err(err).Msg("version delta stream ended")
			return err
		}
		m.Apply(delta)
	}
}

// Apply applies delta to the mirrored version directly, without going
// through a DeltaSource. Run calls this for every delta it receives; an
// embedded deployment that runs meta and compute in one process, or a
// test harness, can call it the same way.
func (m *Mirror) Apply(delta hummock.Delta) {
	m.mu.Lock()
	next := m.current.Apply(delta)
	m.current = next
	m.mu.Unlock()

	m.log.Debug().Uint64("version", next.ID).Msg("applied version delta")

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- next:
		default:
			// A slow subscriber drops intermediate versions; Current()
			// always reflects the latest one regardless.
		}
	}
}
