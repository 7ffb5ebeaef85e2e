package hummock

import (
	"fmt"
	"sync"

	"github.com/cascadedb/cascade/pkg/blockcache"
)

// PinToken identifies one held pin, returned by Pin and required to
// release it.
type PinToken uint64

// PinSet tracks which versions are pinned by in-flight readers
// (compactors executing a task, long-running snapshot reads). Meta
// refuses to let a GC sweep delete an SST referenced by any version with
// an outstanding pin.
type PinSet struct {
	mu       sync.Mutex
	next     PinToken
	pins     map[PinToken]*Version
	refCount map[uint64]int // version id -> number of live pins
}

// NewPinSet creates an empty pin tracker.
func NewPinSet() *PinSet {
	return &PinSet{next: 1, pins: map[PinToken]*Version{}, refCount: map[uint64]int{}}
}

// Pin records that v is in use and must not be garbage collected until
// Unpin is called with the returned token.
func (p *PinSet) Pin(v *Version) PinToken {
	p.mu.Lock()
	defer p.mu.Unlock()
	tok := p.next
	p.next++
	p.pins[tok] = v
	p.refCount[v.ID]++
	return tok
}

// Unpin releases a previously-held pin. Unpinning an unknown token is a
// programmer error and panics rather than silently ignoring it.
func (p *PinSet) Unpin(tok PinToken) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.pins[tok]
	if !ok {
		panic(fmt.Sprintf("hummock: unpin of unknown token %d", tok))
	}
	delete(p.pins, tok)
	p.refCount[v.ID]--
	if p.refCount[v.ID] <= 0 {
		delete(p.refCount, v.ID)
	}
}

// IsPinned reports whether any live pin still references the version
// with the given id.
func (p *PinSet) IsPinned(versionID uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refCount[versionID] > 0
}

// LiveSSTIDs returns the union of every SST object id referenced by any
// currently pinned version. The GC sweep (Sweep) may delete anything not
// in this set (after its own retention grace period).
func (p *PinSet) LiveSSTIDs() map[blockcache.ObjectID]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	live := map[blockcache.ObjectID]bool{}
	for _, v := range p.pins {
		for id := range v.SSTIDs() {
			live[id] = true
		}
	}
	return live
}
