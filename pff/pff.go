// Package pff implements the per-QoS packet forwarding table (§4.1): a
// destination-keyed map to an ordered list of outgoing flow handles,
// rebuilt wholesale by the routing calculator and read concurrently by
// the data transfer hot path.
package pff

import (
	"sort"
	"sync"

	"github.com/ouroboros-go/unicast/flow"
	"github.com/ouroboros-go/unicast/kerr"
	"github.com/ouroboros-go/unicast/pcodec"
)

// Table is one QoS cube's forwarding table. Readers (NextHop) and a
// single writer (Add/Flush/Batch) are safe for concurrent use; a
// NextHop call concurrent with a mutation observes the table either
// wholly before or wholly after that mutation, never a torn entry,
// because every mutation replaces rather than edits an entry's slice.
type Table struct {
	mu      sync.RWMutex
	entries map[pcodec.Addr][]flow.Handle
}

// New returns an empty forwarding table.
func New() *Table {
	return &Table{entries: make(map[pcodec.Addr][]flow.Handle)}
}

// Add installs or replaces the entry for dst. handles[0] is the primary
// next hop; any further entries are LFA/ECMP alternates in priority
// order.
func (t *Table) Add(dst pcodec.Addr, handles ...flow.Handle) {
	cp := append([]flow.Handle(nil), handles...)
	t.mu.Lock()
	t.entries[dst] = cp
	t.mu.Unlock()
}

// NextHop returns the primary next hop for dst, or ErrNoRoute if absent.
func (t *Table) NextHop(dst pcodec.Addr) (flow.Handle, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hs, ok := t.entries[dst]
	if !ok || len(hs) == 0 {
		return 0, kerr.New("pff.NextHop", kerr.NoRoute)
	}
	return hs[0], nil
}

// AllHops returns every next hop for dst (primary plus alternates), for
// callers that want ECMP fan-out rather than the single primary.
func (t *Table) AllHops(dst pcodec.Addr) ([]flow.Handle, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hs, ok := t.entries[dst]
	if !ok || len(hs) == 0 {
		return nil, kerr.New("pff.AllHops", kerr.NoRoute)
	}
	return append([]flow.Handle(nil), hs...), nil
}

// Flush removes every entry.
func (t *Table) Flush() {
	t.mu.Lock()
	t.entries = make(map[pcodec.Addr][]flow.Handle)
	t.mu.Unlock()
}

// Batch brackets a sequence of mutations (typically a Flush followed by
// a run of Add calls from a routing recomputation) so readers see either
// the pre- or post-batch table, never an intermediate state. This is the
// Go rendering of spec.md §4.1's exported lock()/unlock() pair: a
// exported bracket would leak the mutex across an API boundary, so the
// bracket is instead a closure taking the write lock for its duration.
func (t *Table) Batch(fn func(b *Batcher)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&Batcher{t: t})
}

// Batcher is the mutation surface exposed inside a Batch callback.
type Batcher struct {
	t *Table
}

func (b *Batcher) Flush() {
	b.t.entries = make(map[pcodec.Addr][]flow.Handle)
}

func (b *Batcher) Add(dst pcodec.Addr, handles ...flow.Handle) {
	b.t.entries[dst] = append([]flow.Handle(nil), handles...)
}

// Snapshot returns destinations in sorted order with their next-hop
// lists, for deterministic test assertions and diagnostics.
func (t *Table) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, 0, len(t.entries))
	for dst, hs := range t.entries {
		out = append(out, Entry{Dst: dst, Hops: append([]flow.Handle(nil), hs...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dst < out[j].Dst })
	return out
}

// Entry is one destination's forwarding entry, as returned by Snapshot.
type Entry struct {
	Dst  pcodec.Addr
	Hops []flow.Handle
}

// Set holds one Table per QoS cube, indexed by cube.
type Set struct {
	mu     sync.RWMutex
	tables map[pcodec.QoS]*Table
}

// NewSet returns an empty per-QoS table set.
func NewSet() *Set {
	return &Set{tables: make(map[pcodec.QoS]*Table)}
}

// Table returns the Table for cube, creating it on first use.
func (s *Set) Table(cube pcodec.QoS) *Table {
	s.mu.RLock()
	t, ok := s.tables[cube]
	s.mu.RUnlock()
	if ok {
		return t
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[cube]; ok {
		return t
	}
	t = New()
	s.tables[cube] = t
	return t
}

// NextHop looks up (cube, dst) directly without a separate Table call.
func (s *Set) NextHop(cube pcodec.QoS, dst pcodec.Addr) (flow.Handle, error) {
	return s.Table(cube).NextHop(dst)
}
