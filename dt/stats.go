package dt

import (
	"sync"

	"github.com/ouroboros-go/unicast/flow"
	"github.com/ouroboros-go/unicast/pcodec"
)

// Counters is one flow's sent/received/dropped packet and byte counts
// for one QoS cube (§4.4 Statistics; the byte counts are the
// original's dt.c tracking this spec.md's distillation left as
// "packets" only — see SPEC_FULL.md §5).
type Counters struct {
	SentPackets, RecvPackets, DroppedPackets uint64
	SentBytes, RecvBytes                     uint64
}

type flowStats struct {
	mu     sync.Mutex
	byCube map[pcodec.QoS]*Counters
}

// Stats tracks per-flow, per-QoS counters under one lock per flow, so a
// busy flow never contends with another flow's bookkeeping.
type Stats struct {
	mu    sync.RWMutex
	flows map[flow.Handle]*flowStats
}

func newStats() *Stats {
	return &Stats{flows: make(map[flow.Handle]*flowStats)}
}

func (s *Stats) entry(h flow.Handle) *flowStats {
	s.mu.RLock()
	fs, ok := s.flows[h]
	s.mu.RUnlock()
	if ok {
		return fs
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if fs, ok := s.flows[h]; ok {
		return fs
	}
	fs = &flowStats{byCube: make(map[pcodec.QoS]*Counters)}
	s.flows[h] = fs
	return fs
}

func (fs *flowStats) counters(cube pcodec.QoS) *Counters {
	c, ok := fs.byCube[cube]
	if !ok {
		c = &Counters{}
		fs.byCube[cube] = c
	}
	return c
}

// recordSent increments the sent counters before the write is attempted,
// matching the original's instrumentation-not-contract framing (spec.md
// §9 OQ1/OQ4): a write that subsequently fails still recorded as an
// attempt, not a confirmed delivery.
func (s *Stats) recordSent(h flow.Handle, cube pcodec.QoS, n int) {
	fs := s.entry(h)
	fs.mu.Lock()
	c := fs.counters(cube)
	c.SentPackets++
	c.SentBytes += uint64(n)
	fs.mu.Unlock()
}

func (s *Stats) recordRecv(h flow.Handle, cube pcodec.QoS, n int) {
	fs := s.entry(h)
	fs.mu.Lock()
	c := fs.counters(cube)
	c.RecvPackets++
	c.RecvBytes += uint64(n)
	fs.mu.Unlock()
}

func (s *Stats) recordDropped(h flow.Handle, cube pcodec.QoS) {
	fs := s.entry(h)
	fs.mu.Lock()
	fs.counters(cube).DroppedPackets++
	fs.mu.Unlock()
}

// Snapshot returns a read-only copy of cube's counters for h, for the
// observability surface.
func (s *Stats) Snapshot(h flow.Handle, cube pcodec.QoS) Counters {
	fs := s.entry(h)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return *fs.counters(cube)
}
