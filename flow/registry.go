package flow

import (
	"sync"
)

// Info is what the registry remembers about one admitted flow, beyond
// the Flow value itself — the facts the connection-manager event
// carried when the flow was admitted (§6).
type Info struct {
	Flow Flow
	QoS  uint8
	Kind Kind
	Peer uint64 // peer address, opaque here to avoid an import cycle on pcodec
}

// Registry tracks every N-1 flow currently admitted to this IPCP,
// indexed by handle and by QoS cube for the scheduler's round-robin
// sweep. It is the thing routing/DT/the scheduler update in response to
// notifier connection events — the connection manager itself, and the
// shm_rbuff plumbing behind a real Flow, stay out of scope (spec.md §1).
type Registry struct {
	mu     sync.RWMutex
	flows  map[Handle]Info
	byCube map[uint8][]Handle
}

// NewRegistry returns an empty flow registry.
func NewRegistry() *Registry {
	return &Registry{
		flows:  make(map[Handle]Info),
		byCube: make(map[uint8][]Handle),
	}
}

// Add admits a flow, indexing it under its QoS cube.
func (r *Registry) Add(h Handle, info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[h] = info
	r.byCube[info.QoS] = append(r.byCube[info.QoS], h)
}

// Remove withdraws a flow.
func (r *Registry) Remove(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.flows[h]
	if !ok {
		return
	}
	delete(r.flows, h)
	hs := r.byCube[info.QoS]
	for i, hh := range hs {
		if hh == h {
			r.byCube[info.QoS] = append(hs[:i], hs[i+1:]...)
			break
		}
	}
}

// Get returns the Info for h.
func (r *Registry) Get(h Handle) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.flows[h]
	return info, ok
}

// ByCube returns a snapshot of the handles currently admitted under qos.
func (r *Registry) ByCube(qos uint8) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Handle(nil), r.byCube[qos]...)
}

// Cubes returns every QoS cube that currently has at least one flow.
func (r *Registry) Cubes() []uint8 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uint8, 0, len(r.byCube))
	for c, hs := range r.byCube {
		if len(hs) > 0 {
			out = append(out, c)
		}
	}
	return out
}
