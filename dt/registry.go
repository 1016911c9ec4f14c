package dt

import (
	"sync"

	"github.com/ouroboros-go/unicast/kerr"
	"github.com/ouroboros-go/unicast/pcodec"
)

// Deliverer receives a fully-stripped SDU addressed to a registered
// component (routing, the DHT, management).
type Deliverer func(buf []byte)

// componentRegistry allocates reserved EIDs in [0, R) from a bitmap and
// maps each to its name and callback. At most one component per EID;
// registration is otherwise just bitmap bookkeeping, no pointer-identity
// keying (spec.md §9's guidance on pointer-identity-as-key).
type componentRegistry struct {
	mu       sync.Mutex
	reserved pcodec.EID // R: exclusive upper bound of the reserved range
	taken    []bool
	names    []string
	handlers []Deliverer
}

func newComponentRegistry(reserved pcodec.EID) *componentRegistry {
	return &componentRegistry{
		reserved: reserved,
		taken:    make([]bool, reserved),
		names:    make([]string, reserved),
		handlers: make([]Deliverer, reserved),
	}
}

// Register allocates the lowest free reserved EID for name/callback.
func (r *componentRegistry) Register(name string, cb Deliverer) (pcodec.EID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.taken {
		if !r.taken[i] {
			r.taken[i] = true
			r.names[i] = name
			r.handlers[i] = cb
			return pcodec.EID(i), nil
		}
	}
	return 0, kerr.New("dt.Register", kerr.Resource).WithDst(name)
}

// Unregister frees eid, if it was taken.
func (r *componentRegistry) Unregister(eid pcodec.EID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(eid) >= len(r.taken) || !r.taken[eid] {
		return
	}
	r.taken[eid] = false
	r.names[eid] = ""
	r.handlers[eid] = nil
}

// Deliver invokes the callback registered at eid, reporting NoComponent
// if none is registered there.
func (r *componentRegistry) Deliver(eid pcodec.EID, buf []byte) error {
	r.mu.Lock()
	cb := r.handlers[safeIdx(eid, len(r.handlers))]
	ok := int(eid) < len(r.taken) && r.taken[eid]
	r.mu.Unlock()
	if !ok || cb == nil {
		return kerr.New("dt.Deliver", kerr.NoComponent)
	}
	cb(buf)
	return nil
}

func safeIdx(eid pcodec.EID, n int) int {
	if int(eid) >= n {
		return 0
	}
	return int(eid)
}
