package dht

import (
	"sync"
	"time"

	"github.com/ouroboros-go/unicast/pcodec"
)

// value is one stored (address, expiry) pair under a DHT entry's key,
// plus when it is next due for replication to other close peers.
type value struct {
	Addr          pcodec.Addr
	Expiry        time.Time
	NextReplicate time.Time
}

// dhtEntry is everything this node stores for one key: the set of
// addresses registered under it (§3 "DHT entry").
type dhtEntry struct {
	Key    ID
	Values []value
}

// reference is a key this node has itself Reg'd and must keep
// periodically republishing until Unreg'd (§3 "Reference entry").
type reference struct {
	Key           ID
	Addr          pcodec.Addr
	NextRepublish time.Time
}

// store is the local key->entry table plus this node's own outstanding
// references, guarded together since republish/expire/replicate all
// need a consistent view across both.
type store struct {
	mu         sync.Mutex
	entries    map[string]*dhtEntry
	references map[string]*reference
}

func newStore() *store {
	return &store{
		entries:    make(map[string]*dhtEntry),
		references: make(map[string]*reference),
	}
}

func idKey(id ID) string { return string(id) }

// put inserts or refreshes one (key, addr) value, as a STORE handler
// does on receipt, or as Publish does against itself.
func (s *store) put(key ID, addr pcodec.Addr, expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idKey(key)
	e, ok := s.entries[k]
	if !ok {
		e = &dhtEntry{Key: key}
		s.entries[k] = e
	}
	for i := range e.Values {
		if e.Values[i].Addr == addr {
			e.Values[i].Expiry = expiry
			return
		}
	}
	e.Values = append(e.Values, value{Addr: addr, Expiry: expiry})
}

// lookupLocal returns the live (non-expired) addresses stored for key.
func (s *store) lookupLocal(key ID) ([]pcodec.Addr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[idKey(key)]
	if !ok {
		return nil, false
	}
	now := time.Now()
	var out []pcodec.Addr
	for _, v := range e.Values {
		if v.Expiry.After(now) {
			out = append(out, v.Addr)
		}
	}
	return out, len(out) > 0
}

// expireEntries drops values (and empty entries) whose expiry has
// passed, the periodic worker's expire pass.
func (s *store) expireEntries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, e := range s.entries {
		kept := e.Values[:0]
		for _, v := range e.Values {
			if v.Expiry.After(now) {
				kept = append(kept, v)
			}
		}
		e.Values = kept
		if len(e.Values) == 0 {
			delete(s.entries, k)
		}
	}
}

// dueForReplication returns entries holding a value whose
// NextReplicate has passed, advancing it so the caller's replication
// round doesn't immediately re-select the same value.
func (s *store) dueForReplication(interval time.Duration) []dhtEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var due []dhtEntry
	for _, e := range s.entries {
		var hit []value
		for i := range e.Values {
			if e.Values[i].NextReplicate.IsZero() || now.After(e.Values[i].NextReplicate) {
				hit = append(hit, e.Values[i])
				e.Values[i].NextReplicate = now.Add(interval)
			}
		}
		if len(hit) > 0 {
			due = append(due, dhtEntry{Key: e.Key, Values: hit})
		}
	}
	return due
}

// reg records a reference this node owns, idempotently: a repeated Reg
// of the same key just refreshes its republish schedule.
func (s *store) reg(key ID, addr pcodec.Addr, republishInterval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idKey(key)
	r, ok := s.references[k]
	if !ok {
		r = &reference{Key: key, Addr: addr}
		s.references[k] = r
	}
	r.NextRepublish = time.Now().Add(republishInterval)
}

// unreg drops a reference. Idempotent: unreg of a key never registered
// is a no-op, per §4.6 "Unreg".
func (s *store) unreg(key ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.references, idKey(key))
}

// dueForRepublish returns references whose republish deadline passed,
// rescheduling them in the same pass.
func (s *store) dueForRepublish(interval time.Duration) []reference {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var due []reference
	for _, r := range s.references {
		if now.After(r.NextRepublish) {
			due = append(due, *r)
			r.NextRepublish = now.Add(interval)
		}
	}
	return due
}
