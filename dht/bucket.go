package dht

import (
	"sync"
	"time"

	"github.com/ouroboros-go/unicast/pcodec"
)

// bucketNode is one node of the bucket trie, stored in an arena rather
// than linked by pointer (spec.md §9's guidance on the cyclic
// parent/child bucket references): leaves hold contacts/alternates,
// internal nodes hold child indices into the same arena.
type bucketNode struct {
	prefixLen  int // bits consumed from the root to reach this node
	contacts   []Contact
	alternates []Contact
	children   []int // len == 1<<beta when internal, nil when a leaf
	lastTouch  time.Time
}

func (n *bucketNode) isLeaf() bool { return n.children == nil }

// Table is the Kademlia routing table: a trie of buckets descended
// beta bits at a time, each leaf holding up to k contacts plus up to k
// alternates.
type Table struct {
	mu      sync.RWMutex
	arena   []*bucketNode
	k       int
	beta    int
	maxBits int
	local   ID
}

// NewTable returns a routing table rooted at a single empty bucket
// containing the local node's own prefix.
func NewTable(local ID, k, beta int) *Table {
	t := &Table{k: k, beta: beta, maxBits: len(local) * 8, local: local}
	t.arena = []*bucketNode{{lastTouch: time.Now()}}
	return t
}

// descend walks the trie from the root using id's bit groups, returning
// the arena index of the leaf it lands on.
func (t *Table) descend(id ID) int {
	idx := 0
	for {
		n := t.arena[idx]
		if n.isLeaf() {
			return idx
		}
		g := groupValue(id, n.prefixLen, t.beta)
		idx = n.children[g]
	}
}

// containsLocalPrefix reports whether nodeIdx is the bucket the local
// id itself would descend into, i.e. whether it is eligible to split
// under the Kademlia rule that only the local id's own branch keeps
// growing.
func (t *Table) containsLocalPrefix(nodeIdx int) bool {
	idx := 0
	for {
		n := t.arena[idx]
		if idx == nodeIdx {
			return true
		}
		if n.isLeaf() {
			return false
		}
		g := groupValue(t.local, n.prefixLen, t.beta)
		idx = n.children[g]
	}
}

// UpdateBucket implements the contact-insertion rule of §4.6: remove
// any existing contact at addr, then insert into the target bucket if
// it has room, else split when eligible, else fall back to the
// alternates list.
func (t *Table) UpdateBucket(c Contact) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updateLocked(c, 0)
}

// updateLocked bounds split recursion to maxBits/beta levels
// (SPEC_FULL.md §5's maxDepth guard), mirroring the original's bound on
// bucket-split recursion for a pathological id.
func (t *Table) updateLocked(c Contact, depth int) {
	idx := t.descend(c.ID)
	n := t.arena[idx]
	n.lastTouch = time.Now()

	removeByAddr(&n.contacts, c.Addr)
	removeByAddr(&n.alternates, c.Addr)

	if len(n.contacts) < t.k {
		n.contacts = append(n.contacts, c)
		return
	}

	if depth < t.maxBits/t.beta && t.containsLocalPrefix(idx) && n.prefixLen+t.beta <= t.maxBits {
		t.split(idx)
		t.updateLocked(c, depth+1)
		return
	}

	if len(n.alternates) >= t.k {
		n.alternates = n.alternates[1:] // evict oldest alternate
	}
	n.alternates = append(n.alternates, c)
}

// split replaces a full leaf with 1<<beta children and redistributes
// its contacts and alternates among them by their next beta-bit group.
func (t *Table) split(idx int) {
	n := t.arena[idx]
	width := 1 << uint(t.beta)
	childPrefix := n.prefixLen + t.beta

	children := make([]int, width)
	for i := 0; i < width; i++ {
		childIdx := len(t.arena)
		t.arena = append(t.arena, &bucketNode{prefixLen: childPrefix, lastTouch: time.Now()})
		children[i] = childIdx
	}

	for _, c := range n.contacts {
		g := groupValue(c.ID, n.prefixLen, t.beta)
		ci := t.arena[children[g]]
		ci.contacts = append(ci.contacts, c)
	}
	for _, c := range n.alternates {
		g := groupValue(c.ID, n.prefixLen, t.beta)
		ci := t.arena[children[g]]
		if len(ci.alternates) < t.k {
			ci.alternates = append(ci.alternates, c)
		}
	}

	n.contacts = nil
	n.alternates = nil
	n.children = children
}

func removeByAddr(list *[]Contact, addr pcodec.Addr) {
	l := *list
	for i, c := range l {
		if c.Addr == addr {
			*list = append(l[:i], l[i+1:]...)
			return
		}
	}
}

// Closest returns up to n contacts from across the whole table closest
// to target, sorted nearest-first. It walks every leaf — the table's
// expected size (k contacts per bucket, depth bounded by maxBits/beta)
// keeps this cheap enough for lookup-driving use.
func (t *Table) Closest(target ID, n int) []Contact {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var all []Contact
	for _, node := range t.arena {
		if node.isLeaf() {
			all = append(all, node.contacts...)
		}
	}
	sortByDistance(all, target)
	if len(all) > n {
		all = all[:n]
	}
	return append([]Contact(nil), all...)
}

// RemoveContact deletes the contact at id's bucket with the given
// address, if present, and reports whether it was found as a primary
// contact (as opposed to an alternate or absent).
func (t *Table) RemoveContact(id ID, addr pcodec.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.descend(id)
	n := t.arena[idx]
	before := len(n.contacts)
	removeByAddr(&n.contacts, addr)
	removed := len(n.contacts) < before
	removeByAddr(&n.alternates, addr)

	if removed && len(n.alternates) > 0 {
		// Backfill the evicted slot from the alternates list,
		// oldest alternate first (SPEC_FULL.md §5). The removal
		// itself goes through removeByAddr, the same helper
		// UpdateBucket uses to drop a contact's earlier entry.
		n.contacts = append(n.contacts, n.alternates[0])
		n.alternates = n.alternates[1:]
	}
	return removed
}

// RecordFailure increments a contact's failure count in place, for
// dead-peer bookkeeping (§4.6 "Dead peer").
func (t *Table) RecordFailure(id ID, addr pcodec.Addr) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.descend(id)
	n := t.arena[idx]
	for i := range n.contacts {
		if n.contacts[i].Addr == addr {
			n.contacts[i].Fails++
			return n.contacts[i].Fails
		}
	}
	return 0
}

// BucketCount returns how many leaf buckets currently exist, for tests
// and diagnostics.
func (t *Table) BucketCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, node := range t.arena {
		if node.isLeaf() {
			n++
		}
	}
	return n
}
