package dht

import (
	"time"

	"github.com/ouroboros-go/unicast/pcodec"
)

// Contact is one known peer in the Kademlia routing table (§3).
// Ordered within a bucket by insertion order, not by pointer — a
// Contact is a plain value, never referenced across buckets by
// address, matching spec.md §9's guidance against pointer-identity
// keys.
type Contact struct {
	ID       ID
	Addr     pcodec.Addr
	LastSeen time.Time
	Fails    int
}

func (c Contact) sameAddr(other Contact) bool { return c.Addr == other.Addr }
