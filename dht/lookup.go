package dht

import (
	"context"
	"sync"
)

// lookupStage mirrors the LU state machine of §4.6: a lookup starts up,
// drives alpha-parallel rounds that each update its shortlist, and
// completes either by exhausting closer candidates or by a caller's
// early terminal result (e.g. FIND_VALUE hitting a value).
type lookupStage int

const (
	lookupInit lookupStage = iota
	lookupPending
	lookupUpdate
	lookupComplete
)

// queryFunc issues one round-trip against a candidate contact and
// returns the contacts it offered back, plus an optional terminal
// result (non-nil stops the lookup early, as FIND_VALUE does on a hit).
type queryFunc func(ctx context.Context, c Contact) (neighbors []Contact, result any, err error)

// lookupResult is what a completed lookup produced: either a terminal
// value from queryFunc, or (if none arrived) the k closest contacts
// found, for a FIND_NODE-style caller to use directly.
type lookupResult struct {
	Value   any
	Closest []Contact
}

// lookup runs an iterative Kademlia lookup for target starting from
// table's current k closest contacts, alpha of them probed concurrently
// per round, stopping when a round yields no contact closer than the
// best already known or query returns a terminal result.
func lookup(ctx context.Context, table *Table, target ID, k, alpha int, query queryFunc) lookupResult {
	stage := lookupInit
	shortlist := table.Closest(target, k)
	queried := make(map[pcodecAddrKey]bool, k*2)
	stage = lookupPending

	for stage == lookupPending {
		round := pickUnqueried(shortlist, queried, alpha)
		if len(round) == 0 {
			stage = lookupComplete
			break
		}

		type roundHit struct {
			neighbors []Contact
			result    any
		}
		hits := make([]roundHit, len(round))
		var wg sync.WaitGroup
		for i, c := range round {
			queried[addrKey(c)] = true
			wg.Add(1)
			go func(i int, c Contact) {
				defer wg.Done()
				neighbors, result, err := query(ctx, c)
				if err != nil {
					return
				}
				hits[i] = roundHit{neighbors: neighbors, result: result}
			}(i, c)
		}
		wg.Wait()

		stage = lookupUpdate
		before := closestDistance(shortlist, target)
		for _, h := range hits {
			if h.result != nil {
				return lookupResult{Value: h.result, Closest: shortlist}
			}
			for _, n := range h.neighbors {
				shortlist = append(shortlist, n)
			}
		}
		shortlist = dedupClosest(shortlist, target, k)
		after := closestDistance(shortlist, target)

		select {
		case <-ctx.Done():
			stage = lookupComplete
		default:
			improved := before == nil || Less(after, before)
			if !improved {
				stage = lookupComplete
			} else {
				stage = lookupPending
			}
		}
	}

	return lookupResult{Closest: shortlist}
}

type pcodecAddrKey = uint64

func addrKey(c Contact) pcodecAddrKey { return uint64(c.Addr) }

func pickUnqueried(shortlist []Contact, queried map[pcodecAddrKey]bool, n int) []Contact {
	var out []Contact
	for _, c := range shortlist {
		if queried[addrKey(c)] {
			continue
		}
		out = append(out, c)
		if len(out) == n {
			break
		}
	}
	return out
}

func closestDistance(contacts []Contact, target ID) []byte {
	if len(contacts) == 0 {
		return nil
	}
	best := Distance(contacts[0].ID, target)
	for _, c := range contacts[1:] {
		d := Distance(c.ID, target)
		if Less(d, best) {
			best = d
		}
	}
	return best
}

func dedupClosest(contacts []Contact, target ID, k int) []Contact {
	seen := make(map[pcodecAddrKey]bool, len(contacts))
	var out []Contact
	for _, c := range contacts {
		if seen[addrKey(c)] {
			continue
		}
		seen[addrKey(c)] = true
		out = append(out, c)
	}
	sortByDistance(out, target)
	if len(out) > k {
		out = out[:k]
	}
	return out
}
