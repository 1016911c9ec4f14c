// Package graph implements the undirected graph of layer members and the
// three shortest-path algorithms routing policy uses to build per-QoS
// forwarding tables (§4.2).
//
// Vertices and edges are keyed by address rather than linked by pointer
// (spec.md §9's guidance on cyclic/pointer-identity structures): a
// Vertex holds an insertion-ordered slice of neighbor addresses plus a
// map for O(1) edge lookup, so Dijkstra tie-breaking matches the
// original's intrusive-list insertion order without any pointer identity.
package graph

import (
	"container/heap"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/ouroboros-go/unicast/pcodec"
)

// QoSSpec is an opaque per-edge QoS annotation, carried but never used
// as a Dijkstra weight (spec.md §4.2: hop count is the only metric).
type QoSSpec uint8

// edge is one endpoint's announcement of a link, held on the announcing
// vertex; the link is traversable once each endpoint holds an edge to
// the other. announced counts repeated announcements of this direction.
type edge struct {
	neighbor  pcodec.Addr
	qos       QoSSpec
	announced int // 0, 1, or 2
}

type vertex struct {
	edges     map[pcodec.Addr]*edge
	neighbors []pcodec.Addr // insertion order, for Dijkstra tie-breaking
}

// Graph is the layer's undirected member graph. A single mutex
// serializes every mutation and the entire routing-table computation
// (§4.2 Concurrency).
type Graph struct {
	mu       sync.Mutex
	vertices map[pcodec.Addr]*vertex
	order    []pcodec.Addr // insertion order of vertices
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{vertices: make(map[pcodec.Addr]*vertex)}
}

func (g *Graph) ensureVertex(a pcodec.Addr) *vertex {
	v, ok := g.vertices[a]
	if !ok {
		v = &vertex{edges: make(map[pcodec.Addr]*edge)}
		g.vertices[a] = v
		g.order = append(g.order, a)
	}
	return v
}

// AddOrUpdateEdge creates src and dst if needed, increments the
// src->dst announcement count (capped at 2), and records qs.
func (g *Graph) AddOrUpdateEdge(src, dst pcodec.Addr, qs QoSSpec) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sv := g.ensureVertex(src)
	g.ensureVertex(dst)

	e, ok := sv.edges[dst]
	if !ok {
		e = &edge{neighbor: dst, qos: qs, announced: 1}
		sv.edges[dst] = e
		sv.neighbors = append(sv.neighbors, dst)
		return
	}
	e.qos = qs
	if e.announced < 2 {
		e.announced++
	}
}

// RemoveEdge decrements the src->dst announcement count; at zero the
// edge is deleted, and a vertex that loses its last edge is deleted too.
func (g *Graph) RemoveEdge(src, dst pcodec.Addr) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sv, ok := g.vertices[src]
	if !ok {
		return
	}
	e, ok := sv.edges[dst]
	if !ok {
		return
	}
	e.announced--
	if e.announced > 0 {
		return
	}
	delete(sv.edges, dst)
	idx := slices.Index(sv.neighbors, dst)
	if idx >= 0 {
		sv.neighbors = append(sv.neighbors[:idx], sv.neighbors[idx+1:]...)
	}
	if len(sv.edges) == 0 {
		delete(g.vertices, src)
		if oi := slices.Index(g.order, src); oi >= 0 {
			g.order = append(g.order[:oi], g.order[oi+1:]...)
		}
	}
}

// HasVertex reports whether addr currently has at least one edge.
func (g *Graph) HasVertex(addr pcodec.Addr) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.vertices[addr]
	return ok
}

// Algo selects a shortest-path algorithm for RoutingTable.
type Algo int

const (
	Simple Algo = iota
	LFA
	ECMP
)

// Route is one destination's computed next-hop list, in priority order.
type Route struct {
	Dst   pcodec.Addr
	Nhops []pcodec.Addr
}

// RoutingTable computes the routing table for src under the chosen
// algorithm, traversing only links announced by both endpoints.
func (g *Graph) RoutingTable(algo Algo, src pcodec.Addr) []Route {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := g.snapshotLocked()

	switch algo {
	case LFA:
		return computeLFA(snap, src)
	case ECMP:
		return computeECMP(snap, src)
	default:
		return computeSimple(snap, src)
	}
}

// snapshot is an immutable copy of the graph's traversable links that
// the Dijkstra passes read; RoutingTable builds it and runs every pass
// over it while still holding the graph lock.
type snapshot struct {
	order     []pcodec.Addr
	neighbors map[pcodec.Addr][]pcodec.Addr // announced by both ends only, insertion order
}

func (g *Graph) snapshotLocked() *snapshot {
	s := &snapshot{
		order:     append([]pcodec.Addr(nil), g.order...),
		neighbors: make(map[pcodec.Addr][]pcodec.Addr, len(g.vertices)),
	}
	for addr, v := range g.vertices {
		var ns []pcodec.Addr
		for _, n := range v.neighbors {
			if nv, ok := g.vertices[n]; ok {
				if _, back := nv.edges[addr]; back {
					ns = append(ns, n)
				}
			}
		}
		s.neighbors[addr] = ns
	}
	return s
}

// dijkstra runs single-source shortest path (hop count) from src over
// the snapshot, returning distance and first-hop-from-src predecessor
// maps. Ties in the priority queue are broken by vertex insertion order
// via the heap's comparator.
func dijkstra(s *snapshot, src pcodec.Addr) (dist map[pcodec.Addr]int, prev map[pcodec.Addr]pcodec.Addr) {
	rank := make(map[pcodec.Addr]int, len(s.order))
	for i, a := range s.order {
		rank[a] = i
	}

	dist = map[pcodec.Addr]int{src: 0}
	prev = map[pcodec.Addr]pcodec.Addr{}
	visited := map[pcodec.Addr]bool{}

	pq := &pqueue{}
	heap.Init(pq)
	heap.Push(pq, pqItem{addr: src, dist: 0, rank: rank[src]})

	for pq.Len() > 0 {
		it := heap.Pop(pq).(pqItem)
		if visited[it.addr] {
			continue
		}
		visited[it.addr] = true

		for _, n := range s.neighbors[it.addr] {
			nd := it.dist + 1
			if cur, ok := dist[n]; !ok || nd < cur {
				dist[n] = nd
				prev[n] = it.addr
				heap.Push(pq, pqItem{addr: n, dist: nd, rank: rank[n]})
			}
		}
	}
	return dist, prev
}

// firstHops returns, for every reachable v != src, the first hop on a
// shortest path from src to v (the neighbor of src that starts that
// path), derived by walking prev back to src.
func firstHops(s *snapshot, src pcodec.Addr, dist map[pcodec.Addr]int, prev map[pcodec.Addr]pcodec.Addr) map[pcodec.Addr]pcodec.Addr {
	out := make(map[pcodec.Addr]pcodec.Addr)
	for v := range dist {
		if v == src {
			continue
		}
		cur := v
		for {
			p, ok := prev[cur]
			if !ok {
				break
			}
			if p == src {
				out[v] = cur
				break
			}
			cur = p
		}
	}
	return out
}

func computeSimple(s *snapshot, src pcodec.Addr) []Route {
	dist, prev := dijkstra(s, src)
	fh := firstHops(s, src, dist, prev)

	var routes []Route
	for _, v := range s.order {
		if v == src {
			continue
		}
		if n, ok := fh[v]; ok {
			routes = append(routes, Route{Dst: v, Nhops: []pcodec.Addr{n}})
		}
	}
	return routes
}

func computeLFA(s *snapshot, src pcodec.Addr) []Route {
	dSrc, prevSrc := dijkstra(s, src)
	fhSrc := firstHops(s, src, dSrc, prevSrc)

	neighborDist := make(map[pcodec.Addr]map[pcodec.Addr]int, len(s.neighbors[src]))
	for _, n := range s.neighbors[src] {
		dn, _ := dijkstra(s, n)
		neighborDist[n] = dn
	}

	routes := make(map[pcodec.Addr]*Route)
	order := []pcodec.Addr{}
	ensure := func(v pcodec.Addr) *Route {
		if r, ok := routes[v]; ok {
			return r
		}
		r := &Route{Dst: v}
		routes[v] = r
		order = append(order, v)
		return r
	}

	for _, v := range s.order {
		if v == src {
			continue
		}
		if n, ok := fhSrc[v]; ok {
			ensure(v).Nhops = append(ensure(v).Nhops, n)
		}
	}

	for _, n := range s.neighbors[src] {
		dn := neighborDist[n]
		for _, v := range s.order {
			if v == src || v == n {
				continue
			}
			dv, ok := dSrc[v]
			if !ok {
				continue
			}
			dnv, ok := dn[v]
			if !ok {
				continue
			}
			if dnv < dSrc[n]+dv {
				r := ensure(v)
				if !slices.Contains(r.Nhops, n) {
					r.Nhops = append(r.Nhops, n)
				}
			}
		}
	}

	slices.SortFunc(order, func(a, b pcodec.Addr) int {
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
	out := make([]Route, 0, len(order))
	for _, v := range order {
		r := routes[v]
		// Nhops[0] is the shortest-path primary; only the alternates
		// behind it are put in address order.
		slices.Sort(r.Nhops[1:])
		out = append(out, *r)
	}
	return out
}

func computeECMP(s *snapshot, src pcodec.Addr) []Route {
	dSrc, _ := dijkstra(s, src)

	routes := make(map[pcodec.Addr]*Route)
	order := []pcodec.Addr{}
	ensure := func(v pcodec.Addr) *Route {
		if r, ok := routes[v]; ok {
			return r
		}
		r := &Route{Dst: v}
		routes[v] = r
		order = append(order, v)
		return r
	}

	for _, n := range s.neighbors[src] {
		dn, _ := dijkstra(s, n)
		for _, v := range s.order {
			if v == src || v == n {
				continue
			}
			dv, ok := dSrc[v]
			if !ok {
				continue
			}
			dnv, ok := dn[v]
			if !ok {
				continue
			}
			if dnv+1 == dv {
				ensure(v).Nhops = append(ensure(v).Nhops, n)
			}
		}
	}

	slices.SortFunc(order, func(a, b pcodec.Addr) int {
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
	out := make([]Route, 0, len(order))
	for _, v := range order {
		r := routes[v]
		slices.Sort(r.Nhops)
		out = append(out, *r)
	}
	return out
}

// pqItem and pqueue implement a small binary-heap priority queue ordered
// by (dist, insertion rank) so ties resolve by vertex insertion order.
type pqItem struct {
	addr pcodec.Addr
	dist int
	rank int
}

type pqueue []pqItem

func (q pqueue) Len() int { return len(q) }
func (q pqueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].rank < q[j].rank
}
func (q pqueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *pqueue) Push(x any)   { *q = append(*q, x.(pqItem)) }
func (q *pqueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
