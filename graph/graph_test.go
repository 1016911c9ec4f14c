package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/unicast/pcodec"
)

func announceBothWays(g *Graph, a, b pcodec.Addr) {
	g.AddOrUpdateEdge(a, b, 0)
	g.AddOrUpdateEdge(b, a, 0)
}

func TestSimpleLinePath(t *testing.T) {
	g := New()
	announceBothWays(g, 1, 2)
	announceBothWays(g, 2, 3)

	routes := g.RoutingTable(Simple, 1)
	got := map[pcodec.Addr][]pcodec.Addr{}
	for _, r := range routes {
		got[r.Dst] = r.Nhops
	}
	assert.Equal(t, []pcodec.Addr{2}, got[2])
	assert.Equal(t, []pcodec.Addr{2}, got[3])
}

// TestDiamondLFAAndECMP is scenario S4: a diamond A-B, A-C, B-D, C-D.
// Simple routing gives D one next hop; LFA and ECMP both give two.
func TestDiamondLFAAndECMP(t *testing.T) {
	g := New()
	var A, B, C, D pcodec.Addr = 1, 2, 3, 4
	announceBothWays(g, A, B)
	announceBothWays(g, A, C)
	announceBothWays(g, B, D)
	announceBothWays(g, C, D)

	simple := routeFor(g.RoutingTable(Simple, A), D)
	require.Len(t, simple, 1)

	lfa := routeFor(g.RoutingTable(LFA, A), D)
	assert.Len(t, lfa, 2)

	ecmp := routeFor(g.RoutingTable(ECMP, A), D)
	assert.Len(t, ecmp, 2)
}

func routeFor(routes []Route, dst pcodec.Addr) []pcodec.Addr {
	for _, r := range routes {
		if r.Dst == dst {
			return r.Nhops
		}
	}
	return nil
}

func TestAddRemoveEdgeRoundTrip(t *testing.T) {
	g := New()
	announceBothWays(g, 1, 2)
	assert.True(t, g.HasVertex(1))
	assert.True(t, g.HasVertex(2))

	g.RemoveEdge(1, 2)
	g.RemoveEdge(2, 1)
	assert.False(t, g.HasVertex(1))
	assert.False(t, g.HasVertex(2))
}

func TestOnlyFullyAnnouncedEdgesAreTraversed(t *testing.T) {
	g := New()
	g.AddOrUpdateEdge(1, 2, 0) // only one side announced

	routes := g.RoutingTable(Simple, 1)
	assert.Empty(t, routeFor(routes, 2))
}

func TestRemovingLastEdgeRemovesVertex(t *testing.T) {
	g := New()
	announceBothWays(g, 1, 2)
	announceBothWays(g, 1, 3)

	g.RemoveEdge(1, 2)
	g.RemoveEdge(2, 1)
	assert.True(t, g.HasVertex(1)) // still has edge to 3

	g.RemoveEdge(1, 3)
	g.RemoveEdge(3, 1)
	assert.False(t, g.HasVertex(1))
	assert.False(t, g.HasVertex(3))
}
