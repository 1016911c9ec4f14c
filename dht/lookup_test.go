package dht

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/unicast/pcodec"
)

// fakeNetwork is a small in-memory Kademlia network for exercising
// lookup() without any transport: each node's neighbor list is fixed,
// and querying a node returns its neighbors.
type fakeNetwork struct {
	neighbors map[pcodecAddrKey][]Contact
	target    ID
	holder    pcodecAddrKey // which node holds the target value
}

func (f *fakeNetwork) query(ctx context.Context, c Contact) ([]Contact, any, error) {
	if addrKey(c) == f.holder {
		return nil, []byte("found"), nil
	}
	return f.neighbors[addrKey(c)], nil, nil
}

func contact(addr uint64, id byte) Contact {
	return Contact{ID: idOf(id), Addr: pcodec.Addr(addr)}
}

// TestLookupFindsTerminalValue builds a short chain A->B->C where only
// C answers the target, and checks the lookup follows the chain.
func TestLookupFindsTerminalValue(t *testing.T) {
	a := contact(1, 0x10)
	b := contact(2, 0x20)
	c := contact(3, 0x30)

	net := &fakeNetwork{
		neighbors: map[pcodecAddrKey]([]Contact){
			addrKey(a): {b},
			addrKey(b): {c},
		},
		holder: addrKey(c),
	}

	local := idOf(0x00)
	tbl := NewTable(local, 4, 1)
	tbl.UpdateBucket(a)

	result := lookup(context.Background(), tbl, idOf(0x30), 4, 1, net.query)
	require.NotNil(t, result.Value)
	assert.Equal(t, []byte("found"), result.Value)
}

// TestLookupReturnsClosestWhenNoTerminalValue exercises the
// FIND_NODE-style path: no node ever returns a terminal value, so the
// lookup should converge on the closest known contacts.
func TestLookupReturnsClosestWhenNoTerminalValue(t *testing.T) {
	a := contact(1, 0x10)
	b := contact(2, 0x20)

	net := &fakeNetwork{
		neighbors: map[pcodecAddrKey][]Contact{
			addrKey(a): {b},
			addrKey(b): {},
		},
		holder: 0, // addr 0 is never a real contact here
	}

	local := idOf(0x00)
	tbl := NewTable(local, 4, 1)
	tbl.UpdateBucket(a)

	result := lookup(context.Background(), tbl, idOf(0x25), 4, 1, net.query)
	assert.Nil(t, result.Value)
	assert.NotEmpty(t, result.Closest)
}
