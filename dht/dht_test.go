package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/unicast/pcodec"
)

// TestJoinDiscoversPeer mirrors spec.md's bootstrap flow: A joins
// through B and ends up with B in its routing table.
func TestJoinDiscoversPeer(t *testing.T) {
	a, b := newPairedDHT(t)
	require.NoError(t, a.dhtN.Join(testCtx(t), b.addr))
	assert.Equal(t, 1, a.dhtN.table.BucketCount())

	got := a.dhtN.table.Closest(b.dhtN.cfg.LocalID, 1)
	require.Len(t, got, 1)
	assert.Equal(t, pcodec.Addr(2), got[0].Addr)
}

// TestRegQueryRoundTrip mirrors spec.md scenario S5: A registers a name
// and B can Query it back to A's address.
func TestRegQueryRoundTrip(t *testing.T) {
	a, b := newPairedDHT(t)
	require.NoError(t, a.dhtN.Join(testCtx(t), b.addr))
	require.NoError(t, b.dhtN.Join(testCtx(t), a.addr))

	require.NoError(t, a.dhtN.Reg(testCtx(t), []byte("svc.echo")))

	addr, ok := b.dhtN.Query(testCtx(t), []byte("svc.echo"))
	require.True(t, ok)
	assert.Equal(t, pcodec.Addr(1), addr)
}

// TestQueryUnknownNameFails confirms a name nobody ever Reg'd resolves
// to nothing rather than a false positive.
func TestQueryUnknownNameFails(t *testing.T) {
	a, b := newPairedDHT(t)
	require.NoError(t, a.dhtN.Join(testCtx(t), b.addr))

	_, ok := b.dhtN.Query(testCtx(t), []byte("svc.nonexistent"))
	assert.False(t, ok)
}

// TestUnregWithdrawsName mirrors spec.md scenario S6's follow-on: once
// A withdraws its reference, the key leaves A's reference set and is no
// longer republished (stored values, A's own included, still age out
// via expiry, not removal).
func TestUnregWithdrawsName(t *testing.T) {
	a, _ := newPairedDHT(t)
	require.NoError(t, a.dhtN.Reg(testCtx(t), []byte("svc.temp")))
	a.dhtN.Unreg([]byte("svc.temp"))

	a.dhtN.store.mu.Lock()
	_, stillTracked := a.dhtN.store.references[idKey(HashKey([]byte("svc.temp"), 8))]
	a.dhtN.store.mu.Unlock()
	assert.False(t, stillTracked)
}
