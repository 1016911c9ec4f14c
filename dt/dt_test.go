package dt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/unicast/flow"
	"github.com/ouroboros-go/unicast/kerr"
	"github.com/ouroboros-go/unicast/notifier"
	"github.com/ouroboros-go/unicast/pcodec"
	"github.com/ouroboros-go/unicast/pff"
)

func newTestDT(t *testing.T, self pcodec.Addr) (*DT, *flow.Registry, *pff.Set) {
	t.Helper()
	codec, err := pcodec.NewCodec(pcodec.Widths{AddrSize: 4, EIDSize: 4, MaxTTL: 3})
	require.NoError(t, err)
	flows := flow.NewRegistry()
	pffSet := pff.NewSet()
	bus := notifier.New()
	d := New(Config{Self: self, Codec: codec, PFF: pffSet, Flows: flows, Bus: bus, ReservedEID: 16})
	return d, flows, pffSet
}

// TestForwardingScenarioS1 mirrors spec.md scenario S1: A sends to C via
// B; the write to flow_to_B carries ttl=3 and the original payload.
func TestForwardingScenarioS1(t *testing.T) {
	d, flows, pffSet := newTestDT(t, pcodec.Addr(1)) // node A
	toB, fromA := flow.NewMemoryPair(flow.Handle(100), flow.Handle(999))
	flows.Add(toB.Handle(), flow.Info{Flow: toB, QoS: 0})
	pffSet.Table(0).Add(pcodec.Addr(3), toB.Handle()) // C reachable via flow_to_B

	err := d.Send(pcodec.Addr(3), 0, pcodec.EID(100), []byte("xyz"))
	require.NoError(t, err)

	raw, err := fromA.Read(testCtx())
	require.NoError(t, err)

	codec, _ := pcodec.NewCodec(pcodec.Widths{AddrSize: 4, EIDSize: 4, MaxTTL: 3})
	h, payload, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, pcodec.Addr(3), h.Dst)
	assert.Equal(t, pcodec.QoS(0), h.QoS)
	assert.Equal(t, pcodec.EID(100), h.EID)
	assert.Equal(t, uint8(3), h.TTL)
	assert.Equal(t, []byte("xyz"), payload)
}

// TestForwardScenarioS2 mirrors spec.md scenario S2: B forwards a
// received packet toward C with TTL decremented, and drops a ttl=0
// packet with a single stats increment and no write.
func TestForwardScenarioS2(t *testing.T) {
	d, flows, pffSet := newTestDT(t, pcodec.Addr(2)) // node B
	toC, fromB := flow.NewMemoryPair(flow.Handle(200), flow.Handle(998))
	flows.Add(toC.Handle(), flow.Info{Flow: toC, QoS: 0})
	pffSet.Table(0).Add(pcodec.Addr(3), toC.Handle())

	codec, _ := pcodec.NewCodec(pcodec.Widths{AddrSize: 4, EIDSize: 4, MaxTTL: 3})
	in := codec.Encode(pcodec.Header{Dst: 3, QoS: 0, EID: 1, TTL: 1}, []byte("x"))

	err := d.Receive(flow.Handle(1), 0, in)
	require.NoError(t, err)

	raw, err := fromB.Read(testCtx())
	require.NoError(t, err)
	h, _, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), h.TTL)

	// Same shape but ttl=0: dropped, no write.
	in0 := codec.Encode(pcodec.Header{Dst: 3, QoS: 0, EID: 1, TTL: 0}, []byte("x"))
	err = d.Receive(flow.Handle(1), 0, in0)
	assert.True(t, kerr.Is(err, kerr.TtlExpired))

	stats := d.Stats().Snapshot(flow.Handle(1), 0)
	assert.Equal(t, uint64(1), stats.DroppedPackets)
}

func TestLocalDeliveryToComponent(t *testing.T) {
	d, _, _ := newTestDT(t, pcodec.Addr(5))
	var got []byte
	eid, err := d.Register("routing", func(buf []byte) { got = buf })
	require.NoError(t, err)
	assert.Less(t, eid, pcodec.EID(16))

	codec, _ := pcodec.NewCodec(pcodec.Widths{AddrSize: 4, EIDSize: 4, MaxTTL: 3})
	in := codec.Encode(pcodec.Header{Dst: 5, QoS: 0, EID: eid, TTL: 3}, []byte("hello"))
	require.NoError(t, d.Receive(flow.Handle(1), 0, in))
	assert.Equal(t, []byte("hello"), got)
}

func TestLocalDeliveryNoComponent(t *testing.T) {
	d, _, _ := newTestDT(t, pcodec.Addr(5))
	codec, _ := pcodec.NewCodec(pcodec.Widths{AddrSize: 4, EIDSize: 4, MaxTTL: 3})
	in := codec.Encode(pcodec.Header{Dst: 5, QoS: 0, EID: 7, TTL: 3}, []byte("hello"))
	err := d.Receive(flow.Handle(1), 0, in)
	assert.True(t, kerr.Is(err, kerr.NoComponent))
}

func TestSendNoRoute(t *testing.T) {
	d, _, _ := newTestDT(t, pcodec.Addr(1))
	err := d.Send(pcodec.Addr(9), 0, pcodec.EID(1), []byte("x"))
	assert.True(t, kerr.Is(err, kerr.NoRoute))
}
