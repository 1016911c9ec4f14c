package dht

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/unicast/dt"
	"github.com/ouroboros-go/unicast/flow"
	"github.com/ouroboros-go/unicast/notifier"
	"github.com/ouroboros-go/unicast/pcodec"
	"github.com/ouroboros-go/unicast/pff"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// pairedNode is one directly-connected DT instance used to drive a DHT
// under test, with a background pump standing in for the SDU
// scheduler's per-flow reads.
type pairedNode struct {
	dt    *dt.DT
	addr  pcodec.Addr
	dhtN  *DHT
	flows *flow.Registry
	pff   *pff.Set
}

// newPairedDHT wires two DHT instances (addrs 1 and 2) directly
// connected by a Memory flow pair, each with its own DT/PFF/flow
// registry and a pump goroutine reading the connecting flow the way
// the scheduler would.
func newPairedDHT(t *testing.T) (a, b *pairedNode) {
	t.Helper()
	codec, err := pcodec.NewCodec(pcodec.Widths{AddrSize: 4, EIDSize: 4, MaxTTL: 8})
	require.NoError(t, err)

	aFlows, bFlows := flow.NewRegistry(), flow.NewRegistry()
	aPFF, bPFF := pff.NewSet(), pff.NewSet()
	aBus, bBus := notifier.New(), notifier.New()

	toB, toA := flow.NewMemoryPair(flow.Handle(100), flow.Handle(200))
	aFlows.Add(toB.Handle(), flow.Info{Flow: toB})
	bFlows.Add(toA.Handle(), flow.Info{Flow: toA})
	aPFF.Table(0).Add(pcodec.Addr(2), toB.Handle())
	bPFF.Table(0).Add(pcodec.Addr(1), toA.Handle())

	aDT := dt.New(dt.Config{Self: 1, Codec: codec, PFF: aPFF, Flows: aFlows, Bus: aBus, ReservedEID: 16})
	bDT := dt.New(dt.Config{Self: 2, Codec: codec, PFF: bPFF, Flows: bFlows, Bus: bBus, ReservedEID: 16})

	a = &pairedNode{dt: aDT, addr: 1, flows: aFlows, pff: aPFF}
	b = &pairedNode{dt: bDT, addr: 2, flows: bFlows, pff: bPFF}

	a.dhtN = New(Config{
		Self: 1, LocalID: HashKey([]byte("node-a"), 8), IDLen: 8, AddrSize: 4,
		K: 4, Alpha: 2, Beta: 1, Cube: 0, DT: aDT,
		TRefresh: time.Hour, TReplicate: time.Hour, TExpire: time.Hour,
		TResponse: 500 * time.Millisecond, JoinInterval: 10 * time.Millisecond, RJoin: 3,
	})
	b.dhtN = New(Config{
		Self: 2, LocalID: HashKey([]byte("node-b"), 8), IDLen: 8, AddrSize: 4,
		K: 4, Alpha: 2, Beta: 1, Cube: 0, DT: bDT,
		TRefresh: time.Hour, TReplicate: time.Hour, TExpire: time.Hour,
		TResponse: 500 * time.Millisecond, JoinInterval: 10 * time.Millisecond, RJoin: 3,
	})

	require.NoError(t, a.dhtN.Bootstrap())
	require.NoError(t, b.dhtN.Bootstrap())

	// aDT's peer traffic arrives on toB (A's own registry entry); bDT's
	// arrives on toA, since NewMemoryPair wires writes on one side to
	// reads on the other.
	go pump(aDT, toB, 0)
	go pump(bDT, toA, 0)

	t.Cleanup(func() {
		a.dhtN.Shutdown()
		b.dhtN.Shutdown()
		toA.Close()
		toB.Close()
	})

	return a, b
}

// pump stands in for the SDU scheduler: reads whole SDUs off in and
// hands each to d.Receive, until the flow closes.
func pump(d *dt.DT, in flow.Flow, cube pcodec.QoS) {
	ctx := context.Background()
	for {
		buf, err := in.Read(ctx)
		if err != nil {
			return
		}
		_ = d.Receive(in.Handle(), cube, buf)
	}
}
