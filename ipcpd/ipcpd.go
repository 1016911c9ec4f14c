// Package ipcpd is the glue context object for one unicast IPCP
// instance: it wires pcodec/flow/pff/graph/notifier/routing/dt/sched/dht
// into a single addressable unit, exposing the start/stop surface an
// enclosing IPCP process drives (§6 "Exit conditions" — no process-exit
// surface of its own).
package ipcpd

import (
	"context"
	"encoding/binary"

	"github.com/ouroboros-go/unicast/config"
	"github.com/ouroboros-go/unicast/dht"
	"github.com/ouroboros-go/unicast/dt"
	"github.com/ouroboros-go/unicast/flow"
	"github.com/ouroboros-go/unicast/graph"
	"github.com/ouroboros-go/unicast/kerr"
	"github.com/ouroboros-go/unicast/notifier"
	"github.com/ouroboros-go/unicast/pcodec"
	"github.com/ouroboros-go/unicast/pff"
	"github.com/ouroboros-go/unicast/routing"
	"github.com/ouroboros-go/unicast/sched"
	"github.com/ouroboros-go/unicast/xlog"
)

var log = xlog.New("ipcpd", "instance")

// Instance is one running unicast IPCP: every subsystem sharing the
// same flow registry, PFF set, graph, and event bus.
type Instance struct {
	cfg config.Config

	Codec   *pcodec.Codec
	Flows   *flow.Registry
	PFF     *pff.Set
	Graph   *graph.Graph
	Bus     *notifier.Bus
	DT      *dt.DT
	Sched   *sched.Scheduler
	Routing *routing.Policy
	DHT     *dht.DHT

	self pcodec.Addr
}

// New builds an Instance from a loaded bootstrap configuration. It does
// not start any goroutine — call Start for that.
func New(cfg config.Config) (*Instance, error) {
	codec, err := pcodec.NewCodec(cfg.Widths())
	if err != nil {
		return nil, err
	}

	flows := flow.NewRegistry()
	pffSet := pff.NewSet()
	for _, cube := range cfg.RoutingCubes() {
		pffSet.Table(cube) // pre-create so routing recalc always finds a table
	}
	g := graph.New()
	bus := notifier.New()
	self := pcodec.Addr(cfg.Self)

	dtInst := dt.New(dt.Config{
		Self:        self,
		Codec:       codec,
		PFF:         pffSet,
		Flows:       flows,
		Bus:         bus,
		ReservedEID: pcodec.EID(cfg.ReservedEID),
	})

	sdr := sched.New(flows, func(h flow.Handle, cube pcodec.QoS, buf []byte) {
		if err := dtInst.Receive(h, cube, buf); err != nil {
			log.Debug("dt receive error", map[string]any{"ingress": uint64(h), "error": err.Error()})
		}
	})

	pol := routing.New(routing.Config{
		Self:         self,
		AddrSize:     cfg.Wire.AddrSize,
		Graph:        g,
		PFF:          pffSet,
		Flows:        flows,
		Bus:          bus,
		Algo:         cfg.GraphAlgo(),
		Cubes:        cfg.RoutingCubes(),
		LSUpdateTime: cfg.Routing.LSUpdateTime,
		LSTimeout:    cfg.Routing.LSTimeout,
		RecalcTime:   cfg.Routing.RecalcTime,
	})

	localID := dht.HashKey(selfBytes(cfg.Self), cfg.DHT.HashLen)
	dhtInst := dht.New(dht.Config{
		Self:         self,
		LocalID:      localID,
		IDLen:        cfg.DHT.HashLen,
		AddrSize:     cfg.Wire.AddrSize,
		K:            cfg.DHT.K,
		Alpha:        cfg.DHT.Alpha,
		Beta:         cfg.DHT.Beta,
		Cube:         pcodec.QoS(cfg.DHT.Cube),
		DT:           dtInst,
		TRefresh:     cfg.DHT.TRefresh,
		TReplicate:   cfg.DHT.TReplicate,
		TExpire:      cfg.DHT.TExpire,
		TResponse:    cfg.DHT.TResponse,
		JoinInterval: cfg.DHT.JoinInterval,
		RJoin:        cfg.DHT.RJoin,
	})

	return &Instance{
		cfg: cfg, Codec: codec, Flows: flows, PFF: pffSet, Graph: g, Bus: bus,
		DT: dtInst, Sched: sdr, Routing: pol, DHT: dhtInst, self: self,
	}, nil
}

// Start brings every subsystem's background work up: the SDU
// scheduler's sweep thread, routing's flood/age/recalc threads, and the
// DHT's periodic worker.
func (inst *Instance) Start() error {
	if err := inst.DHT.Bootstrap(); err != nil {
		return err
	}
	inst.Routing.Start()
	go inst.Sched.Run()
	log.Info("ipcp instance started", map[string]any{"self": uint64(inst.self)})
	return nil
}

// Stop tears every subsystem down in reverse order.
func (inst *Instance) Stop() {
	inst.Sched.Shutdown()
	inst.Routing.Shutdown()
	inst.DHT.Shutdown()
	log.Info("ipcp instance stopped", map[string]any{"self": uint64(inst.self)})
}

// AddDataFlow admits a newly connected N-1 data flow from the
// connection manager, registering it and publishing DataConnAdded so
// routing picks it up as a neighbor (§6 "Events produced").
func (inst *Instance) AddDataFlow(f flow.Flow, peer pcodec.Addr, qos pcodec.QoS) {
	inst.Flows.Add(f.Handle(), flow.Info{Flow: f, QoS: uint8(qos), Kind: flow.Data, Peer: uint64(peer)})
	inst.Bus.Publish(notifier.DataConnAdded, notifier.ConnEvent{Handle: f.Handle(), Peer: peer, QoS: qos, Kind: flow.Data})
}

// RemoveDataFlow withdraws a data flow, the connection manager's
// teardown counterpart to AddDataFlow.
func (inst *Instance) RemoveDataFlow(h flow.Handle, peer pcodec.Addr) {
	inst.Flows.Remove(h)
	inst.Bus.Publish(notifier.DataConnRemoved, notifier.ConnEvent{Handle: h, Peer: peer, Kind: flow.Data})
}

// AddMgmtFlow admits a newly connected management flow, the channel
// routing's link-state reader runs on.
func (inst *Instance) AddMgmtFlow(f flow.Flow, peer pcodec.Addr) {
	inst.Flows.Add(f.Handle(), flow.Info{Flow: f, Kind: flow.Management, Peer: uint64(peer)})
	inst.Bus.Publish(notifier.MgmtConnAdded, notifier.ConnEvent{Handle: f.Handle(), Peer: peer, Kind: flow.Management})
}

// RemoveMgmtFlow withdraws a management flow.
func (inst *Instance) RemoveMgmtFlow(h flow.Handle, peer pcodec.Addr) {
	inst.Flows.Remove(h)
	inst.Bus.Publish(notifier.MgmtConnRemoved, notifier.ConnEvent{Handle: h, Peer: peer, Kind: flow.Management})
}

// RegisterComponent allocates a reserved EID for an upper component,
// proxying dt.DT.Register.
func (inst *Instance) RegisterComponent(name string, cb dt.Deliverer) (pcodec.EID, error) {
	return inst.DT.Register(name, cb)
}

// Send writes a local SDU toward dst via DT, proxying dt.DT.Send.
func (inst *Instance) Send(dst pcodec.Addr, cube pcodec.QoS, srcEID pcodec.EID, payload []byte) error {
	return inst.DT.Send(dst, cube, srcEID, payload)
}

// selfBytes derives the seed HashKey uses to build this node's own
// stable Kademlia id from its layer address — a node's DHT identity
// stays fixed across restarts as long as its address does, matching
// spec.md §4.6's assumption of a persistent per-member id.
func selfBytes(self uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, self)
	return buf
}

// Join bootstraps the DHT against a known peer address.
func (inst *Instance) Join(ctx context.Context, peer pcodec.Addr) error {
	if peer == pcodec.Invalid {
		return kerr.New("ipcpd.Join", kerr.Protocol).WithDst("peer address invalid")
	}
	return inst.DHT.Join(ctx, peer)
}
