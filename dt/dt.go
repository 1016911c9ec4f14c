// Package dt implements data transfer (§4.4): per-packet header
// (de)serialization via pcodec, TTL enforcement, next-hop lookup in the
// per-QoS forwarding table, and local demultiplexing to registered
// components or flow endpoints by EID.
package dt

import (
	"strconv"

	"github.com/ouroboros-go/unicast/flow"
	"github.com/ouroboros-go/unicast/kerr"
	"github.com/ouroboros-go/unicast/notifier"
	"github.com/ouroboros-go/unicast/pcodec"
	"github.com/ouroboros-go/unicast/pff"
	"github.com/ouroboros-go/unicast/xlog"
)

var log = xlog.New("dt", "transfer")

// DT is one layer member's data transfer instance.
type DT struct {
	self     pcodec.Addr
	codec    *pcodec.Codec
	pff      *pff.Set
	flows    *flow.Registry
	bus      *notifier.Bus
	reserved pcodec.EID
	comps    *componentRegistry
	stats    *Stats
}

// Config bundles DT's construction-time dependencies. flows and bus are
// shared with the rest of the IPCP (the scheduler reads from flows; the
// bus carries DATA_CONN_DOWN to routing).
type Config struct {
	Self        pcodec.Addr
	Codec       *pcodec.Codec
	PFF         *pff.Set
	Flows       *flow.Registry
	Bus         *notifier.Bus
	ReservedEID pcodec.EID // R: eid values below this are internal components
}

// New builds a DT instance from cfg.
func New(cfg Config) *DT {
	return &DT{
		self:     cfg.Self,
		codec:    cfg.Codec,
		pff:      cfg.PFF,
		flows:    cfg.Flows,
		bus:      cfg.Bus,
		reserved: cfg.ReservedEID,
		comps:    newComponentRegistry(cfg.ReservedEID),
		stats:    newStats(),
	}
}

// Register allocates a reserved EID for a local component (routing, the
// DHT, management) and returns it.
func (d *DT) Register(name string, cb Deliverer) (pcodec.EID, error) {
	return d.comps.Register(name, cb)
}

// Unregister frees a previously registered component EID.
func (d *DT) Unregister(eid pcodec.EID) {
	d.comps.Unregister(eid)
}

// Stats returns the shared statistics collector.
func (d *DT) Stats() *Stats { return d.stats }

// Receive processes one packet arriving on ingress from the SDU
// scheduler (§4.4 Receive path).
func (d *DT) Receive(ingress flow.Handle, cube pcodec.QoS, buf []byte) error {
	h, payload, err := d.codec.Decode(buf)
	if err != nil {
		log.Warn("dropping malformed packet", map[string]any{"ingress": ingress, "error": err.Error()})
		d.stats.recordDropped(ingress, cube)
		return err
	}
	d.stats.recordRecv(ingress, cube, len(buf))

	if h.Dst != d.self {
		return d.forward(ingress, cube, h, payload)
	}
	return d.deliverLocal(h, payload)
}

func (d *DT) forward(ingress flow.Handle, cube pcodec.QoS, h pcodec.Header, payload []byte) error {
	if h.TTL == 0 {
		d.stats.recordDropped(ingress, cube)
		return kerr.New("dt.forward", kerr.TtlExpired)
	}
	h.TTL--

	nhop, err := d.pff.NextHop(cube, h.Dst)
	if err != nil {
		d.stats.recordDropped(ingress, cube)
		return kerr.Wrap("dt.forward", kerr.NoRoute, err).WithDst(addrString(h.Dst))
	}

	out := d.codec.Encode(h, payload)
	if err := d.writeTo(nhop, cube, out); err != nil {
		d.bus.Publish(notifier.DataConnDown, notifier.ConnEvent{Handle: nhop, QoS: cube})
		d.stats.recordDropped(ingress, cube)
		return kerr.Wrap("dt.forward", kerr.FlowDown, err)
	}
	return nil
}

func (d *DT) deliverLocal(h pcodec.Header, payload []byte) error {
	if h.EID >= d.reserved {
		info, ok := d.flows.Get(flow.Handle(h.EID))
		if !ok {
			return kerr.New("dt.deliverLocal", kerr.NoComponent).WithDst(addrString(pcodec.Addr(h.EID)))
		}
		return info.Flow.Write(payload)
	}
	return d.comps.Deliver(h.EID, payload)
}

// Send writes a local SDU from an upper component/flow endpoint toward
// dst (§4.4 Send path): look up the next hop, prepend a header with
// max TTL, write to the next-hop flow.
func (d *DT) Send(dst pcodec.Addr, cube pcodec.QoS, srcEID pcodec.EID, payload []byte) error {
	nhop, err := d.pff.NextHop(cube, dst)
	if err != nil {
		return kerr.Wrap("dt.Send", kerr.NoRoute, err).WithDst(addrString(dst))
	}
	h := pcodec.Header{Dst: dst, QoS: cube, EID: srcEID, TTL: d.codec.Widths().MaxTTL}
	out := d.codec.Encode(h, payload)
	if err := d.writeTo(nhop, cube, out); err != nil {
		d.bus.Publish(notifier.DataConnDown, notifier.ConnEvent{Handle: nhop, QoS: cube})
		return kerr.Wrap("dt.Send", kerr.FlowDown, err)
	}
	return nil
}

func (d *DT) writeTo(h flow.Handle, cube pcodec.QoS, buf []byte) error {
	info, ok := d.flows.Get(h)
	if !ok {
		return kerr.New("dt.writeTo", kerr.FlowDown)
	}
	d.stats.recordSent(h, cube, len(buf))
	return info.Flow.Write(buf)
}

func addrString(a pcodec.Addr) string {
	return "addr:" + strconv.FormatUint(uint64(a), 10)
}
