// Package routing implements the link-state routing policy (§4.3):
// the neighbor/adjacency database, periodic flooding and aging, and
// per-QoS routing-table recomputation driven by the graph engine.
package routing

import (
	"context"
	"sync"
	"time"

	"github.com/ouroboros-go/unicast/flow"
	"github.com/ouroboros-go/unicast/graph"
	"github.com/ouroboros-go/unicast/notifier"
	"github.com/ouroboros-go/unicast/pcodec"
	"github.com/ouroboros-go/unicast/pff"
	"github.com/ouroboros-go/unicast/xlog"
)

var log = xlog.New("routing", "link_state")

type neighborKey struct {
	addr pcodec.Addr
	kind flow.Kind
}

type adjKey struct {
	src, dst pcodec.Addr
}

// Config bundles Policy's construction-time dependencies and timers.
type Config struct {
	Self     pcodec.Addr
	AddrSize int
	Graph    *graph.Graph
	PFF      *pff.Set
	Flows    *flow.Registry
	Bus      *notifier.Bus
	Algo     graph.Algo
	Cubes    []pcodec.QoS

	LSUpdateTime time.Duration // LS_UPDATE_TIME
	LSTimeout    time.Duration // LS_TIMEO
	RecalcTime   time.Duration // RECALC_TIME
}

// Policy is one layer member's link-state routing instance.
type Policy struct {
	cfg Config

	mu          sync.RWMutex
	neighbors   map[neighborKey]flow.Handle
	adjacencies map[adjKey]time.Time
	dupCount    map[adjKey]uint64 // SPEC_FULL.md §5: observability only

	readers map[flow.Handle]context.CancelFunc

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New builds a Policy and subscribes it to the connection-manager
// events it reacts to (§4.3 "Events consumed").
func New(cfg Config) *Policy {
	p := &Policy{
		cfg:         cfg,
		neighbors:   make(map[neighborKey]flow.Handle),
		adjacencies: make(map[adjKey]time.Time),
		dupCount:    make(map[adjKey]uint64),
		readers:     make(map[flow.Handle]context.CancelFunc),
		shutdown:    make(chan struct{}),
	}
	cfg.Bus.Subscribe(notifier.DataConnAdded, func(payload any) { p.onDataConnAdded(payload.(notifier.ConnEvent)) })
	cfg.Bus.Subscribe(notifier.DataConnRemoved, func(payload any) { p.onDataConnRemoved(payload.(notifier.ConnEvent)) })
	cfg.Bus.Subscribe(notifier.MgmtConnAdded, func(payload any) { p.onMgmtConnAdded(payload.(notifier.ConnEvent)) })
	cfg.Bus.Subscribe(notifier.MgmtConnRemoved, func(payload any) { p.onMgmtConnRemoved(payload.(notifier.ConnEvent)) })
	return p
}

// Start launches the flooder, ager, and recalculator threads (§5).
func (p *Policy) Start() {
	p.wg.Add(3)
	go p.floodLoop()
	go p.ageLoop()
	go p.recalcLoop()
}

// Shutdown stops every periodic thread and management-flow reader
// within one cycle each.
func (p *Policy) Shutdown() {
	select {
	case <-p.shutdown:
		return
	default:
		close(p.shutdown)
	}
	p.mu.Lock()
	for _, cancel := range p.readers {
		cancel()
	}
	p.readers = make(map[flow.Handle]context.CancelFunc)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Policy) onDataConnAdded(ev notifier.ConnEvent) {
	p.mu.Lock()
	p.neighbors[neighborKey{ev.Peer, flow.Data}] = ev.Handle
	p.adjacencies[adjKey{p.cfg.Self, ev.Peer}] = time.Now()
	p.mu.Unlock()
	p.floodOnce()
}

func (p *Policy) onDataConnRemoved(ev notifier.ConnEvent) {
	p.mu.Lock()
	delete(p.neighbors, neighborKey{ev.Peer, flow.Data})
	delete(p.adjacencies, adjKey{p.cfg.Self, ev.Peer})
	p.mu.Unlock()
	p.cfg.Graph.RemoveEdge(p.cfg.Self, ev.Peer)
}

func (p *Policy) onMgmtConnAdded(ev notifier.ConnEvent) {
	p.mu.Lock()
	p.neighbors[neighborKey{ev.Peer, flow.Management}] = ev.Handle
	p.mu.Unlock()
	p.startMgmtReader(ev.Handle)
}

func (p *Policy) onMgmtConnRemoved(ev notifier.ConnEvent) {
	p.mu.Lock()
	delete(p.neighbors, neighborKey{ev.Peer, flow.Management})
	cancel, ok := p.readers[ev.Handle]
	if ok {
		delete(p.readers, ev.Handle)
	}
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// startMgmtReader launches the per-neighbor reader loop that feeds
// received link-state messages into handleLinkState — the "Link-state
// reader" thread of §5, distinct from the SDU scheduler because
// management traffic never needs PFF forwarding.
func (p *Policy) startMgmtReader(h flow.Handle) {
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.readers[h] = cancel
	p.mu.Unlock()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.mgmtReadLoop(ctx, h)
	}()
}

func (p *Policy) mgmtReadLoop(ctx context.Context, h flow.Handle) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		default:
		}
		info, ok := p.cfg.Flows.Get(h)
		if !ok {
			return
		}
		readCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		buf, err := info.Flow.Read(readCtx)
		cancel()
		if err != nil {
			continue
		}
		if err := p.handleLinkState(h, buf); err != nil {
			log.Warn("dropping malformed link-state message", map[string]any{"ingress": h, "error": err.Error()})
		}
	}
}

// handleLinkState processes a received link-state message (§4.3): add
// or refresh the adjacency, fold it into the graph, and re-broadcast to
// every management neighbor other than the ingress.
func (p *Policy) handleLinkState(ingress flow.Handle, buf []byte) error {
	msg, err := decodeLinkState(p.cfg.AddrSize, buf)
	if err != nil {
		return err
	}

	key := adjKey{msg.src, msg.dst}
	p.mu.Lock()
	_, dup := p.adjacencies[key]
	if dup {
		p.dupCount[key]++
	}
	p.adjacencies[key] = time.Now()
	p.mu.Unlock()

	// A duplicate only refreshes the adjacency's timestamp; the graph
	// edge was already announced by the first copy.
	if !dup {
		p.cfg.Graph.AddOrUpdateEdge(msg.src, msg.dst, 0)
	}

	p.broadcastExcept(msg, ingress)
	return nil
}

// floodOnce refreshes every local adjacency and floods it to every
// management neighbor (§4.3, every LS_UPDATE_TIME seconds).
func (p *Policy) floodOnce() {
	p.mu.Lock()
	var local []linkStateMsg
	now := time.Now()
	for k := range p.adjacencies {
		if k.src == p.cfg.Self {
			p.adjacencies[k] = now
			local = append(local, linkStateMsg{src: k.src, dst: k.dst})
		}
	}
	p.mu.Unlock()

	for _, m := range local {
		p.broadcastExcept(m, 0)
	}
}

func (p *Policy) broadcastExcept(m linkStateMsg, ingress flow.Handle) {
	p.mu.RLock()
	var targets []flow.Handle
	for k, h := range p.neighbors {
		if k.kind == flow.Management && h != ingress {
			targets = append(targets, h)
		}
	}
	p.mu.RUnlock()

	encoded := encodeLinkState(p.cfg.AddrSize, m)
	for _, h := range targets {
		info, ok := p.cfg.Flows.Get(h)
		if !ok {
			continue
		}
		if err := info.Flow.Write(encoded); err != nil {
			log.Warn("link-state write to management neighbor failed, ignoring", map[string]any{"handle": h, "error": err.Error()})
		}
	}
}

// ageOnce drops adjacencies that have not been refreshed within
// LS_TIMEO, removing the corresponding graph edge.
func (p *Policy) ageOnce() {
	now := time.Now()
	p.mu.Lock()
	var stale []adjKey
	for k, last := range p.adjacencies {
		if now.Sub(last) > p.cfg.LSTimeout {
			stale = append(stale, k)
		}
	}
	for _, k := range stale {
		delete(p.adjacencies, k)
		delete(p.dupCount, k)
	}
	p.mu.Unlock()

	for _, k := range stale {
		p.cfg.Graph.RemoveEdge(k.src, k.dst)
	}
}

// recalcOnce recomputes and atomically installs the PFF for one QoS
// cube, skipping destinations whose next-hop neighbor has no currently
// connected data flow (§4.3).
func (p *Policy) recalcOnce(cube pcodec.QoS) {
	routes := p.cfg.Graph.RoutingTable(p.cfg.Algo, p.cfg.Self)

	p.mu.RLock()
	resolved := make([]resolvedRoute, 0, len(routes))
	for _, r := range routes {
		var hops []flow.Handle
		for _, n := range r.Nhops {
			if h, ok := p.neighbors[neighborKey{n, flow.Data}]; ok {
				hops = append(hops, h)
			}
		}
		if len(hops) > 0 {
			resolved = append(resolved, resolvedRoute{dst: r.Dst, hops: hops})
		}
	}
	p.mu.RUnlock()

	p.cfg.PFF.Table(cube).Batch(func(b *pff.Batcher) {
		b.Flush()
		for _, r := range resolved {
			b.Add(r.dst, r.hops...)
		}
	})
}

type resolvedRoute struct {
	dst  pcodec.Addr
	hops []flow.Handle
}

func (p *Policy) floodLoop() {
	defer p.wg.Done()
	t := time.NewTicker(p.cfg.LSUpdateTime)
	defer t.Stop()
	for {
		select {
		case <-p.shutdown:
			return
		case <-t.C:
			p.floodOnce()
		}
	}
}

func (p *Policy) ageLoop() {
	defer p.wg.Done()
	t := time.NewTicker(p.cfg.LSUpdateTime)
	defer t.Stop()
	for {
		select {
		case <-p.shutdown:
			return
		case <-t.C:
			p.ageOnce()
		}
	}
}

func (p *Policy) recalcLoop() {
	defer p.wg.Done()
	t := time.NewTicker(p.cfg.RecalcTime)
	defer t.Stop()
	for {
		select {
		case <-p.shutdown:
			return
		case <-t.C:
			for _, cube := range p.cfg.Cubes {
				p.recalcOnce(cube)
			}
		}
	}
}
