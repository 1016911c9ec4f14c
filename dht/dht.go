package dht

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ouroboros-go/unicast/dt"
	"github.com/ouroboros-go/unicast/kerr"
	"github.com/ouroboros-go/unicast/pcodec"
	"github.com/ouroboros-go/unicast/xlog"
)

var log = xlog.New("dht", "directory")

// dhtState is the top-level lifecycle of §4.6: a member starts Init,
// moves to Joining while it finds its first peers, becomes Running
// once it has a usable routing table, and tears down on Shutdown.
type dhtState int

const (
	stateInit dhtState = iota
	stateJoining
	stateRunning
	stateShutdown
)

// Config bundles a DHT instance's construction-time parameters, mostly
// negotiated at layer bootstrap the way pcodec.Widths are.
type Config struct {
	Self     pcodec.Addr
	LocalID  ID
	IDLen    int
	AddrSize int
	K        int
	Alpha    int
	Beta     int
	Cube     pcodec.QoS

	DT  *dt.DT
	EID pcodec.EID // reserved component EID this DHT registers under

	TRefresh     time.Duration
	TReplicate   time.Duration
	TExpire      time.Duration
	TResponse    time.Duration
	JoinInterval time.Duration
	RJoin        int
}

// DHT is one layer member's Kademlia directory: routing table, local
// key/value store, outstanding reference set, and in-flight
// request/lookup bookkeeping, all reachable through Reg/Unreg/Query/
// Publish/Bootstrap (§4.6).
type DHT struct {
	cfg Config

	mu    sync.RWMutex
	state dhtState

	table    *Table
	store    *store
	requests *requestTable

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New constructs a DHT from cfg. It does not register with dt or start
// its worker: call Bootstrap for that.
func New(cfg Config) *DHT {
	return &DHT{
		cfg:      cfg,
		state:    stateInit,
		table:    NewTable(cfg.LocalID, cfg.K, cfg.Beta),
		store:    newStore(),
		requests: newRequestTable(),
		shutdown: make(chan struct{}),
	}
}

// Bootstrap registers the DHT as a DT component and starts its
// periodic worker. It does not itself try to contact any peer — call
// Join for that once a first neighbor is known.
func (d *DHT) Bootstrap() error {
	eid, err := d.cfg.DT.Register("dht", d.handleIncoming)
	if err != nil {
		return kerr.Wrap("dht.Bootstrap", kerr.Resource, err)
	}
	d.cfg.EID = eid

	d.mu.Lock()
	d.state = stateJoining
	d.mu.Unlock()

	d.wg.Add(1)
	go d.workerLoop()
	return nil
}

// Shutdown stops the periodic worker and unregisters from dt.
func (d *DHT) Shutdown() {
	d.mu.Lock()
	if d.state == stateShutdown {
		d.mu.Unlock()
		return
	}
	d.state = stateShutdown
	d.mu.Unlock()

	close(d.shutdown)
	d.wg.Wait()
	d.cfg.DT.Unregister(d.cfg.EID)
}

// Join contacts peer with a JOIN message up to RJoin times and seeds the
// routing table with it (§4.6 "Join"). On success the DHT moves to
// Running. No parameters are taken from the reply: this DHT keeps its
// own configured alpha, k, id length and timers.
func (d *DHT) Join(ctx context.Context, peer pcodec.Addr) error {
	var lastErr error
	for attempt := 0; attempt < d.cfg.RJoin; attempt++ {
		reply, err := d.request(ctx, peer, message{Code: msgJoin, Alpha: uint8(d.cfg.Alpha), K: uint8(d.cfg.K), B: uint8(d.cfg.Beta)})
		if err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.cfg.JoinInterval):
			}
			continue
		}

		d.table.UpdateBucket(Contact{ID: reply.SenderID, Addr: peer, LastSeen: time.Now()})
		d.mu.Lock()
		d.state = stateRunning
		d.mu.Unlock()

		// Seed the table further with a self lookup, the standard
		// Kademlia join bootstrap.
		d.lookupNode(ctx, d.cfg.LocalID)
		return nil
	}
	return kerr.Wrap("dht.Join", kerr.Timeout, lastErr).WithDst(addrString(peer))
}

// Reg registers this node as the owner of name, publishing it to the k
// closest peers and scheduling it for periodic republish (§4.6 "Reg").
func (d *DHT) Reg(ctx context.Context, name []byte) error {
	key := HashKey(name, d.cfg.IDLen)
	d.store.reg(key, d.cfg.Self, d.cfg.TRefresh)
	return d.Publish(ctx, key, d.cfg.Self, d.cfg.TExpire)
}

// Unreg withdraws a previously Reg'd name. Idempotent.
func (d *DHT) Unreg(name []byte) {
	key := HashKey(name, d.cfg.IDLen)
	d.store.unreg(key)
}

// Query resolves name to an address: local store first, then a
// FIND_VALUE lookup across the network, preferring any answer other
// than this node's own address (§4.6 "Query").
func (d *DHT) Query(ctx context.Context, name []byte) (pcodec.Addr, bool) {
	key := HashKey(name, d.cfg.IDLen)
	if addrs, ok := d.store.lookupLocal(key); ok {
		if a, ok := preferOther(addrs, d.cfg.Self); ok {
			return a, true
		}
	}

	result := lookup(ctx, d.table, key, d.cfg.K, d.cfg.Alpha, d.findValueQuery(key))
	if result.Value == nil {
		return pcodec.Invalid, false
	}
	addrs := result.Value.([]pcodec.Addr)
	return preferOther(addrs, d.cfg.Self)
}

func preferOther(addrs []pcodec.Addr, self pcodec.Addr) (pcodec.Addr, bool) {
	for _, a := range addrs {
		if a != self {
			return a, true
		}
	}
	if len(addrs) > 0 {
		return addrs[0], true
	}
	return pcodec.Invalid, false
}

// Publish stores (key, addr) locally and on the k closest peers found
// by a FIND_NODE lookup, the mechanism both Reg and the periodic
// republish pass use.
func (d *DHT) Publish(ctx context.Context, key ID, addr pcodec.Addr, ttl time.Duration) error {
	expiry := time.Now().Add(ttl)
	d.store.put(key, addr, expiry)

	result := lookup(ctx, d.table, key, d.cfg.K, d.cfg.Alpha, d.findNodeQuery(key))
	for _, c := range result.Closest {
		if c.Addr == d.cfg.Self {
			continue
		}
		_, _ = d.request(ctx, c.Addr, message{
			Code:        msgStore,
			Key:         key,
			StoreAddr:   addr,
			StoreExpiry: expirySeconds(expiry),
		})
	}
	return nil
}

func (d *DHT) lookupNode(ctx context.Context, target ID) lookupResult {
	return lookup(ctx, d.table, target, d.cfg.K, d.cfg.Alpha, d.findNodeQuery(target))
}

func (d *DHT) findNodeQuery(key ID) queryFunc {
	return func(ctx context.Context, c Contact) ([]Contact, any, error) {
		reply, err := d.request(ctx, c.Addr, message{Code: msgFindNode, Key: key})
		if err != nil {
			d.table.RecordFailure(c.ID, c.Addr)
			return nil, nil, err
		}
		return reply.Contacts, nil, nil
	}
}

func (d *DHT) findValueQuery(key ID) queryFunc {
	return func(ctx context.Context, c Contact) ([]Contact, any, error) {
		reply, err := d.request(ctx, c.Addr, message{Code: msgFindValue, Key: key})
		if err != nil {
			d.table.RecordFailure(c.ID, c.Addr)
			return nil, nil, err
		}
		if reply.Found {
			return nil, reply.Values, nil
		}
		return reply.Contacts, nil, nil
	}
}

// request sends msg to peer, waits for a matching RESPONSE up to
// T_response, and returns the decoded reply.
func (d *DHT) request(ctx context.Context, peer pcodec.Addr, msg message) (message, error) {
	r := d.requests.create(d.cfg.TResponse)
	msg.Cookie = r.cookie
	msg.SenderID = d.cfg.LocalID
	msg.SenderAddr = d.cfg.Self

	out := encodeMessage(d.cfg.IDLen, d.cfg.AddrSize, msg)
	if err := d.cfg.DT.Send(peer, d.cfg.Cube, d.cfg.EID, out); err != nil {
		d.requests.release(r.cookie)
		return message{}, kerr.Wrap("dht.request", kerr.NoRoute, err)
	}

	done := make(chan struct{})
	var answer any
	var ok bool
	go func() {
		answer, ok = r.wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.destroy()
		<-done
	}
	d.requests.release(r.cookie)

	if !ok {
		return message{}, kerr.New("dht.request", kerr.Timeout).WithDst(addrString(peer))
	}
	return answer.(message), nil
}

// handleIncoming is this DHT's dt.Deliverer: every message addressed to
// its reserved EID arrives here, whether a fresh request from a peer or
// a RESPONSE to one of ours.
func (d *DHT) handleIncoming(buf []byte) {
	msg, err := decodeMessage(d.cfg.IDLen, d.cfg.AddrSize, buf)
	if err != nil {
		log.Warn("dropping malformed dht message", map[string]any{"error": err.Error()})
		return
	}
	d.table.UpdateBucket(Contact{ID: msg.SenderID, Addr: msg.SenderAddr, LastSeen: time.Now()})

	if msg.Code == msgResponse {
		d.requests.resolve(msg.Cookie, msg)
		return
	}
	d.handleRequest(msg)
}

func (d *DHT) handleRequest(msg message) {
	reply := message{Code: msgResponse, Cookie: msg.Cookie, SenderID: d.cfg.LocalID, SenderAddr: d.cfg.Self}

	switch msg.Code {
	case msgJoin:
		// Nothing further to adopt server-side; the reply alone (with
		// our own id/addr) is what the joiner needs.
	case msgFindNode:
		reply.Contacts = d.table.Closest(msg.Key, d.cfg.K)
	case msgFindValue:
		if addrs, ok := d.store.lookupLocal(msg.Key); ok {
			reply.Found = true
			reply.Values = addrs
		} else {
			reply.Contacts = d.table.Closest(msg.Key, d.cfg.K)
		}
	case msgStore:
		d.store.put(msg.Key, msg.StoreAddr, expiryTime(msg.StoreExpiry))
		return
	default:
		return
	}

	out := encodeMessage(d.cfg.IDLen, d.cfg.AddrSize, reply)
	if err := d.cfg.DT.Send(msg.SenderAddr, d.cfg.Cube, d.cfg.EID, out); err != nil {
		log.Warn("failed to reply to dht peer", map[string]any{"peer": uint64(msg.SenderAddr), "error": err.Error()})
	}
}

// workerLoop drives the periodic passes of §4.6: republish owned
// references, expire stale entries, replicate due values to the
// network, and garbage-collect timed-out requests.
func (d *DHT) workerLoop() {
	defer d.wg.Done()

	republish := time.NewTicker(d.cfg.TRefresh)
	expire := time.NewTicker(d.cfg.TExpire)
	replicate := time.NewTicker(d.cfg.TReplicate)
	reqGC := time.NewTicker(d.cfg.TResponse)
	defer republish.Stop()
	defer expire.Stop()
	defer replicate.Stop()
	defer reqGC.Stop()

	for {
		select {
		case <-d.shutdown:
			return
		case <-republish.C:
			d.republishOnce()
		case <-expire.C:
			d.store.expireEntries()
		case <-replicate.C:
			d.replicateOnce()
		case <-reqGC.C:
			d.requests.sweepExpired()
		}
	}
}

func (d *DHT) republishOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.TResponse*time.Duration(d.cfg.RJoin))
	defer cancel()
	for _, ref := range d.store.dueForRepublish(d.cfg.TRefresh) {
		_ = d.Publish(ctx, ref.Key, ref.Addr, d.cfg.TExpire)
	}
}

func (d *DHT) replicateOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.TResponse*time.Duration(d.cfg.RJoin))
	defer cancel()
	for _, e := range d.store.dueForReplication(d.cfg.TReplicate) {
		result := lookup(ctx, d.table, e.Key, d.cfg.K, d.cfg.Alpha, d.findNodeQuery(e.Key))
		for _, c := range result.Closest {
			if c.Addr == d.cfg.Self {
				continue
			}
			for _, v := range e.Values {
				_, _ = d.request(ctx, c.Addr, message{
					Code:        msgStore,
					Key:         e.Key,
					StoreAddr:   v.Addr,
					StoreExpiry: expirySeconds(v.Expiry),
				})
			}
		}
	}
}

func addrString(a pcodec.Addr) string {
	return "addr:" + strconv.FormatUint(uint64(a), 10)
}
