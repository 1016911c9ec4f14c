package dht

import (
	"encoding/binary"
	"time"

	"github.com/ouroboros-go/unicast/kerr"
	"github.com/ouroboros-go/unicast/pcodec"
)

// msgCode identifies one of the five Kademlia message kinds of §4.6.
// These travel over the reserved DHT EID, below the DT layer's own
// codec (pcodec), so they get their own small fixed-field wire format
// rather than reusing pcodec.Header, which only describes DT-PCI — no
// example repo in the pack carries a serialization library that fits a
// bespoke control-message set this shape, so this one component is
// built directly on encoding/binary (justified in the design ledger).
type msgCode uint8

const (
	msgJoin msgCode = iota + 1
	msgFindNode
	msgFindValue
	msgStore
	msgResponse
)

// message is one Kademlia protocol message: every message carries the
// sender's own id/address (so the recipient can UpdateBucket them) and
// a cookie correlating requests to their RESPONSE.
type message struct {
	Code       msgCode
	Cookie     uint32
	SenderID   ID
	SenderAddr pcodec.Addr

	// JOIN
	Alpha       uint8
	K           uint8
	B           uint8
	TRefreshSec uint32
	TReplSec    uint32

	// FIND_NODE / FIND_VALUE
	Key ID

	// STORE
	StoreAddr   pcodec.Addr
	StoreExpiry uint32 // unix seconds

	// RESPONSE payload
	Contacts []Contact
	Values   []pcodec.Addr
	Found    bool
}

// encodeMessage serializes m using idLen-byte ids and addrSize-byte
// addresses, matching the widths negotiated for this layer at bootstrap
// (pcodec.Widths plays the same role for DT-PCI).
func encodeMessage(idLen, addrSize int, m message) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(m.Code))
	buf = appendUint32(buf, m.Cookie)
	buf = appendID(buf, m.SenderID, idLen)
	buf = appendAddr(buf, m.SenderAddr, addrSize)

	switch m.Code {
	case msgJoin:
		buf = append(buf, m.Alpha, m.K, m.B)
		buf = appendUint32(buf, m.TRefreshSec)
		buf = appendUint32(buf, m.TReplSec)
	case msgFindNode, msgFindValue:
		buf = appendID(buf, m.Key, idLen)
	case msgStore:
		buf = appendAddr(buf, m.StoreAddr, addrSize)
		buf = appendUint32(buf, m.StoreExpiry)
		buf = appendID(buf, m.Key, idLen)
	case msgResponse:
		if m.Found {
			buf = append(buf, 1)
			buf = appendUint32(buf, uint32(len(m.Values)))
			for _, a := range m.Values {
				buf = appendAddr(buf, a, addrSize)
			}
		} else {
			buf = append(buf, 0)
			buf = appendUint32(buf, uint32(len(m.Contacts)))
			for _, c := range m.Contacts {
				buf = appendID(buf, c.ID, idLen)
				buf = appendAddr(buf, c.Addr, addrSize)
			}
		}
	}
	return buf
}

// decodeMessage is encodeMessage's inverse. It returns kerr.Protocol on
// any truncation, the same failure kind pcodec.Codec.Decode reports for
// a short DT-PCI header.
func decodeMessage(idLen, addrSize int, buf []byte) (message, error) {
	var m message
	r := &reader{buf: buf}

	code, ok := r.byte()
	if !ok {
		return m, kerr.New("dht.decodeMessage", kerr.Protocol)
	}
	m.Code = msgCode(code)

	cookie, ok := r.uint32()
	if !ok {
		return m, kerr.New("dht.decodeMessage", kerr.Protocol)
	}
	m.Cookie = cookie

	id, ok := r.id(idLen)
	if !ok {
		return m, kerr.New("dht.decodeMessage", kerr.Protocol)
	}
	m.SenderID = id

	addr, ok := r.addr(addrSize)
	if !ok {
		return m, kerr.New("dht.decodeMessage", kerr.Protocol)
	}
	m.SenderAddr = addr

	switch m.Code {
	case msgJoin:
		alpha, ok1 := r.byte()
		k, ok2 := r.byte()
		b, ok3 := r.byte()
		refresh, ok4 := r.uint32()
		repl, ok5 := r.uint32()
		if !(ok1 && ok2 && ok3 && ok4 && ok5) {
			return m, kerr.New("dht.decodeMessage", kerr.Protocol)
		}
		m.Alpha, m.K, m.B = alpha, k, b
		m.TRefreshSec, m.TReplSec = refresh, repl
	case msgFindNode, msgFindValue:
		key, ok := r.id(idLen)
		if !ok {
			return m, kerr.New("dht.decodeMessage", kerr.Protocol)
		}
		m.Key = key
	case msgStore:
		sa, ok1 := r.addr(addrSize)
		exp, ok2 := r.uint32()
		key, ok3 := r.id(idLen)
		if !(ok1 && ok2 && ok3) {
			return m, kerr.New("dht.decodeMessage", kerr.Protocol)
		}
		m.StoreAddr, m.StoreExpiry, m.Key = sa, exp, key
	case msgResponse:
		found, ok := r.byte()
		if !ok {
			return m, kerr.New("dht.decodeMessage", kerr.Protocol)
		}
		count, ok := r.uint32()
		if !ok {
			return m, kerr.New("dht.decodeMessage", kerr.Protocol)
		}
		if found == 1 {
			m.Found = true
			m.Values = make([]pcodec.Addr, 0, count)
			for i := uint32(0); i < count; i++ {
				a, ok := r.addr(addrSize)
				if !ok {
					return m, kerr.New("dht.decodeMessage", kerr.Protocol)
				}
				m.Values = append(m.Values, a)
			}
		} else {
			m.Contacts = make([]Contact, 0, count)
			for i := uint32(0); i < count; i++ {
				cid, ok1 := r.id(idLen)
				ca, ok2 := r.addr(addrSize)
				if !(ok1 && ok2) {
					return m, kerr.New("dht.decodeMessage", kerr.Protocol)
				}
				m.Contacts = append(m.Contacts, Contact{ID: cid, Addr: ca})
			}
		}
	}
	return m, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendID(buf []byte, id ID, idLen int) []byte {
	out := make([]byte, idLen)
	copy(out, id)
	return append(buf, out...)
}

func appendAddr(buf []byte, a pcodec.Addr, size int) []byte {
	tmp := make([]byte, 8)
	binary.BigEndian.PutUint64(tmp, uint64(a))
	return append(buf, tmp[8-size:]...)
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte() (byte, bool) {
	if r.pos >= len(r.buf) {
		return 0, false
	}
	b := r.buf[r.pos]
	r.pos++
	return b, true
}

func (r *reader) uint32() (uint32, bool) {
	if r.pos+4 > len(r.buf) {
		return 0, false
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, true
}

func (r *reader) id(n int) (ID, bool) {
	if r.pos+n > len(r.buf) {
		return nil, false
	}
	id := make(ID, n)
	copy(id, r.buf[r.pos:r.pos+n])
	r.pos += n
	return id, true
}

func (r *reader) addr(size int) (pcodec.Addr, bool) {
	if r.pos+size > len(r.buf) {
		return 0, false
	}
	var v uint64
	for i := 0; i < size; i++ {
		v = v<<8 | uint64(r.buf[r.pos+i])
	}
	r.pos += size
	return pcodec.Addr(v), true
}

// expirySeconds/expiryTime convert between the wire's unix-seconds
// expiry field and time.Time, keeping clock representation out of the
// codec itself.
func expirySeconds(t time.Time) uint32 { return uint32(t.Unix()) }
func expiryTime(s uint32) time.Time    { return time.Unix(int64(s), 0) }
