// Package pcodec implements the DT-PCI packet header: serialization,
// parsing, and the bootstrap-negotiated field widths that stay constant
// for the life of a layer.
//
// Wire format, big-endian, fixed width per layer:
//
//	[ dst_addr : addr_size bytes ]
//	[ qos_cube : 1 byte          ]
//	[ eid      : eid_size bytes  ]
//	[ ttl      : 1 byte          ]
//	[ payload  : rest of frame   ]
package pcodec

import (
	"fmt"

	"github.com/ouroboros-go/unicast/kerr"
)

// Addr is a layer member address; 0 is reserved as invalid.
type Addr uint64

// Invalid is the reserved "no address" value.
const Invalid Addr = 0

// EID is an endpoint identifier, local to a destination address.
type EID uint64

// QoS indexes one of the layer's independent forwarding planes.
type QoS uint8

// Widths are the per-layer field widths negotiated at bootstrap (§6).
// They are immutable once a layer starts; Codec holds one set for its
// lifetime.
type Widths struct {
	AddrSize int // bytes, 1..8
	EIDSize  int // bytes, 1..8
	MaxTTL   uint8
}

// Validate checks the widths are within the bootstrap-negotiable range.
func (w Widths) Validate() error {
	if w.AddrSize < 1 || w.AddrSize > 8 {
		return kerr.New("pcodec.Widths.Validate", kerr.Protocol).WithDst(fmt.Sprintf("addr_size=%d", w.AddrSize))
	}
	if w.EIDSize < 1 || w.EIDSize > 8 {
		return kerr.New("pcodec.Widths.Validate", kerr.Protocol).WithDst(fmt.Sprintf("eid_size=%d", w.EIDSize))
	}
	if w.MaxTTL < 1 {
		return kerr.New("pcodec.Widths.Validate", kerr.Protocol).WithDst("max_ttl=0")
	}
	return nil
}

// HeaderLen returns the encoded header length in bytes for these widths.
func (w Widths) HeaderLen() int {
	return w.AddrSize + 1 + w.EIDSize + 1
}

// Header is the decoded DT-PCI: destination, QoS cube, endpoint id, TTL.
type Header struct {
	Dst Addr
	QoS QoS
	EID EID
	TTL uint8
}

// Codec encodes and decodes headers for one layer's negotiated widths.
type Codec struct {
	w Widths
}

// NewCodec builds a Codec for the given widths, validating them first.
func NewCodec(w Widths) (*Codec, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Codec{w: w}, nil
}

// Widths returns the codec's negotiated field widths.
func (c *Codec) Widths() Widths { return c.w }

// Encode prepends a header to payload, returning a new buffer. The
// original payload slice is not modified.
func (c *Codec) Encode(h Header, payload []byte) []byte {
	hl := c.w.HeaderLen()
	out := make([]byte, hl+len(payload))
	putUint(out[0:c.w.AddrSize], uint64(h.Dst))
	out[c.w.AddrSize] = byte(h.QoS)
	eidOff := c.w.AddrSize + 1
	putUint(out[eidOff:eidOff+c.w.EIDSize], uint64(h.EID))
	out[eidOff+c.w.EIDSize] = h.TTL
	copy(out[hl:], payload)
	return out
}

// Decode parses a header from the front of buf, returning the header and
// the remaining payload slice (which aliases buf, no copy).
func (c *Codec) Decode(buf []byte) (Header, []byte, error) {
	hl := c.w.HeaderLen()
	if len(buf) < hl {
		return Header{}, nil, kerr.New("pcodec.Decode", kerr.Protocol).WithDst(fmt.Sprintf("short header: %d < %d", len(buf), hl))
	}
	var h Header
	h.Dst = Addr(getUint(buf[0:c.w.AddrSize]))
	h.QoS = QoS(buf[c.w.AddrSize])
	eidOff := c.w.AddrSize + 1
	h.EID = EID(getUint(buf[eidOff : eidOff+c.w.EIDSize]))
	h.TTL = buf[eidOff+c.w.EIDSize]
	return h, buf[hl:], nil
}

func putUint(dst []byte, v uint64) {
	n := len(dst)
	for i := 0; i < n; i++ {
		shift := uint((n - 1 - i) * 8)
		dst[i] = byte(v >> shift)
	}
}

func getUint(src []byte) uint64 {
	var v uint64
	for _, b := range src {
		v = v<<8 | uint64(b)
	}
	return v
}
