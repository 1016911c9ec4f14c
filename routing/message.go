package routing

import (
	"github.com/ouroboros-go/unicast/kerr"
	"github.com/ouroboros-go/unicast/pcodec"
)

// lsMaxLen bounds an encoded link-state message (spec.md §4.3 LSM_MAX_LEN).
const lsMaxLen = 64

// linkStateMsg is the two-field link-state announcement: an adjacency
// from s_addr to d_addr, packed big-endian at the layer's negotiated
// address width.
type linkStateMsg struct {
	src pcodec.Addr
	dst pcodec.Addr
}

func encodeLinkState(addrSize int, m linkStateMsg) []byte {
	out := make([]byte, 2*addrSize)
	putUint(out[:addrSize], uint64(m.src))
	putUint(out[addrSize:], uint64(m.dst))
	return out
}

func decodeLinkState(addrSize int, buf []byte) (linkStateMsg, error) {
	want := 2 * addrSize
	if len(buf) != want || want > lsMaxLen {
		return linkStateMsg{}, kerr.New("routing.decodeLinkState", kerr.Protocol)
	}
	return linkStateMsg{
		src: pcodec.Addr(getUint(buf[:addrSize])),
		dst: pcodec.Addr(getUint(buf[addrSize:])),
	}, nil
}

func putUint(dst []byte, v uint64) {
	n := len(dst)
	for i := 0; i < n; i++ {
		dst[i] = byte(v >> uint((n-1-i)*8))
	}
}

func getUint(src []byte) uint64 {
	var v uint64
	for _, b := range src {
		v = v<<8 | uint64(b)
	}
	return v
}
