package pcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	cases := []Widths{
		{AddrSize: 1, EIDSize: 1, MaxTTL: 1},
		{AddrSize: 4, EIDSize: 2, MaxTTL: 64},
		{AddrSize: 8, EIDSize: 8, MaxTTL: 255},
	}
	for _, w := range cases {
		c, err := NewCodec(w)
		require.NoError(t, err)

		h := Header{Dst: Addr(0x1122334455667788 >> (8 * (8 - w.AddrSize))), QoS: 3, EID: EID(42), TTL: w.MaxTTL}
		payload := []byte("hello-world")

		encoded := c.Encode(h, payload)
		assert.Len(t, encoded, w.HeaderLen()+len(payload))

		decoded, rest, err := c.Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, h, decoded)
		assert.Equal(t, payload, rest)
	}
}

func TestCodecDecodeShortHeader(t *testing.T) {
	c, err := NewCodec(Widths{AddrSize: 4, EIDSize: 4, MaxTTL: 10})
	require.NoError(t, err)

	_, _, err = c.Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestWidthsValidate(t *testing.T) {
	assert.Error(t, Widths{AddrSize: 0, EIDSize: 1, MaxTTL: 1}.Validate())
	assert.Error(t, Widths{AddrSize: 9, EIDSize: 1, MaxTTL: 1}.Validate())
	assert.Error(t, Widths{AddrSize: 1, EIDSize: 1, MaxTTL: 0}.Validate())
	assert.NoError(t, Widths{AddrSize: 4, EIDSize: 2, MaxTTL: 32}.Validate())
}

func TestEncodeDoesNotMutatePayload(t *testing.T) {
	c, err := NewCodec(Widths{AddrSize: 2, EIDSize: 2, MaxTTL: 8})
	require.NoError(t, err)
	payload := []byte("abc")
	original := append([]byte(nil), payload...)
	_ = c.Encode(Header{Dst: 7, QoS: 0, EID: 1, TTL: 8}, payload)
	assert.Equal(t, original, payload)
}
