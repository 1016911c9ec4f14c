package dht

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ouroboros-go/unicast/pcodec"
)

func TestEncodeDecodeFindNodeRoundTrip(t *testing.T) {
	m := message{
		Code:       msgFindNode,
		Cookie:     42,
		SenderID:   idOf(0x11),
		SenderAddr: pcodec.Addr(7),
		Key:        idOf(0x99),
	}
	buf := encodeMessage(4, 4, m)
	got, err := decodeMessage(4, 4, buf)
	require.NoError(t, err)
	assert.Equal(t, m.Cookie, got.Cookie)
	assert.Equal(t, m.SenderAddr, got.SenderAddr)
	assert.Equal(t, m.Key, got.Key)
}

func TestEncodeDecodeResponseWithValues(t *testing.T) {
	m := message{
		Code:       msgResponse,
		Cookie:     1,
		SenderID:   idOf(0x01),
		SenderAddr: pcodec.Addr(2),
		Found:      true,
		Values:     []pcodec.Addr{11, 22, 33},
	}
	buf := encodeMessage(4, 4, m)
	got, err := decodeMessage(4, 4, buf)
	require.NoError(t, err)
	assert.True(t, got.Found)
	assert.Equal(t, []pcodec.Addr{11, 22, 33}, got.Values)
}

func TestEncodeDecodeResponseWithContacts(t *testing.T) {
	m := message{
		Code:       msgResponse,
		Cookie:     5,
		SenderID:   idOf(0x02),
		SenderAddr: pcodec.Addr(3),
		Found:      false,
		Contacts: []Contact{
			{ID: idOf(0x05), Addr: 50},
			{ID: idOf(0x06), Addr: 60},
		},
	}
	buf := encodeMessage(4, 4, m)
	got, err := decodeMessage(4, 4, buf)
	require.NoError(t, err)
	require.Len(t, got.Contacts, 2)
	assert.Equal(t, pcodec.Addr(50), got.Contacts[0].Addr)
	assert.Equal(t, pcodec.Addr(60), got.Contacts[1].Addr)
}

func TestEncodeDecodeStore(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	m := message{
		Code:        msgStore,
		Cookie:      9,
		SenderID:    idOf(0x03),
		SenderAddr:  pcodec.Addr(4),
		Key:         idOf(0x44),
		StoreAddr:   pcodec.Addr(77),
		StoreExpiry: expirySeconds(expiry),
	}
	buf := encodeMessage(4, 4, m)
	got, err := decodeMessage(4, 4, buf)
	require.NoError(t, err)
	assert.Equal(t, pcodec.Addr(77), got.StoreAddr)
	assert.WithinDuration(t, expiry, expiryTime(got.StoreExpiry), time.Second)
}

func TestDecodeTruncatedMessageIsProtocolError(t *testing.T) {
	m := message{Code: msgFindNode, SenderID: idOf(0x01), Key: idOf(0x02)}
	buf := encodeMessage(4, 4, m)
	_, err := decodeMessage(4, 4, buf[:len(buf)-2])
	assert.Error(t, err)
}
