package vxlangpe

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/osvnsh/pkg/nsh"
)

func TestPutLayout(t *testing.T) {
	b := make([]byte, HeaderLen)
	require.NoError(t, Put(b, 100))
	assert.Equal(t, []byte{0x0C, 0x00, 0x00, 0x04, 0x00, 0x00, 0x64, 0x00}, b)
}

func TestPutRejectsWideVNI(t *testing.T) {
	b := make([]byte, HeaderLen)
	assert.ErrorIs(t, Put(b, MaxVNI+1), ErrVNIOverflow)
	assert.ErrorIs(t, Put(b[:4], 1), ErrTooShort)
}

func TestDecode(t *testing.T) {
	b := make([]byte, HeaderLen)
	require.NoError(t, Put(b, MaxVNI))

	h, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(MaxVNI), h.VNI)
	assert.Equal(t, uint8(ProtocolNSH), h.NextProtocol())

	_, err = Decode(b[:7])
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestDecodeRejectsOtherFlags(t *testing.T) {
	for _, flags := range [][4]byte{
		{0x08, 0, 0, 0},    // plain VXLAN
		{0x0C, 0, 0, 0x03}, // GPE carrying Ethernet
		{0x0C, 0, 1, 0x04}, // reserved bit set
		{0x0D, 0, 0, 0x04}, // OAM bit set
	} {
		b := make([]byte, HeaderLen)
		copy(b, flags[:])
		_, err := Decode(b)
		assert.ErrorIs(t, err, ErrFlags, "flags % x", flags)
	}
}

func TestLayerDecodesIntoNSH(t *testing.T) {
	key := nsh.MustPathKey(0x123, 5)
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{},
		&VXLANGPE{Header: Header{VNI: 100}},
		&nsh.NSH{Header: nsh.Header{Key: key, NextProtocol: 0xFF}},
		gopacket.Payload([]byte{1, 2, 3, 4}),
	))

	pkt := gopacket.NewPacket(buf.Bytes(), LayerTypeVXLANGPE, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())

	v, ok := pkt.Layer(LayerTypeVXLANGPE).(*VXLANGPE)
	require.True(t, ok)
	assert.Equal(t, uint32(100), v.VNI)

	n, ok := pkt.Layer(nsh.LayerTypeNSH).(*nsh.NSH)
	require.True(t, ok)
	assert.Equal(t, key, n.Key)
	assert.Equal(t, []byte{1, 2, 3, 4}, n.LayerPayload())
}
