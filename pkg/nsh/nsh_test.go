package nsh

import (
	"errors"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func md2(flags byte, key PathKey) []byte {
	b := make([]byte, MD2HeaderLen)
	PutMD2(b, key, NextProtocolEthernet)
	b[0] = flags
	return b
}

func TestPathKeyPacking(t *testing.T) {
	k, err := NewPathKey(0x000123, 0x05)
	require.NoError(t, err)
	assert.Equal(t, PathKey(0x00012305), k)
	assert.Equal(t, uint32(0x123), k.SPI())
	assert.Equal(t, uint8(5), k.SI())
	assert.False(t, k.IsZero())

	_, err = NewPathKey(1<<24, 0)
	assert.ErrorIs(t, err, ErrSPIRange)
}

func TestParsePathKey(t *testing.T) {
	tests := []struct {
		in      string
		want    PathKey
		wantErr bool
	}{
		{in: "291:5", want: MustPathKey(291, 5)},
		{in: "0x123:0x05", want: MustPathKey(0x123, 5)},
		{in: "16777215:255", want: MustPathKey(MaxSPI, MaxSI)},
		{in: "16777216:0", wantErr: true},
		{in: "1:256", wantErr: true},
		{in: "12", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePathKey(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, MustPathKey(got.SPI(), got.SI()))
		})
	}
}

func TestPutMD2Layout(t *testing.T) {
	b := make([]byte, MD2HeaderLen)
	PutMD2(b, MustPathKey(0x000123, 0x05), NextProtocolEthernet)
	assert.Equal(t, []byte{0x00, 0x02, 0x02, 0x03, 0x00, 0x01, 0x23, 0x05}, b)
}

func TestDecodeRejectsVersionRegardlessOfOtherFields(t *testing.T) {
	for v := byte(1); v < 4; v++ {
		for _, rest := range []byte{0x00, 0x10, 0x20, 0x3F} {
			b := md2(v<<6|rest, MustPathKey(1, 1))
			_, err := Decode(b)
			assert.ErrorIs(t, err, ErrVersion, "flags %#x", b[0])
		}
	}
}

func TestDecodeRejectsOAMRegardlessOfOtherFields(t *testing.T) {
	for _, rest := range []byte{0x00, 0x10, 0x0F, 0x1F} {
		b := md2(0x20|rest, MustPathKey(7, 3))
		_, err := Decode(b)
		assert.ErrorIs(t, err, ErrOAM, "flags %#x", b[0])
	}
}

func TestDecodeAcceptsCriticalBit(t *testing.T) {
	h, err := Decode(md2(0x10, MustPathKey(9, 9)))
	require.NoError(t, err)
	assert.True(t, h.Critical)
	assert.Equal(t, MustPathKey(9, 9), h.Key)
}

func TestDecodeLength(t *testing.T) {
	b := md2(0, MustPathKey(1, 2))

	b[1] = 1
	_, err := Decode(b)
	assert.ErrorIs(t, err, ErrLength)

	b[1] = 3
	_, err = Decode(b)
	assert.ErrorIs(t, err, ErrLength)

	_, err = Decode(b[:3])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeMD1Context(t *testing.T) {
	b := make([]byte, MD1HeaderLen+4)
	PutMD2(b, MustPathKey(0x42, 0xFE), NextProtocolEthernet)
	b[1] = MD1HeaderLen >> 2
	b[2] = byte(MDType1)
	for i := 0; i < 16; i++ {
		b[MD2HeaderLen+i] = byte(i)
	}

	h, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, MDType1, h.MDType)
	assert.Equal(t, MD1HeaderLen, h.HeaderLen())
	assert.Equal(t, uint32(0x00010203), h.Context[0])
	assert.Equal(t, uint32(0x0C0D0E0F), h.Context[3])
}

func TestLayerRoundTrip(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	inner := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(inner, gopacket.SerializeOptions{}, eth, gopacket.Payload([]byte("hello"))))
	frame := inner.Bytes()

	buf := gopacket.NewSerializeBuffer()
	key := MustPathKey(0x123, 5)
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{},
		&NSH{Header: Header{Key: key}}, gopacket.Payload(frame)))

	pkt := gopacket.NewPacket(buf.Bytes(), LayerTypeNSH, gopacket.Default)

	l, ok := pkt.Layer(LayerTypeNSH).(*NSH)
	require.True(t, ok)
	assert.Equal(t, key, l.Key)
	assert.Equal(t, MDType2, l.MDType)
	assert.Equal(t, uint8(2), l.Length)
	assert.Equal(t, frame, l.LayerPayload())

	decodedEth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.True(t, ok)
	assert.Equal(t, eth.SrcMAC, decodedEth.SrcMAC)
}

func TestLayerDecodeErrorSurfaces(t *testing.T) {
	pkt := gopacket.NewPacket(md2(0x40, MustPathKey(1, 1)), LayerTypeNSH, gopacket.Default)
	el := pkt.ErrorLayer()
	require.NotNil(t, el)
	assert.True(t, errors.Is(el.Error(), ErrVersion))
}
