package vxlangpe

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/veesix-networks/osvnsh/pkg/nsh"
)

var LayerTypeVXLANGPE = gopacket.RegisterLayerType(4202, gopacket.LayerTypeMetadata{
	Name:    "VXLANGPE",
	Decoder: gopacket.DecodeFunc(decodeVXLANGPE),
})

func init() {
	layers.RegisterUDPPortLayerType(layers.UDPPort(Port), LayerTypeVXLANGPE)
}

type VXLANGPE struct {
	layers.BaseLayer
	Header
}

func (v *VXLANGPE) LayerType() gopacket.LayerType {
	return LayerTypeVXLANGPE
}

func (v *VXLANGPE) CanDecode() gopacket.LayerClass {
	return LayerTypeVXLANGPE
}

func (v *VXLANGPE) NextLayerType() gopacket.LayerType {
	switch v.NextProtocol() {
	case ProtocolNSH:
		return nsh.LayerTypeNSH
	default:
		return gopacket.LayerTypePayload
	}
}

func (v *VXLANGPE) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	h, err := Decode(data)
	if err != nil {
		df.SetTruncated()
		return err
	}
	v.Header = h
	v.BaseLayer = layers.BaseLayer{Contents: data[:HeaderLen], Payload: data[HeaderLen:]}
	return nil
}

func (v *VXLANGPE) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	hdr, err := b.PrependBytes(HeaderLen)
	if err != nil {
		return err
	}
	return Put(hdr, v.VNI)
}

func decodeVXLANGPE(data []byte, p gopacket.PacketBuilder) error {
	v := &VXLANGPE{}
	if err := v.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(v)
	return p.NextDecoder(v.NextLayerType())
}
