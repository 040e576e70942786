package nsh

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// LayerTypeNSH lets gopacket decode NSH framed payloads, e.g. when
// inspecting tunnel traffic.
var LayerTypeNSH = gopacket.RegisterLayerType(4201, gopacket.LayerTypeMetadata{
	Name:    "NSH",
	Decoder: gopacket.DecodeFunc(decodeNSH),
})

// NSH is the gopacket layer form of Header.
type NSH struct {
	layers.BaseLayer
	Header
}

func (n *NSH) LayerType() gopacket.LayerType {
	return LayerTypeNSH
}

func (n *NSH) CanDecode() gopacket.LayerClass {
	return LayerTypeNSH
}

func (n *NSH) NextLayerType() gopacket.LayerType {
	switch n.NextProtocol {
	case NextProtocolEthernet:
		return layers.LayerTypeEthernet
	case NextProtocolIPv4:
		return layers.LayerTypeIPv4
	case NextProtocolIPv6:
		return layers.LayerTypeIPv6
	default:
		return gopacket.LayerTypePayload
	}
}

func (n *NSH) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	h, err := Decode(data)
	if err != nil {
		df.SetTruncated()
		return err
	}
	hlen := h.HeaderLen()
	n.Header = h
	n.BaseLayer = layers.BaseLayer{Contents: data[:hlen], Payload: data[hlen:]}
	return nil
}

// SerializeTo prepends an MD type 2 header without metadata. Only the
// path key and next protocol of the layer are used.
func (n *NSH) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	hdr, err := b.PrependBytes(MD2HeaderLen)
	if err != nil {
		return err
	}
	np := n.NextProtocol
	if np == 0 {
		np = NextProtocolEthernet
	}
	PutMD2(hdr, n.Key, np)
	return nil
}

func decodeNSH(data []byte, p gopacket.PacketBuilder) error {
	n := &NSH{}
	if err := n.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(n)
	return p.NextDecoder(n.NextLayerType())
}
