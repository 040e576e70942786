// Package nsh implements the Network Service Header wire format
// (draft-ietf-sfc-nsh) as used by the chaining dataplane.
//
// Base Header
//
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|Ver|O|C|R|R|R|R|R|R|   Length  |    MD Type    | Next Protocol |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//
// Service Path Header
//
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|          Service Path ID                      | Service Index |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//
// MD type 1 appends four fixed 32-bit context headers. MD type 2 appends
// variable length metadata; only the empty case is generated here.
package nsh

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	BaseHeaderLen = 4
	PathHeaderLen = 4

	// MD2HeaderLen is the length of an MD type 2 header without metadata.
	MD2HeaderLen = BaseHeaderLen + PathHeaderLen
	// MD1HeaderLen includes the four mandatory context headers.
	MD1HeaderLen = MD2HeaderLen + 16

	// Version is the only base header version accepted.
	Version uint8 = 0

	flagOAM      = 0x20
	flagCritical = 0x10
	lengthMask   = 0x3F
)

type MDType uint8

const (
	MDType1 MDType = 0x01
	MDType2 MDType = 0x02
)

type NextProtocol uint8

const (
	NextProtocolIPv4     NextProtocol = 0x01
	NextProtocolIPv6     NextProtocol = 0x02
	NextProtocolEthernet NextProtocol = 0x03
)

func (p NextProtocol) String() string {
	switch p {
	case NextProtocolIPv4:
		return "ipv4"
	case NextProtocolIPv6:
		return "ipv6"
	case NextProtocolEthernet:
		return "ethernet"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

var (
	ErrTruncated = errors.New("nsh: buffer shorter than header")
	ErrVersion   = errors.New("nsh: unsupported version")
	ErrOAM       = errors.New("nsh: oam packets are not supported")
	ErrLength    = errors.New("nsh: invalid header length")
)

// Header is a decoded NSH base and path header.
type Header struct {
	Version      uint8
	OAM          bool
	Critical     bool
	Length       uint8 // in 4-byte words
	MDType       MDType
	NextProtocol NextProtocol
	Key          PathKey

	// Context holds the MD type 1 context headers. They are parsed but
	// never interpreted.
	Context [4]uint32
}

// HeaderLen returns the header length in bytes.
func (h Header) HeaderLen() int {
	return int(h.Length) << 2
}

// Decode parses the NSH header at the start of data. Checks run in a
// fixed order: version, OAM bit, then length, so a bad version is
// reported regardless of the other fields.
func Decode(data []byte) (Header, error) {
	var h Header
	if len(data) < BaseHeaderLen {
		return h, ErrTruncated
	}

	flags := data[0]
	h.Version = flags >> 6
	if h.Version != Version {
		return h, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	h.OAM = flags&flagOAM != 0
	if h.OAM {
		return h, ErrOAM
	}
	// C bit is accepted but not acted upon.
	h.Critical = flags&flagCritical != 0

	h.Length = data[1] & lengthMask
	h.MDType = MDType(data[2])
	h.NextProtocol = NextProtocol(data[3])

	hlen := h.HeaderLen()
	if hlen < MD2HeaderLen {
		return h, fmt.Errorf("%w: %d bytes", ErrLength, hlen)
	}
	if hlen > len(data) {
		return h, fmt.Errorf("%w: %d bytes, have %d", ErrLength, hlen, len(data))
	}

	h.Key = PathKey(binary.BigEndian.Uint32(data[BaseHeaderLen:MD2HeaderLen]))

	if h.MDType == MDType1 && hlen >= MD1HeaderLen {
		for i := range h.Context {
			off := MD2HeaderLen + i*4
			h.Context[i] = binary.BigEndian.Uint32(data[off : off+4])
		}
	}

	return h, nil
}

// PutMD2 writes an MD type 2 header without metadata into b, which must
// hold at least MD2HeaderLen bytes.
func PutMD2(b []byte, key PathKey, np NextProtocol) {
	_ = b[MD2HeaderLen-1]
	b[0] = Version << 6
	b[1] = MD2HeaderLen >> 2
	b[2] = byte(MDType2)
	b[3] = byte(np)
	binary.BigEndian.PutUint32(b[BaseHeaderLen:], uint32(key))
}
