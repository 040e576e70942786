// Package vxlangpe implements the VXLAN Generic Protocol Extension header
// carrying NSH.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|R|R|Ver|I|P|R|O|       Reserved                |Next Protocol  |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                VXLAN Network Identifier (VNI) |   Reserved    |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
package vxlangpe

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	HeaderLen = 8

	// Port is the UDP port used for all tunnel traffic, as source and
	// destination.
	Port = 60000

	// TTL is set on every encapsulated packet.
	TTL = 64

	MaxVNI = 1<<24 - 1

	// Headroom is reserved in front of a frame before the NSH and tunnel
	// headers are pushed, and subtracted from the MTU of host devices.
	Headroom = 16 + 8 + 16 + 16

	flagsBase = 0x0C000000 // I and P bits

	ProtocolIPv4     = 0x01
	ProtocolIPv6     = 0x02
	ProtocolEthernet = 0x03
	ProtocolNSH      = 0x04
	ProtocolMPLS     = 0x05

	// FlagsNSH is the only flags word accepted and generated: VNI valid,
	// next protocol present, next protocol NSH.
	FlagsNSH uint32 = flagsBase | ProtocolNSH
)

var (
	ErrTooShort    = errors.New("vxlan-gpe: datagram shorter than header")
	ErrFlags       = errors.New("vxlan-gpe: flags do not carry nsh")
	ErrVNIOverflow = errors.New("vxlan-gpe: vni exceeds 24 bits")
)

type Header struct {
	Flags uint32
	VNI   uint32
}

// NextProtocol returns the next protocol byte of the flags word.
func (h Header) NextProtocol() uint8 {
	return uint8(h.Flags)
}

// Decode parses the header at the start of data and requires the flags
// word to be FlagsNSH.
func Decode(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderLen {
		return h, ErrTooShort
	}
	h.Flags = binary.BigEndian.Uint32(data[0:4])
	h.VNI = binary.BigEndian.Uint32(data[4:8]) >> 8
	if h.Flags != FlagsNSH {
		return h, fmt.Errorf("%w: %#08x", ErrFlags, h.Flags)
	}
	return h, nil
}

// Put writes a header for vni into b, which must hold HeaderLen bytes.
func Put(b []byte, vni uint32) error {
	if len(b) < HeaderLen {
		return ErrTooShort
	}
	if vni > MaxVNI {
		return fmt.Errorf("%w: %d", ErrVNIOverflow, vni)
	}
	binary.BigEndian.PutUint32(b[0:4], FlagsNSH)
	binary.BigEndian.PutUint32(b[4:8], vni<<8)
	return nil
}
