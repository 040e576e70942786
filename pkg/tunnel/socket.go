package tunnel

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/veesix-networks/osvnsh/pkg/vxlangpe"
	"golang.org/x/net/ipv4"
)

// Socket is the datagram endpoint shared by all tunnels of an instance.
type Socket interface {
	// WriteTo sends b to dst. A valid src selects the source address.
	WriteTo(b []byte, src netip.Addr, dst netip.AddrPort) error
	ReadFrom(b []byte) (int, netip.AddrPort, error)
	Close() error
}

type UDPSocket struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
}

// ListenUDP opens the tunnel socket on addr, e.g. "0.0.0.0:60000", with
// the tunnel TTL applied to every datagram it sends.
func ListenUDP(addr string) (*UDPSocket, error) {
	ua, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp4", ua)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", addr, err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetTTL(vxlangpe.TTL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set ttl: %w", err)
	}
	return &UDPSocket{conn: conn, pc: pc}, nil
}

// SetReadBuffer sizes the kernel receive buffer.
func (s *UDPSocket) SetReadBuffer(bytes int) error {
	return s.conn.SetReadBuffer(bytes)
}

func (s *UDPSocket) LocalAddr() netip.AddrPort {
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (s *UDPSocket) WriteTo(b []byte, src netip.Addr, dst netip.AddrPort) error {
	var cm *ipv4.ControlMessage
	if src.IsValid() && src.Is4() {
		cm = &ipv4.ControlMessage{Src: net.IP(src.AsSlice())}
	}
	_, err := s.pc.WriteTo(b, cm, net.UDPAddrFromAddrPort(dst))
	return err
}

func (s *UDPSocket) ReadFrom(b []byte) (int, netip.AddrPort, error) {
	return s.conn.ReadFromUDPAddrPort(b)
}

func (s *UDPSocket) Close() error {
	return s.conn.Close()
}
