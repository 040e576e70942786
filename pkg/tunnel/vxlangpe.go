package tunnel

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/veesix-networks/osvnsh/pkg/fib"
	"github.com/veesix-networks/osvnsh/pkg/vxlangpe"
	"golang.org/x/sys/unix"
)

type vxlanGPE struct {
	router Router
	sock   Socket
}

func NewVXLANGPE(router Router, sock Socket) Encapsulator {
	return &vxlanGPE{router: router, sock: sock}
}

func (v *vxlanGPE) Encapsulate(buf gopacket.SerializeBuffer, remote *fib.Remote) error {
	route, err := v.router.Resolve(remote.RemoteAddr, remote.LocalAddr)
	if err != nil {
		return err
	}

	layer := &vxlangpe.VXLANGPE{Header: vxlangpe.Header{Flags: vxlangpe.FlagsNSH, VNI: remote.VNI}}
	if err := layer.SerializeTo(buf, gopacket.SerializeOptions{}); err != nil {
		if errors.Is(err, vxlangpe.ErrVNIOverflow) {
			return fmt.Errorf("%w: %w", ErrEncapsulation, err)
		}
		return fmt.Errorf("%w: %w", ErrResource, err)
	}

	src := remote.LocalAddr
	if !src.IsValid() {
		src = route.Src
	}
	dst := netip.AddrPortFrom(remote.RemoteAddr, vxlangpe.Port)
	if err := v.sock.WriteTo(buf.Bytes(), src, dst); err != nil {
		if errors.Is(err, unix.ENETUNREACH) || errors.Is(err, unix.EHOSTUNREACH) {
			return fmt.Errorf("%w: send to %s: %w", ErrRouting, dst, err)
		}
		return fmt.Errorf("send to %s: %w", dst, err)
	}
	return nil
}
