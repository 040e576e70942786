package tunnel

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

type Route struct {
	Src       netip.Addr
	Gateway   netip.Addr
	LinkIndex int
}

// Router resolves how a remote tunnel endpoint is reached from local.
// Failures wrap ErrRouting.
type Router interface {
	Resolve(remote, local netip.Addr) (Route, error)
}

// NetlinkRouter asks the kernel FIB for every lookup.
type NetlinkRouter struct {
	handle *netlink.Handle
}

func NewNetlinkRouter(h *netlink.Handle) *NetlinkRouter {
	return &NetlinkRouter{handle: h}
}

func (r *NetlinkRouter) routeGet(dst net.IP, opts *netlink.RouteGetOptions) ([]netlink.Route, error) {
	if r.handle != nil {
		return r.handle.RouteGetWithOptions(dst, opts)
	}
	return netlink.RouteGetWithOptions(dst, opts)
}

func (r *NetlinkRouter) Resolve(remote, local netip.Addr) (Route, error) {
	if !remote.IsValid() {
		return Route{}, fmt.Errorf("%w: invalid remote address", ErrRouting)
	}

	opts := &netlink.RouteGetOptions{}
	if local.IsValid() {
		opts.SrcAddr = net.IP(local.AsSlice())
	}

	routes, err := r.routeGet(net.IP(remote.AsSlice()), opts)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %s: %w", ErrRouting, remote, err)
	}
	if len(routes) == 0 {
		return Route{}, fmt.Errorf("%w: %s", ErrRouting, remote)
	}

	rt := routes[0]
	switch rt.Type {
	case unix.RTN_UNREACHABLE, unix.RTN_BLACKHOLE, unix.RTN_PROHIBIT:
		return Route{}, fmt.Errorf("%w: %s: route type %d", ErrRouting, remote, rt.Type)
	}

	out := Route{LinkIndex: rt.LinkIndex}
	if a, ok := netip.AddrFromSlice(rt.Src); ok {
		out.Src = a.Unmap()
	}
	if a, ok := netip.AddrFromSlice(rt.Gw); ok {
		out.Gateway = a.Unmap()
	}
	return out, nil
}
