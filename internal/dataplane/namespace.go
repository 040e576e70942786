//go:build linux

package dataplane

import (
	"fmt"
	"runtime"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// namespace pins sockets and links to a named network namespace. The zero
// name means the namespace the daemon runs in.
type namespace struct {
	name   string
	handle netns.NsHandle
	nl     *netlink.Handle
}

func openNamespace(name string) (*namespace, error) {
	ns := &namespace{name: name, handle: netns.None()}
	if name == "" {
		return ns, nil
	}

	h, err := netns.GetFromName(name)
	if err != nil {
		return nil, fmt.Errorf("get netns %q: %w", name, err)
	}

	nl, err := netlink.NewHandleAt(h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("create netlink handle for netns %q: %w", name, err)
	}

	ns.handle = h
	ns.nl = nl
	return ns, nil
}

// run calls fn on a thread switched into the namespace. Sockets and TAP
// queues opened by fn stay in the namespace after the thread returns.
func (ns *namespace) run(fn func() error) error {
	if !ns.handle.IsOpen() {
		return fn()
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := netns.Get()
	if err != nil {
		return fmt.Errorf("get current netns: %w", err)
	}
	defer orig.Close()

	if err := netns.Set(ns.handle); err != nil {
		return fmt.Errorf("enter netns %q: %w", ns.name, err)
	}
	defer func() {
		if err := netns.Set(orig); err != nil {
			// Never hand a thread in the wrong namespace back to the
			// scheduler.
			runtime.LockOSThread()
		}
	}()

	return fn()
}

func (ns *namespace) Close() {
	if ns.nl != nil {
		ns.nl.Close()
	}
	if ns.handle.IsOpen() {
		ns.handle.Close()
	}
}
