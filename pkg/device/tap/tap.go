//go:build linux

// Package tap backs devices with Linux TAP interfaces. Frames the host
// writes into the interface enter the egress path, frames delivered to the
// device are written back to the host.
package tap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/veesix-networks/osvnsh/pkg/logger"
	"github.com/veesix-networks/osvnsh/pkg/vxlangpe"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// DefaultMTU is the link MTU before tunnel overhead is subtracted.
const DefaultMTU = 1500

type Manager struct {
	handle *netlink.Handle
	logger *slog.Logger
}

func NewManager() *Manager {
	return &Manager{logger: logger.Get(logger.Tap)}
}

// SetNetlinkHandle directs link operations at another namespace.
func (m *Manager) SetNetlinkHandle(h *netlink.Handle) {
	m.handle = h
}

func (m *Manager) linkAdd(link netlink.Link) error {
	if m.handle != nil {
		return m.handle.LinkAdd(link)
	}
	return netlink.LinkAdd(link)
}

func (m *Manager) linkSetUp(link netlink.Link) error {
	if m.handle != nil {
		return m.handle.LinkSetUp(link)
	}
	return netlink.LinkSetUp(link)
}

func (m *Manager) linkDel(link netlink.Link) error {
	if m.handle != nil {
		return m.handle.LinkDel(link)
	}
	return netlink.LinkDel(link)
}

// Create adds a non-persistent TAP interface. Its MTU leaves room for the
// tunnel headers added on transmit.
func (m *Manager) Create(name string, mtu int) (*Port, error) {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	mtu -= vxlangpe.Headroom

	link := &netlink.Tuntap{
		LinkAttrs:  netlink.LinkAttrs{Name: name, MTU: mtu},
		Mode:       netlink.TUNTAP_MODE_TAP,
		Flags:      netlink.TUNTAP_NO_PI | netlink.TUNTAP_ONE_QUEUE,
		NonPersist: true,
		Queues:     1,
	}
	if err := m.linkAdd(link); err != nil {
		return nil, fmt.Errorf("create tap %q: %w", name, err)
	}

	f, err := pollable(link.Fds)
	if err != nil {
		_ = m.linkDel(link)
		return nil, fmt.Errorf("open tap %q: %w", name, err)
	}

	if err := m.linkSetUp(link); err != nil {
		f.Close()
		_ = m.linkDel(link)
		return nil, fmt.Errorf("set tap %q up: %w", name, err)
	}

	m.logger.Info("Created TAP interface", "device", name, "mtu", mtu)
	return &Port{name: name, mtu: mtu, file: f, logger: m.logger}, nil
}

// pollable dups the queue descriptor into a non-blocking file managed by
// the runtime poller so Close interrupts a pending Read.
func pollable(fds []*os.File) (*os.File, error) {
	if len(fds) == 0 {
		return nil, errors.New("no queue descriptors")
	}
	defer func() {
		for _, f := range fds {
			f.Close()
		}
	}()

	fd, err := unix.Dup(int(fds[0].Fd()))
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	unix.CloseOnExec(fd)
	return os.NewFile(uintptr(fd), "/dev/net/tun"), nil
}

type Port struct {
	name   string
	mtu    int
	file   *os.File
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (p *Port) Name() string {
	return p.name
}

func (p *Port) MTU() int {
	return p.mtu
}

// Deliver writes a frame to the host.
func (p *Port) Deliver(frame []byte) error {
	_, err := p.file.Write(frame)
	return err
}

// ReadFrame blocks until the host transmits a frame. It returns
// os.ErrClosed once the port is closed.
func (p *Port) ReadFrame(buf []byte) (int, error) {
	n, err := p.file.Read(buf)
	if err != nil && errors.Is(err, unix.EBADFD) {
		return 0, os.ErrClosed
	}
	return n, err
}

// Close releases the queue. The kernel removes the interface with it.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.file.Close()
		p.logger.Info("Closed TAP interface", "device", p.name)
	})
	return p.closeErr
}
