package pipeline

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/osvnsh/pkg/device"
	"github.com/veesix-networks/osvnsh/pkg/fib"
	"github.com/veesix-networks/osvnsh/pkg/nsh"
	"github.com/veesix-networks/osvnsh/pkg/tunnel"
	"github.com/veesix-networks/osvnsh/pkg/vxlangpe"
	"golang.org/x/sys/unix"
)

type fakeRouter struct {
	err error
}

func (r *fakeRouter) Resolve(remote, local netip.Addr) (tunnel.Route, error) {
	if r.err != nil {
		return tunnel.Route{}, r.err
	}
	return tunnel.Route{Src: local}, nil
}

type datagram struct {
	data []byte
	src  netip.Addr
	dst  netip.AddrPort
}

type fakeSocket struct {
	mu   sync.Mutex
	sent []datagram
	err  error
}

func (s *fakeSocket) WriteTo(b []byte, src netip.Addr, dst netip.AddrPort) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, datagram{data: append([]byte(nil), b...), src: src, dst: dst})
	return nil
}

func (s *fakeSocket) ReadFrom([]byte) (int, netip.AddrPort, error) {
	return 0, netip.AddrPort{}, errors.New("not implemented")
}

func (s *fakeSocket) Close() error { return nil }

type capturePort struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *capturePort) Deliver(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

func (c *capturePort) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

type host struct {
	table    *fib.Table
	registry *device.Registry
	router   *fakeRouter
	sock     *fakeSocket
	pipe     *Pipeline
}

func newHost() *host {
	h := &host{
		table:  fib.New(),
		router: &fakeRouter{},
		sock:   &fakeSocket{},
	}
	h.registry = device.NewRegistry(h.table)
	h.pipe = New(h.table, h.registry, tunnel.NewTransport(h.router, h.sock))
	return h
}

func (h *host) device(t *testing.T, name string) (*device.Device, *capturePort) {
	t.Helper()
	port := &capturePort{}
	d, err := h.registry.Create(name, "test", port)
	require.NoError(t, err)
	return d, port
}

func ethernetFrame(t *testing.T) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{192, 168, 0, 1},
		DstIP:    net.IP{192, 168, 0, 2},
	}
	udp := &layers.UDP{SrcPort: 1234, DstPort: 5678}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload("hello")))
	return buf.Bytes()
}

func nshFramed(key nsh.PathKey, frame []byte) []byte {
	out := make([]byte, nsh.MD2HeaderLen+len(frame))
	nsh.PutMD2(out, key, nsh.NextProtocolEthernet)
	copy(out[nsh.MD2HeaderLen:], frame)
	return out
}

func scenarioRemote() fib.Remote {
	return fib.Remote{
		Encap:      fib.EncapVXLANGPE,
		VNI:        100,
		RemoteAddr: netip.MustParseAddr("10.0.0.2"),
		LocalAddr:  netip.MustParseAddr("10.0.0.1"),
	}
}

func TestEgressRemoteScenario(t *testing.T) {
	h := newHost()
	key := nsh.MustPathKey(0x000123, 0x05)
	_, err := h.table.Insert(key, fib.RemoteTarget(scenarioRemote()))
	require.NoError(t, err)

	dev, _ := h.device(t, "sf0")
	_, err = h.registry.Bind("sf0", key)
	require.NoError(t, err)

	frame := ethernetFrame(t)
	h.pipe.Egress(dev, frame)

	require.Len(t, h.sock.sent, 1)
	dg := h.sock.sent[0]
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.2:60000"), dg.dst)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), dg.src)

	want := []byte{
		0x0C, 0x00, 0x00, 0x04, 0x00, 0x00, 0x64, 0x00,
		0x00, 0x02, 0x02, 0x03, 0x00, 0x01, 0x23, 0x05,
	}
	require.Len(t, dg.data, len(want)+len(frame))
	assert.Equal(t, want, dg.data[:len(want)])
	assert.Equal(t, frame, dg.data[len(want):])

	pkt := gopacket.NewPacket(dg.data, vxlangpe.LayerTypeVXLANGPE, gopacket.Default)
	gpe, ok := pkt.Layer(vxlangpe.LayerTypeVXLANGPE).(*vxlangpe.VXLANGPE)
	require.True(t, ok)
	assert.Equal(t, uint32(100), gpe.VNI)
	hdr, ok := pkt.Layer(nsh.LayerTypeNSH).(*nsh.NSH)
	require.True(t, ok)
	assert.Equal(t, key, hdr.Key)
	assert.Equal(t, nsh.MDType2, hdr.MDType)
	assert.Equal(t, uint8(2), hdr.Length)
	assert.NotNil(t, pkt.Layer(layers.LayerTypeUDP))

	st := dev.Stats()
	assert.Equal(t, uint64(1), st.TxPackets)
	assert.Equal(t, uint64(nsh.MD2HeaderLen+len(frame)), st.TxBytes)
	assert.Zero(t, st.TxErrors)

	// The original frame is left untouched.
	assert.Equal(t, ethernetFrame(t), frame)
}

func TestLoopbackEquivalence(t *testing.T) {
	frame := ethernetFrame(t)
	key := nsh.MustPathKey(0x42, 9)

	run := func(viaEgress bool) ([][]byte, device.Stats) {
		h := newHost()
		src, _ := h.device(t, "src")
		dst, port := h.device(t, "dst")
		_, err := h.table.Insert(key, fib.LocalTarget(dst.ID()))
		require.NoError(t, err)
		_, err = h.registry.Bind("src", key)
		require.NoError(t, err)

		if viaEgress {
			h.pipe.Egress(src, frame)
			assert.Equal(t, uint64(1), src.Stats().TxPackets)
			assert.Equal(t, uint64(len(frame)), src.Stats().TxBytes)
		} else {
			require.NoError(t, h.pipe.Ingress(nshFramed(key, frame)))
		}
		assert.Empty(t, h.sock.sent)
		return port.received(), dst.Stats()
	}

	egressFrames, egressStats := run(true)
	ingressFrames, ingressStats := run(false)

	require.Len(t, egressFrames, 1)
	assert.Equal(t, frame, egressFrames[0])
	assert.Equal(t, ingressFrames, egressFrames)
	assert.Equal(t, ingressStats, egressStats)
	assert.Equal(t, uint64(len(frame)), ingressStats.RxBytes)
}

func TestTunnelRoundTrip(t *testing.T) {
	key := nsh.MustPathKey(0x777, 200)
	frame := ethernetFrame(t)

	a := newHost()
	sender, _ := a.device(t, "sf-a")
	_, err := a.table.Insert(key, fib.RemoteTarget(scenarioRemote()))
	require.NoError(t, err)
	_, err = a.registry.Bind("sf-a", key)
	require.NoError(t, err)

	b := newHost()
	receiver, port := b.device(t, "sf-b")
	_, err = b.table.Insert(key, fib.LocalTarget(receiver.ID()))
	require.NoError(t, err)

	a.pipe.Egress(sender, frame)
	require.Len(t, a.sock.sent, 1)

	require.NoError(t, b.pipe.Receive(a.sock.sent[0].data))
	got := port.received()
	require.Len(t, got, 1)
	assert.Equal(t, frame, got[0])
	assert.Equal(t, uint64(1), receiver.Stats().RxPackets)
}

func TestReceiveRejectsForeignFlags(t *testing.T) {
	h := newHost()
	dg := []byte{
		0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x64, 0x00,
		// would be a version error if parsed
		0xC0, 0x02, 0x02, 0x03, 0x00, 0x01, 0x23, 0x05,
	}
	err := h.pipe.Receive(dg)
	assert.ErrorIs(t, err, ErrNotHandled)
	for _, n := range h.pipe.Drops() {
		assert.Zero(t, n)
	}
}

func TestIngressProtocolErrors(t *testing.T) {
	key := nsh.MustPathKey(1, 1)
	valid := nshFramed(key, []byte{1, 2, 3, 4})

	tests := []struct {
		name   string
		mutate func(b []byte) []byte
	}{
		{"version", func(b []byte) []byte { b[0] |= 0x40; return b }},
		{"version with oam", func(b []byte) []byte { b[0] |= 0xE0; return b }},
		{"oam", func(b []byte) []byte { b[0] |= 0x20; return b }},
		{"length exceeds buffer", func(b []byte) []byte { b[1] = 0x3F; return b }},
		{"length below minimum", func(b []byte) []byte { b[1] = 0x01; return b }},
		{"truncated", func(b []byte) []byte { return b[:3] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHost()
			dst, port := h.device(t, "dst")
			_, err := h.table.Insert(key, fib.LocalTarget(dst.ID()))
			require.NoError(t, err)

			data := tt.mutate(append([]byte(nil), valid...))
			err = h.pipe.Ingress(data)
			assert.ErrorIs(t, err, ErrProtocol)
			assert.Empty(t, port.received())
			assert.Equal(t, uint64(1), h.pipe.Drops()[DropProtocol])
		})
	}
}

func TestIngressMD1(t *testing.T) {
	h := newHost()
	key := nsh.MustPathKey(5, 5)
	dst, port := h.device(t, "dst")
	_, err := h.table.Insert(key, fib.LocalTarget(dst.ID()))
	require.NoError(t, err)

	data := make([]byte, nsh.MD1HeaderLen+2)
	nsh.PutMD2(data, key, nsh.NextProtocolEthernet)
	data[1] = nsh.MD1HeaderLen >> 2
	data[2] = byte(nsh.MDType1)
	data[nsh.MD1HeaderLen] = 0xAB
	data[nsh.MD1HeaderLen+1] = 0xCD

	require.NoError(t, h.pipe.Ingress(data))
	require.Len(t, port.received(), 1)
	assert.Equal(t, []byte{0xAB, 0xCD}, port.received()[0])
}

func TestLookupMiss(t *testing.T) {
	h := newHost()
	key := nsh.MustPathKey(9, 9)

	err := h.pipe.Ingress(nshFramed(key, []byte{1}))
	assert.ErrorIs(t, err, ErrLookupMiss)

	// A remote entry is not a usable ingress target.
	_, err = h.table.Insert(key, fib.RemoteTarget(scenarioRemote()))
	require.NoError(t, err)
	err = h.pipe.Ingress(nshFramed(key, []byte{1}))
	assert.ErrorIs(t, err, ErrLookupMiss)

	// Unbound devices drop silently.
	dev, _ := h.device(t, "idle")
	h.pipe.Egress(dev, []byte{1})
	assert.Empty(t, h.sock.sent)
	assert.Equal(t, device.Stats{}, dev.Stats())

	assert.Equal(t, uint64(3), h.pipe.Drops()[DropLookupMiss])
}

func TestDestroyedDeviceNoLongerReceives(t *testing.T) {
	h := newHost()
	k1 := nsh.MustPathKey(0x10, 1)
	k2 := nsh.MustPathKey(0x20, 1)

	dev, port := h.device(t, "sf0")
	for _, k := range []nsh.PathKey{k1, k2} {
		_, err := h.table.Insert(k, fib.LocalTarget(dev.ID()))
		require.NoError(t, err)
	}

	removed, err := h.registry.Destroy("sf0")
	require.NoError(t, err)
	assert.ElementsMatch(t, []nsh.PathKey{k1, k2}, removed)

	for _, k := range []nsh.PathKey{k1, k2} {
		err := h.pipe.Ingress(nshFramed(k, []byte{1}))
		assert.ErrorIs(t, err, ErrLookupMiss)
	}
	assert.Empty(t, port.received())
}

func TestEgressRoutingError(t *testing.T) {
	h := newHost()
	h.router.err = tunnel.ErrRouting
	key := nsh.MustPathKey(3, 3)
	_, err := h.table.Insert(key, fib.RemoteTarget(scenarioRemote()))
	require.NoError(t, err)

	dev, _ := h.device(t, "sf0")
	_, err = h.registry.Bind("sf0", key)
	require.NoError(t, err)

	h.pipe.Egress(dev, []byte{1, 2, 3})

	st := dev.Stats()
	assert.Zero(t, st.TxPackets)
	assert.Equal(t, uint64(1), st.TxErrors)
	assert.Equal(t, uint64(1), st.TxCarrierErrors)
	assert.Equal(t, uint64(1), st.TxDropped)
	assert.Equal(t, uint64(1), h.pipe.Drops()[DropRouting])
	assert.Empty(t, h.sock.sent)
}

func TestEgressSendErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		reason  DropReason
		carrier uint64
	}{
		{name: "network unreachable", err: unix.ENETUNREACH, reason: DropRouting, carrier: 1},
		{name: "host unreachable", err: unix.EHOSTUNREACH, reason: DropRouting, carrier: 1},
		{name: "other", err: unix.EPERM, reason: DropTransmit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHost()
			h.sock.err = tt.err
			key := nsh.MustPathKey(0x000123, 0x05)
			_, err := h.table.Insert(key, fib.RemoteTarget(scenarioRemote()))
			require.NoError(t, err)

			dev, _ := h.device(t, "sf0")
			_, err = h.registry.Bind("sf0", key)
			require.NoError(t, err)

			h.pipe.Egress(dev, ethernetFrame(t))

			st := dev.Stats()
			assert.Zero(t, st.TxPackets)
			assert.Equal(t, uint64(1), st.TxErrors)
			assert.Equal(t, tt.carrier, st.TxCarrierErrors)

			drops := h.pipe.Drops()
			for _, r := range DropReasons() {
				want := uint64(0)
				if r == tt.reason {
					want = 1
				}
				assert.Equal(t, want, drops[r], r.String())
			}
		})
	}
}

type failingPort struct{}

func (failingPort) Deliver([]byte) error { return errors.New("queue full") }

func TestDeliverFailureNotCountedAsReceived(t *testing.T) {
	h := newHost()
	dev, err := h.registry.Create("sf0", "test", failingPort{})
	require.NoError(t, err)
	key := nsh.MustPathKey(6, 6)
	_, err = h.table.Insert(key, fib.LocalTarget(dev.ID()))
	require.NoError(t, err)

	err = h.pipe.Ingress(nshFramed(key, []byte{1, 2, 3}))
	assert.ErrorIs(t, err, ErrResource)

	st := dev.Stats()
	assert.Zero(t, st.RxPackets)
	assert.Zero(t, st.RxBytes)
	assert.Equal(t, uint64(1), h.pipe.Drops()[DropResource])
}

func TestEgressUnsupportedEncap(t *testing.T) {
	h := newHost()
	key := nsh.MustPathKey(4, 4)
	r := scenarioRemote()
	r.Encap = fib.EncapGUE
	_, err := h.table.Insert(key, fib.RemoteTarget(r))
	require.NoError(t, err)

	dev, _ := h.device(t, "sf0")
	_, err = h.registry.Bind("sf0", key)
	require.NoError(t, err)

	h.pipe.Egress(dev, []byte{1})

	assert.Equal(t, uint64(1), dev.Stats().TxErrors)
	assert.Zero(t, dev.Stats().TxCarrierErrors)
	assert.Equal(t, uint64(1), h.pipe.Drops()[DropEncapsulation])
	assert.Empty(t, h.sock.sent)
}

type blockingPort struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingPort) Deliver([]byte) error {
	close(b.entered)
	<-b.release
	return nil
}

func TestCloseQuiesces(t *testing.T) {
	h := newHost()
	key := nsh.MustPathKey(8, 8)
	port := &blockingPort{entered: make(chan struct{}), release: make(chan struct{})}
	dev, err := h.registry.Create("slow", "test", port)
	require.NoError(t, err)
	_, err = h.table.Insert(key, fib.LocalTarget(dev.ID()))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- h.pipe.Ingress(nshFramed(key, []byte{1})) }()
	<-port.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.pipe.Close(ctx), context.DeadlineExceeded)

	// New packets are refused while the old one is still in flight.
	assert.ErrorIs(t, h.pipe.Ingress(nshFramed(key, []byte{1})), ErrClosed)
	h.pipe.Egress(dev, []byte{1})
	assert.Equal(t, uint64(1), dev.Stats().TxDropped)

	close(port.release)
	require.NoError(t, <-done)
	require.NoError(t, h.pipe.Close(context.Background()))
}

func TestConcurrentEgress(t *testing.T) {
	h := newHost()
	key := nsh.MustPathKey(0x99, 1)
	_, err := h.table.Insert(key, fib.RemoteTarget(scenarioRemote()))
	require.NoError(t, err)
	dev, _ := h.device(t, "sf0")
	_, err = h.registry.Bind("sf0", key)
	require.NoError(t, err)

	frame := ethernetFrame(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.pipe.Egress(dev, frame)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, h.sock.sent, 400)
	assert.Equal(t, uint64(400), dev.Stats().TxPackets)
	for _, dg := range h.sock.sent {
		assert.Equal(t, frame, dg.data[vxlangpe.HeaderLen+nsh.MD2HeaderLen:])
	}
}
