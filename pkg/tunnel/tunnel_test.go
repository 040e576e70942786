package tunnel

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/osvnsh/pkg/fib"
	"github.com/veesix-networks/osvnsh/pkg/vxlangpe"
	"golang.org/x/sys/unix"
)

type staticRouter struct {
	route Route
	err   error
	calls int
}

func (r *staticRouter) Resolve(remote, local netip.Addr) (Route, error) {
	r.calls++
	return r.route, r.err
}

type sent struct {
	data []byte
	src  netip.Addr
	dst  netip.AddrPort
}

type recordingSocket struct {
	sent []sent
	err  error
}

func (s *recordingSocket) WriteTo(b []byte, src netip.Addr, dst netip.AddrPort) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sent{data: append([]byte(nil), b...), src: src, dst: dst})
	return nil
}

func (s *recordingSocket) ReadFrom([]byte) (int, netip.AddrPort, error) {
	return 0, netip.AddrPort{}, errors.New("not implemented")
}

func (s *recordingSocket) Close() error { return nil }

func payloadBuffer(t *testing.T, payload []byte) gopacket.SerializeBuffer {
	t.Helper()
	buf := gopacket.NewSerializeBufferExpectedSize(vxlangpe.Headroom, 0)
	b, err := buf.AppendBytes(len(payload))
	require.NoError(t, err)
	copy(b, payload)
	return buf
}

func remote(vni uint32) *fib.Remote {
	return &fib.Remote{
		Encap:      fib.EncapVXLANGPE,
		VNI:        vni,
		RemoteAddr: netip.MustParseAddr("10.0.0.2"),
		LocalAddr:  netip.MustParseAddr("10.0.0.1"),
	}
}

func TestVXLANGPEEncapsulate(t *testing.T) {
	router := &staticRouter{route: Route{Src: netip.MustParseAddr("192.0.2.1")}}
	sock := &recordingSocket{}
	tr := NewTransport(router, sock)

	err := tr.Encapsulate(payloadBuffer(t, []byte{0xAA, 0xBB}), remote(100))
	require.NoError(t, err)
	require.Len(t, sock.sent, 1)

	s := sock.sent[0]
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.2:60000"), s.dst)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), s.src)
	assert.Equal(t, []byte{0x0C, 0x00, 0x00, 0x04, 0x00, 0x00, 0x64, 0x00, 0xAA, 0xBB}, s.data)
	assert.Equal(t, 1, router.calls)
}

func TestVXLANGPESourceFromRoute(t *testing.T) {
	router := &staticRouter{route: Route{Src: netip.MustParseAddr("192.0.2.1")}}
	sock := &recordingSocket{}
	tr := NewTransport(router, sock)

	r := remote(7)
	r.LocalAddr = netip.Addr{}
	require.NoError(t, tr.Encapsulate(payloadBuffer(t, []byte{1}), r))
	require.Len(t, sock.sent, 1)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), sock.sent[0].src)
}

func TestEncapsulateErrors(t *testing.T) {
	tests := []struct {
		name   string
		router *staticRouter
		sock   *recordingSocket
		remote func() *fib.Remote
		want   error
	}{
		{
			name:   "no route",
			router: &staticRouter{err: ErrRouting},
			sock:   &recordingSocket{},
			remote: func() *fib.Remote { return remote(1) },
			want:   ErrRouting,
		},
		{
			name:   "vni overflow",
			router: &staticRouter{},
			sock:   &recordingSocket{},
			remote: func() *fib.Remote { return remote(vxlangpe.MaxVNI + 1) },
			want:   ErrEncapsulation,
		},
		{
			name:   "gre stub",
			router: &staticRouter{},
			sock:   &recordingSocket{},
			remote: func() *fib.Remote {
				r := remote(1)
				r.Encap = fib.EncapGRE
				return r
			},
			want: ErrEncapsulation,
		},
		{
			name:   "unknown type",
			router: &staticRouter{},
			sock:   &recordingSocket{},
			remote: func() *fib.Remote {
				r := remote(1)
				r.Encap = fib.EncapType(42)
				return r
			},
			want: ErrEncapsulation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTransport(tt.router, tt.sock)
			err := tr.Encapsulate(payloadBuffer(t, []byte{1}), tt.remote())
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, tt.sock.sent)
		})
	}
}

func TestSendFailure(t *testing.T) {
	boom := errors.New("boom")
	tr := NewTransport(&staticRouter{}, &recordingSocket{err: boom})
	err := tr.Encapsulate(payloadBuffer(t, []byte{1}), remote(1))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrRouting)
}

func TestSendUnreachable(t *testing.T) {
	for _, errno := range []error{unix.ENETUNREACH, unix.EHOSTUNREACH} {
		t.Run(errno.Error(), func(t *testing.T) {
			tr := NewTransport(&staticRouter{}, &recordingSocket{err: errno})
			err := tr.Encapsulate(payloadBuffer(t, []byte{1}), remote(1))
			assert.ErrorIs(t, err, ErrRouting)
			assert.ErrorIs(t, err, errno)
		})
	}
}

func TestRegisterOverridesStub(t *testing.T) {
	tr := NewTransport(&staticRouter{}, &recordingSocket{})
	called := false
	tr.Register(fib.EncapGUE, EncapsulatorFunc(func(gopacket.SerializeBuffer, *fib.Remote) error {
		called = true
		return nil
	}))

	r := remote(1)
	r.Encap = fib.EncapGUE
	require.NoError(t, tr.Encapsulate(payloadBuffer(t, []byte{1}), r))
	assert.True(t, called)
}

func TestDecapsulate(t *testing.T) {
	tr := NewTransport(&staticRouter{}, &recordingSocket{})

	payload, hdr, ok := tr.Decapsulate([]byte{0x0C, 0x00, 0x00, 0x04, 0x00, 0x00, 0x64, 0x00, 0x01, 0x02})
	require.True(t, ok)
	assert.Equal(t, uint32(100), hdr.VNI)
	assert.Equal(t, []byte{0x01, 0x02}, payload)

	_, _, ok = tr.Decapsulate([]byte{0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x64, 0x00})
	assert.False(t, ok)

	_, _, ok = tr.Decapsulate([]byte{0x0C, 0x00, 0x00})
	assert.False(t, ok)
}
