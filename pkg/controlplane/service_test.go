package controlplane

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/osvnsh/pkg/config"
	"github.com/veesix-networks/osvnsh/pkg/device"
	"github.com/veesix-networks/osvnsh/pkg/events"
	"github.com/veesix-networks/osvnsh/pkg/events/local"
	"github.com/veesix-networks/osvnsh/pkg/fib"
	"github.com/veesix-networks/osvnsh/pkg/nsh"
	"github.com/veesix-networks/osvnsh/pkg/opdb"
	"github.com/veesix-networks/osvnsh/pkg/opdb/sqlite"
	"github.com/veesix-networks/osvnsh/pkg/pipeline"
)

type testPort struct {
	closed bool
}

func (p *testPort) Deliver([]byte) error { return nil }
func (p *testPort) Close() error {
	p.closed = true
	return nil
}

type fakeHost struct {
	ports    map[string]*testPort
	attached []string
	openErr  error
}

func newFakeHost() *fakeHost {
	return &fakeHost{ports: make(map[string]*testPort)}
}

func (h *fakeHost) Open(name, kind string) (device.Port, error) {
	if h.openErr != nil {
		return nil, h.openErr
	}
	p := &testPort{}
	h.ports[name] = p
	return p, nil
}

func (h *fakeHost) Attach(d *device.Device) {
	h.attached = append(h.attached, d.Name())
}

type staticDrops map[pipeline.DropReason]uint64

func (s staticDrops) Drops() map[pipeline.DropReason]uint64 { return s }

func newService(t *testing.T) (*Service, *fakeHost) {
	t.Helper()
	table := fib.New()
	host := newFakeHost()
	return New(table, device.NewRegistry(table), host), host
}

func remotePath(spi uint32, si uint8) PathRequest {
	return PathRequest{
		SPI: spi,
		SI:  si,
		Remote: &RemoteRequest{
			VNI:     100,
			Address: "10.0.0.2",
			Local:   "10.0.0.1",
		},
	}
}

func TestCreateDevice(t *testing.T) {
	ctx := context.Background()
	svc, host := newService(t)

	info, err := svc.CreateDevice(ctx, DeviceRequest{Name: "sf0"})
	require.NoError(t, err)
	assert.Equal(t, "sf0", info.Name)
	assert.Equal(t, config.DeviceKindTap, info.Kind)
	assert.Empty(t, info.Key)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, []string{"sf0"}, host.attached)

	info, err = svc.CreateDevice(ctx, DeviceRequest{Name: "sf1", Kind: "none", Key: "0x123:5"})
	require.NoError(t, err)
	assert.Equal(t, "291:5", info.Key)

	got, err := svc.GetDevice("sf1")
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)

	list := svc.ListDevices()
	require.Len(t, list, 2)
	assert.Equal(t, "sf0", list[0].Name)

	_, err = svc.GetDevice("missing")
	assert.True(t, IsNotFound(err))
}

func TestCreateDeviceRejects(t *testing.T) {
	ctx := context.Background()
	svc, host := newService(t)

	_, err := svc.CreateDevice(ctx, DeviceRequest{Name: "sf0"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		req   DeviceRequest
		check func(error) bool
	}{
		{"duplicate", DeviceRequest{Name: "sf0"}, IsConflict},
		{"empty name", DeviceRequest{Name: ""}, IsInvalid},
		{"long name", DeviceRequest{Name: "sixteen-chars-xx"}, IsInvalid},
		{"bad kind", DeviceRequest{Name: "sf1", Kind: "veth"}, IsInvalid},
		{"bad key", DeviceRequest{Name: "sf1", Key: "1"}, IsInvalid},
		{"zero key", DeviceRequest{Name: "sf1", Key: "0:0"}, IsInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateDevice(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
		})
	}

	host.openErr = errors.New("no tun device")
	_, err = svc.CreateDevice(ctx, DeviceRequest{Name: "sf2"})
	assert.ErrorIs(t, err, host.openErr)
	assert.Len(t, svc.ListDevices(), 1)
}

func TestBindUnbind(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	_, err := svc.CreateDevice(ctx, DeviceRequest{Name: "sf0", Kind: "none"})
	require.NoError(t, err)

	info, err := svc.BindDevice(ctx, "sf0", nsh.MustPathKey(7, 1))
	require.NoError(t, err)
	assert.Equal(t, "7:1", info.Key)

	_, err = svc.BindDevice(ctx, "sf0", 0)
	assert.True(t, IsInvalid(err))

	_, err = svc.BindDevice(ctx, "nope", nsh.MustPathKey(7, 1))
	assert.True(t, IsNotFound(err))

	info, err = svc.UnbindDevice(ctx, "sf0")
	require.NoError(t, err)
	assert.Empty(t, info.Key)
}

func TestAddPath(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	require.NoError(t, svc.SetLocalNetworks([]string{"10.0.0.0/24", "192.0.2.9"}))
	_, err := svc.CreateDevice(ctx, DeviceRequest{Name: "sf0", Kind: "none"})
	require.NoError(t, err)

	info, err := svc.AddPath(ctx, remotePath(0x123, 5))
	require.NoError(t, err)
	assert.Equal(t, "291:5", info.Key)
	require.NotNil(t, info.Remote)
	assert.Equal(t, "vxlan-gpe", info.Remote.Encap)
	assert.Equal(t, "10.0.0.2", info.Remote.Address)

	info, err = svc.AddPath(ctx, PathRequest{SPI: 0x123, SI: 4, Device: "sf0"})
	require.NoError(t, err)
	assert.Equal(t, "sf0", info.Device)

	paths := svc.ListPaths()
	require.Len(t, paths, 2)
	assert.Equal(t, uint8(4), paths[0].SI)

	got, err := svc.GetPath(nsh.MustPathKey(0x123, 5))
	require.NoError(t, err)
	assert.Equal(t, uint32(100), got.Remote.VNI)
}

func TestAddPathRejects(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	require.NoError(t, svc.SetLocalNetworks([]string{"10.0.0.0/24"}))
	_, err := svc.CreateDevice(ctx, DeviceRequest{Name: "sf0", Kind: "none"})
	require.NoError(t, err)
	_, err = svc.AddPath(ctx, remotePath(1, 1))
	require.NoError(t, err)

	mutate := func(f func(r *PathRequest)) PathRequest {
		r := remotePath(2, 2)
		f(&r)
		return r
	}

	tests := []struct {
		name  string
		req   PathRequest
		check func(error) bool
	}{
		{"duplicate", remotePath(1, 1), IsConflict},
		{"zero key", remotePath(0, 0), IsInvalid},
		{"spi overflow", remotePath(1<<24, 0), IsInvalid},
		{"no target", PathRequest{SPI: 2, SI: 2}, IsInvalid},
		{"both targets", mutate(func(r *PathRequest) { r.Device = "sf0" }), IsInvalid},
		{"unknown device", PathRequest{SPI: 2, SI: 2, Device: "nope"}, IsInvalid},
		{"local outside networks", mutate(func(r *PathRequest) { r.Remote.Local = "172.16.0.1" }), IsInvalid},
		{"ipv6 remote", mutate(func(r *PathRequest) { r.Remote.Address = "2001:db8::1" }), IsInvalid},
		{"vni overflow", mutate(func(r *PathRequest) { r.Remote.VNI = 1 << 24 }), IsInvalid},
		{"unknown encap", mutate(func(r *PathRequest) { r.Remote.Encap = "ipip" }), IsInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddPath(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
			assert.Len(t, svc.ListPaths(), 1)
		})
	}

	_, err = svc.AddPath(ctx, mutate(func(r *PathRequest) { r.Remote.Local = "" }))
	assert.NoError(t, err)
}

func TestDeletePath(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	_, err := svc.AddPath(ctx, remotePath(1, 1))
	require.NoError(t, err)

	require.NoError(t, svc.DeletePath(ctx, nsh.MustPathKey(1, 1)))
	assert.Empty(t, svc.ListPaths())

	err = svc.DeletePath(ctx, nsh.MustPathKey(1, 1))
	assert.True(t, IsNotFound(err))
}

func waitEvents(t *testing.T, ch <-chan events.Event, n int) []events.Event {
	t.Helper()
	var out []events.Event
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-deadline:
			t.Fatalf("got %d of %d events", len(out), n)
		}
	}
	return out
}

func TestDestroyDeviceRemovesPaths(t *testing.T) {
	ctx := context.Background()
	svc, host := newService(t)
	bus := local.NewBus()
	defer bus.Close()
	svc.SetEventBus(bus)

	pathEvents := make(chan events.Event, 16)
	bus.Subscribe(events.TopicPath, func(e events.Event) { pathEvents <- e })

	_, err := svc.CreateDevice(ctx, DeviceRequest{Name: "sf0"})
	require.NoError(t, err)
	for _, si := range []uint8{1, 2} {
		_, err := svc.AddPath(ctx, PathRequest{SPI: 10, SI: si, Device: "sf0"})
		require.NoError(t, err)
	}
	_, err = svc.AddPath(ctx, remotePath(11, 1))
	require.NoError(t, err)

	require.NoError(t, svc.DestroyDevice(ctx, "sf0"))
	assert.True(t, host.ports["sf0"].closed)

	paths := svc.ListPaths()
	require.Len(t, paths, 1)
	assert.Equal(t, "11:1", paths[0].Key)

	got := waitEvents(t, pathEvents, 5)
	var removed []string
	for _, e := range got {
		pe := e.Data.(events.PathEvent)
		if pe.Action == events.ActionRemoved {
			assert.Equal(t, "sf0", pe.Cause)
			removed = append(removed, pe.Key)
		}
	}
	assert.ElementsMatch(t, []string{"10:1", "10:2"}, removed)

	err = svc.DestroyDevice(ctx, "sf0")
	assert.True(t, IsNotFound(err))
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(sqlite.Memory)
	require.NoError(t, err)
	defer store.Close()

	svc, _ := newService(t)
	svc.SetStore(store)

	_, err = svc.CreateDevice(ctx, DeviceRequest{Name: "sf0", Key: "5:5"})
	require.NoError(t, err)
	_, err = svc.CreateDevice(ctx, DeviceRequest{Name: "sf1", Kind: "none"})
	require.NoError(t, err)
	_, err = svc.BindDevice(ctx, "sf1", nsh.MustPathKey(6, 6))
	require.NoError(t, err)
	_, err = svc.AddPath(ctx, PathRequest{SPI: 5, SI: 4, Device: "sf1"})
	require.NoError(t, err)
	_, err = svc.AddPath(ctx, remotePath(6, 6))
	require.NoError(t, err)
	_, err = svc.AddPath(ctx, remotePath(7, 7))
	require.NoError(t, err)
	require.NoError(t, svc.DeletePath(ctx, nsh.MustPathKey(7, 7)))

	// A path whose device no longer exists is dropped on restore.
	require.NoError(t, store.Put(ctx, opdb.NamespacePaths, "9:9", []byte(`{"spi":9,"si":9,"device":"gone"}`)))
	require.NoError(t, store.Put(ctx, opdb.NamespaceDevices, "junk", []byte(`{`)))

	restored, host := newService(t)
	reg := opdb.NewProviderRegistry()
	reg.Register(restored)
	require.NoError(t, reg.RestoreAll(ctx, store))

	devs := restored.ListDevices()
	require.Len(t, devs, 2)
	assert.Equal(t, "5:5", devs[0].Key)
	assert.Equal(t, "6:6", devs[1].Key)
	assert.Equal(t, "none", devs[1].Kind)
	assert.ElementsMatch(t, []string{"sf0", "sf1"}, host.attached)

	paths := restored.ListPaths()
	require.Len(t, paths, 2)
	assert.Equal(t, "5:4", paths[0].Key)
	assert.Equal(t, "sf1", paths[0].Device)
	assert.Equal(t, "6:6", paths[1].Key)
	assert.NotNil(t, paths[1].Remote)

	n, err := store.Count(ctx, opdb.NamespacePaths)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = store.Count(ctx, opdb.NamespaceDevices)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestProvision(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	devices := []config.DeviceConfig{
		{Name: "sf0", Kind: "none", Key: "1:255"},
		{Name: "sf1", Kind: "none"},
	}
	paths := []config.PathConfig{
		{SPI: 1, SI: 254, Device: "sf1"},
		{SPI: 1, SI: 255, Remote: &config.RemoteConfig{VNI: 10, Address: "10.0.0.2"}},
	}

	require.NoError(t, svc.Provision(ctx, devices, paths))
	require.NoError(t, svc.Provision(ctx, devices, paths))
	assert.Len(t, svc.ListDevices(), 2)
	assert.Len(t, svc.ListPaths(), 2)

	err := svc.Provision(ctx, nil, []config.PathConfig{{SPI: 2, SI: 1, Device: "missing"}})
	assert.True(t, IsInvalid(err))
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	svc.SetDropSource(staticDrops{pipeline.DropLookupMiss: 3})

	_, err := svc.CreateDevice(ctx, DeviceRequest{Name: "sf0", Kind: "none"})
	require.NoError(t, err)
	_, err = svc.AddPath(ctx, remotePath(1, 1))
	require.NoError(t, err)

	st := svc.Stats()
	assert.Equal(t, 1, st.Paths)
	require.Len(t, st.Devices, 1)
	assert.Equal(t, uint64(3), st.Drops["lookup_miss"])
}
