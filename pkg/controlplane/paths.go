package controlplane

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/veesix-networks/osvnsh/pkg/device"
	"github.com/veesix-networks/osvnsh/pkg/events"
	"github.com/veesix-networks/osvnsh/pkg/fib"
	"github.com/veesix-networks/osvnsh/pkg/nsh"
	"github.com/veesix-networks/osvnsh/pkg/vxlangpe"
)

func (s *Service) AddPath(ctx context.Context, req PathRequest) (PathInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.addPath(req)
	if err != nil {
		return PathInfo{}, err
	}
	s.checkpointPath(ctx, e.Key, req)
	return s.pathInfo(e), nil
}

func (s *Service) addPath(req PathRequest) (*fib.Entry, error) {
	key, err := nsh.NewPathKey(req.SPI, req.SI)
	if err != nil {
		return nil, invalid(err)
	}
	if key.IsZero() {
		return nil, invalid(fib.ErrInvalidKey)
	}

	target, err := s.resolveTarget(req)
	if err != nil {
		return nil, err
	}

	e, err := s.table.Insert(key, target)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Added path", "key", key.String(), "target", s.targetString(e.Target))
	s.publish(events.TopicPath, events.PathEvent{
		Action: events.ActionAdded,
		Key:    key.String(),
		Target: s.targetString(e.Target),
	})
	return e, nil
}

func (s *Service) resolveTarget(req PathRequest) (fib.Target, error) {
	if (req.Device == "") == (req.Remote == nil) {
		return fib.Target{}, invalid(fib.ErrInvalidTarget)
	}

	if req.Device != "" {
		d, ok := s.devices.ByName(req.Device)
		if !ok {
			return fib.Target{}, invalid(fmt.Errorf("%w: %s", device.ErrNotFound, req.Device))
		}
		return fib.LocalTarget(d.ID()), nil
	}

	r := req.Remote
	encap, err := fib.ParseEncapType(r.Encap)
	if err != nil {
		return fib.Target{}, invalid(err)
	}
	if r.VNI > vxlangpe.MaxVNI {
		return fib.Target{}, invalid(fmt.Errorf("%w: %d", vxlangpe.ErrVNIOverflow, r.VNI))
	}

	remote, err := netip.ParseAddr(r.Address)
	if err != nil || !remote.Is4() {
		return fib.Target{}, invalid(fmt.Errorf("remote address %q is not IPv4", r.Address))
	}

	var local netip.Addr
	if r.Local != "" {
		local, err = netip.ParseAddr(r.Local)
		if err != nil || !local.Is4() {
			return fib.Target{}, invalid(fmt.Errorf("local address %q is not IPv4", r.Local))
		}
		if !s.localAllowed(local) {
			return fib.Target{}, invalid(fmt.Errorf("%w: %s", ErrLocalAddress, local))
		}
	}

	return fib.RemoteTarget(fib.Remote{
		Encap:      encap,
		VNI:        r.VNI,
		RemoteAddr: remote,
		LocalAddr:  local,
	}), nil
}

func (s *Service) DeletePath(ctx context.Context, key nsh.PathKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.table.Remove(key)
	if err != nil {
		return err
	}

	s.deleteCheckpoint(ctx, namespacePaths, key.String())
	s.logger.Info("Deleted path", "key", key.String())
	s.publish(events.TopicPath, events.PathEvent{
		Action: events.ActionRemoved,
		Key:    key.String(),
		Target: s.targetString(e.Target),
	})
	return nil
}

func (s *Service) GetPath(key nsh.PathKey) (PathInfo, error) {
	e, ok := s.table.Lookup(key)
	if !ok {
		return PathInfo{}, fmt.Errorf("%w: %s", fib.ErrNotFound, key)
	}
	return s.pathInfo(e), nil
}

func (s *Service) ListPaths() []PathInfo {
	entries := s.table.List()
	out := make([]PathInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.pathInfo(e))
	}
	return out
}

func (s *Service) pathInfo(e *fib.Entry) PathInfo {
	info := PathInfo{
		Key:     e.Key.String(),
		SPI:     e.SPI(),
		SI:      e.SI(),
		Updated: e.Updated,
	}
	if e.Target.IsLocal() {
		info.Device = s.deviceName(e.Target.Device)
	} else if r := e.Target.Remote; r != nil {
		info.Remote = &RemoteRequest{
			Encap:   r.Encap.String(),
			VNI:     r.VNI,
			Address: r.RemoteAddr.String(),
		}
		if r.LocalAddr.IsValid() {
			info.Remote.Local = r.LocalAddr.String()
		}
	}
	return info
}

func (s *Service) deviceName(id device.ID) string {
	if d, ok := s.devices.Get(id); ok {
		return d.Name()
	}
	return id.String()
}

func (s *Service) targetString(t fib.Target) string {
	if t.IsLocal() {
		return "device " + s.deviceName(t.Device)
	}
	return t.String()
}

func (s *Service) Stats() Stats {
	st := Stats{
		Devices: s.ListDevices(),
		Paths:   s.table.Len(),
		Drops:   map[string]uint64{},
	}
	if s.drops != nil {
		st.Drops = dropNames(s.drops.Drops())
	}
	return st
}
