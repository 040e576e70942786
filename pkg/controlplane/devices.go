package controlplane

import (
	"context"
	"fmt"

	"github.com/veesix-networks/osvnsh/pkg/config"
	"github.com/veesix-networks/osvnsh/pkg/device"
	"github.com/veesix-networks/osvnsh/pkg/events"
	"github.com/veesix-networks/osvnsh/pkg/nsh"
)

func (s *Service) CreateDevice(ctx context.Context, req DeviceRequest) (DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.createDevice(req)
	if err != nil {
		return DeviceInfo{}, err
	}
	s.checkpointDevice(ctx, d)
	return s.deviceInfo(d), nil
}

func (s *Service) createDevice(req DeviceRequest) (*device.Device, error) {
	if req.Kind == "" {
		req.Kind = config.DeviceKindTap
	}
	if err := config.ValidateDeviceName(req.Name); err != nil {
		return nil, invalid(fmt.Errorf("%w: %w", device.ErrInvalidName, err))
	}
	switch req.Kind {
	case config.DeviceKindTap, config.DeviceKindNone:
	default:
		return nil, invalid(fmt.Errorf("unknown device kind %q", req.Kind))
	}

	var key nsh.PathKey
	if req.Key != "" {
		k, err := nsh.ParsePathKey(req.Key)
		if err != nil {
			return nil, invalid(err)
		}
		if k.IsZero() {
			return nil, invalid(device.ErrUnbound)
		}
		key = k
	}

	if _, ok := s.devices.ByName(req.Name); ok {
		return nil, fmt.Errorf("%w: %s", device.ErrExists, req.Name)
	}

	port, err := s.host.Open(req.Name, req.Kind)
	if err != nil {
		return nil, fmt.Errorf("open %s device %s: %w", req.Kind, req.Name, err)
	}

	d, err := s.devices.Create(req.Name, req.Kind, port)
	if err != nil {
		closePort(port)
		return nil, err
	}
	if !key.IsZero() {
		if _, err := s.devices.Bind(req.Name, key); err != nil {
			_, _ = s.devices.Destroy(req.Name)
			return nil, err
		}
	}
	s.host.Attach(d)

	s.publish(events.TopicDevice, events.DeviceEvent{
		Action: events.ActionCreated,
		Name:   d.Name(),
		ID:     d.ID().String(),
		Key:    keyString(d.Key()),
	})
	return d, nil
}

func (s *Service) DestroyDevice(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices.ByName(name)
	if !ok {
		return fmt.Errorf("%w: %s", device.ErrNotFound, name)
	}

	removed, err := s.devices.Destroy(name)
	if err != nil {
		return err
	}

	s.deleteCheckpoint(ctx, namespaceDevices, name)
	for _, k := range removed {
		s.deleteCheckpoint(ctx, namespacePaths, k.String())
		s.publish(events.TopicPath, events.PathEvent{Action: events.ActionRemoved, Key: k.String(), Cause: name})
	}
	s.publish(events.TopicDevice, events.DeviceEvent{Action: events.ActionDestroyed, Name: name, ID: d.ID().String()})
	return nil
}

func (s *Service) BindDevice(ctx context.Context, name string, key nsh.PathKey) (DeviceInfo, error) {
	if key.IsZero() {
		return DeviceInfo{}, invalid(device.ErrUnbound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.devices.Bind(name, key)
	if err != nil {
		return DeviceInfo{}, err
	}
	s.checkpointDevice(ctx, d)
	s.publish(events.TopicDevice, events.DeviceEvent{
		Action: events.ActionBound,
		Name:   name,
		ID:     d.ID().String(),
		Key:    key.String(),
	})
	return s.deviceInfo(d), nil
}

func (s *Service) UnbindDevice(ctx context.Context, name string) (DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.devices.Unbind(name)
	if err != nil {
		return DeviceInfo{}, err
	}
	s.checkpointDevice(ctx, d)
	s.publish(events.TopicDevice, events.DeviceEvent{Action: events.ActionUnbound, Name: name, ID: d.ID().String()})
	return s.deviceInfo(d), nil
}

func (s *Service) GetDevice(name string) (DeviceInfo, error) {
	d, ok := s.devices.ByName(name)
	if !ok {
		return DeviceInfo{}, fmt.Errorf("%w: %s", device.ErrNotFound, name)
	}
	return s.deviceInfo(d), nil
}

func (s *Service) ListDevices() []DeviceInfo {
	devs := s.devices.List()
	out := make([]DeviceInfo, 0, len(devs))
	for _, d := range devs {
		out = append(out, s.deviceInfo(d))
	}
	return out
}

func (s *Service) deviceInfo(d *device.Device) DeviceInfo {
	return DeviceInfo{
		ID:      d.ID().String(),
		Name:    d.Name(),
		Kind:    d.Kind(),
		Key:     keyString(d.Key()),
		Created: d.Created(),
		Stats:   d.Stats(),
	}
}

func keyString(k nsh.PathKey) string {
	if k.IsZero() {
		return ""
	}
	return k.String()
}

func closePort(p device.Port) {
	if c, ok := p.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}
