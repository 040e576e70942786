package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/veesix-networks/osvnsh/pkg/config"
	"github.com/veesix-networks/osvnsh/pkg/device"
	"github.com/veesix-networks/osvnsh/pkg/fib"
	"github.com/veesix-networks/osvnsh/pkg/nsh"
	"github.com/veesix-networks/osvnsh/pkg/opdb"
)

const (
	namespaceDevices = opdb.NamespaceDevices
	namespacePaths   = opdb.NamespacePaths
)

var _ opdb.Provider = (*Service)(nil)

func (s *Service) checkpointDevice(ctx context.Context, d *device.Device) {
	if s.store == nil {
		return
	}

	data, err := json.Marshal(DeviceRequest{Name: d.Name(), Kind: d.Kind(), Key: keyString(d.Key())})
	if err != nil {
		s.logger.Warn("Failed to marshal device for checkpoint", "device", d.Name(), "error", err)
		return
	}
	if err := s.store.Put(ctx, namespaceDevices, d.Name(), data); err != nil {
		s.logger.Warn("Failed to checkpoint device", "device", d.Name(), "error", err)
	}
}

func (s *Service) checkpointPath(ctx context.Context, key nsh.PathKey, req PathRequest) {
	if s.store == nil {
		return
	}

	data, err := json.Marshal(req)
	if err != nil {
		s.logger.Warn("Failed to marshal path for checkpoint", "key", key.String(), "error", err)
		return
	}
	if err := s.store.Put(ctx, namespacePaths, key.String(), data); err != nil {
		s.logger.Warn("Failed to checkpoint path", "key", key.String(), "error", err)
	}
}

func (s *Service) deleteCheckpoint(ctx context.Context, namespace, key string) {
	if s.store == nil {
		return
	}
	if err := s.store.Delete(ctx, namespace, key); err != nil {
		s.logger.Warn("Failed to delete checkpoint", "namespace", namespace, "key", key, "error", err)
	}
}

func (s *Service) Namespaces() []string {
	return []string{namespaceDevices, namespacePaths}
}

// Restore recreates checkpointed devices, then paths. Paths are stored
// with device names, so they resolve to the new device identities.
// Records that can never be applied again are deleted.
func (s *Service) Restore(ctx context.Context, store opdb.Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var devices, paths, stale int

	err := store.Load(ctx, namespaceDevices, func(key string, value []byte) error {
		var req DeviceRequest
		if err := json.Unmarshal(value, &req); err != nil {
			s.logger.Warn("Failed to unmarshal device from store", "key", key, "error", err)
			_ = store.Delete(ctx, namespaceDevices, key)
			stale++
			return nil
		}
		if _, err := s.createDevice(req); err != nil {
			switch {
			case errors.Is(err, device.ErrExists):
			case IsInvalid(err):
				s.logger.Warn("Deleting invalid device record", "device", key, "error", err)
				_ = store.Delete(ctx, namespaceDevices, key)
				stale++
			default:
				s.logger.Warn("Failed to restore device", "device", key, "error", err)
			}
			return nil
		}
		devices++
		return nil
	})
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}

	err = store.Load(ctx, namespacePaths, func(key string, value []byte) error {
		var req PathRequest
		if err := json.Unmarshal(value, &req); err != nil {
			s.logger.Warn("Failed to unmarshal path from store", "key", key, "error", err)
			_ = store.Delete(ctx, namespacePaths, key)
			stale++
			return nil
		}
		if _, err := s.addPath(req); err != nil {
			switch {
			case errors.Is(err, fib.ErrDuplicateKey):
			case IsInvalid(err):
				s.logger.Warn("Deleting stale path record", "key", key, "error", err)
				_ = store.Delete(ctx, namespacePaths, key)
				stale++
			default:
				s.logger.Warn("Failed to restore path", "key", key, "error", err)
			}
			return nil
		}
		paths++
		return nil
	})
	if err != nil {
		return fmt.Errorf("load paths: %w", err)
	}

	s.logger.Info("Restored state from store", "devices", devices, "paths", paths, "stale", stale)
	return nil
}

// Provision creates the devices and paths of a static configuration that
// do not exist yet. Objects already present, e.g. restored from the store,
// are left as they are.
func (s *Service) Provision(ctx context.Context, devices []config.DeviceConfig, paths []config.PathConfig) error {
	for _, dc := range devices {
		_, err := s.CreateDevice(ctx, DeviceRequest{Name: dc.Name, Kind: dc.Kind, Key: dc.Key})
		switch {
		case err == nil:
		case errors.Is(err, device.ErrExists):
			s.logger.Debug("Configured device already present", "device", dc.Name)
		default:
			return fmt.Errorf("provision device %s: %w", dc.Name, err)
		}
	}

	for _, pc := range paths {
		req := PathRequest{SPI: pc.SPI, SI: pc.SI, Device: pc.Device}
		if pc.Remote != nil {
			req.Remote = &RemoteRequest{
				Encap:   pc.Remote.Encap,
				VNI:     pc.Remote.VNI,
				Address: pc.Remote.Address,
				Local:   pc.Remote.Local,
			}
		}
		_, err := s.AddPath(ctx, req)
		switch {
		case err == nil:
		case errors.Is(err, fib.ErrDuplicateKey):
			s.logger.Debug("Configured path already present", "spi", pc.SPI, "si", pc.SI)
		default:
			return fmt.Errorf("provision path %d:%d: %w", pc.SPI, pc.SI, err)
		}
	}

	if len(devices) > 0 || len(paths) > 0 {
		s.logger.Info("Applied static provisioning", "devices", len(devices), "paths", len(paths))
	}
	return nil
}
