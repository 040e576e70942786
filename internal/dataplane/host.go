//go:build linux

package dataplane

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/veesix-networks/osvnsh/pkg/config"
	"github.com/veesix-networks/osvnsh/pkg/device"
	"github.com/veesix-networks/osvnsh/pkg/device/tap"
)

// frameSlack covers the Ethernet header and a VLAN tag on top of the MTU.
const frameSlack = 14 + 4

// Open creates the host side of a device.
func (c *Component) Open(name, kind string) (device.Port, error) {
	switch kind {
	case config.DeviceKindNone:
		return device.Discard, nil
	case config.DeviceKindTap:
		var port *tap.Port
		err := c.ns.run(func() error {
			var err error
			port, err = c.taps.Create(name, c.cfg.MTU)
			return err
		})
		if err != nil {
			return nil, err
		}
		return port, nil
	}
	return nil, fmt.Errorf("unsupported device kind %q", kind)
}

// Attach starts the reader moving frames the host transmits on d into the
// egress path. Readers attached before Start run once the component starts.
func (c *Component) Attach(d *device.Device) {
	if _, ok := d.Port().(*tap.Port); !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		c.pending = append(c.pending, d)
		return
	}
	c.startReader(d)
}

func (c *Component) startReader(d *device.Device) {
	port := d.Port().(*tap.Port)
	c.Go(func() {
		c.readTap(d, port)
	})
}

func (c *Component) readTap(d *device.Device, port *tap.Port) {
	log := c.logger.With("device", d.Name())
	log.Debug("Starting TAP reader")

	buf := make([]byte, port.MTU()+frameSlack)
	for {
		n, err := port.ReadFrame(buf)
		if err != nil {
			if errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF) || c.Ctx.Err() != nil {
				log.Debug("Stopping TAP reader")
				return
			}
			log.Warn("Failed to read from TAP", "error", err)
			continue
		}
		c.pipeline.Egress(d, buf[:n])
	}
}
