package exporter

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/veesix-networks/osvnsh/pkg/device"
	"github.com/veesix-networks/osvnsh/pkg/events"
	"github.com/veesix-networks/osvnsh/pkg/opdb"
)

const metricPrefix = "osvnsh_"

type deviceMetric struct {
	desc  *prometheus.Desc
	value func(device.Stats) uint64
}

// Collector reads the control plane stats once per scrape.
type Collector struct {
	source Source
	bus    events.Bus
	store  opdb.Store
	logger *slog.Logger

	device    []deviceMetric
	info      *prometheus.Desc
	drops     *prometheus.Desc
	entries   *prometheus.Desc
	published *prometheus.Desc
	dropped   *prometheus.Desc
	records   *prometheus.Desc
}

func NewCollector(source Source, logger *slog.Logger) *Collector {
	labels := []string{"device"}
	counter := func(name, help string, value func(device.Stats) uint64) deviceMetric {
		return deviceMetric{
			desc:  prometheus.NewDesc(metricPrefix+"device_"+name, help, labels, nil),
			value: value,
		}
	}

	return &Collector{
		source: source,
		logger: logger,
		device: []deviceMetric{
			counter("rx_packets_total", "Frames delivered to the device", func(s device.Stats) uint64 { return s.RxPackets }),
			counter("rx_bytes_total", "Bytes delivered to the device", func(s device.Stats) uint64 { return s.RxBytes }),
			counter("tx_packets_total", "Frames transmitted by the device", func(s device.Stats) uint64 { return s.TxPackets }),
			counter("tx_bytes_total", "Bytes transmitted by the device", func(s device.Stats) uint64 { return s.TxBytes }),
			counter("tx_errors_total", "Transmit errors", func(s device.Stats) uint64 { return s.TxErrors }),
			counter("tx_carrier_errors_total", "Transmits that found no route", func(s device.Stats) uint64 { return s.TxCarrierErrors }),
			counter("tx_dropped_total", "Transmits dropped", func(s device.Stats) uint64 { return s.TxDropped }),
		},
		info:      prometheus.NewDesc(metricPrefix+"device_info", "Device kind and bound path key", []string{"device", "kind", "key"}, nil),
		drops:     prometheus.NewDesc(metricPrefix+"pipeline_drops_total", "Packets dropped by the pipeline", []string{"reason"}, nil),
		entries:   prometheus.NewDesc(metricPrefix+"fib_entries", "Forwarding table entries", nil, nil),
		published: prometheus.NewDesc(metricPrefix+"events_published_total", "Events published on the bus", nil, nil),
		dropped:   prometheus.NewDesc(metricPrefix+"events_dropped_total", "Events dropped by the bus", nil, nil),
		records:   prometheus.NewDesc(metricPrefix+"store_records", "Records in the operational store", []string{"namespace"}, nil),
	}
}

// SetEventBus adds event bus counters to the collected metrics.
func (c *Collector) SetEventBus(bus events.Bus) {
	c.bus = bus
}

// SetStore adds operational store record counts to the collected metrics.
func (c *Collector) SetStore(store opdb.Store) {
	c.store = store
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.device {
		ch <- m.desc
	}
	ch <- c.info
	ch <- c.drops
	ch <- c.entries
	ch <- c.published
	ch <- c.dropped
	ch <- c.records
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.source.Stats()
	c.logger.Debug("Collecting metrics", "devices", len(st.Devices), "paths", st.Paths)

	for _, d := range st.Devices {
		for _, m := range c.device {
			ch <- prometheus.MustNewConstMetric(m.desc, prometheus.CounterValue, float64(m.value(d.Stats)), d.Name)
		}
		ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1, d.Name, d.Kind, d.Key)
	}
	for reason, n := range st.Drops {
		ch <- prometheus.MustNewConstMetric(c.drops, prometheus.CounterValue, float64(n), reason)
	}
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(st.Paths))

	if c.bus != nil {
		bs := c.bus.Stats()
		ch <- prometheus.MustNewConstMetric(c.published, prometheus.CounterValue, float64(bs.Published))
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(bs.Dropped))
	}

	if c.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for _, ns := range []string{opdb.NamespaceDevices, opdb.NamespacePaths} {
			n, err := c.store.Count(ctx, ns)
			if err != nil {
				c.logger.Warn("Failed to count store records", "namespace", ns, "error", err)
				continue
			}
			ch <- prometheus.MustNewConstMetric(c.records, prometheus.GaugeValue, float64(n), ns)
		}
	}
}

var _ prometheus.Collector = (*Collector)(nil)
