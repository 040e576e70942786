package device

import (
	"math/bits"
	"math/rand/v2"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

type counterShard struct {
	rxPackets       atomic.Uint64
	rxBytes         atomic.Uint64
	txPackets       atomic.Uint64
	txBytes         atomic.Uint64
	txErrors        atomic.Uint64
	txCarrierErrors atomic.Uint64
	txDropped       atomic.Uint64
	_               cpu.CacheLinePad
}

// Counters are sharded so concurrent packet workers rarely touch the same
// cache line. Reads aggregate all shards.
type Counters struct {
	shards []counterShard
	mask   uint32
}

type Stats struct {
	RxPackets       uint64 `json:"rx_packets" yaml:"rx_packets"`
	RxBytes         uint64 `json:"rx_bytes" yaml:"rx_bytes"`
	TxPackets       uint64 `json:"tx_packets" yaml:"tx_packets"`
	TxBytes         uint64 `json:"tx_bytes" yaml:"tx_bytes"`
	TxErrors        uint64 `json:"tx_errors" yaml:"tx_errors"`
	TxCarrierErrors uint64 `json:"tx_carrier_errors" yaml:"tx_carrier_errors"`
	TxDropped       uint64 `json:"tx_dropped" yaml:"tx_dropped"`
}

func NewCounters() *Counters {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	size := 1 << bits.Len(uint(n-1))
	return &Counters{
		shards: make([]counterShard, size),
		mask:   uint32(size - 1),
	}
}

func (c *Counters) shard() *counterShard {
	return &c.shards[rand.Uint32()&c.mask]
}

func (c *Counters) AddRx(bytes int) {
	s := c.shard()
	s.rxPackets.Add(1)
	s.rxBytes.Add(uint64(bytes))
}

func (c *Counters) AddTx(bytes int) {
	s := c.shard()
	s.txPackets.Add(1)
	s.txBytes.Add(uint64(bytes))
}

func (c *Counters) AddTxError() {
	c.shard().txErrors.Add(1)
}

// AddCarrierError counts a transmit that failed for lack of a route. The
// packet is also counted as dropped.
func (c *Counters) AddCarrierError() {
	s := c.shard()
	s.txCarrierErrors.Add(1)
	s.txDropped.Add(1)
}

func (c *Counters) AddTxDropped() {
	c.shard().txDropped.Add(1)
}

func (c *Counters) Snapshot() Stats {
	var st Stats
	for i := range c.shards {
		s := &c.shards[i]
		st.RxPackets += s.rxPackets.Load()
		st.RxBytes += s.rxBytes.Load()
		st.TxPackets += s.txPackets.Load()
		st.TxBytes += s.txBytes.Load()
		st.TxErrors += s.txErrors.Load()
		st.TxCarrierErrors += s.txCarrierErrors.Load()
		st.TxDropped += s.txDropped.Load()
	}
	return st
}
