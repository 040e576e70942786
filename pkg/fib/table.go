// Package fib holds the forwarding table mapping service path keys to
// next hops.
//
// Readers never lock. Each bucket is an immutable chain published through
// an atomic pointer; writers serialize on a mutex, build a new chain and
// swap it in. A chain replaced by a writer stays valid for readers that
// loaded it earlier and is reclaimed by the garbage collector once the
// last of them drops it.
package fib

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/veesix-networks/osvnsh/pkg/logger"
	"github.com/veesix-networks/osvnsh/pkg/nsh"
)

const (
	HashBits = 8
	HashSize = 1 << HashBits

	goldenRatio32 = 0x61C88647
)

type chain []*Entry

type Table struct {
	buckets [HashSize]atomic.Pointer[chain]
	count   atomic.Int64
	closed  atomic.Bool

	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

func New() *Table {
	return &Table{
		logger: logger.Get(logger.FIB),
		now:    time.Now,
	}
}

// Hash spreads a key over the buckets with a multiplicative hash.
func Hash(key nsh.PathKey) uint32 {
	return (uint32(key) * goldenRatio32) >> (32 - HashBits)
}

func (t *Table) bucket(key nsh.PathKey) *atomic.Pointer[chain] {
	return &t.buckets[Hash(key)]
}

// Lookup returns the entry for key. It never blocks.
func (t *Table) Lookup(key nsh.PathKey) (*Entry, bool) {
	c := t.bucket(key).Load()
	if c == nil {
		return nil, false
	}
	for _, e := range *c {
		if e.Key == key {
			return e, true
		}
	}
	return nil, false
}

// Insert publishes a new entry. The table is unchanged on error.
func (t *Table) Insert(key nsh.PathKey, target Target) (*Entry, error) {
	if key.IsZero() {
		return nil, ErrInvalidKey
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if target.Remote != nil {
		r := *target.Remote
		target.Remote = &r
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() {
		return nil, ErrClosed
	}

	b := t.bucket(key)
	old := b.Load()
	var cur chain
	if old != nil {
		cur = *old
	}
	for _, e := range cur {
		if e.Key == key {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, key)
		}
	}

	entry := &Entry{Key: key, Target: target, Updated: t.now()}

	next := make(chain, 0, len(cur)+1)
	next = append(next, entry)
	next = append(next, cur...)
	b.Store(&next)
	t.count.Add(1)

	t.logger.Debug("Inserted entry", "key", key.String(), "target", target.String())
	return entry, nil
}

// Remove unpublishes the entry for key.
func (t *Table) Remove(key nsh.PathKey) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := t.removeLocked(key)
	if removed == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	t.logger.Debug("Removed entry", "key", key.String())
	return removed, nil
}

func (t *Table) removeLocked(key nsh.PathKey) *Entry {
	b := t.bucket(key)
	old := b.Load()
	if old == nil {
		return nil
	}

	cur := *old
	idx := slices.IndexFunc(cur, func(e *Entry) bool { return e.Key == key })
	if idx < 0 {
		return nil
	}

	if len(cur) == 1 {
		b.Store(nil)
	} else {
		next := make(chain, 0, len(cur)-1)
		next = append(next, cur[:idx]...)
		next = append(next, cur[idx+1:]...)
		b.Store(&next)
	}
	t.count.Add(-1)
	return cur[idx]
}

// UnbindDevice deletes every entry delivering to device id and returns
// their keys.
func (t *Table) UnbindDevice(id uuid.UUID) []nsh.PathKey {
	if id == uuid.Nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var keys []nsh.PathKey
	for i := range t.buckets {
		c := t.buckets[i].Load()
		if c == nil {
			continue
		}
		for _, e := range *c {
			if e.Target.Device == id {
				keys = append(keys, e.Key)
			}
		}
	}

	for _, k := range keys {
		t.removeLocked(k)
	}

	if len(keys) > 0 {
		t.logger.Info("Removed entries for destroyed device", "device", id.String(), "count", len(keys))
	}
	return keys
}

func (t *Table) Len() int {
	return int(t.count.Load())
}

// List returns a snapshot of all entries ordered by key.
func (t *Table) List() []*Entry {
	out := make([]*Entry, 0, t.Len())
	for i := range t.buckets {
		if c := t.buckets[i].Load(); c != nil {
			out = append(out, (*c)...)
		}
	}
	slices.SortFunc(out, func(a, b *Entry) int { return cmp.Compare(a.Key, b.Key) })
	return out
}

// Destroy drops every entry and rejects further inserts. Callers must
// have quiesced packet processing first.
func (t *Table) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed.Store(true)
	n := t.count.Load()
	for i := range t.buckets {
		t.buckets[i].Store(nil)
	}
	t.count.Store(0)

	t.logger.Info("Forwarding table destroyed", "entries", n)
}
