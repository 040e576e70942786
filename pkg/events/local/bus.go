// Package local is an in-process events.Bus. Every subscription has its
// own queue and goroutine, so a subscriber sees events in publish order
// and a slow subscriber only delays itself.
package local

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/veesix-networks/osvnsh/pkg/events"
	"github.com/veesix-networks/osvnsh/pkg/logger"
)

const (
	publishQueueLen = 4096
	handlerQueueLen = 256
)

type publishRequest struct {
	topic string
	event events.Event
}

type subscription struct {
	bus     *Bus
	id      uint64
	topic   string // empty for subscribe-all
	handler events.Handler
	queue   chan events.Event
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) run() {
	defer s.bus.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			s.handler(ev)
		}
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) Unsubscribe() {
	s.bus.remove(s)
	s.stop()
}

type Bus struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	subs        map[string]map[uint64]*subscription
	globalSubs  map[uint64]*subscription
	debugTopics map[string]bool
	debugSub    events.Subscription

	nextID    atomic.Uint64
	publishCh chan publishRequest
	published atomic.Uint64
	dropped   atomic.Uint64
	logger    *slog.Logger
}

func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		ctx:        ctx,
		cancel:     cancel,
		subs:       make(map[string]map[uint64]*subscription),
		globalSubs: make(map[uint64]*subscription),
		publishCh:  make(chan publishRequest, publishQueueLen),
		logger:     logger.Get(logger.Events),
	}

	b.wg.Add(1)
	go b.publishLoop()

	return b
}

func (b *Bus) Publish(topic string, event events.Event) {
	if b.ctx.Err() != nil {
		b.dropped.Add(1)
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Type == "" {
		event.Type = topic
	}

	select {
	case b.publishCh <- publishRequest{topic: topic, event: event}:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("Publish queue full, dropping event", "topic", topic)
	}
}

func (b *Bus) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case req := <-b.publishCh:
			b.dispatch(req)
		}
	}
}

func (b *Bus) dispatch(req publishRequest) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs[req.topic])+len(b.globalSubs))
	for _, s := range b.subs[req.topic] {
		targets = append(targets, s)
	}
	for _, s := range b.globalSubs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.queue <- req.event:
		default:
			b.dropped.Add(1)
			b.logger.Warn("Subscriber queue full, dropping event", "topic", req.topic, "subscription", s.id)
		}
	}
}

func (b *Bus) add(topic string, handler events.Handler) *subscription {
	s := &subscription{
		bus:     b,
		id:      b.nextID.Add(1),
		topic:   topic,
		handler: handler,
		queue:   make(chan events.Event, handlerQueueLen),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if topic == "" {
		b.globalSubs[s.id] = s
	} else {
		if b.subs[topic] == nil {
			b.subs[topic] = make(map[uint64]*subscription)
		}
		b.subs[topic][s.id] = s
	}
	b.mu.Unlock()

	b.wg.Add(1)
	go s.run()
	return s
}

func (b *Bus) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.topic == "" {
		delete(b.globalSubs, s.id)
		return
	}
	if topicSubs, ok := b.subs[s.topic]; ok {
		delete(topicSubs, s.id)
		if len(topicSubs) == 0 {
			delete(b.subs, s.topic)
		}
	}
}

func (b *Bus) Subscribe(topic string, handler events.Handler) events.Subscription {
	s := b.add(topic, handler)
	b.logger.Debug("Subscribed to topic", "topic", topic, "subscription", s.id)
	return s
}

func (b *Bus) SubscribeAll(handler events.Handler) events.Subscription {
	s := b.add("", handler)
	b.logger.Debug("Subscribed to all topics", "subscription", s.id)
	return s
}

func (b *Bus) Stats() events.Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]events.TopicStats, 0, len(b.subs)+1)
	for topic, subs := range b.subs {
		topics = append(topics, events.TopicStats{Topic: topic, Subscribers: len(subs)})
	}
	if len(b.globalSubs) > 0 {
		topics = append(topics, events.TopicStats{Subscribers: len(b.globalSubs)})
	}
	slices.SortFunc(topics, func(a, b events.TopicStats) int { return cmp.Compare(a.Topic, b.Topic) })

	return events.Stats{
		Topics:       topics,
		PublishChLen: len(b.publishCh),
		PublishChCap: cap(b.publishCh),
		Published:    b.published.Load(),
		Dropped:      b.dropped.Load(),
		DebugTopics:  b.debugTopicsLocked(),
	}
}

// SetDebugTopics logs every event published on topics at Info level. An
// empty list disables it.
func (b *Bus) SetDebugTopics(topics []string) {
	b.mu.Lock()

	if len(topics) == 0 {
		b.debugTopics = nil
		old := b.debugSub
		b.debugSub = nil
		b.mu.Unlock()
		if old != nil {
			old.Unsubscribe()
		}
		b.logger.Info("Event debug logging disabled")
		return
	}

	b.debugTopics = make(map[string]bool, len(topics))
	for _, t := range topics {
		b.debugTopics[t] = true
	}
	needSub := b.debugSub == nil
	b.mu.Unlock()

	if needSub {
		sub := b.SubscribeAll(func(e events.Event) {
			b.mu.RLock()
			match := b.debugTopics[e.Type]
			b.mu.RUnlock()
			if match {
				b.logger.Info("Event", "topic", e.Type, "source", e.Source, "data", e.Data)
			}
		})
		b.mu.Lock()
		b.debugSub = sub
		b.mu.Unlock()
	}

	b.logger.Info("Event debug logging enabled", "topics", topics)
}

func (b *Bus) DebugTopics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.debugTopicsLocked()
}

func (b *Bus) debugTopicsLocked() []string {
	if len(b.debugTopics) == 0 {
		return nil
	}
	topics := make([]string, 0, len(b.debugTopics))
	for t := range b.debugTopics {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	return topics
}

// Close stops delivery and waits for running handlers to return. Queued
// events not yet handled are discarded.
func (b *Bus) Close() error {
	b.cancel()

	b.mu.Lock()
	var all []*subscription
	for _, subs := range b.subs {
		for _, s := range subs {
			all = append(all, s)
		}
	}
	for _, s := range b.globalSubs {
		all = append(all, s)
	}
	b.mu.Unlock()

	for _, s := range all {
		s.stop()
	}
	b.wg.Wait()
	return nil
}
