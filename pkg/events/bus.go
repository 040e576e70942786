// Package events distributes control plane notifications. Publishing never
// blocks; handlers run asynchronously.
package events

type Handler func(Event)

type Subscription interface {
	Unsubscribe()
}

type TopicStats struct {
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
}

type Stats struct {
	Topics       []TopicStats `json:"topics"`
	PublishChLen int          `json:"publish-channel-length"`
	PublishChCap int          `json:"publish-channel-capacity"`
	// Published counts events accepted by Publish, Dropped those lost
	// because the publish queue was full.
	Published   uint64   `json:"published"`
	Dropped     uint64   `json:"dropped"`
	DebugTopics []string `json:"debug-topics,omitempty"`
}

// Subscribers returns the handler count for topic. The empty topic counts
// handlers registered with SubscribeAll.
func (s Stats) Subscribers(topic string) int {
	for _, t := range s.Topics {
		if t.Topic == topic {
			return t.Subscribers
		}
	}
	return 0
}

// Publisher is the sending half of a Bus. The control plane only needs
// this side.
type Publisher interface {
	Publish(topic string, event Event)
}

type Subscriber interface {
	Subscribe(topic string, handler Handler) Subscription
	SubscribeAll(handler Handler) Subscription
}

type Bus interface {
	Publisher
	Subscriber
	Stats() Stats
	SetDebugTopics(topics []string)
	DebugTopics() []string
	Close() error
}
