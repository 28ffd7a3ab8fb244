// Package bus is the in-process publish/subscribe registry that is the
// only coordination primitive between pipeline components (§2, §5): the
// five topics frame.raw, frame.decoded, event.normalized, command.request
// and error all flow through it. It generalizes the teacher's single
// sse.Server/messaging.MsgContext fan-out into a small typed topic
// registry over buffered Go channels, one per subscriber, so a slow
// consumer never blocks a fast one or the publisher (§5: "slow consumers
// are isolated by their own buffered inbox").
package bus

import (
	"sync"
	"sync/atomic"
)

// Topic names, fixed per §2.
const (
	TopicFrameRaw         = "frame.raw"
	TopicFrameDecoded     = "frame.decoded"
	TopicEventNormalized  = "event.normalized"
	TopicCommandRequest   = "command.request"
	TopicError            = "error"
)

// DefaultInboxSize is the buffer depth of each subscriber's channel.
// Publishes beyond this depth are dropped rather than blocking, per §5's
// backpressure policy; drops are counted so callers can observe them.
const DefaultInboxSize = 256

// Bus is a topic-keyed publish/subscribe registry.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan any
	dropped     map[string]*atomic.Int64
	closed      bool
}

// allTopics lists every topic fixed by §2, used to pre-allocate per-topic
// drop counters so Publish's hot path never needs a write lock.
var allTopics = []string{TopicFrameRaw, TopicFrameDecoded, TopicEventNormalized, TopicCommandRequest, TopicError}

// New constructs an empty bus.
func New() *Bus {
	dropped := make(map[string]*atomic.Int64, len(allTopics))
	for _, topic := range allTopics {
		dropped[topic] = new(atomic.Int64)
	}
	return &Bus{
		subscribers: make(map[string][]chan any),
		dropped:     dropped,
	}
}

// Subscribe registers a new buffered inbox for topic and returns it. The
// channel is closed when Close is called.
func (b *Bus) Subscribe(topic string) <-chan any {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, DefaultInboxSize)
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	return ch
}

// Publish fans msg out to every subscriber of topic. A subscriber whose
// inbox is full has the message dropped for it specifically; other
// subscribers are unaffected. Publish never blocks.
func (b *Bus) Publish(topic string, msg any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- msg:
		default:
			if counter, ok := b.dropped[topic]; ok {
				counter.Add(1)
			}
		}
	}
}

// Dropped returns the number of messages dropped for topic due to a full
// subscriber inbox, since construction.
func (b *Bus) Dropped(topic string) int {
	b.mu.RLock()
	counter, ok := b.dropped[topic]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return int(counter.Load())
}

// Close closes every subscriber channel. Further Publish calls are no-ops.
// Teardown order: the bus is constructed before the decoders and
// components that subscribe to it, and closed only after all of them have
// stopped publishing (design note §9, leaves-first at shutdown).
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, chs := range b.subscribers {
		for _, ch := range chs {
			close(ch)
		}
	}
}
