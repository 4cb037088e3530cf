// package bus provides the process-wide event broadcaster that decouples the
// session core from its subscribers (CLI output, TUI, alerting).
package bus

import (
	"sync"
)

// Topics published by the session core. Inbound server events
// (playback_update, playlist_update, system_notification) are forwarded
// under their wire names unchanged.
const (
	TopicAuthStatus      = "auth:status_changed"
	TopicChannelState    = "channel:state_changed"
	TopicTerminalFailure = "channel:terminal_failure"
)

// Event is a single published message.
type Event struct {
	Topic   string
	Seq     uint64
	Payload any
}

// Broadcaster is a topic-based fanout with buffered, non-blocking delivery.
//
// Publishing never blocks the caller: a subscriber whose buffer is full
// misses the event. Subscribers that need every message size their buffer
// accordingly.
type Broadcaster struct {
	mu   sync.Mutex
	seq  uint64
	subs map[string]map[int]chan Event
	next int
	last map[string]any
}

// New creates an empty [Broadcaster].
func New() *Broadcaster {
	return &Broadcaster{
		subs: make(map[string]map[int]chan Event),
		last: make(map[string]any),
	}
}

// Subscribe registers interest in a topic and returns the delivery channel
// along with an unsubscribe function. The unsubscribe function is idempotent
// and closes the channel.
func (b *Broadcaster) Subscribe(topic string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan Event)
	}
	id := b.next
	b.next++
	b.subs[topic][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			// Removal and close happen under the same lock that guards
			// delivery, so a concurrent Publish can never send on the
			// closed channel.
			b.mu.Lock()
			delete(b.subs[topic], id)
			close(ch)
			b.mu.Unlock()
		})
	}

	return ch, cancel
}

// Publish delivers payload to every subscriber of topic. Delivery is
// non-blocking and serialized with Subscribe and unsubscribe by the
// broadcaster lock.
func (b *Broadcaster) Publish(topic string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev := Event{Topic: topic, Seq: b.seq, Payload: payload}
	b.last[topic] = payload
	for _, ch := range b.subs[topic] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// PublishDistinct publishes only if payload differs from the last value
// published on the topic. Returns true if the event was published.
//
// Used for status projections where redundant notifications for an
// unchanged value must be suppressed.
func (b *Broadcaster) PublishDistinct(topic string, payload any) bool {
	b.mu.Lock()
	if prev, ok := b.last[topic]; ok && prev == payload {
		b.mu.Unlock()
		return false
	}
	b.mu.Unlock()

	b.Publish(topic, payload)
	return true
}

// Last returns the most recently published payload for a topic, if any.
func (b *Broadcaster) Last(topic string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.last[topic]
	return v, ok
}
