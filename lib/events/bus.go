package events

import (
	"sync"

	"github.com/parsec-io/parsec-server/lib/types"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// replayBufferSize bounds how many recent events per organization are kept
// for Last-Event-ID resume (spec §4.8); older events are simply unreplayable
// and a client that asks for them is told to start over.
const replayBufferSize = 256

type subscription struct {
	orgOnly types.OrganizationID
	ch      chan Event
}

// Bus is a fan-out pub/sub event bus, one instance serving every
// organization. Subscribers receive all events published to their
// organization after they subscribe; slow subscribers that fall behind have
// events dropped rather than blocking publishers, matching spec §4.8's "at
// most once, best effort" delivery guarantee.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	next   uint64
	replay map[types.OrganizationID][]Event
}

// New creates a ready-to-use Bus.
func New() *Bus {
	return &Bus{
		subs:   make(map[uint64]*subscription),
		replay: make(map[types.OrganizationID][]Event),
	}
}

// Publish sends an event to every current subscriber of its organization and
// appends it to that organization's replay buffer.
func (b *Bus) Publish(org types.OrganizationID, evt Event) {
	evt.OrganizationID = org

	b.mu.Lock()
	buf := append(b.replay[org], evt)
	if len(buf) > replayBufferSize {
		buf = buf[len(buf)-replayBufferSize:]
	}
	b.replay[org] = buf
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.orgOnly != org {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Subscriber buffer full, drop the event rather than blocking.
		}
	}
}

// Subscribe returns a channel that receives all future events for org and a
// cancel function that unsubscribes and closes the channel. The caller must
// invoke cancel when done to avoid resource leaks.
func (b *Bus) Subscribe(org types.OrganizationID) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{orgOnly: org, ch: ch}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}

	return ch, cancel
}

// SinceEventID returns every buffered event for org strictly after lastEventID,
// and whether lastEventID was found in the buffer at all (false means the
// cursor is too old or unknown and the caller should treat the stream as
// having missed events, per spec §4.8's Last-Event-ID semantics).
func (b *Bus) SinceEventID(org types.OrganizationID, lastEventID types.EventID) (events []Event, found bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	buf := b.replay[org]
	for i, evt := range buf {
		if evt.ID == lastEventID {
			return append([]Event(nil), buf[i+1:]...), true
		}
	}
	return nil, false
}
