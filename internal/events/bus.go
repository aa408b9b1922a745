package events

import (
	"sync"
)

// Bus is a lightweight pub/sub broker using channels. Agents publish position
// and balance changes here; the websocket relay forwards them to clients.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Event][]chan any
	closed bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any)}
}

// Subscribe registers a listener for an event and returns the channel and an
// unsubscribe function. Unsubscribing closes the channel.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[e] = append(b.subs[e], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[e] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}

	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking: a slow
// subscriber's buffer overflowing drops the payload for that subscriber only.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Close shuts the bus down; all subscriber channels are closed and further
// publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for e, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subs, e)
	}
}

// PublishPosition is a typed convenience for agent position snapshots.
func (b *Bus) PublishPosition(u PositionUpdate) { b.Publish(EventPositionUpdate, u) }

// PublishBalance is a typed convenience for vault balance changes.
func (b *Bus) PublishBalance(u BalanceUpdate) { b.Publish(EventBalanceUpdate, u) }

// PublishAction is a typed convenience for agent borrow/leverage/repay steps.
func (b *Bus) PublishAction(a AgentAction) { b.Publish(EventAgentAction, a) }
