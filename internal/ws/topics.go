package ws

import (
	"fmt"
	"log"
	"sync"
)

// Topic name helpers. Topics group sessions for fan-out broadcast.
func StrategyTopic(vaultID string) string  { return fmt.Sprintf("strategy_%s", vaultID) }
func VaultTopic(vaultID string) string     { return fmt.Sprintf("vault_%s", vaultID) }
func PositionTopic(posID string) string    { return fmt.Sprintf("position_%s", posID) }
func MarketTopic(symbol string) string     { return fmt.Sprintf("market_%s", symbol) }

// TopicIndex maps session ids to the topics they are interested in. It is
// many-to-many and cascades with session removal via Registry.OnUnregister.
type TopicIndex struct {
	registry *Registry

	mu        sync.RWMutex
	bySession map[string]map[string]struct{}
	byTopic   map[string]map[string]struct{}
}

// NewTopicIndex builds an index bound to a registry and hooks session
// removal so subscriptions never outlive their session.
func NewTopicIndex(registry *Registry) *TopicIndex {
	idx := &TopicIndex{
		registry:  registry,
		bySession: make(map[string]map[string]struct{}),
		byTopic:   make(map[string]map[string]struct{}),
	}
	registry.OnUnregister(idx.dropSession)
	return idx
}

// Subscribe adds topics to a session's interest set. Subscribing an unknown
// session only logs: races between disconnect and subscribe are expected.
func (t *TopicIndex) Subscribe(sessionID string, topics ...string) {
	if !t.registry.Has(sessionID) {
		log.Printf("[WS] subscribe for unknown session %s ignored", sessionID)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.bySession[sessionID]
	if set == nil {
		set = make(map[string]struct{})
		t.bySession[sessionID] = set
	}
	for _, topic := range topics {
		set[topic] = struct{}{}
		subs := t.byTopic[topic]
		if subs == nil {
			subs = make(map[string]struct{})
			t.byTopic[topic] = subs
		}
		subs[sessionID] = struct{}{}
	}
}

// Unsubscribe removes topics from a session's interest set; absent entries
// are a no-op.
func (t *TopicIndex) Unsubscribe(sessionID string, topics ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.bySession[sessionID]
	for _, topic := range topics {
		if set != nil {
			delete(set, topic)
		}
		if subs := t.byTopic[topic]; subs != nil {
			delete(subs, sessionID)
			if len(subs) == 0 {
				delete(t.byTopic, topic)
			}
		}
	}
}

// Topics returns a snapshot of the topics a session is subscribed to.
func (t *TopicIndex) Topics(sessionID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.bySession[sessionID]))
	for topic := range t.bySession[sessionID] {
		out = append(out, topic)
	}
	return out
}

// Subscribers returns a snapshot of the sessions subscribed to a topic.
func (t *TopicIndex) Subscribers(topic string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.byTopic[topic]))
	for id := range t.byTopic[topic] {
		out = append(out, id)
	}
	return out
}

// BroadcastToTopic delivers an envelope to every session subscribed to the
// topic at call time. The subscriber set is snapshotted first, so concurrent
// subscribe/unsubscribe calls cannot disturb the pass; a failed send reaps
// the session through the registry's self-healing path and is not retried.
func (t *TopicIndex) BroadcastToTopic(topic string, env Envelope) {
	for _, id := range t.Subscribers(topic) {
		if err := t.registry.Send(id, env); err != nil {
			log.Printf("[WS] topic %s delivery to %s dropped: %v", topic, id, err)
		}
	}
}

// dropSession removes every subscription held by a session.
func (t *TopicIndex) dropSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic := range t.bySession[sessionID] {
		if subs := t.byTopic[topic]; subs != nil {
			delete(subs, sessionID)
			if len(subs) == 0 {
				delete(t.byTopic, topic)
			}
		}
	}
	delete(t.bySession, sessionID)
}
