package ws

import (
	"sync"
	"testing"
)

func newTestIndex(t *testing.T) (*Registry, *TopicIndex) {
	t.Helper()
	reg := NewRegistry()
	return reg, NewTopicIndex(reg)
}

func register(t *testing.T, reg *Registry, id string) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	if _, err := reg.Register(id, "u-"+id, conn); err != nil {
		t.Fatalf("Register %s: %v", id, err)
	}
	return conn
}

func TestSubscribeUnknownSessionIsIgnored(t *testing.T) {
	_, idx := newTestIndex(t)
	idx.Subscribe("ghost", "market_ETH-USD")
	if subs := idx.Subscribers("market_ETH-USD"); len(subs) != 0 {
		t.Fatalf("unknown session subscribed: %v", subs)
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	reg, idx := newTestIndex(t)
	register(t, reg, "s1")

	idx.Subscribe("s1", "market_ETH-USD")
	idx.Subscribe("s1", "market_ETH-USD")

	if subs := idx.Subscribers("market_ETH-USD"); len(subs) != 1 {
		t.Fatalf("expected 1 subscriber, got %v", subs)
	}
}

func TestUnsubscribeWhenNotSubscribed(t *testing.T) {
	reg, idx := newTestIndex(t)
	register(t, reg, "s1")

	// No error and no observable change.
	idx.Unsubscribe("s1", "market_ETH-USD")
	idx.Unsubscribe("s1", "market_ETH-USD")
	if topics := idx.Topics("s1"); len(topics) != 0 {
		t.Fatalf("unexpected topics: %v", topics)
	}
}

func TestBroadcastToTopicTargetsExactSubscribers(t *testing.T) {
	reg, idx := newTestIndex(t)
	sub := register(t, reg, "subscriber")
	other := register(t, reg, "bystander")

	idx.Subscribe("subscriber", "market_ETH-USD")

	idx.BroadcastToTopic("market_ETH-USD", NewEnvelope(TypeMonitorUpdate, map[string]any{"price": 3000}, ""))

	if got := sub.messages(); len(got) != 1 || got[0].Type != TypeMonitorUpdate {
		t.Fatalf("subscriber deliveries: %+v", got)
	}
	if got := other.messages(); len(got) != 0 {
		t.Fatalf("bystander received %d messages", len(got))
	}
}

func TestBroadcastReapsFailedSubscriber(t *testing.T) {
	reg, idx := newTestIndex(t)
	conn := register(t, reg, "s1")
	idx.Subscribe("s1", "strategy_v1")
	conn.setFail(true)

	idx.BroadcastToTopic("strategy_v1", PingEnvelope())

	if reg.Has("s1") {
		t.Fatal("failed subscriber survived broadcast")
	}
	if subs := idx.Subscribers("strategy_v1"); len(subs) != 0 {
		t.Fatalf("topic index not cascaded: %v", subs)
	}
}

func TestConcurrentSubscribeDuringBroadcast(t *testing.T) {
	reg, idx := newTestIndex(t)
	register(t, reg, "s1")
	idx.Subscribe("s1", "market_ETH-USD")
	for i := 0; i < 20; i++ {
		register(t, reg, "late-"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			idx.BroadcastToTopic("market_ETH-USD", PingEnvelope())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			idx.Subscribe("late-"+string(rune('a'+i)), "market_ETH-USD")
			idx.Unsubscribe("late-"+string(rune('a'+i)), "market_ETH-USD")
		}
	}()
	wg.Wait()
	// The exercise is that no pass panics or deadlocks while the set churns.
}
