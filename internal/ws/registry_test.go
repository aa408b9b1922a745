package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

// fakeConn records writes and can be told to fail, standing in for a live
// websocket transport.
type fakeConn struct {
	mu     sync.Mutex
	sent   []Envelope
	fail   bool
	closed bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

func (c *fakeConn) messages() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Register("s1", "u1", &fakeConn{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := reg.Register("s1", "u1", &fakeConn{}); !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}
}

func TestUnregisterIsIdempotentAndCascades(t *testing.T) {
	reg := NewRegistry()
	idx := NewTopicIndex(reg)
	conn := &fakeConn{}
	if _, err := reg.Register("s1", "u1", conn); err != nil {
		t.Fatalf("Register: %v", err)
	}
	idx.Subscribe("s1", "market_ETH-USD", "strategy_v1")

	reg.Unregister("s1")
	if reg.Has("s1") {
		t.Fatal("session still registered after unregister")
	}
	if !conn.isClosed() {
		t.Fatal("transport not closed on unregister")
	}
	if got := idx.Topics("s1"); len(got) != 0 {
		t.Fatalf("subscriptions survived unregister: %v", got)
	}
	if subs := idx.Subscribers("market_ETH-USD"); len(subs) != 0 {
		t.Fatalf("topic still lists session: %v", subs)
	}

	// Second call is a no-op, not an error.
	reg.Unregister("s1")
}

func TestSessionCancelledOnUnregister(t *testing.T) {
	reg := NewRegistry()
	s, err := reg.Register("s1", "u1", &fakeConn{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	reg.Unregister("s1")
	select {
	case <-s.Context().Done():
	default:
		t.Fatal("session context not cancelled after unregister")
	}
}

func TestSendSelfHealsOnTransportFailure(t *testing.T) {
	reg := NewRegistry()
	conn := &fakeConn{fail: true}
	if _, err := reg.Register("s1", "u1", conn); err != nil {
		t.Fatalf("Register: %v", err)
	}

	err := reg.Send("s1", PingEnvelope())
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	if reg.Has("s1") {
		t.Fatal("broken session not reaped by Send")
	}
}

func TestSendToUnknownSession(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Send("ghost", PingEnvelope()); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestBroadcastReapsFailedSessionsAfterPass(t *testing.T) {
	reg := NewRegistry()
	good := &fakeConn{}
	bad := &fakeConn{fail: true}
	if _, err := reg.Register("good", "u1", good); err != nil {
		t.Fatalf("Register good: %v", err)
	}
	if _, err := reg.Register("bad", "u2", bad); err != nil {
		t.Fatalf("Register bad: %v", err)
	}

	reg.Broadcast(NewEnvelope(TypeSystem, map[string]any{"message": "hello"}, ""))

	if !reg.Has("good") {
		t.Fatal("healthy session removed by broadcast")
	}
	if reg.Has("bad") {
		t.Fatal("failed session survived broadcast")
	}
	if got := good.messages(); len(got) != 1 || got[0].Type != TypeSystem {
		t.Fatalf("unexpected delivery: %+v", got)
	}
}
