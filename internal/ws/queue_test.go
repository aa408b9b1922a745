package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recorder collects the order in which tasks reach a handler.
type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) handler(_ context.Context, task Task) error {
	r.mu.Lock()
	r.seen = append(r.seen, task.SessionID)
	r.mu.Unlock()
	return nil
}

func (r *recorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.seen))
	copy(out, r.seen)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestQueueHighPriorityOvertakesLow(t *testing.T) {
	q := NewTaskQueue(16, 10*time.Millisecond)
	rec := &recorder{}
	q.RegisterHandler(TypeAgentStart, rec.handler)

	// Both tasks are queued before the consumer starts, so the consumer sees
	// them together and must pick the high tier first.
	q.Enqueue(Task{Envelope: Envelope{Type: TypeAgentStart}, SessionID: "low", Priority: PriorityLow})
	q.Enqueue(Task{Envelope: Envelope{Type: TypeAgentStart}, SessionID: "high", Priority: PriorityHigh})

	q.Start(context.Background())
	defer q.Stop()

	waitFor(t, func() bool { return len(rec.order()) == 2 })
	got := rec.order()
	if got[0] != "high" || got[1] != "low" {
		t.Fatalf("order=%v, expected high before low", got)
	}
}

func TestQueueFIFOWithinTier(t *testing.T) {
	q := NewTaskQueue(16, 10*time.Millisecond)
	rec := &recorder{}
	q.RegisterHandler(TypeAgentStart, rec.handler)

	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(Task{Envelope: Envelope{Type: TypeAgentStart}, SessionID: id, Priority: PriorityNormal})
	}
	q.Start(context.Background())
	defer q.Stop()

	waitFor(t, func() bool { return len(rec.order()) == 3 })
	got := rec.order()
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("order=%v, expected arrival order", got)
	}
}

func TestQueueHandlerErrorDoesNotStopConsumer(t *testing.T) {
	q := NewTaskQueue(16, 10*time.Millisecond)
	rec := &recorder{}
	q.RegisterHandler(TypeDeposit, func(context.Context, Task) error {
		return errors.New("downstream unavailable")
	})
	q.RegisterHandler(TypeAgentStart, rec.handler)

	q.Enqueue(Task{Envelope: Envelope{Type: TypeDeposit}, SessionID: "bad", Priority: PriorityNormal})
	q.Enqueue(Task{Envelope: Envelope{Type: TypeAgentStart}, SessionID: "good", Priority: PriorityNormal})

	q.Start(context.Background())
	defer q.Stop()

	waitFor(t, func() bool { return len(rec.order()) == 1 })
	if rec.order()[0] != "good" {
		t.Fatalf("order=%v", rec.order())
	}
}

func TestQueueHandlerPanicDoesNotStopConsumer(t *testing.T) {
	q := NewTaskQueue(16, 10*time.Millisecond)
	rec := &recorder{}
	q.RegisterHandler(TypeDeposit, func(context.Context, Task) error {
		panic("bad payload")
	})
	q.RegisterHandler(TypeAgentStart, rec.handler)

	q.Enqueue(Task{Envelope: Envelope{Type: TypeDeposit}, Priority: PriorityHigh})
	q.Enqueue(Task{Envelope: Envelope{Type: TypeAgentStart}, SessionID: "after", Priority: PriorityNormal})

	q.Start(context.Background())
	defer q.Stop()

	waitFor(t, func() bool { return len(rec.order()) == 1 })
}

func TestQueueStopIsIdempotentAndFinal(t *testing.T) {
	q := NewTaskQueue(16, 10*time.Millisecond)
	rec := &recorder{}
	q.RegisterHandler(TypeAgentStart, rec.handler)

	q.Start(context.Background())
	q.Start(context.Background()) // second Start is a no-op
	q.Stop()
	q.Stop() // second Stop is a no-op

	// Tasks enqueued after Stop are never processed.
	q.Enqueue(Task{Envelope: Envelope{Type: TypeAgentStart}, SessionID: "late", Priority: PriorityHigh})
	time.Sleep(50 * time.Millisecond)
	if got := rec.order(); len(got) != 0 {
		t.Fatalf("processed %v after Stop", got)
	}
}

func TestQueueSaturationDropsInsteadOfBlocking(t *testing.T) {
	// Capacity 1, consumer never started: the second enqueue must return
	// after the bounded wait instead of hanging.
	q := NewTaskQueue(1, 10*time.Millisecond)
	q.Enqueue(Task{Envelope: Envelope{Type: TypeAgentStart}, Priority: PriorityNormal})

	done := make(chan struct{})
	go func() {
		q.Enqueue(Task{Envelope: Envelope{Type: TypeAgentStart}, Priority: PriorityNormal})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked past its bounded wait")
	}
}
