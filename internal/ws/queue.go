package ws

import (
	"context"
	"log"
	"sync"
	"time"
)

// Priority orders background tasks; lower values dequeue first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

// Task is an envelope queued for asynchronous, best-effort processing,
// decoupled from the synchronous request/response path. Once enqueued it is
// owned by the queue until a worker processes it exactly once.
type Task struct {
	Envelope  Envelope
	SessionID string
	Priority  Priority
}

// TaskHandler processes one background task. Errors are logged; the consumer
// loop always continues.
type TaskHandler func(ctx context.Context, task Task) error

// TaskQueue is a bounded, priority-ordered background work queue with a
// single consumer. Within a priority tier, tasks are processed in arrival
// order. Saturation degrades to drop-with-warning, never a hard failure.
type TaskQueue struct {
	lanes       [3]chan Task
	enqueueWait time.Duration

	handlerMu sync.RWMutex
	handlers  map[MessageType]TaskHandler

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewTaskQueue creates a queue holding up to capacity tasks per priority
// tier. enqueueWait bounds how long Enqueue blocks on a full tier before
// dropping.
func NewTaskQueue(capacity int, enqueueWait time.Duration) *TaskQueue {
	if capacity <= 0 {
		capacity = 1000
	}
	q := &TaskQueue{
		enqueueWait: enqueueWait,
		handlers:    make(map[MessageType]TaskHandler),
	}
	for i := range q.lanes {
		q.lanes[i] = make(chan Task, capacity)
	}
	return q
}

// RegisterHandler binds a background handler to a message type. This table is
// separate from the dispatcher's: the background path may treat the same tag
// differently. Last registration wins.
func (q *TaskQueue) RegisterHandler(t MessageType, h TaskHandler) {
	q.handlerMu.Lock()
	defer q.handlerMu.Unlock()
	q.handlers[t] = h
}

// Enqueue places a task on the queue. If the tier is full it waits up to
// enqueueWait, then drops the task with a warning: background notifications
// are not safety-critical, and the caller must never block indefinitely.
func (q *TaskQueue) Enqueue(task Task) {
	lane := q.lanes[laneIndex(task.Priority)]
	select {
	case lane <- task:
		return
	default:
	}

	timer := time.NewTimer(q.enqueueWait)
	defer timer.Stop()
	select {
	case lane <- task:
	case <-timer.C:
		log.Printf("[QUEUE] saturated, dropping %s task (priority=%d)", task.Envelope.Type, task.Priority)
	}
}

// Start launches the single consumer. Calling Start on a running queue is a
// no-op.
func (q *TaskQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.stop = make(chan struct{})
	q.done = make(chan struct{})
	go q.consume(ctx, q.stop, q.done)
}

// Stop cancels the consumer and waits for it to finish. After Stop returns no
// task is processed. Stopping a stopped queue is a no-op.
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	stop, done := q.stop, q.done
	q.mu.Unlock()

	close(stop)
	<-done
}

// consume drains tasks highest-priority-oldest first. One bad task never
// stops the loop.
func (q *TaskQueue) consume(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	high, normal, low := q.lanes[0], q.lanes[1], q.lanes[2]
	for {
		// Prefer higher tiers before blocking on all three.
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case t := <-high:
			q.process(ctx, t)
			continue
		default:
		}
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case t := <-high:
			q.process(ctx, t)
			continue
		case t := <-normal:
			q.process(ctx, t)
			continue
		default:
		}
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case t := <-high:
			q.process(ctx, t)
		case t := <-normal:
			q.process(ctx, t)
		case t := <-low:
			q.process(ctx, t)
		}
	}
}

func (q *TaskQueue) process(ctx context.Context, task Task) {
	q.handlerMu.RLock()
	h, ok := q.handlers[task.Envelope.Type]
	q.handlerMu.RUnlock()
	if !ok {
		log.Printf("[QUEUE] no handler for task type %q", task.Envelope.Type)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[QUEUE] handler panic for %s: %v", task.Envelope.Type, r)
		}
	}()
	if err := h(ctx, task); err != nil {
		log.Printf("[QUEUE] handler for %s failed: %v", task.Envelope.Type, err)
	}
}

func laneIndex(p Priority) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}
