package ws

import (
	"context"
	"sync"
	"time"
)

// Heartbeat probes every registered session at a fixed interval with a
// trivial ping envelope. Liveness is inferred purely from send success: a
// failed probe reaps the session through the registry's self-healing path,
// with no per-session blocking wait for a pong.
type Heartbeat struct {
	registry *Registry
	interval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewHeartbeat creates a monitor over the registry. interval defaults to 30s.
func NewHeartbeat(registry *Registry, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Heartbeat{registry: registry, interval: interval}
}

// Start launches the tick loop. Starting a running monitor is a no-op.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.stop = make(chan struct{})

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stop:
				return
			case <-ticker.C:
				h.tick()
			}
		}
	}()
}

// Stop cancels the tick loop and waits for it to finish. Stopping a stopped
// monitor is a no-op.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stop)
	h.mu.Unlock()
	h.wg.Wait()
}

// tick sends one probe to every session; Broadcast collects failed targets
// and unregisters them after the pass.
func (h *Heartbeat) tick() {
	h.registry.Broadcast(PingEnvelope())
}
