package ws

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var (
	// ErrDuplicateSession is returned when a session id is already registered.
	ErrDuplicateSession = errors.New("session already registered")
	// ErrDisconnected is returned when a send fails and the session is reaped.
	ErrDisconnected = errors.New("session disconnected")
)

// Conn is the transport handle owned by exactly one session.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Session is the server-side state of one live client connection.
type Session struct {
	ID     string
	UserID string

	conn    Conn
	writeMu sync.Mutex // gorilla conns allow one concurrent writer

	mu       sync.Mutex
	lastSeen time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the session-scoped context; it is cancelled when the
// session is unregistered, taking any session-spawned helper tasks with it.
func (s *Session) Context() context.Context { return s.ctx }

// Touch refreshes the liveness timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen reports when the session last showed signs of life.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Registry maps session ids to live connection handles. A broken transport
// cleans itself up: any failed send unregisters the session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	onRemove []func(sessionID string)
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// OnUnregister adds a cleanup hook invoked after a session is removed. The
// topic index hooks in here so subscriptions cascade away with the session.
func (r *Registry) OnUnregister(fn func(sessionID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = append(r.onRemove, fn)
}

// Register stores the transport handle under sessionID.
func (r *Registry) Register(sessionID, userID string, conn Conn) (*Session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:       sessionID,
		UserID:   userID,
		conn:     conn,
		lastSeen: time.Now(),
		ctx:      ctx,
		cancel:   cancel,
	}

	r.mu.Lock()
	if _, exists := r.sessions[sessionID]; exists {
		r.mu.Unlock()
		cancel()
		return nil, ErrDuplicateSession
	}
	r.sessions[sessionID] = s
	r.mu.Unlock()

	log.Printf("[WS] session %s registered (user=%s)", sessionID, userID)
	return s, nil
}

// Unregister removes a session. Removing an absent id is a no-op. The
// transport is closed best effort and all cleanup hooks run.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	hooks := r.onRemove
	r.mu.Unlock()

	if !ok {
		return
	}

	s.cancel()
	if err := s.conn.Close(); err != nil {
		log.Printf("[WS] close transport for %s: %v", sessionID, err)
	}
	for _, fn := range hooks {
		fn(sessionID)
	}
	log.Printf("[WS] session %s unregistered", sessionID)
}

// Get returns the session for id, or nil.
func (r *Registry) Get(sessionID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// Has reports whether the session id is currently registered.
func (r *Registry) Has(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SessionIDs returns a snapshot of all registered session ids.
func (r *Registry) SessionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Send delivers an envelope to one session. A transport failure reaps the
// session and returns ErrDisconnected.
func (r *Registry) Send(sessionID string, env Envelope) error {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return ErrDisconnected
	}

	if err := s.write(env); err != nil {
		log.Printf("[WS] send to %s failed: %v", sessionID, err)
		r.Unregister(sessionID)
		return ErrDisconnected
	}
	return nil
}

// Broadcast delivers an envelope to every registered session. Failed targets
// are collected during the pass and unregistered only after it completes, so
// the registry is never mutated mid-iteration.
func (r *Registry) Broadcast(env Envelope) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	var failed []string
	for _, s := range snapshot {
		if err := s.write(env); err != nil {
			log.Printf("[WS] broadcast to %s failed: %v", s.ID, err)
			failed = append(failed, s.ID)
		}
	}
	for _, id := range failed {
		r.Unregister(id)
	}
}
