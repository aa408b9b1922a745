package agent

import (
	"context"
	"log"
	"sync"

	"agent-core/internal/events"
	"agent-core/internal/lending"
	"agent-core/internal/strategy"
	"agent-core/internal/ws"
	"agent-core/pkg/db"
)

// Manager owns the per-vault agent goroutines. AddAgent is idempotent per
// vault id; closed vaults are reaped through the bus.
type Manager struct {
	Catalog   *strategy.Catalog
	Lending   lending.Protocol
	Addresses AddressLookup
	DB        *db.Database
	Bus       *events.Bus

	mu     sync.Mutex
	agents map[string]context.CancelFunc
	ctx    context.Context
}

// NewManager creates a manager whose agents inherit ctx: cancelling it stops
// every loop.
func NewManager(ctx context.Context, catalog *strategy.Catalog, protocol lending.Protocol, addresses AddressLookup, database *db.Database, bus *events.Bus) *Manager {
	m := &Manager{
		Catalog:   catalog,
		Lending:   protocol,
		Addresses: addresses,
		DB:        database,
		Bus:       bus,
		agents:    make(map[string]context.CancelFunc),
		ctx:       ctx,
	}
	go m.watchLifecycle(ctx)
	return m
}

// AddAgent starts the leverage loop for a vault. It reports false when the
// strategy cannot be resolved; adding an already-running vault succeeds
// without starting a second loop.
func (m *Manager) AddAgent(vaultID string, params ws.AgentStartPayload) bool {
	def, ok := m.Catalog.Get(params.StrategyID)
	if !ok {
		log.Printf("[AGENT] vault %s references unknown strategy %q", vaultID, params.StrategyID)
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.agents[vaultID]; running {
		return true
	}

	a := &agent{
		vaultID:   vaultID,
		def:       def,
		marketID:  marketIDFor(def),
		lending:   m.Lending,
		addresses: m.Addresses,
		database:  m.DB,
		bus:       m.Bus,
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.agents[vaultID] = cancel
	go a.run(ctx)
	return true
}

// StopAgent cancels the loop for a vault. Unknown ids are a no-op.
func (m *Manager) StopAgent(vaultID string) {
	m.mu.Lock()
	cancel, ok := m.agents[vaultID]
	if ok {
		delete(m.agents, vaultID)
	}
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// Running reports whether a vault currently has an agent loop.
func (m *Manager) Running(vaultID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.agents[vaultID]
	return ok
}

// Count returns the number of live agent loops.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.agents)
}

// watchLifecycle tracks vault status changes made elsewhere in the system:
// closed and paused vaults lose their agent loop, resumed vaults get it back.
func (m *Manager) watchLifecycle(ctx context.Context) {
	closed, unsubClosed := m.Bus.Subscribe(events.EventVaultClosed, 16)
	defer unsubClosed()
	paused, unsubPaused := m.Bus.Subscribe(events.EventVaultPaused, 16)
	defer unsubPaused()
	resumed, unsubResumed := m.Bus.Subscribe(events.EventVaultResumed, 16)
	defer unsubResumed()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-closed:
			if !ok {
				return
			}
			if vaultID, isID := msg.(string); isID {
				m.StopAgent(vaultID)
			}
		case msg, ok := <-paused:
			if !ok {
				return
			}
			if vaultID, isID := msg.(string); isID {
				m.StopAgent(vaultID)
			}
		case msg, ok := <-resumed:
			if !ok {
				return
			}
			if vaultID, isID := msg.(string); isID {
				m.restart(ctx, vaultID)
			}
		}
	}
}

// restart brings an agent back for a resumed vault, resolving the strategy
// from the persisted record.
func (m *Manager) restart(ctx context.Context, vaultID string) {
	v, err := m.DB.GetVault(ctx, vaultID)
	if err != nil || v == nil {
		log.Printf("[AGENT] cannot restart vault %s: %v", vaultID, err)
		return
	}
	m.AddAgent(vaultID, ws.AgentStartPayload{VaultID: vaultID, StrategyID: v.StrategyID})
}
