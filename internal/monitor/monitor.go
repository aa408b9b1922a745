package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"agent-core/internal/events"
	"agent-core/internal/lending"
	"agent-core/internal/market"
	"agent-core/internal/strategy"
	"agent-core/internal/ws"
	"agent-core/pkg/db"
)

const maxConsecutiveFailures = 3

// AddressLookup resolves a vault's on-chain addresses.
type AddressLookup interface {
	Addresses(ctx context.Context, vaultID string) (walletAddr, vaultAddr string, err error)
}

// Broadcaster fans an envelope out to a topic's subscribers.
type Broadcaster interface {
	BroadcastToTopic(topic string, env ws.Envelope)
}

// Metrics is one observation of a monitored vault.
type Metrics struct {
	VaultID    string  `json:"vault_id"`
	StrategyID string  `json:"strategy_id"`
	Collateral float64 `json:"collateral"`
	Debt       float64 `json:"debt"`
	LTV        float64 `json:"ltv"`
	TargetLTV  float64 `json:"target_ltv"`
	MaxLTV     float64 `json:"max_ltv"`
	Price      float64 `json:"price"`
	Balance    float64 `json:"balance"`
}

// Service streams monitor_update envelopes for active vaults. Each monitored
// vault gets its own goroutine; a vault that fails to report three times in a
// row is dropped, with a linearly growing pause between retries.
type Service struct {
	Interval  time.Duration
	Catalog   *strategy.Catalog
	Lending   lending.Protocol
	Feed      market.PriceSource
	Addresses AddressLookup
	DB        *db.Database
	Topics    Broadcaster
	Bus       *events.Bus

	mu       sync.Mutex
	ctx      context.Context
	monitors map[string]context.CancelFunc
}

// NewService creates a monitor service; loops inherit ctx. interval defaults
// to 15s.
func NewService(ctx context.Context, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Service{
		Interval: interval,
		ctx:      ctx,
		monitors: make(map[string]context.CancelFunc),
	}
}

// StartMonitoring begins metric emission for a vault. Starting an already
// monitored vault is a no-op.
func (s *Service) StartMonitoring(vaultID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.monitors[vaultID]; running {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.monitors[vaultID] = cancel
	go s.loop(ctx, vaultID)
}

// StopMonitoring ends metric emission for a vault. Unknown ids are a no-op.
func (s *Service) StopMonitoring(vaultID string) {
	s.mu.Lock()
	cancel, ok := s.monitors[vaultID]
	if ok {
		delete(s.monitors, vaultID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Monitoring reports whether a vault currently emits metrics.
func (s *Service) Monitoring(vaultID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.monitors[vaultID]
	return ok
}

func (s *Service) loop(ctx context.Context, vaultID string) {
	defer s.StopMonitoring(vaultID)
	log.Printf("[MONITOR] watching vault %s (interval=%s)", vaultID, s.Interval)

	failures := 0
	for {
		wait := s.Interval
		if failures > 0 {
			// Linear backoff between retries.
			wait = s.Interval * time.Duration(failures+1)
		}
		select {
		case <-ctx.Done():
			log.Printf("[MONITOR] vault %s stopped", vaultID)
			return
		case <-time.After(wait):
		}

		m, err := s.collect(ctx, vaultID)
		if err != nil {
			failures++
			log.Printf("[MONITOR] vault %s observation %d/%d failed: %v", vaultID, failures, maxConsecutiveFailures, err)
			if failures >= maxConsecutiveFailures {
				log.Printf("[MONITOR] vault %s dropped after %d consecutive failures", vaultID, failures)
				return
			}
			continue
		}
		failures = 0
		s.emit(m)
	}
}

// collect gathers one metrics snapshot from persistence, the lending venue
// and the price feed.
func (s *Service) collect(ctx context.Context, vaultID string) (Metrics, error) {
	v, err := s.DB.GetVault(ctx, vaultID)
	if err != nil {
		return Metrics{}, err
	}
	if v == nil {
		return Metrics{}, fmt.Errorf("vault %s not found", vaultID)
	}
	if v.Status == db.VaultStatusClosed {
		return Metrics{}, fmt.Errorf("vault %s is closed", vaultID)
	}

	def, ok := s.Catalog.Get(v.StrategyID)
	if !ok {
		return Metrics{}, fmt.Errorf("vault %s references unknown strategy %q", vaultID, v.StrategyID)
	}

	_, vaultAddr, err := s.Addresses.Addresses(ctx, vaultID)
	if err != nil {
		return Metrics{}, err
	}

	marketID := strings.ToLower(fmt.Sprintf("%s-%s", def.CollateralToken, def.DebtToken))
	pos, err := s.Lending.Position(ctx, marketID, vaultAddr)
	if err != nil {
		return Metrics{}, err
	}

	var price float64
	if def.MarketSymbol != "" {
		q, err := s.Feed.Price(ctx, def.MarketSymbol)
		if err != nil {
			return Metrics{}, err
		}
		price = q.Price
	}

	collateral, _ := pos.Collateral.Float64()
	debt, _ := pos.Debt.Float64()
	ltv, _ := pos.LTV().Float64()
	return Metrics{
		VaultID:    vaultID,
		StrategyID: v.StrategyID,
		Collateral: collateral,
		Debt:       debt,
		LTV:        ltv,
		TargetLTV:  def.TargetLTV,
		MaxLTV:     def.MaxLTV,
		Price:      price,
		Balance:    v.CurrentBalance,
	}, nil
}

// emit broadcasts the snapshot to the vault's topics and raises a risk alert
// when the position is close to its max LTV.
func (s *Service) emit(m Metrics) {
	env := ws.NewEnvelope(ws.TypeMonitorUpdate, m, "")
	s.Topics.BroadcastToTopic(ws.StrategyTopic(m.VaultID), env)
	s.Topics.BroadcastToTopic(ws.VaultTopic(m.VaultID), env)

	if s.Bus != nil && m.MaxLTV > 0 && m.LTV >= m.MaxLTV {
		s.Bus.Publish(events.EventRiskAlert, fmt.Sprintf("vault %s ltv %.4f at or above max %.4f", m.VaultID, m.LTV, m.MaxLTV))
	}
}
