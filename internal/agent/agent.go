package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"agent-core/internal/events"
	"agent-core/internal/lending"
	"agent-core/internal/strategy"
	"agent-core/pkg/db"
)

// AddressLookup resolves a vault's on-chain addresses.
type AddressLookup interface {
	Addresses(ctx context.Context, vaultID string) (walletAddr, vaultAddr string, err error)
}

// agent runs the leverage loop for one vault: observe the position, decide,
// execute, publish. One goroutine per vault, stopped through its context.
type agent struct {
	vaultID  string
	def      strategy.Definition
	marketID string

	lending   lending.Protocol
	addresses AddressLookup
	database  *db.Database
	bus       *events.Bus
}

// marketIDFor derives the lending market id from the strategy's token pair.
func marketIDFor(def strategy.Definition) string {
	return strings.ToLower(fmt.Sprintf("%s-%s", def.CollateralToken, def.DebtToken))
}

func (a *agent) run(ctx context.Context) {
	interval := a.def.LoopInterval.Std()
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[AGENT] %s loop started (strategy=%s interval=%s)", a.vaultID, a.def.ID, interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[AGENT] %s loop stopped", a.vaultID)
			return
		case <-ticker.C:
			if err := a.tick(ctx); err != nil {
				log.Printf("[AGENT] %s tick: %v", a.vaultID, err)
			}
		}
	}
}

// tick runs one observe/decide/execute cycle.
func (a *agent) tick(ctx context.Context) error {
	_, vaultAddr, err := a.addresses.Addresses(ctx, a.vaultID)
	if err != nil {
		return fmt.Errorf("resolve addresses: %w", err)
	}

	pos, err := a.lending.Position(ctx, a.marketID, vaultAddr)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}

	d := Decide(a.def, pos)
	if d.Action != ActionHold {
		if err := a.execute(ctx, vaultAddr, d); err != nil {
			return fmt.Errorf("execute %s: %w", d.Action, err)
		}
		// Re-read so subscribers see the post-action state.
		if after, err := a.lending.Position(ctx, a.marketID, vaultAddr); err == nil {
			pos = after
		}
	}

	a.record(ctx, pos, d)
	return nil
}

func (a *agent) execute(ctx context.Context, vaultAddr string, d Decision) error {
	if d.Amount.IsZero() {
		return nil
	}
	var err error
	switch d.Action {
	case ActionBorrow:
		_, err = a.lending.Borrow(ctx, a.marketID, vaultAddr, d.Amount)
	case ActionRepay, ActionDelever:
		_, err = a.lending.Repay(ctx, a.marketID, vaultAddr, d.Amount)
	}
	return err
}

// record persists the observed position and the decision, then publishes them
// on the bus for connected clients.
func (a *agent) record(ctx context.Context, pos lending.VaultPosition, d Decision) {
	collateral, _ := pos.Collateral.Float64()
	debt, _ := pos.Debt.Float64()
	ltv, _ := pos.LTV().Float64()

	if err := a.database.UpsertPosition(ctx, db.Position{
		VaultID:    a.vaultID,
		Collateral: collateral,
		Debt:       debt,
		LTV:        ltv,
		UpdatedAt:  time.Now(),
	}); err != nil {
		log.Printf("[AGENT] %s persist position: %v", a.vaultID, err)
	}

	if d.Action != ActionHold {
		if err := a.database.CreateAgentEvent(ctx, db.AgentEvent{
			ID:      uuid.NewString(),
			VaultID: a.vaultID,
			Action:  string(d.Action),
			Detail:  fmt.Sprintf("amount=%s reason=%s", d.Amount.StringFixed(6), d.Reason),
		}); err != nil {
			log.Printf("[AGENT] %s persist event: %v", a.vaultID, err)
		}
		a.bus.PublishAction(events.AgentAction{
			VaultID: a.vaultID,
			Action:  string(d.Action),
			Detail:  d.Reason,
		})
	}

	a.bus.PublishPosition(events.PositionUpdate{
		VaultID:    a.vaultID,
		Collateral: collateral,
		Debt:       debt,
		LTV:        ltv,
	})
}
