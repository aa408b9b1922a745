package ws

import (
	"context"

	"agent-core/internal/events"
)

// Relay forwards bus events published by background agents to the sessions
// subscribed to the matching topics. It is the only bridge between the agent
// side and the connection core.
type Relay struct {
	Bus    *events.Bus
	Topics *TopicIndex
}

// Start launches the forwarding goroutines; they exit when ctx is cancelled
// or the bus closes.
func (r *Relay) Start(ctx context.Context) {
	positions, unsubPos := r.Bus.Subscribe(events.EventPositionUpdate, 100)
	balances, unsubBal := r.Bus.Subscribe(events.EventBalanceUpdate, 100)

	go func() {
		defer unsubPos()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-positions:
				if !ok {
					return
				}
				u, isPos := msg.(events.PositionUpdate)
				if !isPos {
					continue
				}
				env := NewEnvelope(TypeMonitorUpdate, map[string]any{
					"vault_id":   u.VaultID,
					"collateral": u.Collateral,
					"debt":       u.Debt,
					"ltv":        u.LTV,
				}, "")
				r.Topics.BroadcastToTopic(StrategyTopic(u.VaultID), env)
				r.Topics.BroadcastToTopic(VaultTopic(u.VaultID), env)
			}
		}
	}()

	go func() {
		defer unsubBal()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-balances:
				if !ok {
					return
				}
				u, isBal := msg.(events.BalanceUpdate)
				if !isBal {
					continue
				}
				r.Topics.BroadcastToTopic(VaultTopic(u.VaultID), NewEnvelope(TypeBalanceUpdate, map[string]any{
					"vault_id":    u.VaultID,
					"new_balance": u.NewBalance,
					"tx_hash":     u.TxHash,
				}, ""))
			}
		}
	}()
}
