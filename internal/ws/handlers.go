package ws

import (
	"context"
	"fmt"
	"log"
)

// VaultInfo is the provisioning result surfaced to clients.
type VaultInfo struct {
	ID             string
	Status         string
	DepositAddress string
}

// DepositResult is the outcome of a vault deposit.
type DepositResult struct {
	Status     string
	TxHash     string
	NewBalance float64
}

// VaultService provisions vaults and handles deposits. Wallet custody and
// on-chain detail stay behind this interface.
type VaultService interface {
	CreateVault(ctx context.Context, userID, strategyID string, initialDeposit float64, params map[string]any) (VaultInfo, error)
	HandleDeposit(ctx context.Context, userID, vaultID string, amount float64, tokenAddress string, slippage float64) (DepositResult, error)
}

// AgentStarter registers a background agent for a provisioned vault.
type AgentStarter interface {
	AddAgent(agentID string, params AgentStartPayload) bool
}

// MonitorStarter begins periodic metric emission for a vault.
type MonitorStarter interface {
	StartMonitoring(vaultID string)
}

// Handlers holds the business handlers invoked by the dispatcher and the
// background queue. All cross-session communication goes through the topic
// index; no handler touches another session's transport.
type Handlers struct {
	Vaults  VaultService
	Agents  AgentStarter
	Monitor MonitorStarter
	Topics  *TopicIndex
	Queue   *TaskQueue
}

// Register binds the synchronous request/response handlers.
func (h *Handlers) Register(d *Dispatcher) {
	d.RegisterHandler(TypeStrategySelect, h.handleStrategySelect)
	d.RegisterHandler(TypeDeposit, h.handleDeposit)
}

// RegisterBackground binds the asynchronous handlers on the task queue.
func (h *Handlers) RegisterBackground(q *TaskQueue) {
	q.RegisterHandler(TypeAgentStart, h.handleAgentStart)
}

// handleStrategySelect provisions a vault, subscribes the requesting session
// to the vault's strategy topic, and queues agent startup for the background
// path. The client gets exactly one strategy_init (or error) response.
func (h *Handlers) handleStrategySelect(ctx context.Context, s *Session, env Envelope) (Envelope, error) {
	p, err := env.StrategySelect()
	if err != nil {
		return Envelope{}, err
	}

	vault, err := h.Vaults.CreateVault(ctx, s.UserID, p.StrategyID, p.InitialDeposit, p.Parameters)
	if err != nil {
		return Envelope{}, fmt.Errorf("create vault: %w", err)
	}

	h.Topics.Subscribe(s.ID, StrategyTopic(vault.ID))

	h.Queue.Enqueue(Task{
		SessionID: s.ID,
		Priority:  PriorityHigh,
		Envelope: NewEnvelope(TypeAgentStart, AgentStartPayload{
			VaultID:        vault.ID,
			StrategyID:     p.StrategyID,
			InitialDeposit: p.InitialDeposit,
			Parameters:     p.Parameters,
		}, env.RequestID),
	})

	return NewEnvelope(TypeStrategyInit, map[string]any{
		"vault_id":        vault.ID,
		"status":          "initialized",
		"deposit_address": vault.DepositAddress,
		"message":         "Strategy initialized successfully",
	}, env.RequestID), nil
}

// handleDeposit funds a vault and notifies vault-topic subscribers of the new
// balance.
func (h *Handlers) handleDeposit(ctx context.Context, s *Session, env Envelope) (Envelope, error) {
	p, err := env.Deposit()
	if err != nil {
		return Envelope{}, err
	}
	slippage := p.Slippage
	if slippage == 0 {
		slippage = 0.01
	}

	result, err := h.Vaults.HandleDeposit(ctx, s.UserID, p.VaultID, p.Amount, p.TokenAddress, slippage)
	if err != nil {
		return Envelope{}, fmt.Errorf("deposit: %w", err)
	}

	h.Topics.BroadcastToTopic(VaultTopic(p.VaultID), NewEnvelope(TypeBalanceUpdate, map[string]any{
		"vault_id":    p.VaultID,
		"new_balance": result.NewBalance,
		"tx_hash":     result.TxHash,
	}, ""))

	return NewEnvelope(TypeDepositComplete, map[string]any{
		"status":      result.Status,
		"tx_hash":     result.TxHash,
		"new_balance": result.NewBalance,
	}, env.RequestID), nil
}

// handleAgentStart finishes provisioning off the request path: it starts the
// vault's agent and monitor, then tells strategy-topic subscribers. Failures
// are logged only; the queue carries best-effort work.
func (h *Handlers) handleAgentStart(ctx context.Context, task Task) error {
	p, err := task.Envelope.AgentStart()
	if err != nil {
		return err
	}

	if ok := h.Agents.AddAgent(p.VaultID, p); !ok {
		return fmt.Errorf("agent for vault %s failed to initialize", p.VaultID)
	}
	h.Monitor.StartMonitoring(p.VaultID)
	log.Printf("[WS] agent started for vault %s (strategy=%s)", p.VaultID, p.StrategyID)

	h.Topics.BroadcastToTopic(StrategyTopic(p.VaultID), NewEnvelope(TypeSystem, map[string]any{
		"vault_id": p.VaultID,
		"message":  "agent started",
	}, ""))
	return nil
}
