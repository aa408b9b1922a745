package events

// Event enumerates high-level topics inside the agent backend.
type Event string

const (
	EventPositionUpdate Event = "position_update"
	EventBalanceUpdate  Event = "balance_update"
	EventAgentAction    Event = "agent_action"
	EventRiskAlert      Event = "risk_alert"
	EventVaultClosed    Event = "vault_closed"
	EventVaultPaused    Event = "vault_paused"
	EventVaultResumed   Event = "vault_resumed"
)

// PositionUpdate is published by agents after each evaluation cycle.
type PositionUpdate struct {
	VaultID    string
	Collateral float64
	Debt       float64
	LTV        float64
}

// BalanceUpdate is published when a vault balance changes.
type BalanceUpdate struct {
	VaultID    string
	NewBalance float64
	TxHash     string
}

// AgentAction describes a borrow/leverage/repay step taken by an agent.
type AgentAction struct {
	VaultID string
	Action  string
	Detail  string
}
