package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType tags an envelope. The set is closed: unknown tags are rejected
// at the parse boundary.
type MessageType string

// Inbound message types (client -> server).
const (
	TypeStrategySelect MessageType = "strategy_select"
	TypeDeposit        MessageType = "deposit"
	TypeSubscribe      MessageType = "subscribe"
	TypeUnsubscribe    MessageType = "unsubscribe"
	TypePong           MessageType = "pong"
)

// Outbound message types (server -> client).
const (
	TypeStrategyInit          MessageType = "strategy_init"
	TypeDepositComplete       MessageType = "deposit_complete"
	TypeMonitorUpdate         MessageType = "monitor_update"
	TypeBalanceUpdate         MessageType = "balance_update"
	TypeSubscriptionConfirmed MessageType = "subscription_confirmed"
	TypeSystem                MessageType = "system"
	TypeError                 MessageType = "error"
	TypePing                  MessageType = "ping"
)

// TypeAgentStart is queued for background processing after a vault is
// provisioned; it never arrives from a client.
const TypeAgentStart MessageType = "agent_start"

// Envelope is an immutable message record exchanged over a connection.
// RequestID is echoed back verbatim so clients can correlate async responses.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Parse errors. A parse failure never tears down the connection; the read
// loop answers with an error envelope and keeps reading.
var (
	ErrInvalidJSON    = errors.New("invalid JSON frame")
	ErrUnknownType    = errors.New("unknown message type")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Error codes carried in error envelopes.
const (
	CodeInvalidJSON        = "INVALID_JSON"
	CodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	CodeInvalidPayload     = "INVALID_PAYLOAD"
	CodeHandlerError       = "HANDLER_ERROR"
)

// StrategySelectPayload asks for a vault to be provisioned for a strategy.
type StrategySelectPayload struct {
	StrategyID     string         `json:"strategy_id"`
	InitialDeposit float64        `json:"initial_deposit"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

// DepositPayload funds an existing vault.
type DepositPayload struct {
	VaultID      string  `json:"vault_id"`
	Amount       float64 `json:"amount"`
	TokenAddress string  `json:"token_address"`
	Slippage     float64 `json:"slippage,omitempty"`
}

// TopicsPayload lists topics for subscribe/unsubscribe.
type TopicsPayload struct {
	Topics []string `json:"topics"`
}

// ErrorPayload is the data of an error envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AgentStartPayload is the data of a background agent_start task.
type AgentStartPayload struct {
	VaultID        string         `json:"vault_id"`
	StrategyID     string         `json:"strategy_id"`
	InitialDeposit float64        `json:"initial_deposit"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

var inboundTypes = map[MessageType]bool{
	TypeStrategySelect: true,
	TypeDeposit:        true,
	TypeSubscribe:      true,
	TypeUnsubscribe:    true,
	TypePong:           true,
}

// Parse decodes a raw inbound frame into an Envelope. The payload shape is
// validated here so malformed data is rejected at the boundary instead of
// deep inside a handler.
func Parse(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if !inboundTypes[env.Type] {
		return env, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err := validatePayload(env); err != nil {
		return env, err
	}
	return env, nil
}

func validatePayload(env Envelope) error {
	switch env.Type {
	case TypeStrategySelect:
		p, err := env.StrategySelect()
		if err != nil {
			return err
		}
		if p.StrategyID == "" {
			return fmt.Errorf("%w: strategy_id is required", ErrInvalidPayload)
		}
		if p.InitialDeposit < 0 {
			return fmt.Errorf("%w: initial_deposit must not be negative", ErrInvalidPayload)
		}
	case TypeDeposit:
		p, err := env.Deposit()
		if err != nil {
			return err
		}
		if p.VaultID == "" || p.TokenAddress == "" {
			return fmt.Errorf("%w: vault_id and token_address are required", ErrInvalidPayload)
		}
		if p.Amount <= 0 {
			return fmt.Errorf("%w: amount must be positive", ErrInvalidPayload)
		}
	case TypeSubscribe, TypeUnsubscribe:
		p, err := env.Topics()
		if err != nil {
			return err
		}
		if len(p.Topics) == 0 {
			return fmt.Errorf("%w: topics list is empty", ErrInvalidPayload)
		}
	case TypePong:
		// no payload
	}
	return nil
}

// StrategySelect decodes the payload of a strategy_select envelope.
func (e Envelope) StrategySelect() (StrategySelectPayload, error) {
	var p StrategySelectPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}

// Deposit decodes the payload of a deposit envelope.
func (e Envelope) Deposit() (DepositPayload, error) {
	var p DepositPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}

// Topics decodes the payload of a subscribe/unsubscribe envelope.
func (e Envelope) Topics() (TopicsPayload, error) {
	var p TopicsPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}

// AgentStart decodes the payload of a background agent_start task.
func (e Envelope) AgentStart() (AgentStartPayload, error) {
	var p AgentStartPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}

// NewEnvelope builds an outbound envelope, stamping the current UTC time.
// data must marshal to JSON; a marshal failure degrades to an empty payload.
func NewEnvelope(t MessageType, data any, requestID string) Envelope {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte(`{}`)
	}
	return Envelope{
		Type:      t,
		Data:      raw,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ErrorEnvelope builds an error response carrying the originating request id.
func ErrorEnvelope(code, message, requestID string) Envelope {
	return NewEnvelope(TypeError, ErrorPayload{Code: code, Message: message}, requestID)
}

// PingEnvelope builds the heartbeat probe envelope.
func PingEnvelope() Envelope {
	return NewEnvelope(TypePing, map[string]any{}, "")
}
