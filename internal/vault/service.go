package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"agent-core/internal/chain"
	"agent-core/internal/events"
	"agent-core/internal/strategy"
	"agent-core/internal/ws"
	"agent-core/pkg/db"
)

var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrDepositTooSmall = errors.New("deposit below strategy minimum")
	ErrVaultNotFound   = errors.New("vault not found")
	ErrNotVaultOwner   = errors.New("vault belongs to another user")
	ErrVaultNotOpen    = errors.New("vault does not accept deposits")
	ErrBadTransition   = errors.New("vault status does not allow this transition")
)

// vaultSettings is the JSON bag persisted alongside a vault. It carries the
// addresses custody hands back during provisioning.
type vaultSettings struct {
	WalletAddress  string         `json:"wallet_address"`
	VaultAddress   string         `json:"vault_address"`
	DepositAddress string         `json:"deposit_address"`
	DeployTx       string         `json:"deploy_tx"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

// Service provisions vaults and processes deposits. It owns the persistence
// of vault state; on-chain work is delegated to custody.
type Service struct {
	DB      *db.Database
	Custody chain.Custody
	Catalog *strategy.Catalog
	Bus     *events.Bus
}

// CreateVault provisions a vault for a strategy: it ensures the user has a
// custody wallet, deploys the vault contract, and persists the record in
// pending state. Activation happens later, when the agent starts.
func (s *Service) CreateVault(ctx context.Context, userID, strategyID string, initialDeposit float64, params map[string]any) (ws.VaultInfo, error) {
	def, ok := s.Catalog.Get(strategyID)
	if !ok {
		return ws.VaultInfo{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyID)
	}
	if initialDeposit < def.MinDeposit {
		return ws.VaultInfo{}, fmt.Errorf("%w: %s requires at least %v", ErrDepositTooSmall, strategyID, def.MinDeposit)
	}

	wallet, err := s.ensureWallet(ctx, userID)
	if err != nil {
		return ws.VaultInfo{}, err
	}

	deployment, err := s.Custody.DeployVault(ctx, wallet.Address, strategyID)
	if err != nil {
		return ws.VaultInfo{}, fmt.Errorf("deploy vault: %w", err)
	}

	settings, err := json.Marshal(vaultSettings{
		WalletAddress:  wallet.Address,
		VaultAddress:   deployment.VaultAddress,
		DepositAddress: deployment.DepositAddress,
		DeployTx:       deployment.TxHash,
		Parameters:     params,
	})
	if err != nil {
		return ws.VaultInfo{}, err
	}

	now := time.Now().UTC()
	v := db.Vault{
		ID:             uuid.NewString(),
		UserID:         userID,
		StrategyID:     strategyID,
		Status:         db.VaultStatusPending,
		InitialDeposit: initialDeposit,
		Settings:       string(settings),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.DB.CreateVault(ctx, v); err != nil {
		return ws.VaultInfo{}, fmt.Errorf("persist vault: %w", err)
	}
	log.Printf("[VAULT] created %s (strategy=%s user=%s)", v.ID, strategyID, userID)

	return ws.VaultInfo{
		ID:             v.ID,
		Status:         v.Status,
		DepositAddress: deployment.DepositAddress,
	}, nil
}

// HandleDeposit funds a vault through custody and records the new balance. A
// pending vault becomes active on its first successful deposit.
func (s *Service) HandleDeposit(ctx context.Context, userID, vaultID string, amount float64, tokenAddress string, slippage float64) (ws.DepositResult, error) {
	v, err := s.DB.GetVault(ctx, vaultID)
	if err != nil {
		return ws.DepositResult{}, err
	}
	if v == nil {
		return ws.DepositResult{}, fmt.Errorf("%w: %s", ErrVaultNotFound, vaultID)
	}
	if v.UserID != userID {
		return ws.DepositResult{}, ErrNotVaultOwner
	}
	if v.Status == db.VaultStatusClosed {
		return ws.DepositResult{}, fmt.Errorf("%w: %s is closed", ErrVaultNotOpen, vaultID)
	}

	var settings vaultSettings
	if err := json.Unmarshal([]byte(v.Settings), &settings); err != nil {
		return ws.DepositResult{}, fmt.Errorf("vault %s settings: %w", vaultID, err)
	}

	receipt, err := s.Custody.Deposit(ctx, settings.VaultAddress, tokenAddress, amount, slippage)
	if err != nil {
		return ws.DepositResult{}, fmt.Errorf("custody deposit: %w", err)
	}

	if err := s.DB.UpdateVaultBalance(ctx, vaultID, receipt.NewBalance); err != nil {
		return ws.DepositResult{}, fmt.Errorf("record balance: %w", err)
	}
	if v.Status == db.VaultStatusPending {
		if err := s.DB.UpdateVaultStatus(ctx, vaultID, db.VaultStatusActive); err != nil {
			return ws.DepositResult{}, fmt.Errorf("activate vault: %w", err)
		}
	}
	log.Printf("[VAULT] deposit %s into %s (tx=%s balance=%v)", tokenAddress, vaultID, receipt.TxHash, receipt.NewBalance)

	if s.Bus != nil {
		s.Bus.PublishBalance(events.BalanceUpdate{
			VaultID:    vaultID,
			NewBalance: receipt.NewBalance,
			TxHash:     receipt.TxHash,
		})
	}

	return ws.DepositResult{
		Status:     "success",
		TxHash:     receipt.TxHash,
		NewBalance: receipt.NewBalance,
	}, nil
}

// Close pauses the agent-facing lifecycle of a vault. Funds stay on chain;
// withdrawal is a custody concern.
func (s *Service) Close(ctx context.Context, userID, vaultID string) error {
	if _, err := s.ownedVault(ctx, userID, vaultID); err != nil {
		return err
	}
	if err := s.DB.UpdateVaultStatus(ctx, vaultID, db.VaultStatusClosed); err != nil {
		return err
	}
	if s.Bus != nil {
		s.Bus.Publish(events.EventVaultClosed, vaultID)
	}
	return nil
}

// Pause suspends agent activity on an active vault. Only active vaults can
// be paused; paused and active are the one reversible pair of statuses.
func (s *Service) Pause(ctx context.Context, userID, vaultID string) error {
	v, err := s.ownedVault(ctx, userID, vaultID)
	if err != nil {
		return err
	}
	if v.Status != db.VaultStatusActive {
		return fmt.Errorf("%w: %s is %s", ErrBadTransition, vaultID, v.Status)
	}
	if err := s.DB.UpdateVaultStatus(ctx, vaultID, db.VaultStatusPaused); err != nil {
		return err
	}
	log.Printf("[VAULT] paused %s", vaultID)
	if s.Bus != nil {
		s.Bus.Publish(events.EventVaultPaused, vaultID)
	}
	return nil
}

// Resume reactivates a paused vault.
func (s *Service) Resume(ctx context.Context, userID, vaultID string) error {
	v, err := s.ownedVault(ctx, userID, vaultID)
	if err != nil {
		return err
	}
	if v.Status != db.VaultStatusPaused {
		return fmt.Errorf("%w: %s is %s", ErrBadTransition, vaultID, v.Status)
	}
	if err := s.DB.UpdateVaultStatus(ctx, vaultID, db.VaultStatusActive); err != nil {
		return err
	}
	log.Printf("[VAULT] resumed %s", vaultID)
	if s.Bus != nil {
		s.Bus.Publish(events.EventVaultResumed, vaultID)
	}
	return nil
}

// Addresses returns the on-chain addresses recorded for a vault.
func (s *Service) Addresses(ctx context.Context, vaultID string) (walletAddr, vaultAddr string, err error) {
	v, err := s.DB.GetVault(ctx, vaultID)
	if err != nil {
		return "", "", err
	}
	if v == nil {
		return "", "", fmt.Errorf("%w: %s", ErrVaultNotFound, vaultID)
	}
	var settings vaultSettings
	if err := json.Unmarshal([]byte(v.Settings), &settings); err != nil {
		return "", "", err
	}
	return settings.WalletAddress, settings.VaultAddress, nil
}

// ownedVault loads a vault and verifies the caller owns it.
func (s *Service) ownedVault(ctx context.Context, userID, vaultID string) (*db.Vault, error) {
	v, err := s.DB.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, vaultID)
	}
	if v.UserID != userID {
		return nil, ErrNotVaultOwner
	}
	return v, nil
}

// ensureWallet returns the user's custody wallet, creating one on first use.
func (s *Service) ensureWallet(ctx context.Context, userID string) (*db.Wallet, error) {
	existing, err := s.DB.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	info, err := s.Custody.CreateWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	w := db.Wallet{
		ID:      uuid.NewString(),
		UserID:  userID,
		Address: info.Address,
	}
	if err := s.DB.CreateWallet(ctx, w); err != nil {
		return nil, fmt.Errorf("persist wallet: %w", err)
	}
	log.Printf("[VAULT] wallet %s provisioned for user %s", info.Address, userID)
	return &w, nil
}
