package db

import (
	"context"
	"database/sql"
	"time"
)

// Vault lifecycle statuses. Transitions are monotonic except active<->paused.
const (
	VaultStatusPending = "pending"
	VaultStatusActive  = "active"
	VaultStatusPaused  = "paused"
	VaultStatusClosed  = "closed"
)

// User represents an application user.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Wallet links a user to its custodial wallet.
type Wallet struct {
	ID              string
	UserID          string
	CustodyWalletID string
	Address         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Vault is a user-owned strategy position record.
type Vault struct {
	ID             string
	UserID         string
	StrategyID     string
	Status         string
	InitialDeposit float64
	CurrentBalance float64
	Settings       string // JSON bag; accumulates derived data during provisioning
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Position tracks collateral/debt per vault.
type Position struct {
	VaultID    string
	Collateral float64
	Debt       float64
	LTV        float64
	UpdatedAt  time.Time
}

// AgentEvent records an action taken by a background agent.
type AgentEvent struct {
	ID        string
	VaultID   string
	Action    string
	Detail    string
	CreatedAt time.Time
}

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, u.ID, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	return err
}

// GetUserByEmail returns the user with the given email, or nil if absent.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = ?
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateWallet inserts a wallet row for a user.
func (d *Database) CreateWallet(ctx context.Context, w Wallet) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, custody_wallet_id, address, created_at, updated_at)
		VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, w.ID, w.UserID, w.CustodyWalletID, w.Address, w.CreatedAt, w.UpdatedAt)
	return err
}

// GetWalletByUser returns the wallet for a user, or nil if absent.
func (d *Database) GetWalletByUser(ctx context.Context, userID string) (*Wallet, error) {
	var w Wallet
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, user_id, custody_wallet_id, address, created_at, updated_at
		FROM wallets WHERE user_id = ?
	`, userID).Scan(&w.ID, &w.UserID, &w.CustodyWalletID, &w.Address, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateVault inserts a new vault row.
func (d *Database) CreateVault(ctx context.Context, v Vault) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO vaults (
			id, user_id, strategy_id, status, initial_deposit, current_balance, settings, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, v.ID, v.UserID, v.StrategyID, v.Status, v.InitialDeposit, v.CurrentBalance, v.Settings, v.CreatedAt, v.UpdatedAt)
	return err
}

// GetVault returns the vault with the given id, or nil if absent.
func (d *Database) GetVault(ctx context.Context, id string) (*Vault, error) {
	var v Vault
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, user_id, strategy_id, status, initial_deposit, current_balance, settings, created_at, updated_at
		FROM vaults WHERE id = ?
	`, id).Scan(&v.ID, &v.UserID, &v.StrategyID, &v.Status, &v.InitialDeposit, &v.CurrentBalance, &v.Settings, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVaultsByUser returns all vaults owned by a user, newest first.
func (d *Database) ListVaultsByUser(ctx context.Context, userID string) ([]Vault, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, user_id, strategy_id, status, initial_deposit, current_balance, settings, created_at, updated_at
		FROM vaults WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Vault
	for rows.Next() {
		var v Vault
		if err := rows.Scan(&v.ID, &v.UserID, &v.StrategyID, &v.Status, &v.InitialDeposit, &v.CurrentBalance, &v.Settings, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// UpdateVaultStatus sets the lifecycle status of a vault.
func (d *Database) UpdateVaultStatus(ctx context.Context, id, status string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE vaults SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, id)
	return err
}

// UpdateVaultBalance stores the latest balance for a vault.
func (d *Database) UpdateVaultBalance(ctx context.Context, id string, balance float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE vaults SET current_balance = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, balance, id)
	return err
}

// UpdateVaultSettings replaces the settings JSON bag of a vault.
func (d *Database) UpdateVaultSettings(ctx context.Context, id, settings string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE vaults SET settings = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, settings, id)
	return err
}

// UpsertPosition stores the latest collateral/debt snapshot for a vault.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (vault_id, collateral, debt, ltv, updated_at)
		VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
		ON CONFLICT(vault_id) DO UPDATE SET
			collateral = excluded.collateral,
			debt = excluded.debt,
			ltv = excluded.ltv,
			updated_at = COALESCE(excluded.updated_at, CURRENT_TIMESTAMP)
	`, p.VaultID, p.Collateral, p.Debt, p.LTV, p.UpdatedAt)
	return err
}

// GetPosition returns the position snapshot for a vault, or nil if absent.
func (d *Database) GetPosition(ctx context.Context, vaultID string) (*Position, error) {
	var p Position
	err := d.DB.QueryRowContext(ctx, `
		SELECT vault_id, collateral, debt, ltv, updated_at
		FROM positions WHERE vault_id = ?
	`, vaultID).Scan(&p.VaultID, &p.Collateral, &p.Debt, &p.LTV, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateAgentEvent records an agent action.
func (d *Database) CreateAgentEvent(ctx context.Context, e AgentEvent) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO agent_events (id, vault_id, action, detail, created_at)
		VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, e.ID, e.VaultID, e.Action, e.Detail, e.CreatedAt)
	return err
}

// ListAgentEvents returns the most recent events for a vault.
func (d *Database) ListAgentEvents(ctx context.Context, vaultID string, limit int) ([]AgentEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, vault_id, action, detail, created_at
		FROM agent_events WHERE vault_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, vaultID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []AgentEvent
	for rows.Next() {
		var e AgentEvent
		if err := rows.Scan(&e.ID, &e.VaultID, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
