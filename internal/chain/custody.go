package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WalletInfo identifies a custody-managed wallet.
type WalletInfo struct {
	Address string `json:"address"`
	ChainID int64  `json:"chain_id"`
}

// VaultDeployment is the result of deploying a vault contract.
type VaultDeployment struct {
	VaultAddress   string `json:"vault_address"`
	DepositAddress string `json:"deposit_address"`
	TxHash         string `json:"tx_hash"`
}

// DepositReceipt confirms an on-chain deposit into a vault.
type DepositReceipt struct {
	TxHash     string  `json:"tx_hash"`
	NewBalance float64 `json:"new_balance"`
}

// Custody abstracts the wallet and vault custody service. Signing keys never
// enter this process; all on-chain actions go through the custody API.
type Custody interface {
	CreateWallet(ctx context.Context, userID string) (WalletInfo, error)
	DeployVault(ctx context.Context, walletAddress, strategyID string) (VaultDeployment, error)
	Deposit(ctx context.Context, vaultAddress, tokenAddress string, amount, slippage float64) (DepositReceipt, error)
}

// Client talks to the custody service over REST.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a custody client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateWallet provisions a managed wallet for a user. The call is idempotent
// on the custody side: one wallet per user id.
func (c *Client) CreateWallet(ctx context.Context, userID string) (WalletInfo, error) {
	var out WalletInfo
	err := c.post(ctx, "/v1/wallets", map[string]any{"user_id": userID}, &out)
	if err != nil {
		return WalletInfo{}, fmt.Errorf("create wallet: %w", err)
	}
	return out, nil
}

// DeployVault deploys a vault contract owned by the wallet.
func (c *Client) DeployVault(ctx context.Context, walletAddress, strategyID string) (VaultDeployment, error) {
	var out VaultDeployment
	err := c.post(ctx, "/v1/vaults", map[string]any{
		"wallet_address": walletAddress,
		"strategy_id":    strategyID,
	}, &out)
	if err != nil {
		return VaultDeployment{}, fmt.Errorf("deploy vault: %w", err)
	}
	return out, nil
}

// Deposit swaps the funding token in and credits the vault.
func (c *Client) Deposit(ctx context.Context, vaultAddress, tokenAddress string, amount, slippage float64) (DepositReceipt, error) {
	var out DepositReceipt
	err := c.post(ctx, fmt.Sprintf("/v1/vaults/%s/deposits", vaultAddress), map[string]any{
		"token_address": tokenAddress,
		"amount":        amount,
		"slippage":      slippage,
	}, &out)
	if err != nil {
		return DepositReceipt{}, fmt.Errorf("deposit: %w", err)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return fmt.Errorf("custody %s status %d", path, res.StatusCode)
	}
	return json.NewDecoder(res.Body).Decode(out)
}
