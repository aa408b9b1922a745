package lending

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// MarketInfo is the current state of a lending market.
type MarketInfo struct {
	MarketID       string          `json:"market_id"`
	SupplyAPY      decimal.Decimal `json:"supply_apy"`
	BorrowAPY      decimal.Decimal `json:"borrow_apy"`
	LiquidationLTV decimal.Decimal `json:"liquidation_ltv"`
	UtilizationPct decimal.Decimal `json:"utilization_pct"`
}

// VaultPosition is a vault's collateral and debt in market units.
type VaultPosition struct {
	Collateral decimal.Decimal `json:"collateral"`
	Debt       decimal.Decimal `json:"debt"`
}

// LTV returns debt over collateral, zero when there is no collateral.
func (p VaultPosition) LTV() decimal.Decimal {
	if p.Collateral.IsZero() {
		return decimal.Zero
	}
	return p.Debt.Div(p.Collateral)
}

// TxResult reports a submitted lending transaction.
type TxResult struct {
	TxHash string `json:"tx_hash"`
}

// Protocol abstracts the lending venue a strategy loops against.
type Protocol interface {
	Market(ctx context.Context, marketID string) (MarketInfo, error)
	Position(ctx context.Context, marketID, vaultAddress string) (VaultPosition, error)
	SupplyCollateral(ctx context.Context, marketID, vaultAddress string, amount decimal.Decimal) (TxResult, error)
	Borrow(ctx context.Context, marketID, vaultAddress string, amount decimal.Decimal) (TxResult, error)
	Repay(ctx context.Context, marketID, vaultAddress string, amount decimal.Decimal) (TxResult, error)
}

// Client talks to a Morpho-style lending API over REST.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a lending client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Market returns the current state of a market.
func (c *Client) Market(ctx context.Context, marketID string) (MarketInfo, error) {
	var out MarketInfo
	if err := c.get(ctx, fmt.Sprintf("/v1/markets/%s", marketID), &out); err != nil {
		return MarketInfo{}, fmt.Errorf("market %s: %w", marketID, err)
	}
	return out, nil
}

// Position returns the vault's collateral and debt in a market.
func (c *Client) Position(ctx context.Context, marketID, vaultAddress string) (VaultPosition, error) {
	var out VaultPosition
	path := fmt.Sprintf("/v1/markets/%s/positions/%s", marketID, vaultAddress)
	if err := c.get(ctx, path, &out); err != nil {
		return VaultPosition{}, fmt.Errorf("position %s: %w", vaultAddress, err)
	}
	return out, nil
}

// SupplyCollateral adds collateral to the vault's position.
func (c *Client) SupplyCollateral(ctx context.Context, marketID, vaultAddress string, amount decimal.Decimal) (TxResult, error) {
	return c.act(ctx, marketID, vaultAddress, "supply", amount)
}

// Borrow draws debt against the vault's collateral.
func (c *Client) Borrow(ctx context.Context, marketID, vaultAddress string, amount decimal.Decimal) (TxResult, error) {
	return c.act(ctx, marketID, vaultAddress, "borrow", amount)
}

// Repay pays down the vault's debt.
func (c *Client) Repay(ctx context.Context, marketID, vaultAddress string, amount decimal.Decimal) (TxResult, error) {
	return c.act(ctx, marketID, vaultAddress, "repay", amount)
}

func (c *Client) act(ctx context.Context, marketID, vaultAddress, action string, amount decimal.Decimal) (TxResult, error) {
	if amount.IsNegative() || amount.IsZero() {
		return TxResult{}, fmt.Errorf("%s amount must be positive, got %s", action, amount)
	}

	payload, err := json.Marshal(map[string]any{
		"vault_address": vaultAddress,
		"action":        action,
		"amount":        amount,
	})
	if err != nil {
		return TxResult{}, err
	}

	path := fmt.Sprintf("/v1/markets/%s/transactions", marketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return TxResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return TxResult{}, fmt.Errorf("%s: %w", action, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return TxResult{}, fmt.Errorf("%s status %d", action, res.StatusCode)
	}

	var out TxResult
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return TxResult{}, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", res.StatusCode)
	}
	return json.NewDecoder(res.Body).Decode(out)
}
