package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"agent-core/pkg/cache"
)

// Quote is one spot price observation.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceSource serves spot prices for market symbols like "ETH-USD".
type PriceSource interface {
	Price(ctx context.Context, symbol string) (Quote, error)
}

// Feed wraps REST access to an external price oracle with a short TTL cache.
// Agents for many vaults share one feed, so a hot symbol hits the upstream at
// most once per TTL window.
type Feed struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	cache *cache.QuoteCache
}

// NewFeed builds a price feed client. ttl defaults to 5s.
func NewFeed(baseURL, apiKey string, ttl time.Duration) *Feed {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Feed{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		cache:      cache.NewQuoteCache(ttl),
	}
}

// Price returns the spot price for a symbol, served from cache when fresh.
func (f *Feed) Price(ctx context.Context, symbol string) (Quote, error) {
	if price, observedAt, ok := f.cache.Get(symbol); ok {
		return Quote{Symbol: symbol, Price: price, Timestamp: observedAt}, nil
	}

	q, err := f.fetch(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}
	f.cache.Set(symbol, q.Price, q.Timestamp)
	return q, nil
}

func (f *Feed) fetch(ctx context.Context, symbol string) (Quote, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	u := fmt.Sprintf("%s/v1/prices?%s", f.BaseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Quote{}, err
	}
	if f.APIKey != "" {
		req.Header.Set("X-API-Key", f.APIKey)
	}

	res, err := f.HTTPClient.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("price feed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("price feed status %d for %s", res.StatusCode, symbol)
	}

	var body struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return Quote{}, err
	}
	if body.Price <= 0 {
		return Quote{}, fmt.Errorf("price feed returned non-positive price for %s", symbol)
	}

	return Quote{Symbol: symbol, Price: body.Price, Timestamp: time.Now()}, nil
}
