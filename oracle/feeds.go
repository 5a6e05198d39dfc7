// Package oracle provides price feed implementations for the position engine.
// Feeds report 8-decimal USD prices together with the publication timestamp;
// staleness is judged by the engine, not the feed.
package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrNoQuote indicates that a feed has no price recorded yet.
var ErrNoQuote = errors.New("oracle: no quote available")

var feedScale = new(big.Rat).SetInt64(100_000_000) // 8 feed decimals

// ManualFeed is a mutex-guarded settable feed used by tests and operational
// tooling.
type ManualFeed struct {
	mu          sync.RWMutex
	price       *big.Int
	publishedAt time.Time
}

// NewManualFeed returns a feed with no quote recorded.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{}
}

// Set records the 8-decimal price with the supplied publication time.
func (f *ManualFeed) Set(price *big.Int, publishedAt time.Time) {
	if f == nil || price == nil {
		return
	}
	f.mu.Lock()
	f.price = new(big.Int).Set(price)
	f.publishedAt = publishedAt
	f.mu.Unlock()
}

// SetDecimal records a human-readable decimal price, e.g. "2000" for $2000.
func (f *ManualFeed) SetDecimal(price string, publishedAt time.Time) error {
	if f == nil {
		return fmt.Errorf("oracle: manual feed not configured")
	}
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return fmt.Errorf("oracle: price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("oracle: invalid price %q", price)
	}
	if rat.Sign() <= 0 {
		return fmt.Errorf("oracle: price must be positive")
	}
	scaled := new(big.Rat).Mul(rat, feedScale)
	f.Set(new(big.Int).Quo(scaled.Num(), scaled.Denom()), publishedAt)
	return nil
}

// LatestPrice returns the recorded quote.
func (f *ManualFeed) LatestPrice() (*big.Int, time.Time, error) {
	if f == nil {
		return nil, time.Time{}, ErrNoQuote
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil {
		return nil, time.Time{}, ErrNoQuote
	}
	return new(big.Int).Set(f.price), f.publishedAt, nil
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFeed polls a JSON endpoint reporting an 8-decimal price string and a
// unix publication timestamp.
type HTTPFeed struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewHTTPFeed constructs a feed for the endpoint. When the client is nil
// http.DefaultClient is used. The API key is optional and only added to the
// request headers when supplied.
func NewHTTPFeed(client HTTPDoer, endpoint, apiKey string) *HTTPFeed {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFeed{client: client, endpoint: strings.TrimSpace(endpoint), apiKey: strings.TrimSpace(apiKey)}
}

// LatestPrice fetches the current quote from the endpoint.
func (f *HTTPFeed) LatestPrice() (*big.Int, time.Time, error) {
	if f == nil || f.endpoint == "" {
		return nil, time.Time{}, fmt.Errorf("oracle: http feed not configured")
	}
	req, err := http.NewRequest(http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, time.Time{}, fmt.Errorf("oracle: http feed status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     string `json:"price"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, time.Time{}, fmt.Errorf("oracle: http feed decode: %w", err)
	}
	price, ok := new(big.Int).SetString(strings.TrimSpace(payload.Price), 10)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("oracle: http feed invalid price %q", payload.Price)
	}
	return price, time.Unix(payload.Timestamp, 0), nil
}
