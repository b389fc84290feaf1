package deliveryfee

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bkouassi/marchefrais-backend/pkg/config"
)

const pricingErrorBodyLimit int64 = 512

// HTTPPricingClient calls the external delivery pricing API. Its timeout is
// short on purpose: a slow provider must not hold up checkout.
type HTTPPricingClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewHTTPPricingClient builds the pricing client, or nil when the provider is
// not configured.
func NewHTTPPricingClient(cfg config.FeeQuoteConfig) *HTTPPricingClient {
	if !cfg.Enabled() {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > 3*time.Second {
		timeout = 3 * time.Second
	}
	return &HTTPPricingClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
	}
}

// QuoteFee asks the provider for a fee. Every failure mode (timeout, non-2xx,
// malformed body) is an error the calculator maps to the computed base fee.
func (c *HTTPPricingClient) QuoteFee(ctx context.Context, address string, orderAmount int64) (int64, error) {
	if c == nil {
		return 0, errors.New("pricing client not configured")
	}

	payload, err := json.Marshal(map[string]any{
		"address":      address,
		"order_amount": orderAmount,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal quote request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/quotes", bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build quote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute quote request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, pricingErrorBodyLimit))
		return 0, fmt.Errorf("quote status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var apiResp struct {
		Fee int64 `json:"fee"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return 0, fmt.Errorf("decode quote response: %w", err)
	}
	if apiResp.Fee <= 0 {
		return 0, fmt.Errorf("quote returned non-positive fee %d", apiResp.Fee)
	}
	return apiResp.Fee, nil
}
