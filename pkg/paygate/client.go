package paygate

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

	"github.com/bkouassi/marchefrais-backend/pkg/enums"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
)

const (
	defaultTimeout             = 15 * time.Second
	errorBodyReadLimit   int64 = 1024
	responseBodyReadMax  int64 = 1 << 20
)

var errAPIKeyRequired = errors.New("payment gateway api key is required")

// Client wraps the payment gateway's pre-authorization API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// NewClient builds the gateway client for the given base URL and key.
func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}
	trimmedURL := strings.TrimSpace(baseURL)
	if trimmedURL == "" {
		return nil, errors.New("payment gateway base url is required")
	}

	client := &Client{
		apiKey:     trimmedKey,
		baseURL:    trimmedURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return client, nil
}

// Request is the outbound payload for a gateway money operation.
type Request struct {
	Reference     string         `json:"reference"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Amount        int64          `json:"amount"`
	Currency      enums.Currency `json:"currency"`
	PaymentToken  string         `json:"payment_token,omitempty"`
}

// Result carries the gateway's decision plus the raw body for the ledger.
type Result struct {
	TransactionID string
	Reference     string
	Approved      bool
	Declined      bool
	Raw           json.RawMessage
}

// Preauthorize places a hold on the payment instrument.
func (c *Client) Preauthorize(ctx context.Context, req Request) (*Result, error) {
	return c.post(ctx, "payments/preauthorize", req)
}

// Capture finalizes a previously authorized payment.
func (c *Client) Capture(ctx context.Context, req Request) (*Result, error) {
	return c.post(ctx, "payments/capture", req)
}

// Void releases an authorization without transferring funds.
func (c *Client) Void(ctx context.Context, req Request) (*Result, error) {
	return c.post(ctx, "payments/void", req)
}

// Refund returns previously captured funds.
func (c *Client) Refund(ctx context.Context, req Request) (*Result, error) {
	return c.post(ctx, "payments/refund", req)
}

func (c *Client) post(ctx context.Context, path string, req Request) (*Result, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway client not configured")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal gateway request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(path), bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build gateway request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute gateway request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadMax))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read gateway response")
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		snippet := body
		if int64(len(snippet)) > errorBodyReadLimit {
			snippet = snippet[:errorBodyReadLimit]
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), "gateway request failed")
	}

	var apiResp struct {
		TransactionID string `json:"transaction_id"`
		Reference     string `json:"reference"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode gateway response")
	}

	status := strings.ToLower(strings.TrimSpace(apiResp.Status))
	return &Result{
		TransactionID: apiResp.TransactionID,
		Reference:     apiResp.Reference,
		Approved:      resp.StatusCode < http.StatusBadRequest && status == "approved",
		Declined:      status == "declined" || resp.StatusCode == http.StatusPaymentRequired,
		Raw:           json.RawMessage(body),
	}, nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
