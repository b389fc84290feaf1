package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bkouassi/marchefrais-backend/pkg/enums"
	pkgerrors "github.com/bkouassi/marchefrais-backend/pkg/errors"
)

const (
	defaultTimeout            = 10 * time.Second
	errorBodyReadLimit  int64 = 1024
)

var errAPIKeyRequired = errors.New("dispatch gateway api key is required")

// Client wraps the delivery-dispatch gateway REST API.
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

// NewClient builds the dispatch client for the given base URL and key.
func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}
	trimmedURL := strings.TrimSpace(baseURL)
	if trimmedURL == "" {
		return nil, errors.New("dispatch gateway base url is required")
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

// Contact identifies a pickup or dropoff party.
type Contact struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Notes   string `json:"notes,omitempty"`
}

// Item is one parcel line reported to the courier.
type Item struct {
	Name        string `json:"name"`
	WeightGrams int    `json:"weight_grams"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
}

// CreateDeliveryRequest is the job submission payload.
type CreateDeliveryRequest struct {
	Reference   string            `json:"reference"`
	Pickup      Contact           `json:"pickup"`
	Dropoff     Contact           `json:"dropoff"`
	Items       []Item            `json:"items"`
	VehicleType enums.VehicleType `json:"vehicle_type"`
}

// Delivery is the gateway's view of a courier job.
type Delivery struct {
	ID          string               `json:"id"`
	Status      enums.DeliveryStatus `json:"status"`
	TrackingURL string               `json:"tracking_url,omitempty"`
	DriverName  string               `json:"driver_name,omitempty"`
	DriverPhone string               `json:"driver_phone,omitempty"`
	ETAMinutes  int                  `json:"eta_minutes,omitempty"`
}

// CreateDelivery submits a new courier job.
func (c *Client) CreateDelivery(ctx context.Context, req CreateDeliveryRequest) (*Delivery, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "dispatch gateway client not configured")
	}
	return c.do(ctx, http.MethodPost, "deliveries", req)
}

// GetDelivery fetches the current status of a courier job.
func (c *Client) GetDelivery(ctx context.Context, deliveryID string) (*Delivery, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "dispatch gateway client not configured")
	}
	if strings.TrimSpace(deliveryID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id is required")
	}
	return c.do(ctx, http.MethodGet, "deliveries/"+url.PathEscape(deliveryID), nil)
}

// CancelDelivery asks the gateway to abort a courier job.
func (c *Client) CancelDelivery(ctx context.Context, deliveryID, reason string) (*Delivery, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "dispatch gateway client not configured")
	}
	if strings.TrimSpace(deliveryID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id is required")
	}
	body := map[string]string{"reason": reason}
	return c.do(ctx, http.MethodPost, "deliveries/"+url.PathEscape(deliveryID)+"/cancel", body)
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*Delivery, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal dispatch request")
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build dispatch request")
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute dispatch request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "dispatch request failed")
	}

	var delivery Delivery
	if err := json.NewDecoder(resp.Body).Decode(&delivery); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode dispatch response")
	}
	if delivery.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "dispatch response missing delivery id")
	}
	return &delivery, nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
