// Package payments charges application fees through the Finix payment
// gateway.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config holds gateway credentials
type Config struct {
	BaseURL  string
	Username string
	Password string
}

// Client is a thin REST client for the gateway's transfers API.
type Client struct {
	config Config
	http   *http.Client
}

func NewClient(config Config) *Client {
	return &Client{
		config: config,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithHTTP creates a client with a custom HTTP client, used in tests.
func NewClientWithHTTP(config Config, httpClient *http.Client) *Client {
	return &Client{config: config, http: httpClient}
}

// IsConfigured returns true if gateway credentials are present.
func (c *Client) IsConfigured() bool {
	return c.config.BaseURL != "" && c.config.Username != ""
}

// TransferRequest describes a charge against a payment instrument.
type TransferRequest struct {
	AmountCents    int64  `json:"amount"`
	Currency       string `json:"currency"`
	Merchant       string `json:"merchant"`
	Source         string `json:"source"`
	IdempotencyID  string `json:"idempotency_id"`
	StatementDescr string `json:"statement_descriptor,omitempty"`
}

// Transfer is the gateway's record of a charge.
type Transfer struct {
	ID             string `json:"id"`
	AmountCents    int64  `json:"amount"`
	Currency       string `json:"currency"`
	State          string `json:"state"`
	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
}

// GatewayError is a non-2xx response from the gateway.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Body)
}

// CreateTransfer charges the source instrument for the merchant.
func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error) {
	if req.Currency == "" {
		req.Currency = "USD"
	}
	return c.post(ctx, "/transfers", req)
}

// ReverseTransfer refunds a settled transfer, fully or partially.
func (c *Client) ReverseTransfer(ctx context.Context, transferID string, amountCents int64) (Transfer, error) {
	body := map[string]any{"refund_amount": amountCents}
	return c.post(ctx, "/transfers/"+transferID+"/reversals", body)
}

// GetTransfer fetches the current state of a transfer.
func (c *Client) GetTransfer(ctx context.Context, transferID string) (Transfer, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/transfers/"+transferID, nil)
	if err != nil {
		return Transfer{}, fmt.Errorf("build request: %w", err)
	}
	return c.do(httpReq)
}

func (c *Client) post(ctx context.Context, path string, body any) (Transfer, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Transfer{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Transfer{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq)
}

func (c *Client) do(httpReq *http.Request) (Transfer, error) {
	httpReq.SetBasicAuth(c.config.Username, c.config.Password)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Transfer{}, fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Transfer{}, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Transfer{}, &GatewayError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var transfer Transfer
	if err := json.Unmarshal(raw, &transfer); err != nil {
		return Transfer{}, fmt.Errorf("decode gateway response: %w", err)
	}
	return transfer, nil
}
