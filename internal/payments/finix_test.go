package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewClientWithHTTP(Config{
		BaseURL:  server.URL,
		Username: "test-user",
		Password: "test-pass",
	}, server.Client())
	return client, server
}

func TestCreateTransfer(t *testing.T) {
	var gotReq TransferRequest
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transfers" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "test-user" || pass != "test-pass" {
			t.Error("expected basic auth credentials")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Transfer{
			ID:          "TRxyz",
			AmountCents: gotReq.AmountCents,
			Currency:    "USD",
			State:       "PENDING",
		})
	})
	defer server.Close()

	transfer, err := client.CreateTransfer(context.Background(), TransferRequest{
		AmountCents:   5250,
		Merchant:      "MU123",
		Source:        "PIabc",
		IdempotencyID: "pay_1",
	})
	if err != nil {
		t.Fatalf("CreateTransfer() error = %v", err)
	}

	if transfer.ID != "TRxyz" {
		t.Errorf("expected transfer ID TRxyz, got %s", transfer.ID)
	}
	if transfer.AmountCents != 5250 {
		t.Errorf("expected amount 5250, got %d", transfer.AmountCents)
	}
	if gotReq.Currency != "USD" {
		t.Errorf("expected default currency USD, got %s", gotReq.Currency)
	}
	if gotReq.IdempotencyID != "pay_1" {
		t.Errorf("expected idempotency id pay_1, got %s", gotReq.IdempotencyID)
	}
}

func TestCreateTransferGatewayError(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"card declined"}`))
	})
	defer server.Close()

	_, err := client.CreateTransfer(context.Background(), TransferRequest{AmountCents: 100})
	if err == nil {
		t.Fatal("expected error for 422 response")
	}

	var gatewayErr *GatewayError
	if !errors.As(err, &gatewayErr) {
		t.Fatalf("expected GatewayError, got %T", err)
	}
	if gatewayErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422, got %d", gatewayErr.StatusCode)
	}
}

func TestReverseTransfer(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transfers/TRxyz/reversals" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if amount, _ := body["refund_amount"].(float64); int64(amount) != 2500 {
			t.Errorf("expected refund_amount 2500, got %v", body["refund_amount"])
		}
		json.NewEncoder(w).Encode(Transfer{ID: "TRrev", State: "PENDING", AmountCents: 2500})
	})
	defer server.Close()

	transfer, err := client.ReverseTransfer(context.Background(), "TRxyz", 2500)
	if err != nil {
		t.Fatalf("ReverseTransfer() error = %v", err)
	}
	if transfer.ID != "TRrev" {
		t.Errorf("expected reversal ID TRrev, got %s", transfer.ID)
	}
}

func TestGetTransfer(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/transfers/TRxyz" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(Transfer{ID: "TRxyz", State: "SUCCEEDED"})
	})
	defer server.Close()

	transfer, err := client.GetTransfer(context.Background(), "TRxyz")
	if err != nil {
		t.Fatalf("GetTransfer() error = %v", err)
	}
	if transfer.State != "SUCCEEDED" {
		t.Errorf("expected state SUCCEEDED, got %s", transfer.State)
	}
}

func TestIsConfigured(t *testing.T) {
	if NewClient(Config{}).IsConfigured() {
		t.Error("empty config should not be configured")
	}
	if !NewClient(Config{BaseURL: "https://finix.example", Username: "u"}).IsConfigured() {
		t.Error("expected configured client")
	}
}
