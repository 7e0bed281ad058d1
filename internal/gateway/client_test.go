package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAuthorize_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/payments/authorize" {
			t.Fatalf("path = %s, want /api/payments/authorize", r.URL.Path)
		}

		var req paymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.BookingID != "b1" || req.AmountCents != 1000 || req.Method != "card" {
			t.Fatalf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(paymentResponse{TransactionRef: "tx_42"}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ref, err := client.Authorize(ctx, "b1", 1000, "card")
	if err != nil {
		t.Fatalf("Authorize error: %v", err)
	}
	if ref != "tx_42" {
		t.Fatalf("ref = %q, want tx_42", ref)
	}
}

func TestCapture_UnexpectedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.Capture(ctx, "b1", 1000, "tx_42"); err == nil {
		t.Fatalf("expected error for non-200 status")
	}
}

func TestRefund_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/payments/refund" {
			t.Fatalf("path = %s, want /api/payments/refund", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(paymentResponse{TransactionRef: "tx_42"}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Refund(ctx, "b1", 1000, "tx_42"); err != nil {
		t.Fatalf("Refund error: %v", err)
	}
}

func TestNotConfigured(t *testing.T) {
	var client *Client

	if _, err := client.Authorize(context.Background(), "b1", 1000, "card"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
