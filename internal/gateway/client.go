// Package gateway предоставляет клиент для внешнего платёжного шлюза.
// Ядро зависит только от абстрактных операций authorize/capture/refund,
// конкретный провайдер скрыт за этим HTTP-интерфейсом.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент платёжного шлюза по указанному адресу.
// Временные сетевые сбои ретраятся на уровне транспорта.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

type paymentRequest struct {
	BookingID      string `json:"booking_id"`
	AmountCents    int64  `json:"amount_cents"`
	Method         string `json:"method,omitempty"`
	TransactionRef string `json:"transaction_ref,omitempty"`
}

type paymentResponse struct {
	TransactionRef string `json:"transaction_ref"`
}

// Authorize резервирует сумму на стороне шлюза и возвращает ссылку на транзакцию.
func (c *Client) Authorize(ctx context.Context, bookingID string, amountCents int64, method string) (string, error) {
	return c.post(ctx, "authorize", paymentRequest{
		BookingID:   bookingID,
		AmountCents: amountCents,
		Method:      method,
	})
}

// Capture списывает ранее зарезервированную сумму.
func (c *Client) Capture(ctx context.Context, bookingID string, amountCents int64, txRef string) (string, error) {
	return c.post(ctx, "capture", paymentRequest{
		BookingID:      bookingID,
		AmountCents:    amountCents,
		TransactionRef: txRef,
	})
}

// Refund возвращает сумму по ранее списанной транзакции.
func (c *Client) Refund(ctx context.Context, bookingID string, amountCents int64, txRef string) error {
	_, err := c.post(ctx, "refund", paymentRequest{
		BookingID:      bookingID,
		AmountCents:    amountCents,
		TransactionRef: txRef,
	})
	return err
}

func (c *Client) post(ctx context.Context, op string, req paymentRequest) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("payment gateway not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := fmt.Sprintf("%s/api/payments/%s", base, op)

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway %s: unexpected status: %d", op, resp.StatusCode)
	}

	var result paymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return result.TransactionRef, nil
}
