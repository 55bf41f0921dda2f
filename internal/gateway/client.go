package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client bicara ke payment gateway (REST + basic auth). Semua call ber-timeout:
// gateway lambat tidak boleh menggantung checkout -- order tetap
// awaiting_payment dan lock jalan ke TTL-nya sendiri.
type Client struct {
	BaseURL string
	KeyID   string
	Secret  string

	http *http.Client
}

func NewClient(baseURL, keyID, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		KeyID:   keyID,
		Secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}
}

type createOrderReq struct {
	Amount   int    `json:"amount"` // minor units
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"` // order_number kita
}

type createOrderResp struct {
	ID string `json:"id"`
}

// CreateOrder membuat payment intent di gateway; balikan ID-nya dipakai
// front-end utk membuka hosted checkout.
func (c *Client) CreateOrder(ctx context.Context, amountCents int, currency, receipt string) (string, error) {
	body, err := json.Marshal(createOrderReq{Amount: amountCents, Currency: currency, Receipt: receipt})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.KeyID, c.Secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway create order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("gateway create order: status %d", resp.StatusCode)
	}

	var out createOrderResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("gateway create order: empty id in response")
	}
	return out.ID, nil
}

// VerifyPaymentSignature memverifikasi konfirmasi dari sisi klien.
func (c *Client) VerifyPaymentSignature(gatewayOrderID, paymentID, signature string) bool {
	return VerifyPaymentSignature(c.Secret, gatewayOrderID, paymentID, signature)
}

// VerifyWebhookSignature memverifikasi callback async dari gateway.
func (c *Client) VerifyWebhookSignature(payload []byte, signature string) bool {
	return VerifyWebhookSignature(c.Secret, payload, signature)
}
