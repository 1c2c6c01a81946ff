// Package wompi is a minimal client for the Wompi payments API: transaction
// creation plus the two signature schemes the gateway enforces (the integrity
// hash sent on creation and the HMAC on webhook deliveries).
package wompi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GatewayError is an upstream failure: network, timeout or a non-2xx reply.
// StatusCode is 0 when the request never produced a response.
type GatewayError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("wompi: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("wompi: %v", e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

type PaymentMethod struct {
	Type  string `json:"type"` // CARD | NEQUI | PSE
	Token string `json:"token,omitempty"`
}

type TransactionRequest struct {
	AmountInCents  int64         `json:"amount_in_cents"`
	Currency       string        `json:"currency"`
	CustomerEmail  string        `json:"customer_email"`
	PaymentMethod  PaymentMethod `json:"payment_method"`
	Reference      string        `json:"reference"`
	RedirectURL    string        `json:"redirect_url"`
	Signature      string        `json:"signature"`
	IdempotencyKey string        `json:"-"` // sent as a header, not in the body
}

type Transaction struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirect_url"`
}

// Transaction statuses reported by the gateway.
const (
	StatusApproved = "APPROVED"
	StatusDeclined = "DECLINED"
	StatusVoided   = "VOIDED"
	StatusRefunded = "REFUNDED"
	StatusPending  = "PENDING"
)

type Client struct {
	BaseURL         string
	PublicKey       string
	PrivateKey      string
	IntegritySecret string
	HTTP            *http.Client
}

func NewClient(baseURL, publicKey, privateKey, integritySecret string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:         baseURL,
		PublicKey:       publicKey,
		PrivateKey:      privateKey,
		IntegritySecret: integritySecret,
		HTTP:            &http.Client{Timeout: timeout},
	}
}

// CreateTransaction signs and submits the transaction. The caller's context
// bounds the call together with the client timeout.
func (c *Client) CreateTransaction(ctx context.Context, req TransactionRequest) (*Transaction, error) {
	req.Signature = IntegritySignature(req.Reference, req.AmountInCents, req.Currency, c.IntegritySecret)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.PrivateKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, &GatewayError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Message: "unreadable response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Message: apiErrorMessage(raw)}
	}

	var out struct {
		Data Transaction `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Data.ID == "" {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Message: "invalid gateway response", Err: err}
	}
	return &out.Data, nil
}

func apiErrorMessage(raw []byte) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return "payment gateway rejected the request"
}
