package wompi

import (
	"encoding/json"
	"fmt"
)

// EventTransaction is the transaction snapshot carried by a webhook event.
type EventTransaction struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	Reference         string `json:"reference"`
	AmountInCents     int64  `json:"amount_in_cents"`
	PaymentMethodType string `json:"payment_method_type"`
}

// Event is the webhook envelope, e.g. {"event":"transaction.updated",
// "data":{"transaction":{...}}}.
type Event struct {
	Event string `json:"event"`
	Data  struct {
		Transaction EventTransaction `json:"transaction"`
	} `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

// ParseEvent decodes a webhook body. Callers must verify the signature over
// the raw bytes BEFORE calling this; parsing never participates in
// authentication.
func ParseEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	if ev.Data.Transaction.ID == "" {
		return nil, fmt.Errorf("webhook event has no transaction id")
	}
	return &ev, nil
}
