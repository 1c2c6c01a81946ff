// Package payments drives the two halves of the payment flow: initiating a
// gateway transaction for a pending order and reconciling order state from
// the gateway's webhook deliveries.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/acgiraldo/storefront/internal/orders"
	"github.com/acgiraldo/storefront/internal/redisx"
	"github.com/acgiraldo/storefront/internal/wompi"
)

var (
	// ErrAlreadyPaid rejects initiation for an order whose payment settled.
	ErrAlreadyPaid = errors.New("order is already paid")

	// ErrInitiationInFlight means another initiation holds the per-order
	// idempotency key; the caller may retry shortly.
	ErrInitiationInFlight = errors.New("payment initiation already in flight")
)

// ReconciliationGapError marks the gap where the gateway accepted the
// transaction but the link to the local order could not be written. The
// remote transaction exists and must never be dropped; operators relink it
// from the reference.
type ReconciliationGapError struct {
	OrderID       string
	TransactionID string
	PaymentURL    string // still handed to the buyer; the gap is ours, not theirs
	Err           error
}

func (e *ReconciliationGapError) Error() string {
	return fmt.Sprintf("gateway transaction %s created but not linked to order %s: %v",
		e.TransactionID, e.OrderID, e.Err)
}

func (e *ReconciliationGapError) Unwrap() error { return e.Err }

// Gateway is the remote payment processor.
type Gateway interface {
	CreateTransaction(ctx context.Context, req wompi.TransactionRequest) (*wompi.Transaction, error)
}

// OrderStore is the slice of order persistence the initiator needs.
type OrderStore interface {
	GetOrder(ctx context.Context, orderID string) (*orders.Order, error)
	AttachTransaction(ctx context.Context, orderID string, ref orders.TransactionRef) error
}

// Cache backs idempotency keys and the checkout-URL stash.
type Cache interface {
	Reserve(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

type Initiation struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	PaymentURL    string `json:"payment_url,omitempty"`
	Reused        bool   `json:"reused"`
}

type Initiator struct {
	Orders      OrderStore
	Gateway     Gateway
	Cache       Cache
	FrontendURL string
	Currency    string // COP
}

// AmountInCents converts an order total to the gateway's minor unit. This is
// the only place the conversion happens; rounding twice would desync the
// integrity signature.
func AmountInCents(total float64) int64 {
	return int64(math.Round(total * 100))
}

// Reference is the human-traceable string correlating the local order with
// the gateway transaction; the gateway echoes it in webhook events.
func Reference(orderID string) string { return "ORD-" + orderID }

// initiationKey is the Idempotency-Key sent on the gateway call. Derived
// from the order id so a retry after a gateway timeout replays the exact
// same key; if the timed-out call did create a transaction remotely, the
// gateway recognizes the replay instead of creating a second one.
func initiationKey(orderID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("storefront/payment-init/"+orderID)).String()
}

// CreateTransaction creates (or relinks) the gateway transaction for the
// order. Safe to call twice: an already-linked order returns the stored
// transaction, and the idempotency key stops a concurrent double submit.
func (i *Initiator) CreateTransaction(ctx context.Context, userID, orderID, method string) (*Initiation, error) {
	o, err := i.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, &orders.NotFoundError{Kind: "order", ID: orderID}
	}
	if o.Paid() {
		return nil, ErrAlreadyPaid
	}

	if o.Transaction.ID != "" {
		// already created on a previous attempt; relink instead of
		// creating a second remote transaction
		url, _ := i.Cache.Get(ctx, fmt.Sprintf(redisx.KeyCheckoutURL, o.Transaction.ID))
		return &Initiation{
			TransactionID: o.Transaction.ID,
			Status:        o.Transaction.Status,
			PaymentURL:    url,
			Reused:        true,
		}, nil
	}

	// the reserved value is just a lock token; the gateway-facing key below
	// is stable per order and survives released locks
	idemKey := fmt.Sprintf(redisx.KeyIdemPaymentInit, o.ID)
	ok, err := i.Cache.Reserve(ctx, idemKey, uuid.NewString(), redisx.TTLIdempotency)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInitiationInFlight
	}

	amount := AmountInCents(o.Total)
	txn, err := i.Gateway.CreateTransaction(ctx, wompi.TransactionRequest{
		AmountInCents:  amount,
		Currency:       i.Currency,
		CustomerEmail:  o.ShippingInfo.Email,
		PaymentMethod:  wompi.PaymentMethod{Type: methodType(method)},
		Reference:      Reference(o.ID),
		RedirectURL:    fmt.Sprintf("%s/order/%s/result", i.FrontendURL, o.ID),
		IdempotencyKey: initiationKey(o.ID),
	})
	if err != nil {
		// no remote transaction was linked; free the key so the
		// caller can retry
		_ = i.Cache.Release(ctx, idemKey)
		return nil, err
	}

	if txn.RedirectURL != "" {
		// stash before linking so operators can still find the checkout
		// URL if the link write below fails
		_ = i.Cache.Set(ctx, fmt.Sprintf(redisx.KeyCheckoutURL, txn.ID), txn.RedirectURL, redisx.TTLIdempotency)
	}

	ref := orders.TransactionRef{ID: txn.ID, Status: txn.Status, PaymentMethod: methodType(method)}
	if err := i.Orders.AttachTransaction(ctx, o.ID, ref); err != nil {
		gap := &ReconciliationGapError{OrderID: o.ID, TransactionID: txn.ID, PaymentURL: txn.RedirectURL, Err: err}
		log.Printf("RECONCILIATION GAP: %v", gap)
		return nil, gap
	}

	return &Initiation{TransactionID: txn.ID, Status: txn.Status, PaymentURL: txn.RedirectURL}, nil
}

func methodType(method string) string {
	switch method {
	case "card":
		return "CARD"
	case "nequi":
		return "NEQUI"
	default:
		return "PSE"
	}
}
