package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/acgiraldo/storefront/internal/kafka"
	"github.com/acgiraldo/storefront/internal/orders"
	"github.com/acgiraldo/storefront/internal/redisx"
	"github.com/acgiraldo/storefront/internal/wompi"
)

var (
	// ErrBadSignature is a security rejection, never retried.
	ErrBadSignature = errors.New("invalid webhook signature")

	// ErrNoEventsSecret means the shared webhook secret is not configured;
	// processing hard-fails rather than skipping verification.
	ErrNoEventsSecret = errors.New("webhook events secret not configured")
)

// Disposition says what a webhook delivery did to local state.
type Disposition string

const (
	DispositionApplied          Disposition = "applied"
	DispositionReplay           Disposition = "replay"            // same status already recorded
	DispositionIgnored          Disposition = "ignored"           // terminal state or unhandled status
	DispositionUnknownReference Disposition = "unknown_reference" // no order for this transaction
)

type Result struct {
	Disposition Disposition
	OrderID     string
	Status      orders.Status
}

// ReconcilerStore is the slice of order persistence the reconciler needs.
type ReconcilerStore interface {
	OrderByTransactionID(ctx context.Context, txnID string) (*orders.Order, error)
	ApplyTransition(ctx context.Context, orderID string, to orders.Status, pay orders.PaymentStatus, gatewayStatus string) error
}

// Publisher matches the kafka producer's publish surface.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Reconciler applies gateway webhook events to order state. Deliveries may
// arrive duplicated or out of order; the transition table plus the recorded
// gateway status make replays no-ops.
type Reconciler struct {
	Store        ReconcilerStore
	Cache        Cache // best-effort delivery dedup; DB state is the truth
	EventsSecret string
	Service      string

	// one producer per outcome topic
	ProducerAuthorized Publisher
	ProducerFailed     Publisher
	ProducerRefunded   Publisher
}

// HandleEvent authenticates raw against signature, then reconciles. The raw
// slice must be the literal request bytes, untouched by any JSON middleware.
func (r *Reconciler) HandleEvent(ctx context.Context, raw []byte, signature string) (*Result, error) {
	if r.EventsSecret == "" {
		return nil, ErrNoEventsSecret
	}
	if !wompi.VerifyEvent(raw, signature, r.EventsSecret) {
		return nil, ErrBadSignature
	}

	ev, err := wompi.ParseEvent(raw)
	if err != nil {
		return nil, err
	}
	txn := ev.Data.Transaction

	dedupKey := fmt.Sprintf(redisx.KeyDedup, "webhook", txn.ID+":"+txn.Status)
	if r.Cache != nil {
		if v, _ := r.Cache.Get(ctx, dedupKey); v != "" {
			var seen seenDelivery
			if json.Unmarshal([]byte(v), &seen) == nil && seen.OrderID != "" {
				return &Result{Disposition: DispositionReplay, OrderID: seen.OrderID, Status: seen.Status}, nil
			}
			// unreadable marker; fall through to the DB-backed check
		}
	}

	// lookup by the stored transaction id only; the reference in the
	// payload is not trusted for identity
	o, err := r.Store.OrderByTransactionID(ctx, txn.ID)
	if err != nil {
		var nf *orders.NotFoundError
		if errors.As(err, &nf) {
			log.Printf("webhook for unknown transaction %s (reference %q)", txn.ID, txn.Reference)
			return &Result{Disposition: DispositionUnknownReference}, nil
		}
		return nil, err
	}

	if o.Transaction.Status == txn.Status {
		r.markSeen(ctx, dedupKey, o.ID, o.Status)
		return &Result{Disposition: DispositionReplay, OrderID: o.ID, Status: o.Status}, nil
	}

	target, pay, handled := mapGatewayStatus(txn.Status)
	if !handled {
		log.Printf("order %s: unhandled gateway status %q", o.ID, txn.Status)
		return &Result{Disposition: DispositionIgnored, OrderID: o.ID, Status: o.Status}, nil
	}
	if !orders.CanTransition(o.Status, target) {
		log.Printf("order %s: dropping %s -> %s (gateway %s)", o.ID, o.Status, target, txn.Status)
		return &Result{Disposition: DispositionIgnored, OrderID: o.ID, Status: o.Status}, nil
	}

	if err := r.Store.ApplyTransition(ctx, o.ID, target, pay, txn.Status); err != nil {
		if errors.Is(err, orders.ErrInvalidTransition) {
			// a concurrent delivery settled the order between our read and
			// this write; drop ours
			log.Printf("order %s: dropping stale %s (gateway %s): %v", o.ID, target, txn.Status, err)
			return &Result{Disposition: DispositionIgnored, OrderID: o.ID, Status: o.Status}, nil
		}
		return nil, err
	}
	r.markSeen(ctx, dedupKey, o.ID, target)
	r.publish(o, txn, target)

	return &Result{Disposition: DispositionApplied, OrderID: o.ID, Status: target}, nil
}

func mapGatewayStatus(gw string) (orders.Status, orders.PaymentStatus, bool) {
	switch gw {
	case wompi.StatusApproved:
		return orders.StatusProcessing, orders.PaymentPaid, true
	case wompi.StatusDeclined, wompi.StatusVoided:
		return orders.StatusFailed, orders.PaymentFailed, true
	case wompi.StatusRefunded:
		return orders.StatusRefunded, orders.PaymentRefunded, true
	default:
		return "", "", false
	}
}

// seenDelivery is the dedup marker value, carrying enough to answer a
// replayed delivery without touching the DB.
type seenDelivery struct {
	OrderID string        `json:"order_id"`
	Status  orders.Status `json:"status"`
}

func (r *Reconciler) markSeen(ctx context.Context, key, orderID string, status orders.Status) {
	if r.Cache != nil {
		v := kafkax.MustMarshal(seenDelivery{OrderID: orderID, Status: status})
		_ = r.Cache.Set(ctx, key, string(v), redisx.TTLDedup)
	}
}

func (r *Reconciler) publish(o *orders.Order, txn wompi.EventTransaction, target orders.Status) {
	var (
		producer  Publisher
		eventType string
		payload   any
	)
	switch target {
	case orders.StatusProcessing:
		producer = r.ProducerAuthorized
		eventType = orders.EventPaymentAuthorized
		payload = orders.PaymentAuthorizedPayload{OrderID: o.ID, TransactionID: txn.ID, AmountCents: txn.AmountInCents}
	case orders.StatusFailed:
		producer = r.ProducerFailed
		eventType = orders.EventPaymentFailed
		payload = orders.PaymentFailedPayload{OrderID: o.ID, TransactionID: txn.ID, Reason: txn.Status}
	case orders.StatusRefunded:
		producer = r.ProducerRefunded
		eventType = orders.EventOrderRefunded
		payload = orders.OrderRefundedPayload{OrderID: o.ID, TransactionID: txn.ID}
	default:
		return
	}
	if producer == nil {
		return
	}

	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      r.Service,
		CorrelationID: o.ID,
		Payload:       kafkax.MustMarshal(payload),
	}
	producer.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
