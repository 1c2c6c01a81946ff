package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/acgiraldo/storefront/internal/kafka"
	"github.com/acgiraldo/storefront/internal/orders"
	"github.com/acgiraldo/storefront/internal/redisx"
)

// StatusCache is the slice of redis the handlers use for the order-status
// read path. redisx.Cache satisfies it.
type StatusCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// cachedStatus is the cached poll-endpoint body plus the owner, so a cache
// hit can still scope foreign orders to not-found.
type cachedStatus struct {
	UserID        string               `json:"user_id"`
	Status        orders.Status        `json:"status"`
	PaymentStatus orders.PaymentStatus `json:"payment_status"`
}

type OrdersHandler struct {
	Svc      *orders.Service
	Producer *kafkax.Producer
	Cache    StatusCache
	Service  string
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getOrderStatus)
	})
	r.Get("/products", h.listProducts)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.CartInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Svc.Create(ctx, userID(r), in)
	if err != nil {
		writeError(w, err)
		return
	}

	h.cacheStatus(ctx, o)

	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderCreated,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: o.ID,
		Payload: kafkax.MustMarshal(orders.OrderCreatedPayload{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			UserID:      o.UserID,
			Items:       o.Items,
			Total:       o.Total,
		}),
	}
	h.Producer.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCreated)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "order": o})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	os, err := h.Svc.ListForUser(ctx, userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "orders": os})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Svc.Get(ctx, userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": o})
}

// getOrderStatus is the poll endpoint for the order page while reconciliation
// is still in flight. Redis first, DB as fallback; either way a foreign order
// looks the same as a missing one.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	uid := userID(r)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Cache.Get(ctx, key); err == nil && s != "" {
		var cs cachedStatus
		if json.Unmarshal([]byte(s), &cs) == nil && cs.UserID != "" {
			if cs.UserID != uid {
				writeError(w, &orders.NotFoundError{Kind: "order", ID: orderID})
				return
			}
			writeJSON(w, http.StatusOK, statusBody(cs.Status, cs.PaymentStatus))
			return
		}
		// unreadable entry; fall through to the DB
	}

	o, err := h.Svc.Get(ctx, uid, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, statusBody(o.Status, o.PaymentStatus))
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Svc.Products(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o *orders.Order) {
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	v := kafkax.MustMarshal(cachedStatus{UserID: o.UserID, Status: o.Status, PaymentStatus: o.PaymentStatus})
	_ = h.Cache.Set(ctx, key, string(v), redisx.TTLStatusCache)
}

func statusBody(s orders.Status, ps orders.PaymentStatus) map[string]any {
	return map[string]any{"status": s, "payment_status": ps}
}
