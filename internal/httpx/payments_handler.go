package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/acgiraldo/storefront/internal/payments"
	"github.com/acgiraldo/storefront/internal/redisx"
)

const maxWebhookBody = 1 << 20

type PaymentsHandler struct {
	Initiator  *payments.Initiator
	Reconciler *payments.Reconciler
	Cache      StatusCache
}

type createTransactionReq struct {
	OrderID       string `json:"orderId"`
	PaymentMethod string `json:"paymentMethod"`
}

func (h *PaymentsHandler) Register(r *chi.Mux) {
	r.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Post("/payments/create-transaction", h.createTransaction)
	})
	// transport-unauthenticated; the payload signature is the auth
	r.Post("/payments/webhook", h.webhook)
}

func (h *PaymentsHandler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.OrderID == "" || req.PaymentMethod == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "orderId and paymentMethod are required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Initiator.CreateTransaction(ctx, userID(r), req.OrderID, req.PaymentMethod)
	if err != nil {
		var gap *payments.ReconciliationGapError
		if errors.As(err, &gap) {
			// the buyer's transaction exists; the missing local link is an
			// operator problem, not theirs
			writeJSON(w, http.StatusOK, map[string]any{
				"success":       true,
				"transactionId": gap.TransactionID,
				"paymentUrl":    gap.PaymentURL,
			})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"transactionId": res.TransactionID,
		"paymentUrl":    res.PaymentURL,
		"reused":        res.Reused,
	})
}

func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	// the signature covers the exact bytes on the wire; read them before
	// anything can reparse or reformat the body
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Reconciler.HandleEvent(ctx, raw, r.Header.Get("X-Wompi-Signature"))
	switch {
	case errors.Is(err, payments.ErrNoEventsSecret):
		log.Printf("webhook dropped: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "webhook not configured"})
		return
	case errors.Is(err, payments.ErrBadSignature):
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false})
		return
	case err != nil:
		// 5xx so the gateway's retry redelivers the event
		log.Printf("webhook processing failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false})
		return
	}

	if res.Disposition == payments.DispositionUnknownReference {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "unknown reference"})
		return
	}

	if res.Disposition == payments.DispositionApplied {
		// drop the cached status so the poll endpoint sees the transition
		key := fmt.Sprintf(redisx.KeyOrderStatus, res.OrderID)
		_ = h.Cache.Release(ctx, key)
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": string(res.Disposition)})
}
