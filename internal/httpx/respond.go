package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/acgiraldo/storefront/internal/orders"
	"github.com/acgiraldo/storefront/internal/payments"
	"github.com/acgiraldo/storefront/internal/wompi"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto HTTP statuses. Validation
// and conflict replies carry enough detail to correct the request; everything
// unexpected collapses to an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	var (
		ve  *orders.ValidationError
		nfe *orders.NotFoundError
		ce  *orders.ConflictError
		ge  *wompi.GatewayError
	)
	switch {
	case errors.As(err, &ve):
		body := map[string]any{"error": ve.Error()}
		if len(ve.Fields) > 0 {
			body["missing_fields"] = ve.Fields
		}
		writeJSON(w, http.StatusBadRequest, body)
	case errors.As(err, &nfe):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": nfe.Error()})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     ce.Error(),
			"product":   ce.ProductID,
			"requested": ce.Requested,
			"available": ce.Available,
		})
	case errors.Is(err, payments.ErrAlreadyPaid),
		errors.Is(err, payments.ErrInitiationInFlight),
		errors.Is(err, orders.ErrTxnAttached):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &ge):
		code := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusGatewayTimeout
		}
		writeJSON(w, code, map[string]any{"error": "payment gateway unavailable", "retryable": true})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
