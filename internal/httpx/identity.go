package httpx

import (
	"context"
	"net/http"
)

type ctxKey int

const userIDKey ctxKey = 0

// RequireUser pulls the authenticated user id forwarded by the identity
// proxy. Token issuance and verification live upstream; here the identity is
// just an explicit, request-scoped value.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := r.Header.Get("X-User-Id")
		if uid == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, uid)))
	})
}

func userID(r *http.Request) string {
	uid, _ := r.Context().Value(userIDKey).(string)
	return uid
}
