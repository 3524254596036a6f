package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"giftcard-overlay/internal/client"
	"giftcard-overlay/internal/errcode"
	"giftcard-overlay/internal/models"
)

// RequireOverlayKey rejects requests whose x-overlay-key header does not
// match key. An empty key disables the check. Preflight requests pass
// through untouched.
func RequireOverlayKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		expected := []byte(key)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			got := []byte(r.Header.Get(client.OverlayKeyHeader))
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				writeError(w, http.StatusUnauthorized, errcode.Unauthorised)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: code})
}
