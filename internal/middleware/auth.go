// Package middleware provides HTTP middleware for the API surface:
// identity extraction, request logging, panic recovery, and per-action
// rate limiting.
package middleware

import (
	"context"
	"net/http"
)

type contextKey string

// ownerKey carries the verified owner id through the request context.
const ownerKey contextKey = "owner_id"

// ownerHeader is set by the fronting auth layer after it has verified
// the caller's identity. This service never sees credentials.
const ownerHeader = "X-Auth-User"

// Auth extracts the verified owner id from the request and stores it in
// the context. Requests without one are rejected; unauthenticated
// traffic must never reach the core.
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(ownerHeader)
		if owner == "" {
			http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OwnerID returns the verified owner id stored in the context, or "" if
// the request did not pass through Auth.
func OwnerID(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey).(string)
	return owner
}
