// Package auth carries the caller identity through the request context.
// The authentication system itself is external; this service only
// consumes the opaque authenticated user id it establishes.
package auth

import (
	"context"
	"errors"
	"net/http"
)

// ContextKey is used to store user information in the request context
type ContextKey string

const (
	// UserIDKey is the context key for storing the user ID
	UserIDKey ContextKey = "user_id"

	// UserIDHeader is the header the fronting auth layer sets after
	// verifying the session.
	UserIDHeader = "X-Auth-User-Id"
)

var ErrNotAuthenticated = errors.New("user not authenticated")

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID extracts the authenticated user id from the context.
func GetUserID(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(UserIDKey).(string)
	if !ok || userID == "" {
		return "", ErrNotAuthenticated
	}

	return userID, nil
}

// Middleware lifts the verified user id from the request into the
// context and rejects requests without one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)
		if userID == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}
