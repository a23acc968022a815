package models

import (
	"context"
	"time"
)

// AuthorizationState is a short-lived, single-use record tracking a
// pending three-legged OAuth flow. The state token is the CSRF defense;
// the code verifier never leaves the server. A state is consumed exactly
// once and never transitions back to incomplete.
type AuthorizationState struct {
	ID           string     `json:"id"`
	StateToken   string     `json:"-"`
	UserID       string     `json:"user_id"`
	AgentID      string     `json:"agent_id"`
	Platform     string     `json:"platform"`
	CodeVerifier string     `json:"-"`
	RedirectURI  string     `json:"redirect_uri"`
	IsCompleted  bool       `json:"is_completed"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Expired reports whether the state is past its expiry at the given time.
func (s *AuthorizationState) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// AuthStateRepository persists pending authorization states.
//
// Consume must be atomic: it marks the state completed only if it is not
// already completed, in a single conditional update, and returns the row
// as it was. Two concurrent callbacks for the same token must not both
// succeed. A consume of an unknown or already completed token returns
// ErrNotFound.
type AuthStateRepository interface {
	Create(ctx context.Context, state *AuthorizationState) error
	Consume(ctx context.Context, stateToken string, completedAt time.Time) (*AuthorizationState, error)
	DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error)
}
