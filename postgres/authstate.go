package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/credguard/agent-vault/models"
)

// AuthStateRepository stores pending OAuth authorization states.
type AuthStateRepository struct {
	db *sql.DB
}

func NewAuthStateRepository(db *sql.DB) *AuthStateRepository {
	return &AuthStateRepository{db: db}
}

var _ models.AuthStateRepository = (*AuthStateRepository)(nil)

func (r *AuthStateRepository) Create(ctx context.Context, state *models.AuthorizationState) error {
	const q = `
		INSERT INTO authorization_states
			(id, state_token, user_id, agent_id, platform, code_verifier, redirect_uri, is_completed, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $9)
	`

	if state.ID == "" {
		state.ID = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx, q,
		state.ID,
		state.StateToken,
		state.UserID,
		state.AgentID,
		state.Platform,
		state.CodeVerifier,
		state.RedirectURI,
		state.CreatedAt,
		state.ExpiresAt,
	)

	return err
}

// Consume marks the state completed and returns it, in one conditional
// update. A token that is unknown or already completed yields
// ErrNotFound, so two concurrent callbacks for the same token cannot
// both pass.
func (r *AuthStateRepository) Consume(ctx context.Context, stateToken string, completedAt time.Time) (*models.AuthorizationState, error) {
	const q = `
		UPDATE authorization_states
		SET is_completed = TRUE, completed_at = $2
		WHERE state_token = $1 AND is_completed = FALSE
		RETURNING id, state_token, user_id, agent_id, platform, code_verifier, redirect_uri, is_completed, created_at, expires_at, completed_at
	`

	var (
		s         models.AuthorizationState
		completed sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, q, stateToken, completedAt).Scan(
		&s.ID,
		&s.StateToken,
		&s.UserID,
		&s.AgentID,
		&s.Platform,
		&s.CodeVerifier,
		&s.RedirectURI,
		&s.IsCompleted,
		&s.CreatedAt,
		&s.ExpiresAt,
		&completed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}

		return nil, err
	}

	if completed.Valid {
		s.CompletedAt = &completed.Time
	}

	return &s, nil
}

// DeleteExpired removes uncompleted states past their expiry. Called by
// the housekeeping sweep; correctness never depends on it.
func (r *AuthStateRepository) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	const q = `DELETE FROM authorization_states WHERE is_completed = FALSE AND expires_at < $1`

	res, err := r.db.ExecContext(ctx, q, olderThan)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
