package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/credguard/agent-vault/models"
)

// AuthStateRepository stores pending OAuth authorization states in
// SQLite.
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
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
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
		state.CreatedAt.Unix(),
		state.ExpiresAt.Unix(),
	)

	return err
}

// Consume marks the state completed and returns it, in one conditional
// update. SQLite serializes writers, so the RETURNING row reflects a
// single winner even under concurrent callbacks.
func (r *AuthStateRepository) Consume(ctx context.Context, stateToken string, completedAt time.Time) (*models.AuthorizationState, error) {
	const q = `
		UPDATE authorization_states
		SET is_completed = 1, completed_at = ?
		WHERE state_token = ? AND is_completed = 0
		RETURNING id, state_token, user_id, agent_id, platform, code_verifier, redirect_uri, is_completed, created_at, expires_at, completed_at
	`

	var (
		s                    models.AuthorizationState
		createdAt, expiresAt int64
		completed            sql.NullInt64
	)

	err := r.db.QueryRowContext(ctx, q, completedAt.Unix(), stateToken).Scan(
		&s.ID,
		&s.StateToken,
		&s.UserID,
		&s.AgentID,
		&s.Platform,
		&s.CodeVerifier,
		&s.RedirectURI,
		&s.IsCompleted,
		&createdAt,
		&expiresAt,
		&completed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}

		return nil, err
	}

	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	s.ExpiresAt = time.Unix(expiresAt, 0).UTC()

	if completed.Valid {
		t := time.Unix(completed.Int64, 0).UTC()
		s.CompletedAt = &t
	}

	return &s, nil
}

func (r *AuthStateRepository) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	const q = `DELETE FROM authorization_states WHERE is_completed = 0 AND expires_at < ?`

	res, err := r.db.ExecContext(ctx, q, olderThan.Unix())
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
