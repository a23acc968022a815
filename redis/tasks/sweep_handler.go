package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/credguard/agent-vault/models"
)

// SweepHandler processes authorization-state sweep tasks.
type SweepHandler struct {
	states  models.AuthStateRepository
	logger  *zap.Logger
	timeout time.Duration
}

// SweepOption configures a SweepHandler.
type SweepOption func(*SweepHandler)

// WithTimeout bounds a single sweep run.
func WithTimeout(timeout time.Duration) SweepOption {
	return func(h *SweepHandler) {
		h.timeout = timeout
	}
}

// NewSweepHandler creates a sweep handler over the given state store.
func NewSweepHandler(states models.AuthStateRepository, logger *zap.Logger, opts ...SweepOption) *SweepHandler {
	h := &SweepHandler{
		states:  states,
		logger:  logger,
		timeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// ProcessTask implements asynq.Handler.
func (h *SweepHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	if task.Type() != TypeAuthStateSweep {
		return fmt.Errorf("unexpected task type %q", task.Type())
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	n, err := h.states.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		h.logger.Error("authorization state sweep failed", zap.Error(err))

		return fmt.Errorf("failed to sweep expired states: %w", err)
	}

	if n > 0 {
		h.logger.Info("swept expired authorization states", zap.Int64("removed", n))
	}

	return nil
}

// NewMux returns a ServeMux with all task handlers registered.
func NewMux(states models.AuthStateRepository, logger *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeAuthStateSweep, NewSweepHandler(states, logger))

	return mux
}
