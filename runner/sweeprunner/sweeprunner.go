// Package sweeprunner deletes expired authorization states and exits.
// It is meant for cron-style invocations on deployments without Redis.
package sweeprunner

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/credguard/agent-vault/models"
	"github.com/credguard/agent-vault/postgres"
	"github.com/credguard/agent-vault/runner"
	"github.com/credguard/agent-vault/sqlite"
)

type sweeprunner struct {
	db     *sql.DB
	states models.AuthStateRepository
	logger *zap.Logger
	cfg    *runner.Config
}

func New(cfg *runner.Config) (runner.Runner, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	var (
		db     *sql.DB
		states models.AuthStateRepository
	)

	if cfg.Dsn != "" {
		db, err = postgres.Open(context.Background(), cfg.Dsn)
		if err != nil {
			return nil, err
		}

		states = postgres.NewAuthStateRepository(db)
	} else {
		if cfg.DataFolder == "" {
			return nil, fmt.Errorf("data folder is required")
		}

		db, err = sqlite.Open(filepath.Join(cfg.DataFolder, "vault.db"))
		if err != nil {
			return nil, err
		}

		states = sqlite.NewAuthStateRepository(db)
	}

	return &sweeprunner{db: db, states: states, logger: logger, cfg: cfg}, nil
}

func (s *sweeprunner) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.cfg.SweepOlderThan)

	removed, err := s.states.DeleteExpired(ctx, cutoff)
	if err != nil {
		return err
	}

	s.logger.Info("expired authorization states removed",
		zap.Int64("count", removed),
		zap.Time("cutoff", cutoff))

	return nil
}

func (s *sweeprunner) Close(context.Context) error {
	return s.db.Close()
}
