package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/credguard/agent-vault/models"
	"github.com/credguard/agent-vault/redis/config"
	"github.com/credguard/agent-vault/redis/tasks"
)

// Server runs the housekeeping workers plus the scheduler that enqueues
// the periodic authorization-state sweep.
type Server struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	states    models.AuthStateRepository
	cfg       *config.RedisConfig
	logger    *zap.Logger
}

// NewServer creates a housekeeping server over the given state store.
func NewServer(cfg *config.RedisConfig, states models.AuthStateRepository, logger *zap.Logger) *Server {
	redisOpt := asynq.RedisClientOpt{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Workers,
	})

	scheduler := asynq.NewScheduler(redisOpt, nil)

	return &Server{
		server:    srv,
		scheduler: scheduler,
		states:    states,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start starts the workers and registers the periodic sweep.
func (s *Server) Start(ctx context.Context) error {
	if err := s.server.Start(tasks.NewMux(s.states, s.logger)); err != nil {
		return fmt.Errorf("failed to start task server: %w", err)
	}

	spec := fmt.Sprintf("@every %s", s.cfg.SweepInterval)

	if _, err := s.scheduler.Register(spec, tasks.NewAuthStateSweepTask()); err != nil {
		s.server.Shutdown()

		return fmt.Errorf("failed to register sweep schedule: %w", err)
	}

	if err := s.scheduler.Start(); err != nil {
		s.server.Shutdown()

		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	s.logger.Info("housekeeping started",
		zap.String("sweep_interval", s.cfg.SweepInterval.String()))

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	return nil
}

// Shutdown stops the scheduler and drains the workers.
func (s *Server) Shutdown() {
	s.scheduler.Shutdown()
	s.server.Shutdown()
}
