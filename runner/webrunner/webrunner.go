// Package webrunner wires the vault, the authorization flow and the HTTP
// surface together and runs them as one process.
package webrunner

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/credguard/agent-vault/catalog"
	"github.com/credguard/agent-vault/config"
	"github.com/credguard/agent-vault/models"
	"github.com/credguard/agent-vault/oauthflow"
	"github.com/credguard/agent-vault/pkg/encryption"
	"github.com/credguard/agent-vault/postgres"
	"github.com/credguard/agent-vault/redis"
	redisconfig "github.com/credguard/agent-vault/redis/config"
	"github.com/credguard/agent-vault/runner"
	"github.com/credguard/agent-vault/sqlite"
	"github.com/credguard/agent-vault/vault"
	"github.com/credguard/agent-vault/web"
	"github.com/credguard/agent-vault/web/handlers"
)

type webrunner struct {
	srv     *web.Server
	db      *sql.DB
	states  models.AuthStateRepository
	logger  *zap.Logger
	cfg     *runner.Config
	sweeper *redis.Server
	rclient *redis.Client
}

func New(cfg *runner.Config) (runner.Runner, error) {
	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return nil, err
	}

	db, vaultRepo, stateRepo, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	cfgsvc := config.New(db, os.Getenv)

	keyring, err := loadKeyring(cfgsvc)
	if err != nil {
		db.Close()

		return nil, err
	}

	v := vault.New(keyring, vaultRepo, logger)

	callbackURL, err := cfgsvc.GetString(context.Background(), "oauth.callback_url",
		"http://localhost:8080/api/integrations/callback")
	if err != nil {
		db.Close()

		return nil, err
	}

	flow := oauthflow.New(oauthflow.DefaultRegistry(), stateRepo, v, cfgsvc, callbackURL, logger)

	cat := catalog.Default()

	handler := handlers.NewIntegrationHandler(flow, v, cat, cfg.PostAuthRedirect, logger)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	ans := webrunner{
		srv:    web.NewServer(cfg.Addr, withRequestLog(router, logger), logger),
		db:     db,
		states: stateRepo,
		logger: logger,
		cfg:    cfg,
	}

	if redisconfig.Enabled() {
		rcfg, err := redisconfig.NewRedisConfig()
		if err != nil {
			db.Close()

			return nil, err
		}

		ans.sweeper = redis.NewServer(rcfg, stateRepo, logger)
		ans.rclient, err = redis.NewClient(rcfg)
		if err != nil {
			db.Close()

			return nil, err
		}
	}

	return &ans, nil
}

func (w *webrunner) Run(ctx context.Context) error {
	egroup, ctx := errgroup.WithContext(ctx)

	egroup.Go(func() error {
		return w.srv.Start(ctx)
	})

	if w.sweeper != nil {
		egroup.Go(func() error {
			if err := w.sweeper.Start(ctx); err != nil {
				return err
			}

			// Catch up on anything that expired while the process was down.
			return w.rclient.EnqueueStateSweep(ctx)
		})
	}

	return egroup.Wait()
}

func (w *webrunner) Close(context.Context) error {
	if w.sweeper != nil {
		w.sweeper.Shutdown()
	}

	if w.rclient != nil {
		_ = w.rclient.Close()
	}

	return w.db.Close()
}

func openStore(cfg *runner.Config) (*sql.DB, models.VaultRepository, models.AuthStateRepository, error) {
	if cfg.Dsn != "" {
		db, err := postgres.Open(context.Background(), cfg.Dsn)
		if err != nil {
			return nil, nil, nil, err
		}

		return db, postgres.NewVaultRepository(db), postgres.NewAuthStateRepository(db), nil
	}

	if cfg.DataFolder == "" {
		return nil, nil, nil, fmt.Errorf("data folder is required")
	}

	if err := os.MkdirAll(cfg.DataFolder, os.ModePerm); err != nil {
		return nil, nil, nil, err
	}

	const dbfname = "vault.db"

	db, err := sqlite.Open(filepath.Join(cfg.DataFolder, dbfname))
	if err != nil {
		return nil, nil, nil, err
	}

	return db, sqlite.NewVaultRepository(db), sqlite.NewAuthStateRepository(db), nil
}

func loadKeyring(cfgsvc *config.Service) (*encryption.Keyring, error) {
	spec, err := cfgsvc.GetRequiredString(context.Background(), "vault.keys")
	if err != nil {
		return nil, err
	}

	keys, err := encryption.ParseKeySpec(spec)
	if err != nil {
		return nil, err
	}

	active, err := cfgsvc.GetInt(context.Background(), "vault.active_key_version", 1)
	if err != nil {
		return nil, err
	}

	return encryption.NewKeyring(keys, active)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}

func withRequestLog(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
