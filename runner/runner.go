package runner

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"
)

const (
	RunModeWeb = iota + 1
	RunModeSweep
)

var (
	ErrInvalidRunMode = errors.New("invalid run mode")
)

type Runner interface {
	Run(context.Context) error
	Close(context.Context) error
}

type Config struct {
	Addr             string
	Dsn              string
	DataFolder       string
	PostAuthRedirect string
	Debug            bool
	SweepOnly        bool
	SweepOlderThan   time.Duration
	RunMode          int
}

func ParseConfig() *Config {
	cfg := Config{}

	flag.StringVar(&cfg.Addr, "addr", ":8080", "address to listen on")
	flag.StringVar(&cfg.Dsn, "dsn", "", "postgres connection string [default: empty, uses sqlite]")
	flag.StringVar(&cfg.DataFolder, "data-folder", "vaultdata", "data folder for the sqlite store")
	flag.StringVar(&cfg.PostAuthRedirect, "post-auth-redirect", "", "URL the browser is sent to after an authorization completes")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
	flag.BoolVar(&cfg.SweepOnly, "sweep", false, "delete expired authorization states and exit")
	flag.DurationVar(&cfg.SweepOlderThan, "sweep-older-than", 0, "extra age beyond expiry a state must have before the sweep removes it")

	flag.Parse()

	if cfg.Dsn == "" {
		cfg.Dsn = os.Getenv("DATABASE_URL")
	}

	if cfg.PostAuthRedirect == "" {
		cfg.PostAuthRedirect = os.Getenv("POST_AUTH_REDIRECT_URL")
	}

	if cfg.SweepOlderThan < 0 {
		panic("sweep-older-than must not be negative")
	}

	switch {
	case cfg.SweepOnly:
		cfg.RunMode = RunModeSweep
	default:
		cfg.RunMode = RunModeWeb
	}

	return &cfg
}
