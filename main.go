package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/credguard/agent-vault/runner"
	"github.com/credguard/agent-vault/runner/sweeprunner"
	"github.com/credguard/agent-vault/runner/webrunner"
)

func main() {
	_ = godotenv.Load() // Load .env file if present

	ctx, cancel := context.WithCancel(context.Background())

	cfg := runner.ParseConfig()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan

		log.Println("Received signal, shutting down...")

		cancel()
	}()

	runnerInstance, err := runnerFactory(cfg)
	if err != nil {
		cancel()
		os.Stderr.WriteString(err.Error() + "\n")

		os.Exit(1)
	}

	if err := runnerInstance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		os.Stderr.WriteString(err.Error() + "\n")

		_ = runnerInstance.Close(ctx)

		cancel()

		os.Exit(1)
	}

	_ = runnerInstance.Close(ctx)

	cancel()
}

func runnerFactory(cfg *runner.Config) (runner.Runner, error) {
	switch cfg.RunMode {
	case runner.RunModeWeb:
		return webrunner.New(cfg)
	case runner.RunModeSweep:
		return sweeprunner.New(cfg)
	default:
		return nil, runner.ErrInvalidRunMode
	}
}
