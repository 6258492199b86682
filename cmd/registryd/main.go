// Package main runs the signal registry daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/signalmesh/registry/internal/app/runtime"
	"github.com/signalmesh/registry/internal/config"
	"github.com/signalmesh/registry/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML configuration file")
	envFile := flag.String("env-file", "", "path to .env file with environment overrides")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	} else {
		// Best effort; a missing default .env is fine.
		_ = godotenv.Load()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Logging).WithField("component", "registryd")

	application, err := runtime.NewApplication(cfg, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("signal registry starting")
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	log.Info("shutting down")
	if err := application.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
