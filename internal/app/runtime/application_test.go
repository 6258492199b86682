package runtime

import (
	"context"
	"testing"

	"github.com/signalmesh/registry/internal/config"
	"github.com/signalmesh/registry/pkg/logger"
)

func TestNewApplicationDefaults(t *testing.T) {
	application, err := NewApplication(config.Default(), nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if application.Services() == nil {
		t.Fatal("services not wired")
	}

	if err := application.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewApplicationUsesProvidedLogger(t *testing.T) {
	log := logger.NewDefault("registryd")
	application, err := NewApplication(config.Default(), log)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	defer application.Shutdown(context.Background())

	if application.log != log {
		t.Fatal("provided logger not wired through")
	}
}

func TestNewApplicationRejectsBadPriceSource(t *testing.T) {
	cfg := config.Default()
	cfg.AutoResolve.Enabled = true
	cfg.AutoResolve.QuoteURL = "://not-a-url"

	if _, err := NewApplication(cfg, nil); err == nil {
		t.Fatal("expected error for malformed quote url")
	}
}
