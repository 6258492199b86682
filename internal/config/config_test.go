package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("default addr: %s", cfg.Server.Addr)
	}
	if cfg.Database.Driver != "memory" {
		t.Fatalf("default driver: %s", cfg.Database.Driver)
	}
	if cfg.Redis.Stream != "registry.events" {
		t.Fatalf("default stream: %s", cfg.Redis.Stream)
	}
	if cfg.AutoResolve.Enabled {
		t.Fatal("auto resolve should default off")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  addr: ":9090"
  read_timeout: 5s
database:
  driver: postgres
  dsn: postgres://localhost/registry
logging:
  level: debug
  format: text
auto_resolve:
  enabled: true
  quote_url: https://quotes.example/v1
  quote_path: data.price
rate_limit:
  rps: 10
  burst: 20
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.ReadTimeout != 5*time.Second {
		t.Fatalf("server config not applied: %+v", cfg.Server)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != "postgres://localhost/registry" {
		t.Fatalf("database config not applied: %+v", cfg.Database)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Fatalf("logging config not applied: %+v", cfg.Logging)
	}
	if !cfg.AutoResolve.Enabled || cfg.AutoResolve.QuotePath != "data.price" {
		t.Fatalf("auto resolve config not applied: %+v", cfg.AutoResolve)
	}
	if cfg.RateLimit.RPS != 10 || cfg.RateLimit.Burst != 20 {
		t.Fatalf("rate limit config not applied: %+v", cfg.RateLimit)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.WriteTimeout != 15*time.Second {
		t.Fatalf("default write timeout lost: %v", cfg.Server.WriteTimeout)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("QUOTE_URL", "https://quotes.example/v2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("env addr not applied: %s", cfg.Server.Addr)
	}
	if !cfg.AutoResolve.Enabled || cfg.AutoResolve.QuoteURL != "https://quotes.example/v2" {
		t.Fatalf("quote url env should enable auto resolve: %+v", cfg.AutoResolve)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "oracle")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown driver")
	}

	t.Setenv("DATABASE_DRIVER", "postgres")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for postgres without dsn")
	}
}
