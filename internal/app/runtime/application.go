// Package runtime assembles the registry from configuration: it opens the
// backing store, wires the event stream and background resolver, and manages
// the HTTP server lifecycle.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	redis "github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/signalmesh/registry/internal/app"
	"github.com/signalmesh/registry/internal/app/events"
	"github.com/signalmesh/registry/internal/app/httpapi"
	"github.com/signalmesh/registry/internal/app/metrics"
	signalsvc "github.com/signalmesh/registry/internal/app/services/signals"
	"github.com/signalmesh/registry/internal/app/storage"
	"github.com/signalmesh/registry/internal/app/storage/postgres"
	"github.com/signalmesh/registry/internal/config"
	"github.com/signalmesh/registry/pkg/logger"
)

// Application wires core dependencies and manages the server lifecycle.
type Application struct {
	cfg    config.Config
	log    *logger.Logger
	inner  *app.Application
	server *http.Server
	db     *sql.DB
	redis  *redis.Client
}

// NewApplication constructs an application from the loaded configuration. A
// nil log builds one from cfg.Logging.
func NewApplication(cfg config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.New(cfg.Logging)
	}

	var (
		store storage.Store
		db    *sql.DB
	)
	if cfg.Database.Driver == "postgres" {
		opened, err := openDatabase(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		pg := postgres.New(opened)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pg.EnsureSchema(ctx); err != nil {
			opened.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		store = pg
		db = opened
	}

	var (
		emitter     events.Emitter
		redisClient *redis.Client
	)
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		emitter = events.NewRedisEmitter(redisClient, cfg.Redis.Stream, log)
	} else {
		log.Warn("redis not configured; events will not be published")
	}

	var source signalsvc.PriceSource
	if cfg.AutoResolve.Enabled {
		httpSource, err := signalsvc.NewHTTPPriceSource(nil, cfg.AutoResolve.QuoteURL, cfg.AutoResolve.QuotePath, cfg.AutoResolve.APIKey, log)
		if err != nil {
			return nil, fmt.Errorf("configure price source: %w", err)
		}
		source = httpSource
	}

	inner, err := app.New(app.Deps{
		Store:       store,
		Emitter:     emitter,
		PriceSource: source,
	}, log)
	if err != nil {
		return nil, err
	}

	handler := httpapi.NewHandler(inner)
	if cfg.RateLimit.RPS > 0 {
		handler = httpapi.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, log).Handler(handler)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", metrics.InstrumentHandler(handler))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Application{
		cfg:    cfg,
		log:    log,
		inner:  inner,
		server: server,
		db:     db,
		redis:  redisClient,
	}, nil
}

// Services exposes the assembled application services.
func (a *Application) Services() *app.Application { return a.inner }

// Run starts the services and the HTTP server, blocking until the context is
// cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.inner.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.cfg.Server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the server, the background services and the connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := a.inner.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}

	return nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
