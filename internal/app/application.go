package app

import (
	"context"
	"fmt"

	"github.com/signalmesh/registry/internal/app/events"
	registrationsvc "github.com/signalmesh/registry/internal/app/services/registration"
	signalsvc "github.com/signalmesh/registry/internal/app/services/signals"
	subscriptionsvc "github.com/signalmesh/registry/internal/app/services/subscriptions"
	"github.com/signalmesh/registry/internal/app/storage"
	"github.com/signalmesh/registry/internal/app/storage/memory"
	"github.com/signalmesh/registry/internal/app/system"
	"github.com/signalmesh/registry/pkg/logger"
)

// Deps encapsulates the external collaborators. Nil fields default to the
// in-process implementations, which is what the tests and local runs use.
type Deps struct {
	Store   storage.Store
	Emitter events.Emitter
	Funds   subscriptionsvc.FundsTransfer

	// PriceSource enables the background resolver when set.
	PriceSource signalsvc.PriceSource
}

// Application ties the registry services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Registration  *registrationsvc.Service
	Signals       *signalsvc.Service
	Subscriptions *subscriptionsvc.Service
}

// New builds a fully initialised application with the provided dependencies.
func New(deps Deps, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if deps.Store == nil {
		deps.Store = memory.New()
	}
	if deps.Emitter == nil {
		deps.Emitter = events.Nop()
	}

	manager := system.NewManager()

	regService := registrationsvc.New(deps.Store, log)
	sigService := signalsvc.New(deps.Store, deps.Emitter, log)
	subService := subscriptionsvc.New(deps.Store, deps.Funds, deps.Emitter, log)

	// Only background workers register with the manager; the request-scoped
	// services have no lifecycle of their own.
	if deps.PriceSource != nil {
		resolver := signalsvc.NewResolver(sigService, deps.PriceSource, log)
		if err := manager.Register(resolver); err != nil {
			return nil, fmt.Errorf("register %s: %w", resolver.Name(), err)
		}
	} else {
		log.Warn("no price source configured; automatic resolution disabled")
	}

	return &Application{
		manager:       manager,
		log:           log,
		Registration:  regService,
		Signals:       sigService,
		Subscriptions: subService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
