// Package registration bootstraps the registry singleton and onboards agents.
package registration

import (
	"context"
	"time"

	"github.com/signalmesh/registry/internal/app/domain/agent"
	"github.com/signalmesh/registry/internal/app/domain/registry"
	"github.com/signalmesh/registry/internal/app/identity"
	"github.com/signalmesh/registry/internal/app/metrics"
	"github.com/signalmesh/registry/internal/app/storage"
	"github.com/signalmesh/registry/pkg/logger"
)

// Service handles registry initialization and agent registration.
type Service struct {
	store storage.Store
	log   *logger.Logger
	now   func() time.Time
}

// New constructs a registration service.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registration")
	}
	return &Service{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// InitializeRegistry creates the global registry singleton with all counters
// at zero. It can succeed exactly once ever; a second call fails with
// storage.ErrAlreadyExists.
func (s *Service) InitializeRegistry(ctx context.Context, authority identity.Address) (registry.Record, error) {
	addr := identity.Registry()
	rec := registry.Record{
		Address:   addr,
		Authority: authority,
		CreatedAt: s.now().Unix(),
	}

	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		return tx.CreateRegistry(addr, rec)
	})
	if err != nil {
		return registry.Record{}, err
	}

	s.log.WithField("authority", authority.String()).Info("registry initialized")
	return rec, nil
}

// RegisterAgent creates a profile for the agent identity and bumps the
// registry agent counter. One profile per identity; a second registration
// fails with storage.ErrAlreadyExists.
func (s *Service) RegisterAgent(ctx context.Context, agentID identity.Address, name string) (agent.Profile, error) {
	if len(name) > agent.MaxNameLen {
		metrics.RecordRejection("register", "name_too_long")
		return agent.Profile{}, agent.ErrNameTooLong
	}

	addr := identity.AgentProfile(agentID)
	prof := agent.Profile{
		Address:   addr,
		Authority: agentID,
		Name:      name,
		CreatedAt: s.now().Unix(),
	}

	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		reg, err := tx.GetRegistry(identity.Registry())
		if err != nil {
			return err
		}
		if err := tx.CreateAgentProfile(addr, prof); err != nil {
			return err
		}
		reg.TotalAgents++
		return tx.PutRegistry(reg.Address, reg)
	})
	if err != nil {
		return agent.Profile{}, err
	}

	s.log.WithField("agent", agentID.String()).
		WithField("name", name).
		Info("agent registered")
	return prof, nil
}

// GetRegistry returns the registry singleton.
func (s *Service) GetRegistry(ctx context.Context) (registry.Record, error) {
	return s.store.GetRegistry(ctx, identity.Registry())
}

// GetAgent returns the profile for an agent identity.
func (s *Service) GetAgent(ctx context.Context, agentID identity.Address) (agent.Profile, error) {
	return s.store.GetAgentProfile(ctx, identity.AgentProfile(agentID))
}

// Leaderboard returns all profiles ordered by reputation score descending.
func (s *Service) Leaderboard(ctx context.Context) ([]agent.Profile, error) {
	return s.store.ListAgentProfiles(ctx)
}
