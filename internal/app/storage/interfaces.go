// Package storage defines the persistence contracts for the registry. The
// store is address-keyed: every record lives at the identity-derived address
// the caller supplies, and "create exactly once" semantics ride entirely on
// ErrAlreadyExists from the keyed create calls.
package storage

import (
	"context"
	"errors"

	"github.com/signalmesh/registry/internal/app/domain/agent"
	"github.com/signalmesh/registry/internal/app/domain/registry"
	"github.com/signalmesh/registry/internal/app/domain/signal"
	"github.com/signalmesh/registry/internal/app/domain/subscription"
	"github.com/signalmesh/registry/internal/app/identity"
)

var (
	// ErrNotFound is returned when no record lives at the given address.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when a create targets an occupied address.
	ErrAlreadyExists = errors.New("record already exists")
)

// Tx is the write surface of one atomic unit. Every public operation declares
// its full read and write set against a single Tx; either all of its writes
// commit or none do. The store guarantees per-address linearizability only;
// cross-entity consistency is the operation's job.
type Tx interface {
	CreateRegistry(addr identity.Address, rec registry.Record) error
	GetRegistry(addr identity.Address) (registry.Record, error)
	PutRegistry(addr identity.Address, rec registry.Record) error

	CreateAgentProfile(addr identity.Address, prof agent.Profile) error
	GetAgentProfile(addr identity.Address) (agent.Profile, error)
	PutAgentProfile(addr identity.Address, prof agent.Profile) error

	CreateSignal(addr identity.Address, rec signal.Record) error
	GetSignal(addr identity.Address) (signal.Record, error)
	PutSignal(addr identity.Address, rec signal.Record) error

	CreateSubscription(addr identity.Address, rec subscription.Record) error
	GetSubscription(addr identity.Address) (subscription.Record, error)

	CreateConsumption(addr identity.Address, rec subscription.Consumption) error
	GetConsumption(addr identity.Address) (subscription.Consumption, error)
}

// Store persists the four entity kinds and runs atomic units against them.
// The read methods back the public read surface: every record is readable by
// anyone holding its address.
type Store interface {
	// Atomic runs fn as one indivisible unit. If fn returns an error nothing
	// is persisted and the error is returned verbatim.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	GetRegistry(ctx context.Context, addr identity.Address) (registry.Record, error)
	GetAgentProfile(ctx context.Context, addr identity.Address) (agent.Profile, error)
	GetSignal(ctx context.Context, addr identity.Address) (signal.Record, error)
	GetSubscription(ctx context.Context, addr identity.Address) (subscription.Record, error)
	GetConsumption(ctx context.Context, addr identity.Address) (subscription.Consumption, error)

	// ListAgentProfiles returns all profiles ordered by reputation score
	// descending, ties broken by creation time ascending.
	ListAgentProfiles(ctx context.Context) ([]agent.Profile, error)
	// ListSignalsByAgent returns an agent's signals ordered by index.
	ListSignalsByAgent(ctx context.Context, agentID identity.Address) ([]signal.Record, error)
	// ListUnresolvedBefore returns unresolved signals whose time horizon is at
	// or before the given instant, ordered by index.
	ListUnresolvedBefore(ctx context.Context, now int64) ([]signal.Record, error)
}
