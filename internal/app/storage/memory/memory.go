// Package memory provides the in-memory storage implementation. It is safe
// for concurrent use and doubles as the serialized execution environment in
// tests and local development: one mutex is held for the whole of every
// atomic unit, so no two operations ever observe each other's partial writes.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/signalmesh/registry/internal/app/domain/agent"
	"github.com/signalmesh/registry/internal/app/domain/registry"
	"github.com/signalmesh/registry/internal/app/domain/signal"
	"github.com/signalmesh/registry/internal/app/domain/subscription"
	"github.com/signalmesh/registry/internal/app/identity"
	"github.com/signalmesh/registry/internal/app/storage"
)

// Store is an address-keyed in-memory store.
type Store struct {
	mu            sync.RWMutex
	registries    map[identity.Address]registry.Record
	profiles      map[identity.Address]agent.Profile
	signals       map[identity.Address]signal.Record
	subscriptions map[identity.Address]subscription.Record
	consumptions  map[identity.Address]subscription.Consumption
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		registries:    make(map[identity.Address]registry.Record),
		profiles:      make(map[identity.Address]agent.Profile),
		signals:       make(map[identity.Address]signal.Record),
		subscriptions: make(map[identity.Address]subscription.Record),
		consumptions:  make(map[identity.Address]subscription.Consumption),
	}
}

// Atomic runs fn under the store mutex with all writes buffered; the buffer
// is applied only when fn returns nil, so a failing operation leaves no trace.
func (s *Store) Atomic(_ context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memTx buffers writes against the base maps. Reads consult the buffer first
// so an operation sees its own writes.
type memTx struct {
	store         *Store
	registries    map[identity.Address]registry.Record
	profiles      map[identity.Address]agent.Profile
	signals       map[identity.Address]signal.Record
	subscriptions map[identity.Address]subscription.Record
	consumptions  map[identity.Address]subscription.Consumption
}

var _ storage.Tx = (*memTx)(nil)

func (t *memTx) commit() {
	for addr, rec := range t.registries {
		t.store.registries[addr] = rec
	}
	for addr, rec := range t.profiles {
		t.store.profiles[addr] = rec
	}
	for addr, rec := range t.signals {
		t.store.signals[addr] = rec
	}
	for addr, rec := range t.subscriptions {
		t.store.subscriptions[addr] = rec
	}
	for addr, rec := range t.consumptions {
		t.store.consumptions[addr] = rec
	}
}

// Registry ---------------------------------------------------------------

func (t *memTx) CreateRegistry(addr identity.Address, rec registry.Record) error {
	if _, ok := t.registries[addr]; ok {
		return storage.ErrAlreadyExists
	}
	if _, ok := t.store.registries[addr]; ok {
		return storage.ErrAlreadyExists
	}
	if t.registries == nil {
		t.registries = make(map[identity.Address]registry.Record)
	}
	t.registries[addr] = rec
	return nil
}

func (t *memTx) GetRegistry(addr identity.Address) (registry.Record, error) {
	if rec, ok := t.registries[addr]; ok {
		return rec, nil
	}
	if rec, ok := t.store.registries[addr]; ok {
		return rec, nil
	}
	return registry.Record{}, storage.ErrNotFound
}

func (t *memTx) PutRegistry(addr identity.Address, rec registry.Record) error {
	if t.registries == nil {
		t.registries = make(map[identity.Address]registry.Record)
	}
	t.registries[addr] = rec
	return nil
}

// AgentProfile ------------------------------------------------------------

func (t *memTx) CreateAgentProfile(addr identity.Address, prof agent.Profile) error {
	if _, ok := t.profiles[addr]; ok {
		return storage.ErrAlreadyExists
	}
	if _, ok := t.store.profiles[addr]; ok {
		return storage.ErrAlreadyExists
	}
	if t.profiles == nil {
		t.profiles = make(map[identity.Address]agent.Profile)
	}
	t.profiles[addr] = prof
	return nil
}

func (t *memTx) GetAgentProfile(addr identity.Address) (agent.Profile, error) {
	if prof, ok := t.profiles[addr]; ok {
		return prof, nil
	}
	if prof, ok := t.store.profiles[addr]; ok {
		return prof, nil
	}
	return agent.Profile{}, storage.ErrNotFound
}

func (t *memTx) PutAgentProfile(addr identity.Address, prof agent.Profile) error {
	if t.profiles == nil {
		t.profiles = make(map[identity.Address]agent.Profile)
	}
	t.profiles[addr] = prof
	return nil
}

// Signal ------------------------------------------------------------------

func (t *memTx) CreateSignal(addr identity.Address, rec signal.Record) error {
	if _, ok := t.signals[addr]; ok {
		return storage.ErrAlreadyExists
	}
	if _, ok := t.store.signals[addr]; ok {
		return storage.ErrAlreadyExists
	}
	if t.signals == nil {
		t.signals = make(map[identity.Address]signal.Record)
	}
	t.signals[addr] = rec
	return nil
}

func (t *memTx) GetSignal(addr identity.Address) (signal.Record, error) {
	if rec, ok := t.signals[addr]; ok {
		return rec, nil
	}
	if rec, ok := t.store.signals[addr]; ok {
		return rec, nil
	}
	return signal.Record{}, storage.ErrNotFound
}

func (t *memTx) PutSignal(addr identity.Address, rec signal.Record) error {
	if t.signals == nil {
		t.signals = make(map[identity.Address]signal.Record)
	}
	t.signals[addr] = rec
	return nil
}

// Subscription / Consumption ----------------------------------------------

func (t *memTx) CreateSubscription(addr identity.Address, rec subscription.Record) error {
	if _, ok := t.subscriptions[addr]; ok {
		return storage.ErrAlreadyExists
	}
	if _, ok := t.store.subscriptions[addr]; ok {
		return storage.ErrAlreadyExists
	}
	if t.subscriptions == nil {
		t.subscriptions = make(map[identity.Address]subscription.Record)
	}
	t.subscriptions[addr] = rec
	return nil
}

func (t *memTx) GetSubscription(addr identity.Address) (subscription.Record, error) {
	if rec, ok := t.subscriptions[addr]; ok {
		return rec, nil
	}
	if rec, ok := t.store.subscriptions[addr]; ok {
		return rec, nil
	}
	return subscription.Record{}, storage.ErrNotFound
}

func (t *memTx) CreateConsumption(addr identity.Address, rec subscription.Consumption) error {
	if _, ok := t.consumptions[addr]; ok {
		return storage.ErrAlreadyExists
	}
	if _, ok := t.store.consumptions[addr]; ok {
		return storage.ErrAlreadyExists
	}
	if t.consumptions == nil {
		t.consumptions = make(map[identity.Address]subscription.Consumption)
	}
	t.consumptions[addr] = rec
	return nil
}

func (t *memTx) GetConsumption(addr identity.Address) (subscription.Consumption, error) {
	if rec, ok := t.consumptions[addr]; ok {
		return rec, nil
	}
	if rec, ok := t.store.consumptions[addr]; ok {
		return rec, nil
	}
	return subscription.Consumption{}, storage.ErrNotFound
}

// Reads -------------------------------------------------------------------

func (s *Store) GetRegistry(_ context.Context, addr identity.Address) (registry.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.registries[addr]
	if !ok {
		return registry.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) GetAgentProfile(_ context.Context, addr identity.Address) (agent.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prof, ok := s.profiles[addr]
	if !ok {
		return agent.Profile{}, storage.ErrNotFound
	}
	return prof, nil
}

func (s *Store) GetSignal(_ context.Context, addr identity.Address) (signal.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.signals[addr]
	if !ok {
		return signal.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) GetSubscription(_ context.Context, addr identity.Address) (subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.subscriptions[addr]
	if !ok {
		return subscription.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) GetConsumption(_ context.Context, addr identity.Address) (subscription.Consumption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.consumptions[addr]
	if !ok {
		return subscription.Consumption{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ListAgentProfiles(_ context.Context) ([]agent.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]agent.Profile, 0, len(s.profiles))
	for _, prof := range s.profiles {
		result = append(result, prof)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ReputationScore != result[j].ReputationScore {
			return result[i].ReputationScore > result[j].ReputationScore
		}
		return result[i].CreatedAt < result[j].CreatedAt
	})
	return result, nil
}

func (s *Store) ListSignalsByAgent(_ context.Context, agentID identity.Address) ([]signal.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []signal.Record
	for _, rec := range s.signals {
		if rec.Agent == agentID {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	return result, nil
}

func (s *Store) ListUnresolvedBefore(_ context.Context, now int64) ([]signal.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []signal.Record
	for _, rec := range s.signals {
		if !rec.Resolved && rec.TimeHorizon <= now {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	return result, nil
}
