package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalmesh/registry/internal/app/domain/agent"
	"github.com/signalmesh/registry/internal/app/domain/registry"
	"github.com/signalmesh/registry/internal/app/domain/signal"
	"github.com/signalmesh/registry/internal/app/identity"
	"github.com/signalmesh/registry/internal/app/storage"
)

func TestAtomicCommit(t *testing.T) {
	store := New()
	ctx := context.Background()
	addr := identity.Registry()

	err := store.Atomic(ctx, func(tx storage.Tx) error {
		return tx.CreateRegistry(addr, registry.Record{Address: addr, SignalFee: 7})
	})
	require.NoError(t, err)

	rec, err := store.GetRegistry(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, uint64(7), rec.SignalFee)
}

func TestAtomicRollback(t *testing.T) {
	store := New()
	ctx := context.Background()
	addr := identity.Registry()
	boom := errors.New("boom")

	err := store.Atomic(ctx, func(tx storage.Tx) error {
		require.NoError(t, tx.CreateRegistry(addr, registry.Record{Address: addr}))
		require.NoError(t, tx.PutRegistry(addr, registry.Record{Address: addr, TotalSignals: 5}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetRegistry(ctx, addr)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAtomicSeesOwnWrites(t *testing.T) {
	store := New()
	ctx := context.Background()
	addr := identity.Registry()

	err := store.Atomic(ctx, func(tx storage.Tx) error {
		if err := tx.CreateRegistry(addr, registry.Record{Address: addr}); err != nil {
			return err
		}
		rec, err := tx.GetRegistry(addr)
		if err != nil {
			return err
		}
		rec.TotalAgents = 3
		return tx.PutRegistry(addr, rec)
	})
	require.NoError(t, err)

	rec, err := store.GetRegistry(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, uint64(3), rec.TotalAgents)
}

func TestCreateConflicts(t *testing.T) {
	store := New()
	ctx := context.Background()
	agentID := identity.FromSeed("alice")
	profAddr := identity.AgentProfile(agentID)

	err := store.Atomic(ctx, func(tx storage.Tx) error {
		return tx.CreateAgentProfile(profAddr, agent.Profile{Address: profAddr})
	})
	require.NoError(t, err)

	// Conflict against committed state.
	err = store.Atomic(ctx, func(tx storage.Tx) error {
		return tx.CreateAgentProfile(profAddr, agent.Profile{Address: profAddr})
	})
	require.ErrorIs(t, err, storage.ErrAlreadyExists)

	// Conflict against a buffered write in the same unit.
	other := identity.AgentProfile(identity.FromSeed("bob"))
	err = store.Atomic(ctx, func(tx storage.Tx) error {
		if err := tx.CreateAgentProfile(other, agent.Profile{Address: other}); err != nil {
			return err
		}
		return tx.CreateAgentProfile(other, agent.Profile{Address: other})
	})
	require.ErrorIs(t, err, storage.ErrAlreadyExists)

	// The failed unit must not have committed its first create.
	_, err = store.GetAgentProfile(ctx, other)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListAgentProfilesOrdering(t *testing.T) {
	store := New()
	ctx := context.Background()

	put := func(seed string, reputation uint64, createdAt int64) {
		id := identity.FromSeed(seed)
		addr := identity.AgentProfile(id)
		err := store.Atomic(ctx, func(tx storage.Tx) error {
			return tx.CreateAgentProfile(addr, agent.Profile{
				Address:         addr,
				Authority:       id,
				Name:            seed,
				ReputationScore: reputation,
				CreatedAt:       createdAt,
			})
		})
		require.NoError(t, err)
	}

	put("low", 10, 100)
	put("high", 90, 300)
	put("mid-old", 50, 100)
	put("mid-new", 50, 200)

	profiles, err := store.ListAgentProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 4)

	names := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.Name
	}
	require.Equal(t, []string{"high", "mid-old", "mid-new", "low"}, names)
}

func TestSignalListings(t *testing.T) {
	store := New()
	ctx := context.Background()
	alice := identity.FromSeed("alice")
	bob := identity.FromSeed("bob")

	put := func(agentID identity.Address, index uint64, horizon int64, resolved bool) {
		addr := identity.Signal(agentID, index)
		err := store.Atomic(ctx, func(tx storage.Tx) error {
			return tx.CreateSignal(addr, signal.Record{
				Address:     addr,
				Agent:       agentID,
				Index:       index,
				TimeHorizon: horizon,
				Resolved:    resolved,
			})
		})
		require.NoError(t, err)
	}

	put(alice, 3, 50, false)
	put(alice, 1, 200, false)
	put(alice, 2, 50, true)
	put(bob, 4, 50, false)

	byAgent, err := store.ListSignalsByAgent(ctx, alice)
	require.NoError(t, err)
	require.Len(t, byAgent, 3)
	require.Equal(t, uint64(1), byAgent[0].Index)
	require.Equal(t, uint64(3), byAgent[2].Index)

	due, err := store.ListUnresolvedBefore(ctx, 100)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, uint64(3), due[0].Index)
	require.Equal(t, uint64(4), due[1].Index)
}
