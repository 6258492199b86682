package registration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/signalmesh/registry/internal/app/domain/agent"
	"github.com/signalmesh/registry/internal/app/identity"
	"github.com/signalmesh/registry/internal/app/metrics"
	"github.com/signalmesh/registry/internal/app/storage"
	"github.com/signalmesh/registry/internal/app/storage/memory"
)

func newService() *Service {
	svc := New(memory.New(), nil)
	svc.now = func() time.Time { return time.Unix(1000, 0) }
	return svc
}

func TestInitializeRegistryOnce(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	authority := identity.FromSeed("authority")

	rec, err := svc.InitializeRegistry(ctx, authority)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if rec.Authority != authority || rec.TotalSignals != 0 || rec.TotalAgents != 0 {
		t.Fatalf("unexpected registry state: %+v", rec)
	}
	if rec.CreatedAt != 1000 {
		t.Fatalf("expected created_at 1000, got %d", rec.CreatedAt)
	}

	if _, err := svc.InitializeRegistry(ctx, authority); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("second initialize: want ErrAlreadyExists, got %v", err)
	}
	// A different authority cannot claim the singleton either.
	if _, err := svc.InitializeRegistry(ctx, identity.FromSeed("usurper")); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("initialize with new authority: want ErrAlreadyExists, got %v", err)
	}
}

func TestRegisterAgent(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	if _, err := svc.InitializeRegistry(ctx, identity.FromSeed("authority")); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	alice := identity.FromSeed("alice")
	prof, err := svc.RegisterAgent(ctx, alice, "alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if prof.Authority != alice || prof.Address != identity.AgentProfile(alice) {
		t.Fatalf("unexpected profile: %+v", prof)
	}
	if prof.TotalSignals != 0 || prof.AccuracyBps != 0 || prof.ReputationScore != 0 {
		t.Fatalf("profile counters should start at zero: %+v", prof)
	}

	reg, err := svc.GetRegistry(ctx)
	if err != nil {
		t.Fatalf("get registry: %v", err)
	}
	if reg.TotalAgents != 1 {
		t.Fatalf("expected 1 agent, got %d", reg.TotalAgents)
	}

	if _, err := svc.RegisterAgent(ctx, alice, "alice again"); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("re-register: want ErrAlreadyExists, got %v", err)
	}
	reg, _ = svc.GetRegistry(ctx)
	if reg.TotalAgents != 1 {
		t.Fatalf("failed registration must not bump the counter, got %d", reg.TotalAgents)
	}
}

func TestRegisterAgentNameTooLong(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	if _, err := svc.InitializeRegistry(ctx, identity.FromSeed("authority")); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	before := rejectionCount(t, "register", "name_too_long")
	_, err := svc.RegisterAgent(ctx, identity.FromSeed("alice"), strings.Repeat("n", agent.MaxNameLen+1))
	if !errors.Is(err, agent.ErrNameTooLong) {
		t.Fatalf("want ErrNameTooLong, got %v", err)
	}
	if got := rejectionCount(t, "register", "name_too_long"); got != before+1 {
		t.Fatalf("rejection not counted: before %v, after %v", before, got)
	}
}

func rejectionCount(t *testing.T, operation, reason string) float64 {
	t.Helper()

	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != "signal_registry_operations_rejections_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			labels := make(map[string]string)
			for _, label := range m.GetLabel() {
				labels[label.GetName()] = label.GetValue()
			}
			if labels["operation"] == operation && labels["reason"] == reason {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestRegisterAgentWithoutRegistry(t *testing.T) {
	svc := newService()

	_, err := svc.RegisterAgent(context.Background(), identity.FromSeed("alice"), "alice")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want ErrNotFound before initialize, got %v", err)
	}
}

func TestLeaderboard(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	if _, err := svc.InitializeRegistry(ctx, identity.FromSeed("authority")); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for _, name := range []string{"alice", "bob"} {
		if _, err := svc.RegisterAgent(ctx, identity.FromSeed(name), name); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	profiles, err := svc.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
}
