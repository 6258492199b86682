package signals

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/signalmesh/registry/internal/app/domain/agent"
	"github.com/signalmesh/registry/internal/app/domain/registry"
	"github.com/signalmesh/registry/internal/app/domain/signal"
	"github.com/signalmesh/registry/internal/app/events"
	"github.com/signalmesh/registry/internal/app/identity"
	"github.com/signalmesh/registry/internal/app/storage"
	"github.com/signalmesh/registry/internal/app/storage/memory"
)

const testNow = int64(1_000_000)

type fixture struct {
	store   *memory.Store
	svc     *Service
	capture *events.Capture
	agent   identity.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.New()
	capture := &events.Capture{}
	svc := New(store, capture, nil)
	svc.now = func() time.Time { return time.Unix(testNow, 0) }

	agentID := identity.FromSeed("alice")
	ctx := context.Background()
	err := store.Atomic(ctx, func(tx storage.Tx) error {
		regAddr := identity.Registry()
		if err := tx.CreateRegistry(regAddr, registry.Record{Address: regAddr}); err != nil {
			return err
		}
		profAddr := identity.AgentProfile(agentID)
		return tx.CreateAgentProfile(profAddr, agent.Profile{Address: profAddr, Authority: agentID})
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}

	return &fixture{store: store, svc: svc, capture: capture, agent: agentID}
}

func validInput() PublishInput {
	return PublishInput{
		Asset:       "SOL/USDC",
		Direction:   signal.Long,
		Confidence:  80,
		EntryPrice:  95,
		TargetPrice: 100,
		StopLoss:    90,
		TimeHorizon: testNow + 3600,
		Reasoning:   "momentum breakout",
	}
}

func TestPublishAssignsSequentialIndexes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Publish(ctx, f.agent, validInput())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	second, err := f.svc.Publish(ctx, f.agent, validInput())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if first.Index != 1 || second.Index != 2 {
		t.Fatalf("expected indexes 1 and 2, got %d and %d", first.Index, second.Index)
	}
	if first.Address != identity.Signal(f.agent, 1) {
		t.Fatalf("address not derived from index: %s", first.Address)
	}
	if first.Outcome != signal.Pending || first.Resolved {
		t.Fatalf("new signal must be pending: %+v", first)
	}

	reg, err := f.store.GetRegistry(ctx, identity.Registry())
	if err != nil {
		t.Fatalf("get registry: %v", err)
	}
	if reg.TotalSignals != 2 {
		t.Fatalf("expected registry count 2, got %d", reg.TotalSignals)
	}
	prof, err := f.store.GetAgentProfile(ctx, identity.AgentProfile(f.agent))
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if prof.TotalSignals != 2 {
		t.Fatalf("expected profile count 2, got %d", prof.TotalSignals)
	}

	if got := len(f.capture.Events); got != 2 {
		t.Fatalf("expected 2 events, got %d", got)
	}
}

func TestPublishValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*PublishInput)
		want   error
	}{
		{"asset too long", func(in *PublishInput) { in.Asset = strings.Repeat("A", signal.MaxAssetLen+1) }, signal.ErrAssetTooLong},
		{"confidence over 100", func(in *PublishInput) { in.Confidence = signal.MaxConfidence + 1 }, signal.ErrInvalidConfidence},
		{"reasoning too long", func(in *PublishInput) { in.Reasoning = strings.Repeat("r", signal.MaxReasoningLen+1) }, signal.ErrReasoningTooLong},
		{"horizon in the past", func(in *PublishInput) { in.TimeHorizon = testNow - 1 }, signal.ErrInvalidTimeHorizon},
		{"horizon at now", func(in *PublishInput) { in.TimeHorizon = testNow }, signal.ErrInvalidTimeHorizon},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			if _, err := f.svc.Publish(ctx, f.agent, in); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}

	// No rejected publish may have bumped the counter.
	reg, _ := f.store.GetRegistry(ctx, identity.Registry())
	if reg.TotalSignals != 0 {
		t.Fatalf("rejected publishes must not consume indexes, got %d", reg.TotalSignals)
	}
	if len(f.capture.Events) != 0 {
		t.Fatalf("rejected publishes must not emit events")
	}
}

func TestPublishBoundaryValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validInput()
	in.Asset = strings.Repeat("A", signal.MaxAssetLen)
	in.Confidence = 0
	in.Reasoning = strings.Repeat("r", signal.MaxReasoningLen)
	in.TimeHorizon = testNow + 1

	if _, err := f.svc.Publish(ctx, f.agent, in); err != nil {
		t.Fatalf("boundary publish should succeed: %v", err)
	}
}

func TestPublishUnknownAgent(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Publish(context.Background(), identity.FromSeed("nobody"), validInput())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func publishAndPass(t *testing.T, f *fixture, in PublishInput) signal.Record {
	t.Helper()
	rec, err := f.svc.Publish(context.Background(), f.agent, in)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	f.svc.now = func() time.Time { return time.Unix(in.TimeHorizon, 0) }
	return rec
}

func TestResolveLongOutcomes(t *testing.T) {
	cases := []struct {
		name  string
		price uint64
		want  signal.Outcome
	}{
		{"at target", 100, signal.Correct},
		{"above target", 150, signal.Correct},
		{"below target", 99, signal.Incorrect},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			rec := publishAndPass(t, f, validInput())

			resolved, prof, err := f.svc.Resolve(context.Background(), rec.Address, f.agent, tc.price)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if resolved.Outcome != tc.want {
				t.Fatalf("want %s, got %s", tc.want, resolved.Outcome)
			}
			if !resolved.Resolved || resolved.ResolutionPrice != tc.price {
				t.Fatalf("resolution not recorded: %+v", resolved)
			}
			wantCorrect := uint32(0)
			if tc.want == signal.Correct {
				wantCorrect = 1
			}
			if prof.CorrectSignals != wantCorrect {
				t.Fatalf("profile counters wrong: %+v", prof)
			}
		})
	}
}

func TestResolveShortOutcomes(t *testing.T) {
	cases := []struct {
		name  string
		price uint64
		want  signal.Outcome
	}{
		{"at target", 100, signal.Correct},
		{"below target", 60, signal.Correct},
		{"above target", 101, signal.Incorrect},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			in := validInput()
			in.Direction = signal.Short
			rec := publishAndPass(t, f, in)

			resolved, _, err := f.svc.Resolve(context.Background(), rec.Address, f.agent, tc.price)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if resolved.Outcome != tc.want {
				t.Fatalf("want %s, got %s", tc.want, resolved.Outcome)
			}
		})
	}
}

func TestResolveStopLossNeverConsulted(t *testing.T) {
	f := newFixture(t)
	in := validInput()
	in.StopLoss = 90
	rec := publishAndPass(t, f, in)

	// Settlement compares against target only; a price through the stop
	// side is just an incorrect long.
	resolved, _, err := f.svc.Resolve(context.Background(), rec.Address, f.agent, 10)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Outcome != signal.Incorrect {
		t.Fatalf("want incorrect, got %s", resolved.Outcome)
	}
}

func TestResolveTwice(t *testing.T) {
	f := newFixture(t)
	rec := publishAndPass(t, f, validInput())
	ctx := context.Background()

	if _, _, err := f.svc.Resolve(ctx, rec.Address, f.agent, 120); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, _, err := f.svc.Resolve(ctx, rec.Address, f.agent, 120); !errors.Is(err, signal.ErrAlreadyResolved) {
		t.Fatalf("second resolve: want ErrAlreadyResolved, got %v", err)
	}

	prof, err := f.store.GetAgentProfile(ctx, identity.AgentProfile(f.agent))
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if prof.CorrectSignals != 1 {
		t.Fatalf("outcome must count exactly once, got %d", prof.CorrectSignals)
	}
}

func TestResolveBeforeHorizon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Publish(ctx, f.agent, validInput())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if _, _, err := f.svc.Resolve(ctx, rec.Address, f.agent, 120); !errors.Is(err, signal.ErrTimeHorizonNotReached) {
		t.Fatalf("want ErrTimeHorizonNotReached, got %v", err)
	}

	// The rejected resolve must leave the signal untouched.
	stored, err := f.svc.Get(ctx, rec.Address)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Resolved || stored.Outcome != signal.Pending {
		t.Fatalf("signal mutated by rejected resolve: %+v", stored)
	}
}

func TestResolveWrongProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Register a second agent whose profile does not own the signal.
	mallory := identity.FromSeed("mallory")
	err := f.store.Atomic(ctx, func(tx storage.Tx) error {
		addr := identity.AgentProfile(mallory)
		return tx.CreateAgentProfile(addr, agent.Profile{Address: addr, Authority: mallory})
	})
	if err != nil {
		t.Fatalf("seed second profile: %v", err)
	}

	rec := publishAndPass(t, f, validInput())
	if _, _, err := f.svc.Resolve(ctx, rec.Address, mallory, 120); !errors.Is(err, signal.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestListDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validInput()
	in.TimeHorizon = testNow + 10
	if _, err := f.svc.Publish(ctx, f.agent, in); err != nil {
		t.Fatalf("publish: %v", err)
	}
	in2 := validInput()
	in2.TimeHorizon = testNow + 10_000
	if _, err := f.svc.Publish(ctx, f.agent, in2); err != nil {
		t.Fatalf("publish: %v", err)
	}

	f.svc.now = func() time.Time { return time.Unix(testNow+100, 0) }
	due, err := f.svc.ListDue(ctx)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].Index != 1 {
		t.Fatalf("expected only the first signal due, got %+v", due)
	}
}
