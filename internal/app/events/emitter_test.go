package events

import (
	"context"
	"testing"

	"github.com/signalmesh/registry/internal/app/identity"
)

func TestMultiFansOut(t *testing.T) {
	first := &Capture{}
	second := &Capture{}

	emitter := Multi(first, nil, second)
	emitter.Emit(context.Background(), SignalPublished{
		Agent: identity.FromSeed("alice"),
		Asset: "SOL/USDC",
	})

	if len(first.Events) != 1 || len(second.Events) != 1 {
		t.Fatalf("expected both sinks to receive the event: %d / %d", len(first.Events), len(second.Events))
	}
	if first.Events[0].EventKind() != "signal.published" {
		t.Fatalf("unexpected kind %q", first.Events[0].EventKind())
	}
}

func TestNopSwallows(t *testing.T) {
	Nop().Emit(context.Background(), SignalConsumed{})
}

func TestEventKinds(t *testing.T) {
	cases := map[string]Event{
		"signal.published":     SignalPublished{},
		"signal.resolved":      SignalResolved{},
		"subscription.created": SubscriptionCreated{},
		"signal.consumed":      SignalConsumed{},
	}
	for want, ev := range cases {
		if got := ev.EventKind(); got != want {
			t.Fatalf("want %q, got %q", want, got)
		}
	}
}
