// Package events carries state transitions to downstream indexers. Emission
// is fire-and-forget: the core never reads events back, and a failing sink
// must not fail the operation that produced the event. The publish event is
// the only channel carrying the full asset text out of the system; the stored
// record keeps just the reasoning fingerprint.
package events

import (
	"context"

	"github.com/signalmesh/registry/internal/app/domain/signal"
	"github.com/signalmesh/registry/internal/app/identity"
	"github.com/signalmesh/registry/pkg/logger"
)

// Event is one externally observable state transition.
type Event interface {
	EventKind() string
}

// SignalPublished records a new signal entering the registry.
type SignalPublished struct {
	Agent       identity.Address `json:"agent"`
	Signal      identity.Address `json:"signal"`
	Asset       string           `json:"asset"`
	Direction   signal.Direction `json:"direction"`
	Confidence  uint8            `json:"confidence"`
	EntryPrice  uint64           `json:"entry_price"`
	TargetPrice uint64           `json:"target_price"`
	TimeHorizon int64            `json:"time_horizon"`
	Timestamp   int64            `json:"timestamp"`
}

func (SignalPublished) EventKind() string { return "signal.published" }

// SignalResolved records a settlement.
type SignalResolved struct {
	Agent           identity.Address `json:"agent"`
	Signal          identity.Address `json:"signal"`
	Outcome         signal.Outcome   `json:"outcome"`
	ResolutionPrice uint64           `json:"resolution_price"`
	AccuracyBps     uint16           `json:"accuracy_bps"`
	Timestamp       int64            `json:"timestamp"`
}

func (SignalResolved) EventKind() string { return "signal.resolved" }

// SubscriptionCreated records a new paid access grant.
type SubscriptionCreated struct {
	Subscriber identity.Address `json:"subscriber"`
	Agent      identity.Address `json:"agent"`
	FeePaid    uint64           `json:"fee_paid"`
	ExpiresAt  int64            `json:"expires_at"`
	Timestamp  int64            `json:"timestamp"`
}

func (SubscriptionCreated) EventKind() string { return "subscription.created" }

// SignalConsumed records proof of access to a signal.
type SignalConsumed struct {
	Subscriber  identity.Address `json:"subscriber"`
	Signal      identity.Address `json:"signal"`
	SignalIndex uint64           `json:"signal_index"`
	Timestamp   int64            `json:"timestamp"`
}

func (SignalConsumed) EventKind() string { return "signal.consumed" }

// Emitter appends events to an external sink.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, ev Event)

func (f EmitterFunc) Emit(ctx context.Context, ev Event) {
	if f == nil {
		return
	}
	f(ctx, ev)
}

// Nop returns an emitter that discards everything.
func Nop() Emitter {
	return EmitterFunc(nil)
}

// LogEmitter writes events to the structured log. Useful on its own for local
// runs and as a fallback sink next to the stream emitter.
type LogEmitter struct {
	log *logger.Logger
}

// NewLogEmitter constructs a log-backed emitter.
func NewLogEmitter(log *logger.Logger) *LogEmitter {
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &LogEmitter{log: log}
}

func (e *LogEmitter) Emit(_ context.Context, ev Event) {
	e.log.WithField("event", ev.EventKind()).WithField("payload", ev).Info("event emitted")
}

// Multi fans one event out to several sinks.
func Multi(emitters ...Emitter) Emitter {
	return EmitterFunc(func(ctx context.Context, ev Event) {
		for _, em := range emitters {
			if em != nil {
				em.Emit(ctx, ev)
			}
		}
	})
}

// Capture is a test helper emitter collecting everything it sees.
type Capture struct {
	Events []Event
}

func (c *Capture) Emit(_ context.Context, ev Event) {
	c.Events = append(c.Events, ev)
}
