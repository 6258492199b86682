// Package signals implements the signal lifecycle: publish, then exactly one
// resolution against an observed price. Each public operation runs as one
// atomic unit over the fixed entity set it declares; a failure leaves no
// partial writes and emits no events.
package signals

import (
	"context"
	"time"

	"github.com/signalmesh/registry/internal/app/domain/agent"
	"github.com/signalmesh/registry/internal/app/domain/signal"
	"github.com/signalmesh/registry/internal/app/events"
	"github.com/signalmesh/registry/internal/app/identity"
	"github.com/signalmesh/registry/internal/app/metrics"
	"github.com/signalmesh/registry/internal/app/storage"
	"github.com/signalmesh/registry/pkg/logger"
)

// Service is the signal lifecycle engine.
type Service struct {
	store   storage.Store
	emitter events.Emitter
	log     *logger.Logger
	now     func() time.Time
}

// New constructs a signal service.
func New(store storage.Store, emitter events.Emitter, log *logger.Logger) *Service {
	if emitter == nil {
		emitter = events.Nop()
	}
	if log == nil {
		log = logger.NewDefault("signals")
	}
	return &Service{
		store:   store,
		emitter: emitter,
		log:     log,
		now:     time.Now,
	}
}

// PublishInput carries the caller-supplied fields of a new signal. No
// relative-ordering validation is applied across the three prices; that is
// left to the agent's judgment.
type PublishInput struct {
	Asset       string
	Direction   signal.Direction
	Confidence  uint8
	EntryPrice  uint64
	TargetPrice uint64
	StopLoss    uint64
	TimeHorizon int64
	Reasoning   string
}

// Publish validates the input, assigns the next registry sequence number and
// writes the new signal atomically with both counter bumps. The registry
// counter is read and incremented inside the same atomic unit, so index
// assignment is race-free and indexes start at 1.
func (s *Service) Publish(ctx context.Context, agentID identity.Address, in PublishInput) (signal.Record, error) {
	now := s.now().Unix()

	if len(in.Asset) > signal.MaxAssetLen {
		metrics.RecordRejection("publish", "asset_too_long")
		return signal.Record{}, signal.ErrAssetTooLong
	}
	if in.Confidence > signal.MaxConfidence {
		metrics.RecordRejection("publish", "invalid_confidence")
		return signal.Record{}, signal.ErrInvalidConfidence
	}
	if len(in.Reasoning) > signal.MaxReasoningLen {
		metrics.RecordRejection("publish", "reasoning_too_long")
		return signal.Record{}, signal.ErrReasoningTooLong
	}
	if in.TimeHorizon <= now {
		metrics.RecordRejection("publish", "invalid_time_horizon")
		return signal.Record{}, signal.ErrInvalidTimeHorizon
	}

	var rec signal.Record
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		reg, err := tx.GetRegistry(identity.Registry())
		if err != nil {
			return err
		}
		profAddr := identity.AgentProfile(agentID)
		prof, err := tx.GetAgentProfile(profAddr)
		if err != nil {
			return err
		}

		reg.TotalSignals++
		index := reg.TotalSignals
		prof.TotalSignals++

		rec = signal.Record{
			Address:       identity.Signal(agentID, index),
			Agent:         agentID,
			Index:         index,
			Asset:         in.Asset,
			Direction:     in.Direction,
			Confidence:    in.Confidence,
			EntryPrice:    in.EntryPrice,
			TargetPrice:   in.TargetPrice,
			StopLoss:      in.StopLoss,
			TimeHorizon:   in.TimeHorizon,
			ReasoningHash: signal.FingerprintReasoning(in.Reasoning),
			CreatedAt:     now,
			Resolved:      false,
			Outcome:       signal.Pending,
		}

		if err := tx.CreateSignal(rec.Address, rec); err != nil {
			return err
		}
		if err := tx.PutAgentProfile(profAddr, prof); err != nil {
			return err
		}
		return tx.PutRegistry(reg.Address, reg)
	})
	if err != nil {
		return signal.Record{}, err
	}

	s.emitter.Emit(ctx, events.SignalPublished{
		Agent:       agentID,
		Signal:      rec.Address,
		Asset:       rec.Asset,
		Direction:   rec.Direction,
		Confidence:  rec.Confidence,
		EntryPrice:  rec.EntryPrice,
		TargetPrice: rec.TargetPrice,
		TimeHorizon: rec.TimeHorizon,
		Timestamp:   now,
	})
	metrics.RecordPublish()

	s.log.WithField("agent", agentID.String()).
		WithField("signal", rec.Address.String()).
		WithField("index", rec.Index).
		WithField("asset", rec.Asset).
		Info("signal published")
	return rec, nil
}

// Resolve settles a signal against an observed price and folds the outcome
// into the author's profile. Resolution is permissionless: any caller may
// trigger it, but the profile being updated must belong to the signal's
// author. Calling twice always fails the second time with ErrAlreadyResolved.
func (s *Service) Resolve(ctx context.Context, signalAddr, agentID identity.Address, resolutionPrice uint64) (signal.Record, agent.Profile, error) {
	now := s.now().Unix()

	var (
		rec  signal.Record
		prof agent.Profile
	)
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		var err error
		rec, err = tx.GetSignal(signalAddr)
		if err != nil {
			return err
		}

		profAddr := identity.AgentProfile(agentID)
		prof, err = tx.GetAgentProfile(profAddr)
		if err != nil {
			return err
		}
		if rec.Agent != prof.Authority {
			return signal.ErrUnauthorized
		}
		if rec.Resolved {
			return signal.ErrAlreadyResolved
		}
		if now < rec.TimeHorizon {
			return signal.ErrTimeHorizonNotReached
		}

		correct := rec.CorrectAt(resolutionPrice)
		rec.Resolved = true
		rec.ResolutionPrice = resolutionPrice
		if correct {
			rec.Outcome = signal.Correct
		} else {
			rec.Outcome = signal.Incorrect
		}

		prof.RecordOutcome(correct)

		if err := tx.PutSignal(signalAddr, rec); err != nil {
			return err
		}
		return tx.PutAgentProfile(profAddr, prof)
	})
	if err != nil {
		metrics.RecordRejection("resolve", rejectReason(err))
		return signal.Record{}, agent.Profile{}, err
	}

	s.emitter.Emit(ctx, events.SignalResolved{
		Agent:           rec.Agent,
		Signal:          signalAddr,
		Outcome:         rec.Outcome,
		ResolutionPrice: resolutionPrice,
		AccuracyBps:     prof.AccuracyBps,
		Timestamp:       now,
	})
	metrics.RecordResolution(rec.Outcome.String())

	s.log.WithField("signal", signalAddr.String()).
		WithField("outcome", rec.Outcome.String()).
		WithField("resolution_price", resolutionPrice).
		WithField("accuracy_bps", prof.AccuracyBps).
		Info("signal resolved")
	return rec, prof, nil
}

// Get returns a signal by address.
func (s *Service) Get(ctx context.Context, addr identity.Address) (signal.Record, error) {
	return s.store.GetSignal(ctx, addr)
}

// ListByAgent returns an agent's signals ordered by index.
func (s *Service) ListByAgent(ctx context.Context, agentID identity.Address) ([]signal.Record, error) {
	return s.store.ListSignalsByAgent(ctx, agentID)
}

// ListDue returns unresolved signals whose horizon has passed.
func (s *Service) ListDue(ctx context.Context) ([]signal.Record, error) {
	return s.store.ListUnresolvedBefore(ctx, s.now().Unix())
}

func rejectReason(err error) string {
	switch err {
	case signal.ErrUnauthorized:
		return "unauthorized"
	case signal.ErrAlreadyResolved:
		return "already_resolved"
	case signal.ErrTimeHorizonNotReached:
		return "horizon_not_reached"
	case storage.ErrNotFound:
		return "not_found"
	}
	return "error"
}
