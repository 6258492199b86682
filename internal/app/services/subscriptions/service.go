// Package subscriptions sells time-limited read-access grants and records
// consumption proofs against them.
package subscriptions

import (
	"context"
	"time"

	"github.com/signalmesh/registry/internal/app/domain/subscription"
	"github.com/signalmesh/registry/internal/app/events"
	"github.com/signalmesh/registry/internal/app/identity"
	"github.com/signalmesh/registry/internal/app/metrics"
	"github.com/signalmesh/registry/internal/app/storage"
	"github.com/signalmesh/registry/pkg/logger"
)

// FundsTransfer is the external funds collaborator. A transfer must either
// fully succeed or leave both balances untouched.
type FundsTransfer interface {
	Transfer(ctx context.Context, from, to identity.Address, amount uint64) error
}

// FundsTransferFunc adapts a function to the FundsTransfer interface.
type FundsTransferFunc func(ctx context.Context, from, to identity.Address, amount uint64) error

func (f FundsTransferFunc) Transfer(ctx context.Context, from, to identity.Address, amount uint64) error {
	return f(ctx, from, to, amount)
}

// Service is the subscription gateway.
type Service struct {
	store   storage.Store
	funds   FundsTransfer
	emitter events.Emitter
	log     *logger.Logger
	now     func() time.Time
}

// New constructs a subscription service.
func New(store storage.Store, funds FundsTransfer, emitter events.Emitter, log *logger.Logger) *Service {
	if funds == nil {
		funds = NewMemoryLedger()
	}
	if emitter == nil {
		emitter = events.Nop()
	}
	if log == nil {
		log = logger.NewDefault("subscriptions")
	}
	return &Service{
		store:   store,
		funds:   funds,
		emitter: emitter,
		log:     log,
		now:     time.Now,
	}
}

// Subscribe transfers the fee and creates the (subscriber, agent) grant as
// one all-or-nothing unit. The record is created before the transfer so a
// duplicate pair is rejected before any money moves; the transfer is the
// last fallible step inside the unit, so a failed transfer rolls the record
// back. There is no renewal path: a second subscribe for the same pair fails
// with storage.ErrAlreadyExists.
func (s *Service) Subscribe(ctx context.Context, subscriber, agentID identity.Address, fee uint64) (subscription.Record, error) {
	if fee == 0 {
		metrics.RecordRejection("subscribe", "invalid_fee")
		return subscription.Record{}, subscription.ErrInvalidFee
	}

	now := s.now().Unix()
	rec := subscription.Record{
		Address:      identity.Subscription(subscriber, agentID),
		Subscriber:   subscriber,
		Agent:        agentID,
		FeePaid:      fee,
		SubscribedAt: now,
		ExpiresAt:    now + subscription.TermSeconds,
		Active:       true,
	}

	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetAgentProfile(identity.AgentProfile(agentID)); err != nil {
			return err
		}
		if err := tx.CreateSubscription(rec.Address, rec); err != nil {
			return err
		}
		return s.funds.Transfer(ctx, subscriber, agentID, fee)
	})
	if err != nil {
		return subscription.Record{}, err
	}

	s.emitter.Emit(ctx, events.SubscriptionCreated{
		Subscriber: subscriber,
		Agent:      agentID,
		FeePaid:    fee,
		ExpiresAt:  rec.ExpiresAt,
		Timestamp:  now,
	})
	metrics.RecordSubscription()

	s.log.WithField("subscriber", subscriber.String()).
		WithField("agent", agentID.String()).
		WithField("fee", fee).
		Info("subscription created")
	return rec, nil
}

// Consume records proof that the subscriber accessed the signal. The grant
// for (subscriber, signal author) must exist, be active and be unexpired;
// a repeat call for the same (subscriber, signal) pair fails with
// storage.ErrAlreadyExists, which is what prevents double-counting.
func (s *Service) Consume(ctx context.Context, subscriber, signalAddr identity.Address) (subscription.Consumption, error) {
	now := s.now().Unix()

	var (
		rec         subscription.Consumption
		signalIndex uint64
	)
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		sig, err := tx.GetSignal(signalAddr)
		if err != nil {
			return err
		}
		signalIndex = sig.Index

		sub, err := tx.GetSubscription(identity.Subscription(subscriber, sig.Agent))
		if err != nil {
			return err
		}
		if !sub.Active {
			return subscription.ErrSubscriptionInactive
		}
		if sub.ExpiredAt(now) {
			return subscription.ErrSubscriptionExpired
		}

		rec = subscription.Consumption{
			Address:    identity.Consumption(subscriber, signalAddr),
			Subscriber: subscriber,
			Signal:     signalAddr,
			ConsumedAt: now,
		}
		return tx.CreateConsumption(rec.Address, rec)
	})
	if err != nil {
		metrics.RecordRejection("consume", consumeReason(err))
		return subscription.Consumption{}, err
	}

	s.emitter.Emit(ctx, events.SignalConsumed{
		Subscriber:  subscriber,
		Signal:      signalAddr,
		SignalIndex: signalIndex,
		Timestamp:   now,
	})
	metrics.RecordConsumption()

	s.log.WithField("subscriber", subscriber.String()).
		WithField("signal", signalAddr.String()).
		Info("signal consumed")
	return rec, nil
}

// GetSubscription returns the grant for a (subscriber, agent) pair.
func (s *Service) GetSubscription(ctx context.Context, subscriber, agentID identity.Address) (subscription.Record, error) {
	return s.store.GetSubscription(ctx, identity.Subscription(subscriber, agentID))
}

// GetConsumption returns the proof for a (subscriber, signal) pair.
func (s *Service) GetConsumption(ctx context.Context, subscriber, signalAddr identity.Address) (subscription.Consumption, error) {
	return s.store.GetConsumption(ctx, identity.Consumption(subscriber, signalAddr))
}

func consumeReason(err error) string {
	switch err {
	case subscription.ErrSubscriptionInactive:
		return "inactive"
	case subscription.ErrSubscriptionExpired:
		return "expired"
	case storage.ErrAlreadyExists:
		return "already_consumed"
	case storage.ErrNotFound:
		return "not_found"
	}
	return "error"
}
