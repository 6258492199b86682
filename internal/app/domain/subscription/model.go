// Package subscription defines paid access grants and consumption proofs.
package subscription

import (
	"errors"

	"github.com/signalmesh/registry/internal/app/identity"
)

// TermSeconds is the fixed subscription term: 30 days.
const TermSeconds int64 = 30 * 24 * 60 * 60

var (
	ErrInvalidFee           = errors.New("subscription fee must be nonzero")
	ErrSubscriptionInactive = errors.New("subscription inactive")
	ErrSubscriptionExpired  = errors.New("subscription expired")
)

// Record is one (subscriber, agent) access grant. Active is written true at
// creation and never flipped; expiry is decided by comparing the clock to
// ExpiresAt. The field is reserved for a future revocation path.
type Record struct {
	Address      identity.Address `json:"address"`
	Subscriber   identity.Address `json:"subscriber"`
	Agent        identity.Address `json:"agent"`
	FeePaid      uint64           `json:"fee_paid"`
	SubscribedAt int64            `json:"subscribed_at"`
	ExpiresAt    int64            `json:"expires_at"`
	Active       bool             `json:"active"`
}

// ExpiredAt reports whether the grant is expired at the given time.
func (r Record) ExpiredAt(now int64) bool {
	return now >= r.ExpiresAt
}

// Consumption is the write-once proof that a subscriber consumed a signal.
// Its existence is the invariant: the derived (subscriber, signal) address
// collides on a second attempt, so duplicates cannot be created.
type Consumption struct {
	Address    identity.Address `json:"address"`
	Subscriber identity.Address `json:"subscriber"`
	Signal     identity.Address `json:"signal"`
	ConsumedAt int64            `json:"consumed_at"`
}
