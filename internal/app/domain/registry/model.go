// Package registry defines the global registry singleton.
package registry

import "github.com/signalmesh/registry/internal/app/identity"

// Record is the one registry entity. TotalSignals is the source of truth for
// signal sequence numbers: it increases by exactly one per successful publish
// and is never decremented or reused. SignalFee is carried in the persisted
// layout but currently always zero; publishing is free.
type Record struct {
	Address      identity.Address `json:"address"`
	Authority    identity.Address `json:"authority"`
	TotalSignals uint64           `json:"total_signals"`
	TotalAgents  uint64           `json:"total_agents"`
	SignalFee    uint64           `json:"signal_fee"`
	CreatedAt    int64            `json:"created_at"`
}
