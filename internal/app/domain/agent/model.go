// Package agent defines agent profiles and the reputation arithmetic applied
// at signal resolution.
package agent

import (
	"errors"
	"math"

	"github.com/signalmesh/registry/internal/app/identity"
)

// MaxNameLen bounds the agent display name in bytes.
const MaxNameLen = 32

// ErrNameTooLong rejects registration names longer than MaxNameLen bytes.
var ErrNameTooLong = errors.New("agent name too long (max 32 bytes)")

// Profile is one agent's persistent reputation record. ExpiredSignals is part
// of the persisted layout but no operation increments it today.
type Profile struct {
	Address          identity.Address `json:"address"`
	Authority        identity.Address `json:"authority"`
	Name             string           `json:"name"`
	TotalSignals     uint32           `json:"total_signals"`
	CorrectSignals   uint32           `json:"correct_signals"`
	IncorrectSignals uint32           `json:"incorrect_signals"`
	ExpiredSignals   uint32           `json:"expired_signals"`
	AccuracyBps      uint16           `json:"accuracy_bps"`
	ReputationScore  uint64           `json:"reputation_score"`
	CreatedAt        int64            `json:"created_at"`
}

// RecordOutcome applies one resolved signal to the profile counters and
// recomputes the derived scores. accuracy_bps = floor(correct*10000/resolved);
// reputation = floor(accuracy_bps*resolved/100), saturating to zero if the
// multiplication would overflow. Reputation is advisory, not a balance.
func (p *Profile) RecordOutcome(correct bool) {
	if correct {
		p.CorrectSignals++
	} else {
		p.IncorrectSignals++
	}

	resolved := uint64(p.CorrectSignals) + uint64(p.IncorrectSignals)
	if resolved > 0 {
		p.AccuracyBps = uint16(uint64(p.CorrectSignals) * 10000 / resolved)
	}

	bps := uint64(p.AccuracyBps)
	if bps != 0 && resolved > math.MaxUint64/bps {
		p.ReputationScore = 0
		return
	}
	p.ReputationScore = bps * resolved / 100
}
