// Package signal defines the signal record, its lifecycle states, and the
// reasoning fingerprint.
package signal

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/signalmesh/registry/internal/app/identity"
)

const (
	// MaxAssetLen bounds the asset symbol (e.g. "SOL/USDC") in bytes.
	MaxAssetLen = 32
	// MaxReasoningLen bounds the reasoning text in bytes.
	MaxReasoningLen = 512
	// MaxConfidence is the upper bound of the confidence scale.
	MaxConfidence = 100
)

var (
	ErrAssetTooLong          = errors.New("asset symbol too long (max 32 bytes)")
	ErrInvalidConfidence     = errors.New("confidence must be 0-100")
	ErrReasoningTooLong      = errors.New("reasoning text too long (max 512 bytes)")
	ErrInvalidTimeHorizon    = errors.New("time horizon must be in the future")
	ErrAlreadyResolved       = errors.New("signal already resolved")
	ErrTimeHorizonNotReached = errors.New("time horizon not yet reached")
	ErrUnauthorized          = errors.New("profile does not own signal")
)

// Direction is the side of a prediction.
type Direction uint8

const (
	Long Direction = iota
	Short
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	}
	return fmt.Sprintf("direction(%d)", uint8(d))
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection maps "long"/"short" to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "long":
		return Long, nil
	case "short":
		return Short, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// Outcome is the settlement state of a signal. Expired is reserved in the
// persisted layout; no operation produces it.
type Outcome uint8

const (
	Pending Outcome = iota
	Correct
	Incorrect
	Expired
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Correct:
		return "correct"
	case Incorrect:
		return "incorrect"
	case Expired:
		return "expired"
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	parsed, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// ParseOutcome maps an outcome name to an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "pending":
		return Pending, nil
	case "correct":
		return Correct, nil
	case "incorrect":
		return Incorrect, nil
	case "expired":
		return Expired, nil
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

// Record is one published prediction. Written once at publish, mutated exactly
// once at resolution, never deleted. EntryPrice, TargetPrice and StopLoss
// carry no relative-ordering validation; StopLoss is informational only and
// never consulted by settlement.
type Record struct {
	Address         identity.Address `json:"address"`
	Agent           identity.Address `json:"agent"`
	Index           uint64           `json:"index"`
	Asset           string           `json:"asset"`
	Direction       Direction        `json:"direction"`
	Confidence      uint8            `json:"confidence"`
	EntryPrice      uint64           `json:"entry_price"`
	TargetPrice     uint64           `json:"target_price"`
	StopLoss        uint64           `json:"stop_loss"`
	TimeHorizon     int64            `json:"time_horizon"`
	ReasoningHash   [32]byte         `json:"reasoning_hash"`
	CreatedAt       int64            `json:"created_at"`
	Resolved        bool             `json:"resolved"`
	Outcome         Outcome          `json:"outcome"`
	ResolutionPrice uint64           `json:"resolution_price"`
}

// CorrectAt reports whether the signal settles correct at the given price.
// Long settles correct when the price is at or above target, short when it is
// at or below; equality counts for both sides.
func (r Record) CorrectAt(resolutionPrice uint64) bool {
	if r.Direction == Short {
		return resolutionPrice <= r.TargetPrice
	}
	return resolutionPrice >= r.TargetPrice
}

// FingerprintReasoning computes the lossy 32-byte digest stored in place of
// the reasoning text: the first 32 bytes of the UTF-8 input, zero-padded,
// with the little-endian untruncated byte length XORed into bytes 24..32.
// Two inputs sharing a 32-byte prefix and total length collide; that is the
// documented contract, not a defect. This is not a cryptographic hash.
func FingerprintReasoning(reasoning string) [32]byte {
	var fp [32]byte
	raw := []byte(reasoning)
	copy(fp[:], raw)

	var length [8]byte
	binary.LittleEndian.PutUint64(length[:], uint64(len(raw)))
	for i := 0; i < 8; i++ {
		fp[24+i] ^= length[i]
	}
	return fp
}
