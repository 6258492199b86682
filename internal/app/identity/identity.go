// Package identity derives deterministic 256-bit storage addresses for every
// record kind in the registry. Re-deriving the address on demand replaces a
// directory lookup: the same (kind, components) tuple always lands on the same
// address, so double-creation surfaces as a key conflict in the store.
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// AddressLength is the byte length of an Address (256 bits).
const AddressLength = 32

// Address is a 256-bit identifier. It names both external identities (agents,
// subscribers) and derived record addresses; the two occupy the same key space
// exactly like public keys and program-derived addresses do on a ledger.
type Address [AddressLength]byte

// Kind is the record kind a derived address belongs to.
type Kind string

const (
	KindRegistry     Kind = "registry"
	KindAgentProfile Kind = "agent"
	KindSignal       Kind = "signal"
	KindSubscription Kind = "subscription"
	KindConsumption  Kind = "consumption"
)

// derivationSalt domain-separates registry addresses from any other use of
// SHA-256 over similar inputs.
const derivationSalt = "signalmesh.registry.v1"

// Derive computes the address for a (kind, components) tuple. Every component
// is length-framed so distinct tuples can never produce the same preimage.
func Derive(kind Kind, components ...[]byte) Address {
	h := sha256.New()
	h.Write([]byte(derivationSalt))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	for _, c := range components {
		var frame [8]byte
		binary.LittleEndian.PutUint64(frame[:], uint64(len(c)))
		h.Write(frame[:])
		h.Write(c)
	}
	var addr Address
	copy(addr[:], h.Sum(nil))
	return addr
}

// Registry returns the address of the global registry singleton.
func Registry() Address {
	return Derive(KindRegistry)
}

// AgentProfile returns the profile address for an agent identity.
func AgentProfile(agent Address) Address {
	return Derive(KindAgentProfile, agent[:])
}

// Signal returns the address of the signal an agent publishes at the given
// registry sequence number. The sequence is the post-increment counter value,
// so addresses are unpredictable until publish time and never reused.
func Signal(agent Address, index uint64) Address {
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], index)
	return Derive(KindSignal, agent[:], seq[:])
}

// Subscription returns the address of the (subscriber, agent) access grant.
func Subscription(subscriber, agent Address) Address {
	return Derive(KindSubscription, subscriber[:], agent[:])
}

// Consumption returns the address of the (subscriber, signal) access proof.
func Consumption(subscriber, signal Address) Address {
	return Derive(KindConsumption, subscriber[:], signal[:])
}

// String renders the address as lowercase hex.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the address is the all-zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Parse decodes a 64-character hex string into an Address.
func Parse(s string) (Address, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("parse address: %w", err)
	}
	if len(raw) != AddressLength {
		return Address{}, fmt.Errorf("parse address: expected %d bytes, got %d", AddressLength, len(raw))
	}
	var addr Address
	copy(addr[:], raw)
	return addr, nil
}

// FromSeed deterministically builds an identity from an arbitrary seed string.
// Convenience for tests and local tooling; real identities arrive as verified
// caller keys from the execution environment.
func FromSeed(seed string) Address {
	return sha256.Sum256([]byte(seed))
}
