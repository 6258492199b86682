package subscriptions

import (
	"context"
	"errors"
	"sync"

	"github.com/signalmesh/registry/internal/app/identity"
)

// ErrInsufficientFunds rejects a transfer exceeding the sender's balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// MemoryLedger is an in-process FundsTransfer for tests and local runs. In
// production the transfer is the hosting ledger's job; this stand-in keeps
// the same atomicity contract at the scale of one balance map.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[identity.Address]uint64
}

var _ FundsTransfer = (*MemoryLedger)(nil)

// NewMemoryLedger creates a ledger with no balances.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[identity.Address]uint64)}
}

// Credit adds funds to an account.
func (l *MemoryLedger) Credit(addr identity.Address, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] += amount
}

// Balance returns the current balance of an account.
func (l *MemoryLedger) Balance(addr identity.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr]
}

// Transfer moves amount from one account to another, failing without side
// effects when the sender's balance is short.
func (l *MemoryLedger) Transfer(_ context.Context, from, to identity.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from] < amount {
		return ErrInsufficientFunds
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}
