package ledger

import (
	"context"
	"sync"

	"github.com/holiman/uint256"
)

// Transferer moves settlement units between accounts.
type Transferer interface {
	Transfer(ctx context.Context, from, to string, amount *uint256.Int) error
}

// Treasury is an account on the settlement ledger that collects fees.
type Treasury struct {
	address string
	ledger  Transferer

	mu       sync.Mutex
	received uint256.Int
}

func NewTreasury(address string, ledger Transferer) *Treasury {
	return &Treasury{address: address, ledger: ledger}
}

func (t *Treasury) Address() string { return t.address }

// Receive transfers amount from the payer into the treasury account.
func (t *Treasury) Receive(ctx context.Context, from string, amount *uint256.Int) error {
	if err := t.ledger.Transfer(ctx, from, t.address, amount); err != nil {
		return err
	}
	t.mu.Lock()
	t.received.Add(&t.received, amount)
	t.mu.Unlock()
	return nil
}

// Received is the total collected since startup.
func (t *Treasury) Received() *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.received.Clone()
}
