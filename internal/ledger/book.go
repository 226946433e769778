// Package ledger provides in-memory token ledgers the pool settles
// against: the settlement unit, the per-side claim tokens and the fee
// treasury. They mirror the ownership rules of their on-chain
// counterparts: only the owner (and, for the settlement unit, its
// operators) can mint or burn.
package ledger

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrInsufficientFunds     = errors.New("ledger: insufficient funds")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")

	// ErrUnauthorized is returned when a non-owner tries to mint, burn or
	// change ownership.
	ErrUnauthorized = errors.New("ledger: caller not authorized")

	// ErrNoReserve is returned by Exchange when no reserve coin is accepted.
	ErrNoReserve = errors.New("ledger: no reserve coin accepted")

	ErrInvalidAmount  = errors.New("ledger: amount must be positive")
	ErrInvalidAccount = errors.New("ledger: account is required")
)

// book is a balance table with a running total supply. It is not
// synchronized; the owning ledger holds the lock.
type book struct {
	balances map[string]*uint256.Int
	supply   uint256.Int
}

func newBook() book {
	return book{balances: make(map[string]*uint256.Int)}
}

func (b *book) balanceOf(account string) *uint256.Int {
	if v, ok := b.balances[account]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

func (b *book) credit(account string, amount *uint256.Int) {
	v, ok := b.balances[account]
	if !ok {
		v = new(uint256.Int)
		b.balances[account] = v
	}
	v.Add(v, amount)
}

func (b *book) debit(account string, amount *uint256.Int) error {
	v, ok := b.balances[account]
	if !ok || v.Lt(amount) {
		have := "0"
		if ok {
			have = v.Dec()
		}
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, account, have, amount.Dec())
	}
	v.Sub(v, amount)
	if v.IsZero() {
		delete(b.balances, account)
	}
	return nil
}

func (b *book) mint(to string, amount *uint256.Int) {
	b.credit(to, amount)
	b.supply.Add(&b.supply, amount)
}

func (b *book) burn(from string, amount *uint256.Int) error {
	if err := b.debit(from, amount); err != nil {
		return err
	}
	b.supply.Sub(&b.supply, amount)
	return nil
}

func (b *book) transfer(from, to string, amount *uint256.Int) error {
	if err := b.debit(from, amount); err != nil {
		return err
	}
	b.credit(to, amount)
	return nil
}

func checkAmount(account string, amount *uint256.Int) error {
	if account == "" {
		return ErrInvalidAccount
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}
