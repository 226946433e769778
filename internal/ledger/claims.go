package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

// Claims is the claim token of one pool side. Only the owner can mint or
// burn; ownership moves to the pool when it is deployed.
type Claims struct {
	mu     sync.RWMutex
	ticker string
	owner  string
	book   book
}

func NewClaims(ticker, owner string) *Claims {
	return &Claims{ticker: ticker, owner: owner, book: newBook()}
}

func (c *Claims) Ticker() string { return c.ticker }

func (c *Claims) Owner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner
}

func (c *Claims) TransferOwnership(_ context.Context, caller, newOwner string) error {
	if newOwner == "" {
		return ErrInvalidAccount
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.owner {
		return fmt.Errorf("%w: %s is not the owner of %s", ErrUnauthorized, caller, c.ticker)
	}
	c.owner = newOwner
	return nil
}

func (c *Claims) Mint(_ context.Context, caller, to string, amount *uint256.Int) error {
	if err := checkAmount(to, amount); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.owner {
		return fmt.Errorf("%w: %s cannot mint %s", ErrUnauthorized, caller, c.ticker)
	}
	c.book.mint(to, amount)
	return nil
}

func (c *Claims) Burn(_ context.Context, caller, from string, amount *uint256.Int) error {
	if err := checkAmount(from, amount); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.owner {
		return fmt.Errorf("%w: %s cannot burn %s", ErrUnauthorized, caller, c.ticker)
	}
	return c.book.burn(from, amount)
}

func (c *Claims) BalanceOf(_ context.Context, account string) (*uint256.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.book.balanceOf(account), nil
}

func (c *Claims) TotalSupply() *uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.book.supply.Clone()
}
