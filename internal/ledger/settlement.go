package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

// Spender moves a holder's balance on the strength of an allowance.
type Spender interface {
	TransferFrom(ctx context.Context, spender, holder, to string, amount *uint256.Int) error
}

// Settlement is the unit-of-account token. The owner and any operator it
// appoints (the pools) may mint and burn; everyone else can only move
// their own balance or spend an allowance.
//
// When a reserve coin is accepted, holders can exchange it 1:1 for
// settlement units. The reserve is kept at ReserveAddress.
type Settlement struct {
	mu         sync.RWMutex
	symbol     string
	owner      string
	operators  map[string]bool
	book       book
	allowances map[string]map[string]*uint256.Int
	reserve    Spender
}

func NewSettlement(symbol, owner string) *Settlement {
	return &Settlement{
		symbol:     symbol,
		owner:      owner,
		operators:  make(map[string]bool),
		book:       newBook(),
		allowances: make(map[string]map[string]*uint256.Int),
	}
}

func (l *Settlement) Symbol() string { return l.symbol }
func (l *Settlement) Owner() string  { return l.owner }

// ReserveAddress is the account that spends and holds exchanged reserve
// coins. Holders approve it on the reserve ledger before exchanging.
func (l *Settlement) ReserveAddress() string { return "reserve:" + l.symbol }

// AcceptReserve enables Exchange against coin. Only the owner may call it.
func (l *Settlement) AcceptReserve(_ context.Context, caller string, coin Spender) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return fmt.Errorf("%w: %s is not the owner of %s", ErrUnauthorized, caller, l.symbol)
	}
	l.reserve = coin
	return nil
}

// Exchange pulls amount of the reserve coin from account into the reserve
// and mints the same amount of settlement units to account.
func (l *Settlement) Exchange(ctx context.Context, account string, amount *uint256.Int) error {
	if err := checkAmount(account, amount); err != nil {
		return err
	}
	l.mu.RLock()
	coin := l.reserve
	l.mu.RUnlock()
	if coin == nil {
		return fmt.Errorf("%w: %s", ErrNoReserve, l.symbol)
	}

	vault := l.ReserveAddress()
	if err := coin.TransferFrom(ctx, vault, account, vault, amount); err != nil {
		return fmt.Errorf("pull reserve: %w", err)
	}
	l.mu.Lock()
	l.book.mint(account, amount)
	l.mu.Unlock()
	return nil
}

// AddOperator lets operator mint and burn. Only the owner may call it.
func (l *Settlement) AddOperator(_ context.Context, caller, operator string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return fmt.Errorf("%w: %s is not the owner of %s", ErrUnauthorized, caller, l.symbol)
	}
	if operator == "" {
		return ErrInvalidAccount
	}
	l.operators[operator] = true
	return nil
}

func (l *Settlement) Mint(_ context.Context, caller, to string, amount *uint256.Int) error {
	if err := checkAmount(to, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.authorized(caller) {
		return fmt.Errorf("%w: %s cannot mint %s", ErrUnauthorized, caller, l.symbol)
	}
	l.book.mint(to, amount)
	return nil
}

func (l *Settlement) Burn(_ context.Context, caller, from string, amount *uint256.Int) error {
	if err := checkAmount(from, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.authorized(caller) {
		return fmt.Errorf("%w: %s cannot burn %s", ErrUnauthorized, caller, l.symbol)
	}
	return l.book.burn(from, amount)
}

func (l *Settlement) Transfer(_ context.Context, from, to string, amount *uint256.Int) error {
	if err := checkAmount(to, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.book.transfer(from, to, amount)
}

// Approve sets the amount spender may move out of holder's balance.
func (l *Settlement) Approve(_ context.Context, holder, spender string, amount *uint256.Int) error {
	if holder == "" || spender == "" {
		return ErrInvalidAccount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	byHolder, ok := l.allowances[holder]
	if !ok {
		byHolder = make(map[string]*uint256.Int)
		l.allowances[holder] = byHolder
	}
	if amount == nil || amount.IsZero() {
		delete(byHolder, spender)
		return nil
	}
	byHolder[spender] = amount.Clone()
	return nil
}

func (l *Settlement) Allowance(_ context.Context, holder, spender string) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if v, ok := l.allowances[holder][spender]; ok {
		return v.Clone(), nil
	}
	return new(uint256.Int), nil
}

// TransferFrom moves amount from holder to to on behalf of spender. The
// allowance is checked before the balance and neither changes on failure.
func (l *Settlement) TransferFrom(_ context.Context, spender, holder, to string, amount *uint256.Int) error {
	if err := checkAmount(to, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed, ok := l.allowances[holder][spender]
	if !ok || allowed.Lt(amount) {
		have := "0"
		if ok {
			have = allowed.Dec()
		}
		return fmt.Errorf("%w: %s allows %s %s, needs %s",
			ErrInsufficientAllowance, holder, spender, have, amount.Dec())
	}
	if err := l.book.transfer(holder, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	if allowed.IsZero() {
		delete(l.allowances[holder], spender)
	}
	return nil
}

func (l *Settlement) BalanceOf(_ context.Context, account string) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.book.balanceOf(account), nil
}

func (l *Settlement) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.book.supply.Clone()
}

func (l *Settlement) authorized(caller string) bool {
	return caller == l.owner || l.operators[caller]
}
