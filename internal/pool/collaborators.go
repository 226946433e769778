package pool

import (
	"context"

	"github.com/holiman/uint256"
)

// PriceFeed supplies the current reference price for the pool's asset.
type PriceFeed interface {
	Price(ctx context.Context) (*uint256.Int, error)
}

// SettlementLedger is the unit-of-account token. Mint and Burn are
// restricted to the ledger owner and its operators; the pool must be one.
type SettlementLedger interface {
	Mint(ctx context.Context, caller, to string, amount *uint256.Int) error
	Burn(ctx context.Context, caller, from string, amount *uint256.Int) error
	Transfer(ctx context.Context, from, to string, amount *uint256.Int) error
	TransferFrom(ctx context.Context, spender, from, to string, amount *uint256.Int) error
	BalanceOf(ctx context.Context, account string) (*uint256.Int, error)
}

// ClaimLedger mints and burns the claim tokens of one side. Ownership is
// transferred to the pool at deployment so only the pool can mint or burn.
type ClaimLedger interface {
	Mint(ctx context.Context, caller, to string, amount *uint256.Int) error
	Burn(ctx context.Context, caller, from string, amount *uint256.Int) error
	BalanceOf(ctx context.Context, account string) (*uint256.Int, error)
}

// Treasury collects entry fees. Receive moves amount from the given
// account into the treasury.
type Treasury interface {
	Address() string
	Receive(ctx context.Context, from string, amount *uint256.Int) error
}

// Deps bundles the collaborators a Pool is wired to.
type Deps struct {
	Feed        PriceFeed
	Settlement  SettlementLedger
	LongClaims  ClaimLedger
	ShortClaims ClaimLedger
	Treasury    Treasury
}
