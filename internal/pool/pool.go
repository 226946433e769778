// Package pool implements the accounting core of a two-sided CFD pool.
//
// Depositors take LONG or SHORT exposure on an external price. The pool
// itself acts as counterparty for whichever side is under-subscribed, so a
// single deposit is enough to open a market. Pool sizes are tracked in
// fixed point (Scale) and every figure is an unsigned 256-bit integer;
// truncation is part of the observable behaviour and never replaced by
// floating point.
//
// Every entry point is serialized by the pool's lock, stages its
// transition on a copy of the state and commits only after all ledger
// calls have succeeded.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Config identifies a pool and its fee and role settings.
type Config struct {
	Asset string

	// Address is the pool's own account on the ledgers. It holds deposits
	// and the protocol's claim tokens.
	Address string

	FeeBps uint64

	// Rebalancer is the only caller allowed to rebalance. Empty allows any.
	Rebalancer string
}

// Pool is a single asset's CFD pool.
type Pool struct {
	mu sync.RWMutex

	asset      string
	address    string
	rebalancer string
	fees       FeeSchedule
	deps       Deps
	log        zerolog.Logger

	st state
}

// New wires a pool to its collaborators. The claim ledgers must already be
// owned by cfg.Address.
func New(cfg Config, deps Deps, log zerolog.Logger) (*Pool, error) {
	if cfg.Asset == "" || cfg.Address == "" {
		return nil, errors.New("pool: asset and address are required")
	}
	if deps.Feed == nil || deps.Settlement == nil || deps.LongClaims == nil ||
		deps.ShortClaims == nil || deps.Treasury == nil {
		return nil, errors.New("pool: missing collaborator")
	}
	fees, err := NewFeeSchedule(cfg.FeeBps)
	if err != nil {
		return nil, err
	}
	return &Pool{
		asset:      cfg.Asset,
		address:    cfg.Address,
		rebalancer: cfg.Rebalancer,
		fees:       fees,
		deps:       deps,
		log:        log.With().Str("asset", cfg.Asset).Logger(),
	}, nil
}

func (p *Pool) Asset() string      { return p.asset }
func (p *Pool) Address() string    { return p.address }
func (p *Pool) Fees() FeeSchedule  { return p.fees }
func (p *Pool) Rebalancer() string { return p.rebalancer }

// Quote is the outcome of an entry: what the caller paid in fees, what
// was credited, the claims minted and the resulting pool state.
type Quote struct {
	Side   Side
	Amount *uint256.Int
	Fee    *uint256.Int
	Net    *uint256.Int
	Claims *uint256.Int
	State  Snapshot
}

// RebalanceResult describes a settlement at a new price.
type RebalanceResult struct {
	OldPrice *uint256.Int
	NewPrice *uint256.Int
	Winner   Side
	// Moved is the scaled value shifted from the losing to the winning pool.
	Moved *uint256.Int
	// Refill is the scaled notional the protocol added to the lighter pool.
	Refill *uint256.Int
	State  Snapshot
}

// Init seeds the pool from a single deposit. Both pools start at
// amount*Scale, the caller receives amount*price/PriceDenominator claims
// on side and the protocol takes the same on the opposite side.
func (p *Pool) Init(ctx context.Context, caller string, amount *uint256.Int, side Side) (Snapshot, error) {
	if err := validate(amount, side); err != nil {
		return Snapshot{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.st.initialized {
		return Snapshot{}, ErrAlreadyInitialized
	}
	price, err := p.price(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	next := p.st
	var eff effects
	if err := next.seed(amount, side, price, &eff); err != nil {
		return Snapshot{}, err
	}
	if err := p.execute(ctx, caller, side, &eff); err != nil {
		return Snapshot{}, err
	}
	p.st = next

	p.log.Info().
		Str("caller", caller).
		Str("side", side.String()).
		Str("amount", amount.Dec()).
		Str("price", price.Dec()).
		Str("claims", eff.userClaims.Dec()).
		Msg("pool initialized")
	return p.snapshot(), nil
}

// Enter deposits amount on side. A price change since the last
// settlement is applied first.
func (p *Pool) Enter(ctx context.Context, caller string, amount *uint256.Int, side Side) (Quote, error) {
	if err := validate(amount, side); err != nil {
		return Quote{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	next, eff, q, err := p.stageEnter(ctx, amount, side)
	if err != nil {
		return Quote{}, err
	}
	if err := p.execute(ctx, caller, side, &eff); err != nil {
		return Quote{}, err
	}
	p.st = next
	q.State = p.snapshot()

	p.log.Info().
		Str("caller", caller).
		Str("side", side.String()).
		Str("amount", amount.Dec()).
		Str("fee", q.Fee.Dec()).
		Str("claims", q.Claims.Dec()).
		Str("protocol", p.st.protocol.Position().String()).
		Str("protocol_size", p.st.protocol.size.Dec()).
		Msg("pool entered")
	return q, nil
}

// PreviewEnter computes what Enter would do without touching any ledger
// or committing state.
func (p *Pool) PreviewEnter(ctx context.Context, amount *uint256.Int, side Side) (Quote, error) {
	if err := validate(amount, side); err != nil {
		return Quote{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	next, _, q, err := p.stageEnter(ctx, amount, side)
	if err != nil {
		return Quote{}, err
	}
	q.State = next.snapshot(p.asset)
	return q, nil
}

func (p *Pool) stageEnter(ctx context.Context, amount *uint256.Int, side Side) (state, effects, Quote, error) {
	var eff effects
	if !p.st.initialized {
		return state{}, eff, Quote{}, ErrCalledBeforeInit
	}
	price, err := p.price(ctx)
	if err != nil {
		return state{}, eff, Quote{}, err
	}

	next := p.st
	next.settle(price, &eff)
	if err := next.enter(amount, side, p.fees, &eff); err != nil {
		return state{}, eff, Quote{}, err
	}
	q := Quote{
		Side:   side,
		Amount: amount.Clone(),
		Fee:    eff.fee.Clone(),
		Net:    new(uint256.Int).Sub(amount, &eff.fee),
		Claims: eff.userClaims.Clone(),
	}
	return next, eff, q, nil
}

// Rebalance settles the pools at the feed's current price.
func (p *Pool) Rebalance(ctx context.Context, caller string) (RebalanceResult, error) {
	if p.rebalancer != "" && caller != p.rebalancer {
		return RebalanceResult{}, fmt.Errorf("%w: %s cannot rebalance", ErrUnauthorized, caller)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.st.initialized {
		return RebalanceResult{}, ErrCalledBeforeInit
	}
	price, err := p.price(ctx)
	if err != nil {
		return RebalanceResult{}, err
	}

	next := p.st
	var eff effects
	move := next.settle(price, &eff)
	if err := p.execute(ctx, caller, Long, &eff); err != nil {
		return RebalanceResult{}, err
	}
	p.st = next

	res := RebalanceResult{
		OldPrice: move.oldPrice.Clone(),
		NewPrice: move.newPrice.Clone(),
		Winner:   move.winner,
		Moved:    move.moved.Clone(),
		Refill:   move.refill.Clone(),
		State:    p.snapshot(),
	}
	p.log.Info().
		Str("old_price", res.OldPrice.Dec()).
		Str("new_price", res.NewPrice.Dec()).
		Str("moved", res.Moved.Dec()).
		Str("refill", res.Refill.Dec()).
		Str("long_pool", p.st.longPool.Dec()).
		Str("short_pool", p.st.shortPool.Dec()).
		Str("protocol", p.st.protocol.Position().String()).
		Msg("pool rebalanced")
	return res, nil
}

// UserBalance values the caller's claims on side at the side's redeem
// price, truncated to whole settlement units. It is zero when the side
// has no supply.
func (p *Pool) UserBalance(ctx context.Context, caller string, side Side) (*uint256.Int, error) {
	if !side.Valid() {
		return nil, ErrInvalidSide
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.st.supplyOf(side).IsZero() {
		return new(uint256.Int), nil
	}
	claims, err := p.claims(side).BalanceOf(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("claim balance of %s: %w", caller, err)
	}
	return p.st.valueOf(side, claims), nil
}

// State returns a read-only snapshot of the pool.
func (p *Pool) State() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot()
}

func (p *Pool) snapshot() Snapshot {
	return p.st.snapshot(p.asset)
}

func (p *Pool) claims(side Side) ClaimLedger {
	if side == Long {
		return p.deps.LongClaims
	}
	return p.deps.ShortClaims
}

func (p *Pool) price(ctx context.Context) (*uint256.Int, error) {
	price, err := p.deps.Feed.Price(ctx)
	if err != nil {
		return nil, fmt.Errorf("read price: %w", err)
	}
	if price == nil || price.IsZero() || price.Gt(maxAmount) {
		return nil, ErrInvalidPrice
	}
	return price, nil
}

func validate(amount *uint256.Int, side Side) error {
	if !side.Valid() {
		return ErrInvalidSide
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if amount.Gt(maxAmount) {
		return ErrAmountTooLarge
	}
	return nil
}

// execute performs the ledger side of a staged transition. The deposit
// is pulled first since it is the call most likely to fail; the fee goes
// to the treasury last so it never needs undoing.
func (p *Pool) execute(ctx context.Context, caller string, side Side, eff *effects) error {
	t := newTxn(ctx, p.log)
	settlement := p.deps.Settlement
	self := p.address

	if !eff.pull.IsZero() {
		amount := eff.pull.Clone()
		if err := t.do(
			func(ctx context.Context) error { return settlement.TransferFrom(ctx, self, caller, self, amount) },
			func(ctx context.Context) error { return settlement.Transfer(ctx, self, caller, amount) },
		); err != nil {
			return err
		}
	}

	mint, burn := netOf(&eff.backingMint, &eff.backingBurn)
	if !mint.IsZero() {
		if err := t.do(
			func(ctx context.Context) error { return settlement.Mint(ctx, self, self, mint) },
			func(ctx context.Context) error { return settlement.Burn(ctx, self, self, mint) },
		); err != nil {
			t.rollback()
			return fmt.Errorf("mint backing: %w", err)
		}
	}
	if !burn.IsZero() {
		if err := t.do(
			func(ctx context.Context) error { return settlement.Burn(ctx, self, self, burn) },
			func(ctx context.Context) error { return settlement.Mint(ctx, self, self, burn) },
		); err != nil {
			t.rollback()
			return fmt.Errorf("burn backing: %w", err)
		}
	}

	for _, s := range Sides {
		ledger := p.claims(s)
		mint, burn := netOf(&eff.protocolMint[s], &eff.protocolBurn[s])
		if !burn.IsZero() {
			if err := t.do(
				func(ctx context.Context) error { return ledger.Burn(ctx, self, self, burn) },
				func(ctx context.Context) error { return ledger.Mint(ctx, self, self, burn) },
			); err != nil {
				t.rollback()
				return fmt.Errorf("burn protocol %s claims: %w", s, err)
			}
		}
		if !mint.IsZero() {
			if err := t.do(
				func(ctx context.Context) error { return ledger.Mint(ctx, self, self, mint) },
				func(ctx context.Context) error { return ledger.Burn(ctx, self, self, mint) },
			); err != nil {
				t.rollback()
				return fmt.Errorf("mint protocol %s claims: %w", s, err)
			}
		}
	}

	if !eff.userClaims.IsZero() {
		ledger := p.claims(side)
		claims := eff.userClaims.Clone()
		if err := t.do(
			func(ctx context.Context) error { return ledger.Mint(ctx, self, caller, claims) },
			func(ctx context.Context) error { return ledger.Burn(ctx, self, caller, claims) },
		); err != nil {
			t.rollback()
			return fmt.Errorf("mint %s claims: %w", side, err)
		}
	}

	if !eff.fee.IsZero() {
		fee := eff.fee.Clone()
		if err := p.deps.Treasury.Receive(ctx, self, fee); err != nil {
			t.rollback()
			return fmt.Errorf("pay fee: %w", err)
		}
	}
	return nil
}

// netOf cancels a mint against a burn of the same ledger.
func netOf(mint, burn *uint256.Int) (*uint256.Int, *uint256.Int) {
	if mint.Gt(burn) {
		return new(uint256.Int).Sub(mint, burn), new(uint256.Int)
	}
	return new(uint256.Int), new(uint256.Int).Sub(burn, mint)
}
