// Package model defines the read-side types of the CFD pool service: pool
// snapshots and the event journal. Amounts are shopspring/decimal in JSON
// and storage, converted from the engine's uint256 values without loss.
package model

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/atmx/cfd-pool/internal/pool"
)

// Event kinds.
const (
	EventInit      = "init"
	EventEnter     = "enter"
	EventRebalance = "rebalance"
)

// redeemPlaces is the precision of the exact redeem values shown next to
// the engine's truncated redeem prices.
const redeemPlaces = 6

// ProtocolState is the pool's own exposure.
type ProtocolState struct {
	Position string          `json:"position" db:"protocol_position"` // "NONE", "LONG" or "SHORT"
	Size     decimal.Decimal `json:"size" db:"protocol_size"`         // scaled like pool sizes
	CfdSize  decimal.Decimal `json:"cfd_size" db:"protocol_cfd_size"` // claim tokens held
}

// PoolState is a versioned snapshot of one pool. Pool sizes are scaled by
// pool.Scale; redeem prices are truncated to whole settlement units as the
// engine computes them, redeem values are the same ratio to six places.
type PoolState struct {
	Asset       string          `json:"asset" db:"asset"`
	Version     int64           `json:"version" db:"version"`
	Initialized bool            `json:"initialized" db:"initialized"`
	Price       decimal.Decimal `json:"price" db:"price"`

	LongSupply    decimal.Decimal `json:"long_supply" db:"long_supply"`
	ShortSupply   decimal.Decimal `json:"short_supply" db:"short_supply"`
	LongPoolSize  decimal.Decimal `json:"long_pool_size" db:"long_pool_size"`
	ShortPoolSize decimal.Decimal `json:"short_pool_size" db:"short_pool_size"`

	LongRedeemPrice  decimal.Decimal `json:"long_redeem_price" db:"long_redeem_price"`
	ShortRedeemPrice decimal.Decimal `json:"short_redeem_price" db:"short_redeem_price"`
	LongRedeemValue  decimal.Decimal `json:"long_redeem_value"`
	ShortRedeemValue decimal.Decimal `json:"short_redeem_value"`

	Protocol ProtocolState   `json:"protocol"`
	Backing  decimal.Decimal `json:"backing" db:"backing"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FromSnapshot converts an engine snapshot.
func FromSnapshot(s pool.Snapshot, version int64, at time.Time) *PoolState {
	ps := &PoolState{
		Asset:            s.Asset,
		Version:          version,
		Initialized:      s.Initialized,
		Price:            Dec(s.Price),
		LongSupply:       Dec(s.LongSupply),
		ShortSupply:      Dec(s.ShortSupply),
		LongPoolSize:     Dec(s.LongPoolSize),
		ShortPoolSize:    Dec(s.ShortPoolSize),
		LongRedeemPrice:  Dec(s.LongRedeemPrice),
		ShortRedeemPrice: Dec(s.ShortRedeemPrice),
		Protocol: ProtocolState{
			Position: s.Protocol.Position.String(),
			Size:     Dec(s.Protocol.Size),
			CfdSize:  Dec(s.Protocol.CfdSize),
		},
		Backing:   Dec(s.Backing),
		UpdatedAt: at.UTC(),
	}
	ps.FillRedeemValues()
	return ps
}

// FillRedeemValues derives the exact redeem values from pool sizes and
// supplies.
func (p *PoolState) FillRedeemValues() {
	p.LongRedeemValue = RedeemValue(p.LongPoolSize, p.LongSupply)
	p.ShortRedeemValue = RedeemValue(p.ShortPoolSize, p.ShortSupply)
}

// RedeemValue is poolSize / (supply * Scale), or zero without supply.
func RedeemValue(poolSize, supply decimal.Decimal) decimal.Decimal {
	if supply.IsZero() {
		return decimal.Zero
	}
	return poolSize.DivRound(supply.Mul(decimal.NewFromInt(pool.Scale)), redeemPlaces)
}

// PoolEvent is an immutable record of a committed pool transition.
// Once created, these are never modified or deleted.
type PoolEvent struct {
	ID      string `json:"id" db:"id"`
	Asset   string `json:"asset" db:"asset"`
	Kind    string `json:"kind" db:"kind"`       // init, enter or rebalance
	Account string `json:"account" db:"account"` // caller
	Side    string `json:"side,omitempty" db:"side"`

	Amount decimal.Decimal `json:"amount" db:"amount"` // settlement units paid in
	Fee    decimal.Decimal `json:"fee" db:"fee"`
	Claims decimal.Decimal `json:"claims" db:"claims"` // claim tokens minted to the caller

	OldPrice decimal.Decimal `json:"old_price" db:"old_price"`
	NewPrice decimal.Decimal `json:"new_price" db:"new_price"`
	Moved    decimal.Decimal `json:"moved" db:"moved"`   // scaled value shifted by a rebalance
	Refill   decimal.Decimal `json:"refill" db:"refill"` // scaled notional added by the protocol

	Version   int64     `json:"version" db:"version"` // pool snapshot version after the event
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Balance is an account's holding on one ledger.
type Balance struct {
	Account string          `json:"account"`
	Ledger  string          `json:"ledger"` // settlement symbol or claim ticker
	Amount  decimal.Decimal `json:"amount"`
	Value   decimal.Decimal `json:"value,omitempty"` // settlement value of claims
}

// Dec converts an engine amount. nil is zero.
func Dec(v *uint256.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.ToBig(), 0)
}

// Uint converts a whole, non-negative decimal to an engine amount.
func Uint(d decimal.Decimal) (*uint256.Int, bool) {
	if d.IsNegative() || !d.IsInteger() {
		return nil, false
	}
	v, overflow := uint256.FromBig(d.BigInt())
	if overflow {
		return nil, false
	}
	return v, true
}
