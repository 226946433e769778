// Package risk caps how much exposure the pools take on as counterparty.
//
// Every pool's protocol position is backed by freshly minted settlement
// units, so the limiter bounds it per pool and across all pools. It also
// bounds the size of a single entry. A limit of zero is disabled.
package risk

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	// ErrEntryLimitExceeded is returned when a single entry is larger than
	// the per-entry maximum.
	ErrEntryLimitExceeded = errors.New("risk: entry amount limit exceeded")

	// ErrPoolExposureExceeded is returned when an entry would push one
	// pool's protocol exposure beyond the per-pool maximum.
	ErrPoolExposureExceeded = errors.New("risk: protocol exposure limit exceeded")

	// ErrAggregateExposureExceeded is returned when the protocol's exposure
	// summed over all pools would exceed the aggregate maximum.
	ErrAggregateExposureExceeded = errors.New("risk: aggregate protocol exposure limit exceeded")
)

// ExposureLimiter enforces entry and protocol exposure limits. Exposures
// are in whole settlement units.
type ExposureLimiter struct {
	MaxEntry     *uint256.Int
	MaxPerPool   *uint256.Int
	MaxAggregate *uint256.Int
}

func NewExposureLimiter(maxEntry, maxPerPool, maxAggregate *uint256.Int) *ExposureLimiter {
	return &ExposureLimiter{
		MaxEntry:     orZero(maxEntry),
		MaxPerPool:   orZero(maxPerPool),
		MaxAggregate: orZero(maxAggregate),
	}
}

// CheckEntry validates an entry of amount into asset's pool.
//
// projected is the pool's protocol exposure after the entry; existing maps
// every pool (including asset) to its exposure now. An entry that does not
// grow the pool's exposure is always allowed, so limits never block
// trades that unwind the protocol.
func (l *ExposureLimiter) CheckEntry(
	asset string,
	amount *uint256.Int,
	projected *uint256.Int,
	existing map[string]*uint256.Int,
) error {
	// 1. Entry size.
	if exceeds(amount, l.MaxEntry) {
		return ErrEntryLimitExceeded
	}

	current := existing[asset]
	if current == nil {
		current = new(uint256.Int)
	}
	if !projected.Gt(current) {
		return nil
	}

	// 2. Per-pool exposure.
	if exceeds(projected, l.MaxPerPool) {
		return ErrPoolExposureExceeded
	}

	// 3. Aggregate exposure across pools.
	total := projected.Clone()
	for other, exposure := range existing {
		if other == asset || exposure == nil {
			continue
		}
		total.Add(total, exposure)
	}
	if exceeds(total, l.MaxAggregate) {
		return ErrAggregateExposureExceeded
	}
	return nil
}

func exceeds(v, limit *uint256.Int) bool {
	return !limit.IsZero() && v.Gt(limit)
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
