package pool

import "github.com/holiman/uint256"

// sharesFor returns how many claim tokens value (scaled) buys on side at
// the current redeem price.
func (s *state) sharesFor(side Side, value *uint256.Int) *uint256.Int {
	return sharesAt(value, s.poolOf(side), s.supplyOf(side), &s.price)
}

// sharesAt prices value against a side holding pool (scaled) over supply
// claims. An empty or wiped side has no redeem price, so the seeding
// conversion value*price/PriceDenominator applies instead.
func sharesAt(value, pool, supply, price *uint256.Int) *uint256.Int {
	if supply.IsZero() || pool.IsZero() {
		return mulDiv(value, price, new(uint256.Int).Mul(priceDenominator, scale))
	}
	return mulDiv(value, supply, pool)
}

// redeemPrice is the settlement value of one claim token on side,
// truncated to whole units. Zero when the side has no supply.
func (s *state) redeemPrice(side Side) *uint256.Int {
	supply := s.supplyOf(side)
	if supply.IsZero() {
		return new(uint256.Int)
	}
	return new(uint256.Int).Div(s.poolOf(side), new(uint256.Int).Mul(supply, scale))
}

// valueOf converts a claim balance on side into settlement units,
// truncated. Zero when the side has no supply.
func (s *state) valueOf(side Side, claims *uint256.Int) *uint256.Int {
	supply := s.supplyOf(side)
	if supply.IsZero() {
		return new(uint256.Int)
	}
	return mulDiv(claims, s.poolOf(side), new(uint256.Int).Mul(supply, scale))
}
