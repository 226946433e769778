package pool

import "github.com/holiman/uint256"

// settle moves value between the pools for a price change from s.price to
// price. The winning side gains base*|Δp|/p and the losing side gives up
// the same amount, floored at zero, where base is the matched notional
// min(long, short). The total of both pools is conserved.
//
// An exposed protocol is marked to market with its side. A flat protocol
// re-enters the lighter side afterwards so both pools are equal again;
// an exposed one leaves the imbalance pending until the next entry, which
// absorbs it.
func (s *state) settle(price *uint256.Int, eff *effects) moveResult {
	res := moveResult{oldPrice: s.price, newPrice: *price}
	if price.Eq(&s.price) {
		return res
	}

	base := minOf(&s.longPool, &s.shortPool)
	var diff uint256.Int
	winner, loser := Long, Short
	if price.Gt(&s.price) {
		diff.Sub(price, &s.price)
	} else {
		diff.Sub(&s.price, price)
		winner, loser = Short, Long
	}

	delta := mulDiv(base, &diff, &s.price)
	moved := minOf(delta, s.poolOf(loser))
	s.poolOf(loser).Sub(s.poolOf(loser), moved)
	s.poolOf(winner).Add(s.poolOf(winner), moved)
	s.price = *price

	res.winner = winner
	res.moved = *moved

	s.markProtocol(eff)
	if s.protocol.IsNone() {
		res.refill = *s.balance(eff)
	}
	return res
}

// markProtocol revalues the protocol's exposure at its side's redeem
// price. An exposure marked down to nothing is closed and its claims burned.
func (s *state) markProtocol(eff *effects) {
	side, ok := s.protocol.Side()
	if !ok {
		return
	}
	cfd := s.protocol.cfdSize.Clone()
	size := mulDiv(cfd, s.poolOf(side), s.supplyOf(side))
	s.protocol = protocolOn(side, size, cfd)
	if s.protocol.IsNone() {
		s.supplyOf(side).Sub(s.supplyOf(side), cfd)
		eff.protocolBurn[side].Add(&eff.protocolBurn[side], cfd)
	}
}
