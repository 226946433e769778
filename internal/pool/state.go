package pool

import "github.com/holiman/uint256"

// state is the pool's mutable accounting. It is a plain value: copying it
// yields an independent snapshot, which is how transitions are staged
// before they commit.
type state struct {
	initialized bool

	// Pool sizes, scaled by Scale.
	longPool  uint256.Int
	shortPool uint256.Int

	// Outstanding claim tokens per side, including the protocol's.
	longSupply  uint256.Int
	shortSupply uint256.Int

	protocol ProtocolState

	// Price the pool sizes were last settled at.
	price uint256.Int

	// Settlement units minted to back protocol exposure and not yet burned.
	backing uint256.Int
}

func (s *state) poolOf(side Side) *uint256.Int {
	if side == Long {
		return &s.longPool
	}
	return &s.shortPool
}

func (s *state) supplyOf(side Side) *uint256.Int {
	if side == Long {
		return &s.longSupply
	}
	return &s.shortSupply
}

// effects collects the ledger operations a staged transition requires.
// Protocol claim mints and burns are netted per side before execution.
type effects struct {
	pull         uint256.Int
	fee          uint256.Int
	userClaims   uint256.Int
	protocolMint [2]uint256.Int
	protocolBurn [2]uint256.Int
	backingMint  uint256.Int
	backingBurn  uint256.Int
}

// moveResult describes what a settlement did to the pools.
type moveResult struct {
	oldPrice uint256.Int
	newPrice uint256.Int
	winner   Side
	moved    uint256.Int
	refill   uint256.Int
}

// seed sets up a fresh pool from a single one-sided deposit. The protocol
// takes the other side for the same notional and claim count.
func (s *state) seed(amount *uint256.Int, side Side, price *uint256.Int, eff *effects) error {
	claims := mulDiv(amount, price, priceDenominator)
	if claims.IsZero() {
		return ErrDustAmount
	}
	size := scaled(amount)

	s.longPool = *size
	s.shortPool = *size
	*s.supplyOf(side) = *claims
	*s.supplyOf(side.Opposite()) = *claims
	s.protocol = protocolOn(side.Opposite(), size, claims)
	s.price = *price
	s.backing = *amount
	s.initialized = true

	eff.pull = *amount
	eff.userClaims = *claims
	eff.protocolMint[side.Opposite()] = *claims
	eff.backingMint = *amount
	return nil
}

// enter credits a deposit of amount on side. The fee is taken first; the
// net is added to both pools, then the protocol is either displaced (it
// sits on side) or grows on the opposite side. Any gap a pending price
// move left between the pools is absorbed by the protocol last, so every
// entry leaves both pools equal.
func (s *state) enter(amount *uint256.Int, side Side, fees FeeSchedule, eff *effects) error {
	fee, net := fees.Split(amount)
	if net.IsZero() {
		return ErrDustAmount
	}
	netScaled := scaled(net)
	grossScaled := scaled(amount)
	opp := side.Opposite()

	// Shares are priced against the state before this deposit.
	userClaims := s.sharesFor(side, netScaled)
	if userClaims.IsZero() {
		return ErrDustAmount
	}
	oppPool := s.poolOf(opp).Clone()
	oppSupply := s.supplyOf(opp).Clone()

	s.longPool.Add(&s.longPool, netScaled)
	s.shortPool.Add(&s.shortPool, netScaled)
	s.supplyOf(side).Add(s.supplyOf(side), userClaims)

	eff.pull.Add(&eff.pull, amount)
	eff.fee.Add(&eff.fee, fee)
	eff.userClaims.Add(&eff.userClaims, userClaims)

	if s.protocol.Holds(side) {
		s.displace(side, grossScaled, netScaled, oppPool, oppSupply, eff)
	} else {
		// Entry extends the heavy side: the protocol grows on the other one.
		s.growProtocol(opp, netScaled, sharesAt(netScaled, oppPool, oppSupply, &s.price), eff)
	}
	s.balance(eff)
	return nil
}

// displace reduces the protocol's exposure on side by min(size, gross)
// and removes that notional from both pools. Whatever the deposit brings
// beyond the old exposure is unmatched on the opposite side, so the
// protocol flips there to cover it.
func (s *state) displace(side Side, grossScaled, netScaled, oppPool, oppSupply *uint256.Int, eff *effects) {
	size := s.protocol.size.Clone()
	cut := minOf(size, grossScaled)
	s.shrinkProtocol(side, cut, eff)
	s.longPool = *subFloor(&s.longPool, cut)
	s.shortPool = *subFloor(&s.shortPool, cut)

	if !netScaled.Gt(size) {
		return
	}
	residual := new(uint256.Int).Sub(netScaled, size)
	opp := side.Opposite()
	s.growProtocol(opp, residual, sharesAt(residual, oppPool, oppSupply, &s.price), eff)
}

// balance makes the protocol absorb the difference between the pools. A
// protocol sitting on the heavy side gives up exposure there first; what
// remains of the gap is taken on the light side at its redeem price. It
// returns the notional added to the light pool.
func (s *state) balance(eff *effects) *uint256.Int {
	var heavy Side
	switch s.longPool.Cmp(&s.shortPool) {
	case 1:
		heavy = Long
	case -1:
		heavy = Short
	default:
		return new(uint256.Int)
	}
	light := heavy.Opposite()
	gap := new(uint256.Int).Sub(s.poolOf(heavy), s.poolOf(light))

	if s.protocol.Holds(heavy) {
		cut := minOf(&s.protocol.size, gap)
		s.shrinkProtocol(heavy, cut, eff)
		s.poolOf(heavy).Sub(s.poolOf(heavy), cut)
		gap.Sub(gap, cut)
		if gap.IsZero() {
			return gap
		}
	}

	claims := s.sharesFor(light, gap)
	s.poolOf(light).Add(s.poolOf(light), gap)
	s.growProtocol(light, gap, claims, eff)
	return gap
}

// shrinkProtocol takes cut off the protocol's exposure on side, burning
// its claims in proportion and the backing for cut. Closing the exposure
// burns every claim it held. Pool sizes are left to the caller.
func (s *state) shrinkProtocol(side Side, cut *uint256.Int, eff *effects) {
	size := s.protocol.size.Clone()
	cfd := s.protocol.cfdSize.Clone()
	burn := cfd
	if cut.Lt(size) {
		burn = mulDiv(cfd, cut, size)
	}
	s.protocol = protocolOn(side, new(uint256.Int).Sub(size, cut), new(uint256.Int).Sub(cfd, burn))
	if s.protocol.IsNone() {
		// Truncation dust left on a closed exposure goes with it.
		burn = cfd
	}

	s.supplyOf(side).Sub(s.supplyOf(side), burn)
	eff.protocolBurn[side].Add(&eff.protocolBurn[side], burn)
	s.burnBacking(unscaled(cut), eff)
}

// growProtocol adds size notional and claims to the protocol's exposure on
// side, opening it there when the protocol is flat. Claims are minted to
// the pool and the notional is backed. Pool sizes are left to the caller.
func (s *state) growProtocol(side Side, size, claims *uint256.Int, eff *effects) {
	total := size.Clone()
	cfd := claims.Clone()
	if s.protocol.Holds(side) {
		total.Add(total, &s.protocol.size)
		cfd.Add(cfd, &s.protocol.cfdSize)
	}
	s.protocol = protocolOn(side, total, cfd)
	s.supplyOf(side).Add(s.supplyOf(side), claims)
	eff.protocolMint[side].Add(&eff.protocolMint[side], claims)
	s.mintBacking(unscaled(size), eff)
}

func (s *state) mintBacking(units *uint256.Int, eff *effects) {
	s.backing.Add(&s.backing, units)
	eff.backingMint.Add(&eff.backingMint, units)
}

func (s *state) burnBacking(units *uint256.Int, eff *effects) {
	b := minOf(units, &s.backing)
	s.backing.Sub(&s.backing, b)
	eff.backingBurn.Add(&eff.backingBurn, b)
}
