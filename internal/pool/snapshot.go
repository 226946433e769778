package pool

import "github.com/holiman/uint256"

// Snapshot is a read-only copy of a pool's accounting. Pool sizes and the
// protocol size are scaled by Scale; redeem prices are in whole
// settlement units per claim token.
type Snapshot struct {
	Asset       string
	Initialized bool

	LongSupply    *uint256.Int
	ShortSupply   *uint256.Int
	LongPoolSize  *uint256.Int
	ShortPoolSize *uint256.Int
	Price         *uint256.Int

	LongRedeemPrice  *uint256.Int
	ShortRedeemPrice *uint256.Int

	Protocol ProtocolSnapshot

	// Backing is the settlement units minted for protocol exposure.
	Backing *uint256.Int
}

type ProtocolSnapshot struct {
	Position Position
	Size     *uint256.Int
	CfdSize  *uint256.Int
}

// PoolSize returns the scaled size of side.
func (s Snapshot) PoolSize(side Side) *uint256.Int {
	if side == Long {
		return s.LongPoolSize
	}
	return s.ShortPoolSize
}

// Supply returns the claim supply of side.
func (s Snapshot) Supply(side Side) *uint256.Int {
	if side == Long {
		return s.LongSupply
	}
	return s.ShortSupply
}

func (s *state) snapshot(asset string) Snapshot {
	return Snapshot{
		Asset:            asset,
		Initialized:      s.initialized,
		LongSupply:       s.longSupply.Clone(),
		ShortSupply:      s.shortSupply.Clone(),
		LongPoolSize:     s.longPool.Clone(),
		ShortPoolSize:    s.shortPool.Clone(),
		Price:            s.price.Clone(),
		LongRedeemPrice:  s.redeemPrice(Long),
		ShortRedeemPrice: s.redeemPrice(Short),
		Protocol: ProtocolSnapshot{
			Position: s.protocol.Position(),
			Size:     s.protocol.Size(),
			CfdSize:  s.protocol.CfdSize(),
		},
		Backing: s.backing.Clone(),
	}
}
