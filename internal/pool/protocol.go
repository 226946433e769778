package pool

import "github.com/holiman/uint256"

// ProtocolState is the pool's own synthetic exposure: either nothing, or a
// single side with a notional size (scaled like pool sizes) and the claim
// tokens it holds on that side. The zero value is "none".
//
// Fields are only set through protocolOn, which collapses a zero size to
// none, so size == 0 iff position == PositionNone.
type ProtocolState struct {
	position Position
	size     uint256.Int
	cfdSize  uint256.Int
}

func protocolNone() ProtocolState {
	return ProtocolState{}
}

func protocolOn(side Side, size, cfdSize *uint256.Int) ProtocolState {
	if size.IsZero() {
		return protocolNone()
	}
	return ProtocolState{
		position: positionOf(side),
		size:     *size,
		cfdSize:  *cfdSize,
	}
}

func (p ProtocolState) Position() Position { return p.position }

func (p ProtocolState) IsNone() bool { return p.position == PositionNone }

// Holds reports whether the protocol currently sits on side s.
func (p ProtocolState) Holds(s Side) bool {
	return p.position == positionOf(s)
}

// Side returns the held side; ok is false when the protocol is flat.
func (p ProtocolState) Side() (s Side, ok bool) {
	switch p.position {
	case PositionLong:
		return Long, true
	case PositionShort:
		return Short, true
	}
	return 0, false
}

// Size is the notional the protocol is on the hook for, scaled by Scale.
func (p ProtocolState) Size() *uint256.Int { return p.size.Clone() }

// CfdSize is the number of claim tokens the protocol holds on its side.
func (p ProtocolState) CfdSize() *uint256.Int { return p.cfdSize.Clone() }
