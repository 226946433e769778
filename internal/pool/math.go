package pool

import "github.com/holiman/uint256"

const (
	// Scale is the fixed-point multiplier for pool sizes: 1 settlement
	// unit is tracked as 1000.
	Scale = 1000

	// PriceDenominator converts settlement units to claim tokens at the
	// seeding price: claims = amount * price / PriceDenominator.
	PriceDenominator = 100
)

var (
	scale            = uint256.NewInt(Scale)
	priceDenominator = uint256.NewInt(PriceDenominator)

	// maxAmount bounds inputs so every a*b/c below stays inside 256 bits.
	maxAmount = new(uint256.Int).Lsh(uint256.NewInt(1), 96)
)

func scaled(units *uint256.Int) *uint256.Int {
	return new(uint256.Int).Mul(units, scale)
}

func unscaled(v *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(v, scale)
}

// mulDiv returns x*y/d truncated, or zero when d is zero. Inputs are
// bounded by maxAmount so the 512-bit intermediate never overflows the
// 256-bit result.
func mulDiv(x, y, d *uint256.Int) *uint256.Int {
	if d.IsZero() {
		return new(uint256.Int)
	}
	z, _ := new(uint256.Int).MulDivOverflow(x, y, d)
	return z
}

func minOf(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// subFloor returns a-b, or zero when b > a.
func subFloor(a, b *uint256.Int) *uint256.Int {
	if b.Gt(a) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}
