package pool

import (
	"fmt"

	"github.com/holiman/uint256"
)

// FeeDenominator is the basis for fee rates: 300 means 3%.
const FeeDenominator = 10_000

// FeeSchedule splits an entry amount into the treasury's cut and the net
// amount credited to the pool.
//
// The net amount is truncated to whole settlement units before it is
// scaled, so low rates lose up to one unit to the fee: a 3% fee on 50
// credits 48, not 48.5.
type FeeSchedule struct {
	bps uint64
}

func NewFeeSchedule(bps uint64) (FeeSchedule, error) {
	if bps > FeeDenominator {
		return FeeSchedule{}, fmt.Errorf("%w: %d > %d", ErrInvalidFee, bps, FeeDenominator)
	}
	return FeeSchedule{bps: bps}, nil
}

func (f FeeSchedule) Bps() uint64 { return f.bps }

// Split returns (fee, net) with fee + net == amount.
func (f FeeSchedule) Split(amount *uint256.Int) (fee, net *uint256.Int) {
	keep := uint256.NewInt(FeeDenominator - f.bps)
	net = mulDiv(amount, keep, uint256.NewInt(FeeDenominator))
	fee = new(uint256.Int).Sub(amount, net)
	return fee, net
}
