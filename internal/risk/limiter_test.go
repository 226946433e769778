package risk

import (
	"testing"

	"github.com/holiman/uint256"
)

func u(n uint64) *uint256.Int {
	return uint256.NewInt(n)
}

func TestCheckEntry_WithinLimits(t *testing.T) {
	limiter := NewExposureLimiter(u(1000), u(5000), u(8000))

	err := limiter.CheckEntry("ETH", u(100), u(100), nil)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckEntry_EntryExceeded(t *testing.T) {
	limiter := NewExposureLimiter(u(1000), u(5000), u(8000))

	err := limiter.CheckEntry("ETH", u(1001), u(0), nil)
	if err != ErrEntryLimitExceeded {
		t.Errorf("expected ErrEntryLimitExceeded, got %v", err)
	}
}

func TestCheckEntry_PoolExposureExceeded(t *testing.T) {
	limiter := NewExposureLimiter(u(1000), u(5000), u(8000))

	// Existing exposure of 4950 grows to 5050 > 5000.
	existing := map[string]*uint256.Int{
		"ETH": u(4950),
	}

	err := limiter.CheckEntry("ETH", u(100), u(5050), existing)
	if err != ErrPoolExposureExceeded {
		t.Errorf("expected ErrPoolExposureExceeded, got %v", err)
	}
}

func TestCheckEntry_UnwindAlwaysAllowed(t *testing.T) {
	limiter := NewExposureLimiter(u(1000), u(5000), u(8000))

	// Already over the per-pool limit, but the entry shrinks exposure.
	existing := map[string]*uint256.Int{
		"ETH": u(6000),
		"BTC": u(7000),
	}

	err := limiter.CheckEntry("ETH", u(500), u(5500), existing)
	if err != nil {
		t.Errorf("unwinding entry should pass, got %v", err)
	}
}

func TestCheckEntry_AggregateExceeded(t *testing.T) {
	limiter := NewExposureLimiter(u(1000), u(5000), u(8000))

	existing := map[string]*uint256.Int{
		"ETH": u(1000),
		"BTC": u(4000),
		"SOL": u(2500),
	}

	// total = 1600 + 4000 + 2500 = 8100 > 8000
	err := limiter.CheckEntry("ETH", u(600), u(1600), existing)
	if err != ErrAggregateExposureExceeded {
		t.Errorf("expected ErrAggregateExposureExceeded, got %v", err)
	}
}

func TestCheckEntry_ZeroDisablesLimit(t *testing.T) {
	limiter := NewExposureLimiter(nil, u(0), nil)

	existing := map[string]*uint256.Int{
		"BTC": u(1_000_000),
	}

	err := limiter.CheckEntry("ETH", u(1_000_000), u(2_000_000), existing)
	if err != nil {
		t.Errorf("disabled limits should pass, got %v", err)
	}
}

func TestCheckEntry_PoolLimitBoundary(t *testing.T) {
	limiter := NewExposureLimiter(u(0), u(5000), u(0))

	// Exactly at the limit is allowed.
	err := limiter.CheckEntry("ETH", u(5000), u(5000), nil)
	if err != nil {
		t.Errorf("exposure at the limit should pass, got %v", err)
	}
}
