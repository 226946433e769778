package oracle

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualFeed(t *testing.T) {
	ctx := context.Background()
	f := NewManualFeed()

	_, err := f.Price(ctx, "ETH")
	assert.ErrorIs(t, err, ErrNoPrice)

	require.NoError(t, f.Set("eth", uint256.NewInt(10)))
	p, err := f.Price(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), p.Uint64())

	// Returned prices are copies.
	p.SetUint64(99)
	p, err = f.Feed("Eth").Price(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), p.Uint64())

	assert.ErrorIs(t, f.Set("ETH", uint256.NewInt(0)), ErrInvalidPrice)
	assert.ErrorIs(t, f.Set("ETH", nil), ErrInvalidPrice)

	_, ok := f.UpdatedAt("ETH")
	assert.True(t, ok)
	_, ok = f.UpdatedAt("BTC")
	assert.False(t, ok)
}

func TestSubscriberApply(t *testing.T) {
	ctx := context.Background()
	feed := NewManualFeed()

	var gotAsset string
	var gotPrice *uint256.Int
	s := NewSubscriber(feed, func(_ context.Context, asset string, price *uint256.Int) {
		gotAsset, gotPrice = asset, price
	}, zerolog.Nop())

	require.NoError(t, s.Apply(ctx, []byte(`{"asset":"eth","price":"15"}`)))
	assert.Equal(t, "ETH", gotAsset)
	assert.Equal(t, uint64(15), gotPrice.Uint64())

	p, err := feed.Price(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, uint64(15), p.Uint64())

	// Numbers are accepted as well as strings.
	require.NoError(t, s.Apply(ctx, []byte(`{"asset":"BTC","price":42000}`)))
	p, err = feed.Price(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, uint64(42000), p.Uint64())
}

func TestSubscriberRejects(t *testing.T) {
	ctx := context.Background()
	calls := 0
	s := NewSubscriber(NewManualFeed(), func(context.Context, string, *uint256.Int) { calls++ }, zerolog.Nop())

	tests := []struct {
		name string
		data string
	}{
		{"malformed", `{"asset":`},
		{"missing asset", `{"price":"10"}`},
		{"fractional", `{"asset":"ETH","price":"10.5"}`},
		{"zero", `{"asset":"ETH","price":"0"}`},
		{"negative", `{"asset":"ETH","price":"-3"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, s.Apply(ctx, []byte(tt.data)))
		})
	}
	assert.Zero(t, calls)
}

func TestToUint(t *testing.T) {
	v, err := ToUint(decimal.RequireFromString("1234.000"))
	require.NoError(t, err)
	assert.Equal(t, "1234", v.Dec())

	_, err = ToUint(decimal.RequireFromString("0.5"))
	assert.ErrorIs(t, err, ErrInvalidPrice)
}
