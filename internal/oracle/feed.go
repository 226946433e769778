// Package oracle supplies reference prices to the pools. ManualFeed holds
// the latest price per asset; Subscriber keeps it current from a NATS
// price stream.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

var (
	ErrNoPrice      = errors.New("oracle: no price for asset")
	ErrInvalidPrice = errors.New("oracle: price must be a positive integer")
)

type quote struct {
	price     uint256.Int
	updatedAt time.Time
}

// ManualFeed is a settable price table keyed by asset symbol.
type ManualFeed struct {
	mu     sync.RWMutex
	quotes map[string]quote
}

func NewManualFeed() *ManualFeed {
	return &ManualFeed{quotes: make(map[string]quote)}
}

// Set records price for asset. Symbols are case-insensitive.
func (f *ManualFeed) Set(asset string, price *uint256.Int) error {
	if price == nil || price.IsZero() {
		return ErrInvalidPrice
	}
	f.mu.Lock()
	f.quotes[normalize(asset)] = quote{price: *price, updatedAt: time.Now()}
	f.mu.Unlock()
	return nil
}

// Price returns the latest price for asset.
func (f *ManualFeed) Price(_ context.Context, asset string) (*uint256.Int, error) {
	f.mu.RLock()
	q, ok := f.quotes[normalize(asset)]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, asset)
	}
	return q.price.Clone(), nil
}

// UpdatedAt reports when asset's price was last set.
func (f *ManualFeed) UpdatedAt(asset string) (time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[normalize(asset)]
	return q.updatedAt, ok
}

// Feed binds the table to one asset.
func (f *ManualFeed) Feed(asset string) *AssetFeed {
	return &AssetFeed{feed: f, asset: asset}
}

// AssetFeed is a ManualFeed narrowed to a single asset.
type AssetFeed struct {
	feed  *ManualFeed
	asset string
}

func (a *AssetFeed) Price(ctx context.Context) (*uint256.Int, error) {
	return a.feed.Price(ctx, a.asset)
}

func normalize(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
