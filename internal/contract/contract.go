// Package contract handles CFD claim-token ticker parsing and formatting.
package contract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/atmx/cfd-pool/internal/pool"
)

// Prefix starts every claim ticker.
const Prefix = "CFD"

// tickerRegex matches: CFD-{ASSET}-{LONG|SHORT}
// Example: CFD-ETH-LONG
var tickerRegex = regexp.MustCompile(`^CFD-([A-Z0-9]{1,16})-(LONG|SHORT)$`)

// assetRegex bounds asset symbols to what fits in a ticker.
var assetRegex = regexp.MustCompile(`^[A-Z0-9]{1,16}$`)

var (
	ErrInvalidTicker = errors.New("contract: invalid ticker format")
	ErrInvalidAsset  = errors.New("contract: invalid asset symbol")
)

// Contract is a parsed claim ticker: one side of one asset's pool.
type Contract struct {
	Ticker string    `json:"ticker"`
	Asset  string    `json:"asset"`
	Side   pool.Side `json:"side"`
}

// ParseTicker parses and validates a claim ticker. Lower case input is
// accepted and normalized.
// Format: CFD-{ASSET}-{LONG|SHORT}
func ParseTicker(ticker string) (*Contract, error) {
	normalized := strings.ToUpper(strings.TrimSpace(ticker))
	matches := tickerRegex.FindStringSubmatch(normalized)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected CFD-{asset}-{LONG|SHORT})",
			ErrInvalidTicker, ticker)
	}

	side, err := pool.ParseSide(matches[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTicker, err)
	}

	return &Contract{
		Ticker: normalized,
		Asset:  matches[1],
		Side:   side,
	}, nil
}

// Ticker formats the claim ticker of side on asset.
func Ticker(asset string, side pool.Side) (string, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if !assetRegex.MatchString(asset) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAsset, asset)
	}
	if !side.Valid() {
		return "", pool.ErrInvalidSide
	}
	return fmt.Sprintf("%s-%s-%s", Prefix, asset, side), nil
}

// ValidateAsset normalizes an asset symbol.
func ValidateAsset(asset string) (string, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if !assetRegex.MatchString(asset) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAsset, asset)
	}
	return asset, nil
}
