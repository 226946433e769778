// Package config loads service settings from the environment. A .env file
// in the working directory is read first if present; variables already set
// in the process win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/atmx/cfd-pool/internal/pool"
)

type Config struct {
	Port string

	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	NATSURL      string
	PriceSubject string

	// Assets gets one pool each, all seeded with InitialPrice in the feed.
	Assets       []string
	InitialPrice *uint256.Int
	FeeBps       uint64

	// Zero disables the limit.
	MaxProtocolExposure  *uint256.Int
	MaxAggregateExposure *uint256.Int
	MaxEntryAmount       *uint256.Int

	SettlementSymbol string

	// ReserveSymbol names a stablecoin exchanged 1:1 for settlement units.
	// Empty disables exchange.
	ReserveSymbol string
	Owner         string
	Treasury      string
	Rebalancer    string
	FaucetEnabled bool

	LogLevel  string
	LogFormat string
}

// Load reads .env (optional) and the process environment.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisURL:         getEnv("REDIS_URL", ""),
		NATSURL:          getEnv("NATS_URL", ""),
		PriceSubject:     getEnv("PRICE_SUBJECT", "cfd.prices.>"),
		Assets:           splitList(getEnv("ASSETS", "ETH")),
		SettlementSymbol: getEnv("SETTLEMENT_SYMBOL", "USDC"),
		ReserveSymbol:    strings.ToUpper(getEnv("RESERVE_SYMBOL", "")),
		Owner:            getEnv("OWNER_ACCOUNT", "owner"),
		Treasury:         getEnv("TREASURY_ACCOUNT", "treasury"),
		Rebalancer:       getEnv("REBALANCER_ACCOUNT", ""),
		FaucetEnabled:    getEnvBool("FAUCET_ENABLED", false),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
	}
	if len(cfg.Assets) == 0 {
		return Config{}, fmt.Errorf("config: ASSETS is empty")
	}

	var err error
	if cfg.CacheTTL, err = time.ParseDuration(getEnv("CACHE_TTL", "30s")); err != nil {
		return Config{}, fmt.Errorf("config: CACHE_TTL: %w", err)
	}
	if cfg.InitialPrice, err = getEnvUint("INITIAL_PRICE", "0"); err != nil {
		return Config{}, err
	}
	if cfg.MaxProtocolExposure, err = getEnvUint("MAX_PROTOCOL_EXPOSURE", "0"); err != nil {
		return Config{}, err
	}
	if cfg.MaxAggregateExposure, err = getEnvUint("MAX_AGGREGATE_EXPOSURE", "0"); err != nil {
		return Config{}, err
	}
	if cfg.MaxEntryAmount, err = getEnvUint("MAX_ENTRY_AMOUNT", "0"); err != nil {
		return Config{}, err
	}
	if cfg.FeeBps, err = feeBps(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// feeBps takes FEE_BPS if set, otherwise FEE_RATE as a fraction (0.03 is
// 300 bps). Rates finer than one basis point are rejected.
func feeBps() (uint64, error) {
	if v := getEnv("FEE_BPS", ""); v != "" {
		bps, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("config: FEE_BPS: %w", err)
		}
		if bps > pool.FeeDenominator {
			return 0, fmt.Errorf("config: FEE_BPS %d exceeds %d", bps, pool.FeeDenominator)
		}
		return bps, nil
	}
	rate, err := decimal.NewFromString(getEnv("FEE_RATE", "0"))
	if err != nil {
		return 0, fmt.Errorf("config: FEE_RATE: %w", err)
	}
	return RateToBps(rate)
}

// RateToBps converts a fractional fee rate into basis points.
func RateToBps(rate decimal.Decimal) (uint64, error) {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("config: fee rate %s out of range [0, 1]", rate)
	}
	bps := rate.Mul(decimal.NewFromInt(pool.FeeDenominator))
	if !bps.IsInteger() {
		return 0, fmt.Errorf("config: fee rate %s is finer than one basis point", rate)
	}
	return uint64(bps.IntPart()), nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}

func getEnvUint(key, def string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(getEnv(key, def))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
