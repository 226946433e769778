// Package trade provides the HTTP handlers and business logic for
// deploying CFD pools, entering them, rebalancing them on price updates
// and querying pool state and balances.
//
// Engine amounts are uint256; everything crossing the HTTP boundary is
// shopspring/decimal, never float64.
package trade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atmx/cfd-pool/internal/contract"
	"github.com/atmx/cfd-pool/internal/ledger"
	"github.com/atmx/cfd-pool/internal/metrics"
	"github.com/atmx/cfd-pool/internal/model"
	"github.com/atmx/cfd-pool/internal/oracle"
	"github.com/atmx/cfd-pool/internal/pool"
	"github.com/atmx/cfd-pool/internal/risk"
	"github.com/atmx/cfd-pool/internal/store"
)

var (
	ErrUnknownPool   = errors.New("trade: unknown pool")
	ErrPoolExists    = errors.New("trade: pool already deployed")
	ErrFaucetOff     = errors.New("trade: faucet disabled")
	ErrExchangeOff   = errors.New("trade: no reserve coin configured")
	ErrInvalidAmount = errors.New("trade: amount must be a positive integer")
)

// Config wires a Service to its collaborators.
type Config struct {
	Store      store.Store
	Limiter    *risk.ExposureLimiter // optional
	Hub        *WSHub                // optional WebSocket hub for real-time broadcasts
	Settlement *ledger.Settlement
	Treasury   *ledger.Treasury
	Feed       *oracle.ManualFeed

	// Reserve is the stablecoin the settlement ledger exchanges 1:1. Nil
	// disables exchange.
	Reserve *ledger.Settlement

	// Owner deploys pools, owns the settlement ledger and sets prices.
	Owner  string
	Faucet bool

	Log     zerolog.Logger
	PoolLog zerolog.Logger
}

// market is a deployed pool with its claim ledgers.
type market struct {
	pool    *pool.Pool
	long    *ledger.Claims
	short   *ledger.Claims
	updated time.Time
}

func (m *market) claims(side pool.Side) *ledger.Claims {
	if side == pool.Long {
		return m.long
	}
	return m.short
}

// Service handles pool operations. A mutex serializes state-changing
// operations across pools so journal versions and aggregate exposure
// checks see a consistent view (single-instance). For horizontal scaling,
// replace with distributed locking.
type Service struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	markets  map[string]*market // asset -> market
	tickers  map[string]*ledger.Claims
	versions map[string]int64
}

// NewService creates a new trade service.
func NewService(cfg Config) *Service {
	return &Service{
		cfg:      cfg,
		log:      cfg.Log,
		markets:  make(map[string]*market),
		tickers:  make(map[string]*ledger.Claims),
		versions: make(map[string]int64),
	}
}

// PoolAddress is the ledger account of asset's pool.
func PoolAddress(asset string) string {
	return "pool:" + asset
}

// Deploy creates asset's claim ledgers, hands their ownership to the new
// pool, makes the pool a settlement operator and records its empty
// snapshot.
func (s *Service) Deploy(ctx context.Context, asset string, feeBps uint64, rebalancer string) (*pool.Pool, error) {
	asset, err := contract.ValidateAsset(asset)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[asset]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolExists, asset)
	}

	address := PoolAddress(asset)
	m := &market{}
	for _, side := range pool.Sides {
		ticker, err := contract.Ticker(asset, side)
		if err != nil {
			return nil, err
		}
		claims := ledger.NewClaims(ticker, s.cfg.Owner)
		if err := claims.TransferOwnership(ctx, s.cfg.Owner, address); err != nil {
			return nil, fmt.Errorf("hand %s to pool: %w", ticker, err)
		}
		if side == pool.Long {
			m.long = claims
		} else {
			m.short = claims
		}
	}
	if err := s.cfg.Settlement.AddOperator(ctx, s.cfg.Owner, address); err != nil {
		return nil, fmt.Errorf("register pool operator: %w", err)
	}

	p, err := pool.New(pool.Config{
		Asset:      asset,
		Address:    address,
		FeeBps:     feeBps,
		Rebalancer: rebalancer,
	}, pool.Deps{
		Feed:        s.cfg.Feed.Feed(asset),
		Settlement:  s.cfg.Settlement,
		LongClaims:  m.long,
		ShortClaims: m.short,
		Treasury:    s.cfg.Treasury,
	}, s.cfg.PoolLog)
	if err != nil {
		return nil, err
	}
	m.pool = p
	m.updated = time.Now().UTC()

	s.markets[asset] = m
	s.tickers[m.long.Ticker()] = m.long
	s.tickers[m.short.Ticker()] = m.short

	ps := model.FromSnapshot(p.State(), 0, m.updated)
	if err := s.cfg.Store.SavePoolSnapshot(ctx, ps); err != nil {
		s.log.Error().Err(err).Str("asset", asset).Msg("failed to save initial snapshot")
	}
	metrics.ObservePool(ps)

	s.log.Info().
		Str("asset", asset).
		Str("address", address).
		Uint64("fee_bps", feeBps).
		Str("long", m.long.Ticker()).
		Str("short", m.short.Ticker()).
		Msg("pool deployed")
	return p, nil
}

// PoolState is the live state of asset's pool at its journal version.
func (s *Service) PoolState(asset string) (*model.PoolState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.market(asset)
	if err != nil {
		return nil, err
	}
	return s.stateOf(m), nil
}

// PoolStates lists the live state of every deployed pool, ordered by asset.
func (s *Service) PoolStates() []*model.PoolState {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]*model.PoolState, 0, len(s.markets))
	for _, m := range s.markets {
		states = append(states, s.stateOf(m))
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Asset < states[j].Asset })
	return states
}

// Assets lists deployed pools in order.
func (s *Service) Assets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	assets := make([]string, 0, len(s.markets))
	for a := range s.markets {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	return assets
}

// --- Results ---

// EntryResult is returned from init and enter.
type EntryResult struct {
	EventID string          `json:"event_id"`
	Asset   string          `json:"asset"`
	Account string          `json:"account"`
	Side    string          `json:"side"`
	Amount  decimal.Decimal `json:"amount"`
	Fee     decimal.Decimal `json:"fee"`
	Net     decimal.Decimal `json:"net"`
	Claims  decimal.Decimal `json:"claims"`
	Pool    model.PoolState `json:"pool"`
}

// RebalanceResult is returned from rebalance.
type RebalanceResult struct {
	EventID  string          `json:"event_id"`
	Asset    string          `json:"asset"`
	OldPrice decimal.Decimal `json:"old_price"`
	NewPrice decimal.Decimal `json:"new_price"`
	Winner   string          `json:"winner,omitempty"`
	Moved    decimal.Decimal `json:"moved"`
	Refill   decimal.Decimal `json:"refill"`
	Pool     model.PoolState `json:"pool"`
}

// --- Operations ---

// Init seeds asset's pool.
func (s *Service) Init(ctx context.Context, asset, account string, amount *uint256.Int, side pool.Side) (*EntryResult, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.market(asset)
	if err != nil {
		return nil, err
	}
	snap, err := m.pool.Init(ctx, account, amount, side)
	if err != nil {
		return nil, err
	}
	metrics.OperationLatency.WithLabelValues("init").Observe(time.Since(start).Seconds())
	metrics.EntriesTotal.WithLabelValues(m.pool.Asset(), side.String()).Inc()

	claims, err := m.claims(side).BalanceOf(ctx, account)
	if err != nil {
		claims = new(uint256.Int)
	}
	ev := &model.PoolEvent{
		Kind:     model.EventInit,
		Account:  account,
		Side:     side.String(),
		Amount:   model.Dec(amount),
		Fee:      decimal.Zero,
		Claims:   model.Dec(claims),
		OldPrice: model.Dec(snap.Price),
		NewPrice: model.Dec(snap.Price),
		Moved:    decimal.Zero,
		Refill:   decimal.Zero,
	}
	ps := s.record(ctx, snap, ev, "pool_initialized")

	return &EntryResult{
		EventID: ev.ID,
		Asset:   snap.Asset,
		Account: account,
		Side:    side.String(),
		Amount:  ev.Amount,
		Fee:     decimal.Zero,
		Net:     ev.Amount,
		Claims:  ev.Claims,
		Pool:    *ps,
	}, nil
}

// Enter deposits into asset's pool after checking exposure limits
// against a dry run.
func (s *Service) Enter(ctx context.Context, asset, account string, amount *uint256.Int, side pool.Side) (*EntryResult, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.market(asset)
	if err != nil {
		return nil, err
	}
	if err := s.checkLimits(ctx, m, amount, side); err != nil {
		return nil, err
	}

	before := m.pool.State()
	q, err := m.pool.Enter(ctx, account, amount, side)
	if err != nil {
		return nil, err
	}
	metrics.OperationLatency.WithLabelValues("enter").Observe(time.Since(start).Seconds())
	metrics.EntriesTotal.WithLabelValues(m.pool.Asset(), side.String()).Inc()
	if fee, _ := model.Dec(q.Fee).Float64(); fee > 0 {
		metrics.FeesCollected.WithLabelValues(m.pool.Asset()).Add(fee)
	}

	ev := &model.PoolEvent{
		Kind:     model.EventEnter,
		Account:  account,
		Side:     side.String(),
		Amount:   model.Dec(q.Amount),
		Fee:      model.Dec(q.Fee),
		Claims:   model.Dec(q.Claims),
		OldPrice: model.Dec(before.Price),
		NewPrice: model.Dec(q.State.Price),
		Moved:    decimal.Zero,
		Refill:   decimal.Zero,
	}
	ps := s.record(ctx, q.State, ev, "pool_entered")

	return &EntryResult{
		EventID: ev.ID,
		Asset:   q.State.Asset,
		Account: account,
		Side:    side.String(),
		Amount:  ev.Amount,
		Fee:     ev.Fee,
		Net:     model.Dec(q.Net),
		Claims:  ev.Claims,
		Pool:    *ps,
	}, nil
}

// Preview returns what an entry would do without executing it.
func (s *Service) Preview(ctx context.Context, asset string, amount *uint256.Int, side pool.Side) (*EntryResult, error) {
	s.mu.Lock()
	m, err := s.market(asset)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	q, err := m.pool.PreviewEnter(ctx, amount, side)
	if err != nil {
		return nil, err
	}
	return &EntryResult{
		Asset:  q.State.Asset,
		Side:   side.String(),
		Amount: model.Dec(q.Amount),
		Fee:    model.Dec(q.Fee),
		Net:    model.Dec(q.Net),
		Claims: model.Dec(q.Claims),
		Pool:   *model.FromSnapshot(q.State, s.version(q.State.Asset), time.Now()),
	}, nil
}

// Rebalance settles asset's pool at the feed's current price.
func (s *Service) Rebalance(ctx context.Context, asset, account string) (*RebalanceResult, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.market(asset)
	if err != nil {
		return nil, err
	}
	res, err := m.pool.Rebalance(ctx, account)
	if err != nil {
		return nil, err
	}
	metrics.OperationLatency.WithLabelValues("rebalance").Observe(time.Since(start).Seconds())
	metrics.RebalancesTotal.WithLabelValues(m.pool.Asset()).Inc()

	winner := ""
	if !res.OldPrice.Eq(res.NewPrice) {
		winner = res.Winner.String()
	}
	ev := &model.PoolEvent{
		Kind:     model.EventRebalance,
		Account:  account,
		Side:     winner,
		Amount:   decimal.Zero,
		Fee:      decimal.Zero,
		Claims:   decimal.Zero,
		OldPrice: model.Dec(res.OldPrice),
		NewPrice: model.Dec(res.NewPrice),
		Moved:    model.Dec(res.Moved),
		Refill:   model.Dec(res.Refill),
	}
	ps := s.record(ctx, res.State, ev, "pool_rebalanced")

	return &RebalanceResult{
		EventID:  ev.ID,
		Asset:    res.State.Asset,
		OldPrice: ev.OldPrice,
		NewPrice: ev.NewPrice,
		Winner:   winner,
		Moved:    ev.Moved,
		Refill:   ev.Refill,
		Pool:     *ps,
	}, nil
}

// SetPrice records a new reference price for asset. Only the owner may
// set prices directly; feeds normally arrive over NATS.
func (s *Service) SetPrice(ctx context.Context, asset, account string, price *uint256.Int) error {
	if account != s.cfg.Owner {
		return fmt.Errorf("%w: %s cannot set prices", pool.ErrUnauthorized, account)
	}
	s.mu.Lock()
	m, err := s.market(asset)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := s.cfg.Feed.Set(m.pool.Asset(), price); err != nil {
		return err
	}
	s.log.Info().Str("asset", m.pool.Asset()).Str("price", price.Dec()).Str("by", account).Msg("price set")
	s.broadcast(WSMessage{Type: "price_updated", Asset: m.pool.Asset(), Price: price.Dec()})
	return nil
}

// OnPriceUpdate rebalances asset's pool after the feed moved. It is the
// hook for the NATS price subscriber.
func (s *Service) OnPriceUpdate(ctx context.Context, asset string, price *uint256.Int) {
	s.broadcast(WSMessage{Type: "price_updated", Asset: asset, Price: price.Dec()})

	s.mu.Lock()
	m, err := s.market(asset)
	s.mu.Unlock()
	if err != nil {
		s.log.Debug().Str("asset", asset).Msg("price for undeployed pool")
		return
	}
	if !m.pool.State().Initialized {
		return
	}
	caller := m.pool.Rebalancer()
	if caller == "" {
		caller = s.cfg.Owner
	}
	if _, err := s.Rebalance(ctx, asset, caller); err != nil {
		s.log.Error().Err(err).Str("asset", asset).Str("price", price.Dec()).Msg("rebalance on price update failed")
	}
}

// UserBalance values account's claims on side of asset's pool.
func (s *Service) UserBalance(ctx context.Context, asset, account string, side pool.Side) (claims, value *uint256.Int, err error) {
	s.mu.Lock()
	m, err := s.market(asset)
	s.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	if !side.Valid() {
		return nil, nil, pool.ErrInvalidSide
	}
	claims, err = m.claims(side).BalanceOf(ctx, account)
	if err != nil {
		return nil, nil, err
	}
	value, err = m.pool.UserBalance(ctx, account, side)
	if err != nil {
		return nil, nil, err
	}
	return claims, value, nil
}

// ClaimBalance returns account's raw balance on the claim ledger ticker.
func (s *Service) ClaimBalance(ctx context.Context, ticker, account string) (*uint256.Int, error) {
	c, err := contract.ParseTicker(ticker)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	claims, ok := s.tickers[c.Ticker]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, c.Asset)
	}
	return claims.BalanceOf(ctx, account)
}

// Approve lets asset's pool pull up to amount from account and returns
// the pool's address.
func (s *Service) Approve(ctx context.Context, asset, account string, amount *uint256.Int) (string, error) {
	s.mu.Lock()
	m, err := s.market(asset)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	if err := s.cfg.Settlement.Approve(ctx, account, m.pool.Address(), amount); err != nil {
		return "", err
	}
	return m.pool.Address(), nil
}

// Exchange swaps amount of the reserve coin for settlement units 1:1.
func (s *Service) Exchange(ctx context.Context, account string, amount *uint256.Int) error {
	if s.cfg.Reserve == nil {
		return ErrExchangeOff
	}
	if err := s.cfg.Settlement.Exchange(ctx, account, amount); err != nil {
		return err
	}
	s.log.Info().
		Str("account", account).
		Str("amount", amount.Dec()).
		Str("reserve", s.cfg.Reserve.Symbol()).
		Msg("reserve exchanged")
	return nil
}

// ApproveReserve lets the settlement ledger pull up to amount of the
// reserve coin from account and returns the spender.
func (s *Service) ApproveReserve(ctx context.Context, account string, amount *uint256.Int) (string, error) {
	if s.cfg.Reserve == nil {
		return "", ErrExchangeOff
	}
	spender := s.cfg.Settlement.ReserveAddress()
	if err := s.cfg.Reserve.Approve(ctx, account, spender, amount); err != nil {
		return "", err
	}
	return spender, nil
}

// MintTestReserve mints reserve coins to account when the faucet is
// enabled.
func (s *Service) MintTestReserve(ctx context.Context, account string, amount *uint256.Int) error {
	if s.cfg.Reserve == nil {
		return ErrExchangeOff
	}
	if !s.cfg.Faucet {
		return ErrFaucetOff
	}
	return s.cfg.Reserve.Mint(ctx, s.cfg.Owner, account, amount)
}

// MintTestFunds mints settlement units to account when the faucet is
// enabled.
func (s *Service) MintTestFunds(ctx context.Context, account string, amount *uint256.Int) error {
	if !s.cfg.Faucet {
		return ErrFaucetOff
	}
	return s.cfg.Settlement.Mint(ctx, s.cfg.Owner, account, amount)
}

// --- Internals ---

// market looks up a deployed pool. Caller holds s.mu.
func (s *Service) market(asset string) (*market, error) {
	normalized, err := contract.ValidateAsset(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, asset)
	}
	m, ok := s.markets[normalized]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, normalized)
	}
	return m, nil
}

// stateOf converts m's live snapshot. Caller holds s.mu.
func (s *Service) stateOf(m *market) *model.PoolState {
	return model.FromSnapshot(m.pool.State(), s.versions[m.pool.Asset()], m.updated)
}

func (s *Service) version(asset string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[asset]
}

// checkLimits dry-runs the entry and validates the resulting protocol
// exposure. Caller holds s.mu.
func (s *Service) checkLimits(ctx context.Context, m *market, amount *uint256.Int, side pool.Side) error {
	if s.cfg.Limiter == nil {
		return nil
	}
	q, err := m.pool.PreviewEnter(ctx, amount, side)
	if err != nil {
		return err
	}

	scale := uint256.NewInt(pool.Scale)
	existing := make(map[string]*uint256.Int, len(s.markets))
	for asset, other := range s.markets {
		existing[asset] = new(uint256.Int).Div(other.pool.State().Protocol.Size, scale)
	}
	projected := new(uint256.Int).Div(q.State.Protocol.Size, scale)

	if err := s.cfg.Limiter.CheckEntry(m.pool.Asset(), amount, projected, existing); err != nil {
		metrics.LimitRejections.Inc()
		s.log.Warn().
			Err(err).
			Str("asset", m.pool.Asset()).
			Str("amount", amount.Dec()).
			Str("projected_exposure", projected.Dec()).
			Msg("entry rejected by limiter")
		return err
	}
	return nil
}

// record journals a committed transition: it bumps the pool's version,
// saves the snapshot, appends the event, updates gauges and broadcasts.
// Store failures are logged, never returned: the ledgers have already
// moved. Caller holds s.mu.
func (s *Service) record(ctx context.Context, snap pool.Snapshot, ev *model.PoolEvent, msgType string) *model.PoolState {
	now := time.Now().UTC()
	s.versions[snap.Asset]++
	version := s.versions[snap.Asset]

	ps := model.FromSnapshot(snap, version, now)
	if m, ok := s.markets[snap.Asset]; ok {
		m.updated = now
	}
	ev.ID = uuid.New().String()
	ev.Asset = snap.Asset
	ev.Version = version
	ev.Timestamp = now

	if err := s.cfg.Store.SavePoolSnapshot(ctx, ps); err != nil {
		s.log.Error().Err(err).Str("asset", snap.Asset).Int64("version", version).Msg("failed to save pool snapshot")
	}
	if err := s.cfg.Store.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("asset", snap.Asset).Str("event", ev.ID).Msg("failed to record pool event")
	}
	metrics.ObservePool(ps)

	s.broadcast(WSMessage{
		Type:    msgType,
		Asset:   snap.Asset,
		Account: ev.Account,
		Side:    ev.Side,
		Amount:  ev.Amount.String(),
		Price:   ps.Price.String(),
		Pool:    ps,
	})
	return ps
}

func (s *Service) broadcast(msg WSMessage) {
	if s.cfg.Hub != nil {
		s.cfg.Hub.Broadcast(msg)
	}
}
