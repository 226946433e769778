package pool_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/cfd-pool/internal/ledger"
	"github.com/atmx/cfd-pool/internal/oracle"
	"github.com/atmx/cfd-pool/internal/pool"
)

const (
	owner    = "owner"
	poolAddr = "pool:ETH"
	alice    = "alice"
	bob      = "bob"
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

func assertU(t *testing.T, want uint64, got *uint256.Int, msgAndArgs ...interface{}) {
	t.Helper()
	require.NotNil(t, got, msgAndArgs...)
	assert.Equal(t, u(want).Dec(), got.Dec(), msgAndArgs...)
}

type testEnv struct {
	ctx        context.Context
	pool       *pool.Pool
	feed       *oracle.ManualFeed
	settlement *ledger.Settlement
	long       *ledger.Claims
	short      *ledger.Claims
	treasury   *ledger.Treasury
}

// failingClaims refuses to mint to one account.
type failingClaims struct {
	*ledger.Claims
	failFor string
}

func (f *failingClaims) Mint(ctx context.Context, caller, to string, amount *uint256.Int) error {
	if to == f.failFor {
		return errors.New("claims ledger unavailable")
	}
	return f.Claims.Mint(ctx, caller, to, amount)
}

type envOption func(*pool.Config, *pool.Deps)

func withFee(bps uint64) envOption {
	return func(c *pool.Config, _ *pool.Deps) { c.FeeBps = bps }
}

func withRebalancer(account string) envOption {
	return func(c *pool.Config, _ *pool.Deps) { c.Rebalancer = account }
}

func newTestEnv(t *testing.T, price uint64, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	settlement := ledger.NewSettlement("USDC", owner)
	require.NoError(t, settlement.AddOperator(ctx, owner, poolAddr))

	long := ledger.NewClaims("CFD-ETH-LONG", owner)
	short := ledger.NewClaims("CFD-ETH-SHORT", owner)
	require.NoError(t, long.TransferOwnership(ctx, owner, poolAddr))
	require.NoError(t, short.TransferOwnership(ctx, owner, poolAddr))

	feed := oracle.NewManualFeed()
	require.NoError(t, feed.Set("ETH", u(price)))

	env := &testEnv{
		ctx:        ctx,
		feed:       feed,
		settlement: settlement,
		long:       long,
		short:      short,
		treasury:   ledger.NewTreasury("treasury", settlement),
	}

	cfg := pool.Config{Asset: "ETH", Address: poolAddr}
	deps := pool.Deps{
		Feed:        feed.Feed("ETH"),
		Settlement:  settlement,
		LongClaims:  long,
		ShortClaims: short,
		Treasury:    env.treasury,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	p, err := pool.New(cfg, deps, zerolog.Nop())
	require.NoError(t, err)
	env.pool = p
	return env
}

// fund mints amount to account and approves the pool to pull it.
func (e *testEnv) fund(t *testing.T, account string, amount uint64) {
	t.Helper()
	require.NoError(t, e.settlement.Mint(e.ctx, owner, account, u(amount)))
	require.NoError(t, e.settlement.Approve(e.ctx, account, poolAddr, u(amount)))
}

func (e *testEnv) setPrice(t *testing.T, price uint64) {
	t.Helper()
	require.NoError(t, e.feed.Set("ETH", u(price)))
}

func (e *testEnv) claimsOf(t *testing.T, side pool.Side, account string) *uint256.Int {
	t.Helper()
	claims := e.long
	if side == pool.Short {
		claims = e.short
	}
	bal, err := claims.BalanceOf(e.ctx, account)
	require.NoError(t, err)
	return bal
}

func (e *testEnv) settlementOf(t *testing.T, account string) *uint256.Int {
	t.Helper()
	bal, err := e.settlement.BalanceOf(e.ctx, account)
	require.NoError(t, err)
	return bal
}

func (e *testEnv) init(t *testing.T, account string, amount uint64, side pool.Side) pool.Snapshot {
	t.Helper()
	e.fund(t, account, amount)
	snap, err := e.pool.Init(e.ctx, account, u(amount), side)
	require.NoError(t, err)
	return snap
}

func (e *testEnv) enter(t *testing.T, account string, amount uint64, side pool.Side) pool.Quote {
	t.Helper()
	e.fund(t, account, amount)
	q, err := e.pool.Enter(e.ctx, account, u(amount), side)
	require.NoError(t, err)
	return q
}

// --- Init ---

func TestInitSeedsBothSides(t *testing.T) {
	env := newTestEnv(t, 10)
	snap := env.init(t, alice, 50, pool.Short)

	assert.True(t, snap.Initialized)
	assertU(t, 50000, snap.LongPoolSize)
	assertU(t, 50000, snap.ShortPoolSize)
	assertU(t, 5, snap.LongSupply)
	assertU(t, 5, snap.ShortSupply)
	assertU(t, 10, snap.Price)
	assertU(t, 10, snap.LongRedeemPrice)
	assertU(t, 10, snap.ShortRedeemPrice)

	assert.Equal(t, pool.PositionLong, snap.Protocol.Position)
	assertU(t, 50000, snap.Protocol.Size)
	assertU(t, 5, snap.Protocol.CfdSize)

	assertU(t, 5, env.claimsOf(t, pool.Short, alice))
	assertU(t, 5, env.claimsOf(t, pool.Long, poolAddr), "protocol claims sit with the pool")
	assertU(t, 0, env.settlementOf(t, alice))
	assertU(t, 100, env.settlementOf(t, poolAddr), "deposit plus protocol backing")
	assertU(t, 50, snap.Backing)
}

func TestInitTwiceFails(t *testing.T) {
	env := newTestEnv(t, 10)
	before := env.init(t, alice, 50, pool.Short)

	env.fund(t, bob, 50)
	_, err := env.pool.Init(env.ctx, bob, u(50), pool.Long)
	assert.ErrorIs(t, err, pool.ErrAlreadyInitialized)

	assert.Equal(t, before, env.pool.State())
	assertU(t, 50, env.settlementOf(t, bob))
	assertU(t, 0, env.claimsOf(t, pool.Long, bob))
}

func TestInitDustAmount(t *testing.T) {
	env := newTestEnv(t, 10)
	env.fund(t, alice, 5)

	// 5 * 10 / 100 truncates to zero claims.
	_, err := env.pool.Init(env.ctx, alice, u(5), pool.Long)
	assert.ErrorIs(t, err, pool.ErrDustAmount)
	assert.False(t, env.pool.State().Initialized)
	assertU(t, 5, env.settlementOf(t, alice))
}

func TestInitRequiresPrice(t *testing.T) {
	env := newTestEnv(t, 10)
	env.fund(t, alice, 50)

	p, err := pool.New(pool.Config{Asset: "BTC", Address: poolAddr}, pool.Deps{
		Feed:        env.feed.Feed("BTC"),
		Settlement:  env.settlement,
		LongClaims:  env.long,
		ShortClaims: env.short,
		Treasury:    env.treasury,
	}, zerolog.Nop())
	require.NoError(t, err)

	_, err = p.Init(env.ctx, alice, u(50), pool.Long)
	assert.ErrorIs(t, err, oracle.ErrNoPrice)
}

// --- Rebalance ---

func TestRebalancePriceUp(t *testing.T) {
	env := newTestEnv(t, 10)
	env.init(t, alice, 50, pool.Short)

	env.setPrice(t, 15)
	res, err := env.pool.Rebalance(env.ctx, owner)
	require.NoError(t, err)

	assertU(t, 75000, res.State.LongPoolSize)
	assertU(t, 25000, res.State.ShortPoolSize)
	assertU(t, 10, res.OldPrice)
	assertU(t, 15, res.NewPrice)
	assert.Equal(t, pool.Long, res.Winner)
	assertU(t, 25000, res.Moved)
	assertU(t, 0, res.Refill)

	assert.Equal(t, pool.PositionLong, res.State.Protocol.Position)
	assertU(t, 75000, res.State.Protocol.Size, "protocol marked to market")
}

func TestRebalancePriceDown(t *testing.T) {
	env := newTestEnv(t, 10)
	env.init(t, alice, 50, pool.Short)

	env.setPrice(t, 5)
	res, err := env.pool.Rebalance(env.ctx, owner)
	require.NoError(t, err)

	assertU(t, 25000, res.State.LongPoolSize)
	assertU(t, 75000, res.State.ShortPoolSize)
	assert.Equal(t, pool.Short, res.Winner)
}

func TestRebalanceSamePriceIsNoop(t *testing.T) {
	env := newTestEnv(t, 10)
	before := env.init(t, alice, 50, pool.Short)

	res, err := env.pool.Rebalance(env.ctx, owner)
	require.NoError(t, err)
	assertU(t, 0, res.Moved)
	assert.Equal(t, before, res.State)
}

func TestRebalanceBeforeInit(t *testing.T) {
	env := newTestEnv(t, 10)
	_, err := env.pool.Rebalance(env.ctx, owner)
	assert.ErrorIs(t, err, pool.ErrCalledBeforeInit)
}

func TestRebalanceRestrictedToRebalancer(t *testing.T) {
	env := newTestEnv(t, 10, withRebalancer("keeper"))
	env.init(t, alice, 50, pool.Short)
	env.setPrice(t, 15)

	_, err := env.pool.Rebalance(env.ctx, alice)
	assert.ErrorIs(t, err, pool.ErrUnauthorized)
	assertU(t, 50000, env.pool.State().LongPoolSize)

	_, err = env.pool.Rebalance(env.ctx, "keeper")
	require.NoError(t, err)
	assertU(t, 75000, env.pool.State().LongPoolSize)
}

func TestRebalanceClosesWipedProtocol(t *testing.T) {
	env := newTestEnv(t, 10)
	env.init(t, alice, 50, pool.Long)

	// Doubling the price moves the whole SHORT pool over, which marks the
	// protocol's SHORT exposure to zero. It is closed and the protocol
	// refills the now empty side at the seeding conversion.
	env.setPrice(t, 20)
	res, err := env.pool.Rebalance(env.ctx, owner)
	require.NoError(t, err)

	s := res.State
	assertU(t, 50000, res.Moved)
	assertU(t, 100000, res.Refill)
	assertU(t, 100000, s.LongPoolSize)
	assertU(t, 100000, s.ShortPoolSize)
	assert.Equal(t, pool.PositionShort, s.Protocol.Position)
	assertU(t, 100000, s.Protocol.Size)
	assertU(t, 20, s.Protocol.CfdSize)
	assertU(t, 20, s.ShortSupply)
	assertU(t, 20, s.LongRedeemPrice)
	assertU(t, 20, env.claimsOf(t, pool.Short, poolAddr))
	assertU(t, 150, s.Backing)
}

// --- Enter ---

func TestEnterDisplacesProtocol(t *testing.T) {
	env := newTestEnv(t, 10)
	env.init(t, alice, 50, pool.Long)

	snap := env.pool.State()
	assert.Equal(t, pool.PositionShort, snap.Protocol.Position)
	assertU(t, 50000, snap.Protocol.Size)
	assertU(t, 5, snap.Protocol.CfdSize)

	q := env.enter(t, bob, 50, pool.Short)
	assertU(t, 5, q.Claims)
	assertU(t, 0, q.Fee)
	assertU(t, 50, q.Net)

	assert.Equal(t, pool.PositionNone, q.State.Protocol.Position)
	assertU(t, 0, q.State.Protocol.Size)
	assertU(t, 5, q.State.LongSupply)
	assertU(t, 5, q.State.ShortSupply)
	assertU(t, 50000, q.State.LongPoolSize)
	assertU(t, 50000, q.State.ShortPoolSize)
	assertU(t, 0, q.State.Backing)

	assertU(t, 5, env.claimsOf(t, pool.Short, bob))
	assertU(t, 0, env.claimsOf(t, pool.Short, poolAddr), "protocol claims burned")
	assertU(t, 100, env.settlementOf(t, poolAddr), "backing burned")
}

func TestRebalanceAfterDisplacementReentersProtocol(t *testing.T) {
	env := newTestEnv(t, 10)
	env.init(t, alice, 50, pool.Long)
	env.enter(t, bob, 50, pool.Short)

	env.setPrice(t, 5)
	res, err := env.pool.Rebalance(env.ctx, owner)
	require.NoError(t, err)

	s := res.State
	assertU(t, 75000, s.LongPoolSize)
	assertU(t, 75000, s.ShortPoolSize)
	assert.Equal(t, pool.PositionLong, s.Protocol.Position)
	assertU(t, 50000, s.Protocol.Size)
	assertU(t, 10, s.Protocol.CfdSize)
	assertU(t, 15, s.LongSupply)
	assertU(t, 5, s.ShortSupply)
	assertU(t, 5, s.LongRedeemPrice)
	assertU(t, 15, s.ShortRedeemPrice)
	assertU(t, 50000, res.Refill)

	assertU(t, 10, env.claimsOf(t, pool.Long, poolAddr))

	aliceBal, err := env.pool.UserBalance(env.ctx, alice, pool.Long)
	require.NoError(t, err)
	assertU(t, 25, aliceBal)

	bobBal, err := env.pool.UserBalance(env.ctx, bob, pool.Short)
	require.NoError(t, err)
	assertU(t, 75, bobBal)
}

func TestEnterWithFee(t *testing.T) {
	env := newTestEnv(t, 10, withFee(300))
	env.init(t, alice, 50, pool.Short)

	q := env.enter(t, bob, 50, pool.Long)
	assertU(t, 2, q.Fee)
	assertU(t, 48, q.Net)
	assertU(t, 48000, q.State.LongPoolSize)
	assertU(t, 48000, q.State.ShortPoolSize)
	assert.Equal(t, pool.PositionNone, q.State.Protocol.Position)

	assertU(t, 2, env.settlementOf(t, "treasury"))
	assertU(t, 2, env.treasury.Received())
}

func TestEnterExtendsProtocol(t *testing.T) {
	env := newTestEnv(t, 10)
	env.init(t, alice, 50, pool.Short)

	q := env.enter(t, bob, 50, pool.Short)
	s := q.State
	assertU(t, 5, q.Claims)
	assertU(t, 100000, s.LongPoolSize)
	assertU(t, 100000, s.ShortPoolSize)
	assert.Equal(t, pool.PositionLong, s.Protocol.Position)
	assertU(t, 100000, s.Protocol.Size)
	assertU(t, 10, s.Protocol.CfdSize)
	assertU(t, 10, s.LongSupply)
	assertU(t, 10, s.ShortSupply)
	assertU(t, 100, s.Backing)
	assertU(t, 10, env.claimsOf(t, pool.Long, poolAddr))
}

func TestEnterFlipsProtocol(t *testing.T) {
	env := newTestEnv(t, 10)
	env.init(t, alice, 50, pool.Long)

	q := env.enter(t, bob, 80, pool.Short)
	s := q.State
	assertU(t, 8, q.Claims)
	assertU(t, 80000, s.LongPoolSize)
	assertU(t, 80000, s.ShortPoolSize)
	assert.Equal(t, pool.PositionLong, s.Protocol.Position)
	assertU(t, 30000, s.Protocol.Size)
	assertU(t, 3, s.Protocol.CfdSize)
	assertU(t, 8, s.LongSupply)
	assertU(t, 8, s.ShortSupply)
	assertU(t, 30, s.Backing)

	assertU(t, 0, env.claimsOf(t, pool.Short, poolAddr))
	assertU(t, 3, env.claimsOf(t, pool.Long, poolAddr))
}

func TestEnterSettlesPendingPriceMove(t *testing.T) {
	env := newTestEnv(t, 10)
	env.init(t, alice, 50, pool.Short)
	env.setPrice(t, 15)

	q := env.enter(t, bob, 25, pool.Short)
	s := q.State
	assertU(t, 15, s.Price)
	assertU(t, 5, q.Claims, "priced at the settled SHORT redeem price")

	// The move left LONG 50000 heavy; the protocol gives that up.
	assertU(t, 50000, s.LongPoolSize)
	assertU(t, 50000, s.ShortPoolSize)
	assert.Equal(t, pool.PositionLong, s.Protocol.Position)
	assertU(t, 50000, s.Protocol.Size)
	assertU(t, 3, s.Protocol.CfdSize)
	assertU(t, 3, s.LongSupply)
	assertU(t, 3, env.claimsOf(t, pool.Long, poolAddr))
	assertU(t, 25, s.Backing)
}

func TestEnterRestoresBalanceAfterExposedMove(t *testing.T) {
	for x := uint64(10); x < 110; x++ {
		env := newTestEnv(t, 10)
		env.init(t, alice, 50, pool.Long)
		env.setPrice(t, 5)
		_, err := env.pool.Rebalance(env.ctx, owner)
		require.NoError(t, err)

		// LONG 25000 against a SHORT side held entirely by the protocol.
		before := env.pool.State()
		assertU(t, 25000, before.LongPoolSize)
		assertU(t, 75000, before.ShortPoolSize)

		env.fund(t, bob, x)
		q, err := env.pool.Enter(env.ctx, bob, u(x), pool.Short)
		if x < 15 {
			// Less than one SHORT claim at redeem price 15.
			assert.ErrorIs(t, err, pool.ErrDustAmount, "x=%d", x)
			assert.Equal(t, before, env.pool.State(), "x=%d", x)
			continue
		}
		require.NoError(t, err, "x=%d", x)

		s := q.State
		assert.Equal(t, s.LongPoolSize.Dec(), s.ShortPoolSize.Dec(), "x=%d: pools balanced", x)
		switch {
		case x < 25:
			assertU(t, 25000, s.LongPoolSize, "x=%d", x)
			assert.Equal(t, pool.PositionShort, s.Protocol.Position, "x=%d", x)
			assertU(t, 25000-1000*x, s.Protocol.Size, "x=%d", x)
		case x == 25:
			assertU(t, 25000, s.LongPoolSize, "x=%d", x)
			assert.Equal(t, pool.PositionNone, s.Protocol.Position, "x=%d", x)
		default:
			assertU(t, 1000*x, s.LongPoolSize, "x=%d", x)
			assert.Equal(t, pool.PositionLong, s.Protocol.Position, "x=%d", x)
			assertU(t, 1000*x-25000, s.Protocol.Size, "x=%d", x)
		}
		checkInvariants(t, env)
	}
}

func TestEnterBeforeInit(t *testing.T) {
	env := newTestEnv(t, 10)
	env.fund(t, alice, 50)

	_, err := env.pool.Enter(env.ctx, alice, u(50), pool.Long)
	assert.ErrorIs(t, err, pool.ErrCalledBeforeInit)
	assertU(t, 50, env.settlementOf(t, alice))
}

func TestEnterValidation(t *testing.T) {
	env := newTestEnv(t, 10)
	env.init(t, alice, 50, pool.Short)

	tests := []struct {
		name   string
		amount *uint256.Int
		side   pool.Side
		want   error
	}{
		{"zero amount", u(0), pool.Long, pool.ErrZeroAmount},
		{"nil amount", nil, pool.Long, pool.ErrZeroAmount},
		{"invalid side", u(10), pool.Side(7), pool.ErrInvalidSide},
		{"too large", new(uint256.Int).Lsh(u(1), 100), pool.Long, pool.ErrAmountTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.pool.Enter(env.ctx, bob, tt.amount, tt.side)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEnterInsufficientAllowance(t *testing.T) {
	env := newTestEnv(t, 10)
	before := env.init(t, alice, 50, pool.Short)
	require.NoError(t, env.settlement.Mint(env.ctx, owner, bob, u(50)))

	_, err := env.pool.Enter(env.ctx, bob, u(50), pool.Long)
	assert.ErrorIs(t, err, ledger.ErrInsufficientAllowance)
	assert.Equal(t, before, env.pool.State())
	assertU(t, 50, env.settlementOf(t, bob))
}

func TestEnterInsufficientFunds(t *testing.T) {
	env := newTestEnv(t, 10)
	before := env.init(t, alice, 50, pool.Short)
	require.NoError(t, env.settlement.Approve(env.ctx, bob, poolAddr, u(50)))

	_, err := env.pool.Enter(env.ctx, bob, u(50), pool.Long)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, before, env.pool.State())
}

func TestEnterRollsBackOnLedgerFailure(t *testing.T) {
	ctx := context.Background()
	var long *failingClaims
	env := newTestEnv(t, 10, func(_ *pool.Config, d *pool.Deps) {
		long = &failingClaims{Claims: d.LongClaims.(*ledger.Claims), failFor: bob}
		d.LongClaims = long
	})
	before := env.init(t, alice, 50, pool.Short)
	poolBalance := env.settlementOf(t, poolAddr)
	supply := env.settlement.TotalSupply()

	// A partial displacement burns protocol claims and backing before the
	// user mint fails.
	env.fund(t, bob, 20)
	_, err := env.pool.Enter(ctx, bob, u(20), pool.Long)
	require.Error(t, err)

	assert.Equal(t, before, env.pool.State())
	assertU(t, 20, env.settlementOf(t, bob))
	assert.Equal(t, poolBalance.Dec(), env.settlementOf(t, poolAddr).Dec())
	assert.Equal(t, supply.Dec(), env.settlement.TotalSupply().Dec())
	assertU(t, 5, env.claimsOf(t, pool.Long, poolAddr))
	assertU(t, 5, long.TotalSupply())
	assertU(t, 0, env.claimsOf(t, pool.Long, bob))
}

// --- Preview / balances ---

func TestPreviewEnterDoesNotMutate(t *testing.T) {
	env := newTestEnv(t, 10)
	before := env.init(t, alice, 50, pool.Short)

	q, err := env.pool.PreviewEnter(env.ctx, u(50), pool.Long)
	require.NoError(t, err)
	assertU(t, 5, q.Claims)
	assert.Equal(t, pool.PositionNone, q.State.Protocol.Position)
	assertU(t, 50000, q.State.LongPoolSize)

	assert.Equal(t, before, env.pool.State())
	assertU(t, 5, env.claimsOf(t, pool.Long, poolAddr))
}

func TestUserBalance(t *testing.T) {
	env := newTestEnv(t, 10)

	bal, err := env.pool.UserBalance(env.ctx, alice, pool.Long)
	require.NoError(t, err)
	assertU(t, 0, bal, "no supply yet")

	env.init(t, alice, 50, pool.Short)
	bal, err = env.pool.UserBalance(env.ctx, alice, pool.Short)
	require.NoError(t, err)
	assertU(t, 50, bal)

	bal, err = env.pool.UserBalance(env.ctx, bob, pool.Short)
	require.NoError(t, err)
	assertU(t, 0, bal)

	_, err = env.pool.UserBalance(env.ctx, alice, pool.Side(3))
	assert.ErrorIs(t, err, pool.ErrInvalidSide)
}

func TestUserBalanceTruncatesOnce(t *testing.T) {
	env := newTestEnv(t, 7)
	snap := env.init(t, alice, 100, pool.Short)

	// 100000 over 7 claims: 14.28 per claim.
	assertU(t, 7, snap.ShortSupply)
	assertU(t, 14, snap.ShortRedeemPrice)

	bal, err := env.pool.UserBalance(env.ctx, alice, pool.Short)
	require.NoError(t, err)
	assertU(t, 100, bal, "whole holding valued before truncation, not 7 * 14")
}

func TestNewValidatesConfig(t *testing.T) {
	env := newTestEnv(t, 10)
	deps := pool.Deps{
		Feed:        env.feed.Feed("ETH"),
		Settlement:  env.settlement,
		LongClaims:  env.long,
		ShortClaims: env.short,
		Treasury:    env.treasury,
	}

	_, err := pool.New(pool.Config{Asset: "ETH", Address: poolAddr, FeeBps: 10_001}, deps, zerolog.Nop())
	assert.ErrorIs(t, err, pool.ErrInvalidFee)

	_, err = pool.New(pool.Config{Asset: "ETH"}, deps, zerolog.Nop())
	assert.Error(t, err)

	deps.Treasury = nil
	_, err = pool.New(pool.Config{Asset: "ETH", Address: poolAddr}, deps, zerolog.Nop())
	assert.Error(t, err)
}

// --- Properties ---

// TestRandomWalkInvariants drives a pool through random entries and price
// moves and checks the accounting against the ledgers after every step.
func TestRandomWalkInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	traders := []string{"t0", "t1", "t2", "t3"}

	for round := 0; round < 20; round++ {
		env := newTestEnv(t, 10, withFee(uint64(rng.Intn(500))))
		for _, tr := range traders {
			env.fund(t, tr, 1_000_000)
		}
		_, err := env.pool.Init(env.ctx, traders[0], u(uint64(20+rng.Intn(200))), pool.Side(rng.Intn(2)))
		require.NoError(t, err)

		for step := 0; step < 40; step++ {
			if rng.Intn(3) == 0 {
				before := env.pool.State()
				env.setPrice(t, uint64(1+rng.Intn(30)))
				res, err := env.pool.Rebalance(env.ctx, owner)
				require.NoError(t, err)

				total := new(uint256.Int).Add(before.LongPoolSize, before.ShortPoolSize)
				total.Add(total, res.Refill)
				after := new(uint256.Int).Add(res.State.LongPoolSize, res.State.ShortPoolSize)
				assert.Equal(t, total.Dec(), after.Dec(), "round %d step %d: value conserved", round, step)
				if res.State.Protocol.Position == pool.PositionNone || !res.Refill.IsZero() {
					assert.Equal(t, res.State.LongPoolSize.Dec(), res.State.ShortPoolSize.Dec(),
						"round %d step %d: flat protocol refills", round, step)
				}
			} else {
				tr := traders[rng.Intn(len(traders))]
				q, err := env.pool.Enter(env.ctx, tr, u(uint64(1+rng.Intn(300))), pool.Side(rng.Intn(2)))
				if err != nil {
					require.ErrorIs(t, err, pool.ErrDustAmount, "round %d step %d", round, step)
				} else {
					assert.Equal(t, q.State.LongPoolSize.Dec(), q.State.ShortPoolSize.Dec(),
						"round %d step %d: entry leaves pools balanced", round, step)
				}
			}
			checkInvariants(t, env)
		}
	}
}

func checkInvariants(t *testing.T, env *testEnv) {
	t.Helper()
	s := env.pool.State()

	assert.Equal(t, s.LongSupply.Dec(), env.long.TotalSupply().Dec(), "long supply matches ledger")
	assert.Equal(t, s.ShortSupply.Dec(), env.short.TotalSupply().Dec(), "short supply matches ledger")

	for _, side := range pool.Sides {
		held := env.claimsOf(t, side, poolAddr)
		switch {
		case s.Protocol.Position == pool.PositionNone:
			assert.True(t, held.IsZero(), "flat protocol holds no %s claims", side)
		case (s.Protocol.Position == pool.PositionLong) == (side == pool.Long):
			assert.Equal(t, s.Protocol.CfdSize.Dec(), held.Dec(), "protocol claims on %s", side)
		default:
			assert.True(t, held.IsZero(), "protocol never holds both sides")
		}

		// redeem * supply * Scale <= pool < (redeem + 1) * supply * Scale
		supply := s.Supply(side)
		if supply.IsZero() {
			continue
		}
		redeem := s.LongRedeemPrice
		if side == pool.Short {
			redeem = s.ShortRedeemPrice
		}
		unit := new(uint256.Int).Mul(supply, u(pool.Scale))
		lo := new(uint256.Int).Mul(redeem, unit)
		hi := new(uint256.Int).Add(lo, unit)
		assert.False(t, lo.Gt(s.PoolSize(side)), "redeem price not above pool value")
		assert.True(t, hi.Gt(s.PoolSize(side)), "redeem price truncated by less than one unit")
	}

	if s.Protocol.Position == pool.PositionNone {
		assert.True(t, s.Protocol.Size.IsZero())
	} else {
		assert.False(t, s.Protocol.Size.IsZero())
	}
	assert.False(t, env.settlementOf(t, poolAddr).Lt(s.Backing), "pool holds its backing")
}
