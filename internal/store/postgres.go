package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/cfd-pool/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All amounts are stored as NUMERIC for exact precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS pool_snapshots (
	asset              TEXT PRIMARY KEY,
	version            BIGINT      NOT NULL,
	initialized        BOOLEAN     NOT NULL,
	price              NUMERIC     NOT NULL,
	long_supply        NUMERIC     NOT NULL,
	short_supply       NUMERIC     NOT NULL,
	long_pool_size     NUMERIC     NOT NULL,
	short_pool_size    NUMERIC     NOT NULL,
	long_redeem_price  NUMERIC     NOT NULL,
	short_redeem_price NUMERIC     NOT NULL,
	protocol_position  TEXT        NOT NULL,
	protocol_size      NUMERIC     NOT NULL,
	protocol_cfd_size  NUMERIC     NOT NULL,
	backing            NUMERIC     NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pool_events (
	id        UUID PRIMARY KEY,
	asset     TEXT        NOT NULL,
	kind      TEXT        NOT NULL,
	account   TEXT        NOT NULL,
	side      TEXT        NOT NULL DEFAULT '',
	amount    NUMERIC     NOT NULL,
	fee       NUMERIC     NOT NULL,
	claims    NUMERIC     NOT NULL,
	old_price NUMERIC     NOT NULL,
	new_price NUMERIC     NOT NULL,
	moved     NUMERIC     NOT NULL,
	refill    NUMERIC     NOT NULL,
	version   BIGINT      NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pool_events_asset ON pool_events(asset, version);
CREATE INDEX IF NOT EXISTS idx_pool_events_account ON pool_events(account, timestamp);
`

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SavePoolSnapshot(ctx context.Context, ps *model.PoolState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pool_snapshots (asset, version, initialized, price,
		        long_supply, short_supply, long_pool_size, short_pool_size,
		        long_redeem_price, short_redeem_price,
		        protocol_position, protocol_size, protocol_cfd_size, backing, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC,
		         $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
		         $9::NUMERIC, $10::NUMERIC,
		         $11, $12::NUMERIC, $13::NUMERIC, $14::NUMERIC, $15)
		 ON CONFLICT (asset) DO UPDATE SET
		        version = EXCLUDED.version,
		        initialized = EXCLUDED.initialized,
		        price = EXCLUDED.price,
		        long_supply = EXCLUDED.long_supply,
		        short_supply = EXCLUDED.short_supply,
		        long_pool_size = EXCLUDED.long_pool_size,
		        short_pool_size = EXCLUDED.short_pool_size,
		        long_redeem_price = EXCLUDED.long_redeem_price,
		        short_redeem_price = EXCLUDED.short_redeem_price,
		        protocol_position = EXCLUDED.protocol_position,
		        protocol_size = EXCLUDED.protocol_size,
		        protocol_cfd_size = EXCLUDED.protocol_cfd_size,
		        backing = EXCLUDED.backing,
		        updated_at = EXCLUDED.updated_at
		 WHERE pool_snapshots.version <= EXCLUDED.version`,
		ps.Asset, ps.Version, ps.Initialized, ps.Price.String(),
		ps.LongSupply.String(), ps.ShortSupply.String(),
		ps.LongPoolSize.String(), ps.ShortPoolSize.String(),
		ps.LongRedeemPrice.String(), ps.ShortRedeemPrice.String(),
		ps.Protocol.Position, ps.Protocol.Size.String(), ps.Protocol.CfdSize.String(),
		ps.Backing.String(), ps.UpdatedAt,
	)
	return err
}

const selectSnapshot = `SELECT asset, version, initialized, price::TEXT,
        long_supply::TEXT, short_supply::TEXT, long_pool_size::TEXT, short_pool_size::TEXT,
        long_redeem_price::TEXT, short_redeem_price::TEXT,
        protocol_position, protocol_size::TEXT, protocol_cfd_size::TEXT,
        backing::TEXT, updated_at
 FROM pool_snapshots`

func (s *PostgresStore) GetPoolSnapshot(ctx context.Context, asset string) (*model.PoolState, error) {
	ps, err := scanSnapshot(s.pool.QueryRow(ctx, selectSnapshot+` WHERE asset = $1`, asset))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: pool %s", ErrNotFound, asset)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool snapshot %s: %w", asset, err)
	}
	return ps, nil
}

func (s *PostgresStore) ListPoolSnapshots(ctx context.Context) ([]model.PoolState, error) {
	rows, err := s.pool.Query(ctx, selectSnapshot+` ORDER BY asset`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PoolState
	for rows.Next() {
		ps, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ps)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertEvent(ctx context.Context, e *model.PoolEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pool_events (id, asset, kind, account, side,
		        amount, fee, claims, old_price, new_price, moved, refill, version, timestamp)
		 VALUES ($1, $2, $3, $4, $5,
		         $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		         $11::NUMERIC, $12::NUMERIC, $13, $14)`,
		e.ID, e.Asset, e.Kind, e.Account, e.Side,
		e.Amount.String(), e.Fee.String(), e.Claims.String(),
		e.OldPrice.String(), e.NewPrice.String(), e.Moved.String(), e.Refill.String(),
		e.Version, e.Timestamp,
	)
	return err
}

const selectEvents = `SELECT id::TEXT, asset, kind, account, side,
        amount::TEXT, fee::TEXT, claims::TEXT, old_price::TEXT, new_price::TEXT,
        moved::TEXT, refill::TEXT, version, timestamp
 FROM pool_events`

func (s *PostgresStore) ListEventsByPool(ctx context.Context, asset string) ([]model.PoolEvent, error) {
	rows, err := s.pool.Query(ctx, selectEvents+` WHERE asset = $1 ORDER BY version, timestamp`, asset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) ListEventsByAccount(ctx context.Context, account string) ([]model.PoolEvent, error) {
	rows, err := s.pool.Query(ctx, selectEvents+` WHERE account = $1 ORDER BY timestamp`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// pgxRows reads pgx rows into slices.
type pgxRows interface {
	scanner
	Next() bool
	Err() error
}

func scanSnapshot(row scanner) (*model.PoolState, error) {
	var ps model.PoolState
	var price, longSupply, shortSupply, longPool, shortPool string
	var longRedeem, shortRedeem, protoSize, protoCfd, backing string

	if err := row.Scan(&ps.Asset, &ps.Version, &ps.Initialized, &price,
		&longSupply, &shortSupply, &longPool, &shortPool,
		&longRedeem, &shortRedeem,
		&ps.Protocol.Position, &protoSize, &protoCfd,
		&backing, &ps.UpdatedAt); err != nil {
		return nil, err
	}

	ps.Price, _ = decimal.NewFromString(price)
	ps.LongSupply, _ = decimal.NewFromString(longSupply)
	ps.ShortSupply, _ = decimal.NewFromString(shortSupply)
	ps.LongPoolSize, _ = decimal.NewFromString(longPool)
	ps.ShortPoolSize, _ = decimal.NewFromString(shortPool)
	ps.LongRedeemPrice, _ = decimal.NewFromString(longRedeem)
	ps.ShortRedeemPrice, _ = decimal.NewFromString(shortRedeem)
	ps.Protocol.Size, _ = decimal.NewFromString(protoSize)
	ps.Protocol.CfdSize, _ = decimal.NewFromString(protoCfd)
	ps.Backing, _ = decimal.NewFromString(backing)
	ps.FillRedeemValues()

	return &ps, nil
}

func scanEvents(rows pgxRows) ([]model.PoolEvent, error) {
	var events []model.PoolEvent
	for rows.Next() {
		var e model.PoolEvent
		var amount, fee, claims, oldPrice, newPrice, moved, refill string

		if err := rows.Scan(&e.ID, &e.Asset, &e.Kind, &e.Account, &e.Side,
			&amount, &fee, &claims, &oldPrice, &newPrice,
			&moved, &refill, &e.Version, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Amount, _ = decimal.NewFromString(amount)
		e.Fee, _ = decimal.NewFromString(fee)
		e.Claims, _ = decimal.NewFromString(claims)
		e.OldPrice, _ = decimal.NewFromString(oldPrice)
		e.NewPrice, _ = decimal.NewFromString(newPrice)
		e.Moved, _ = decimal.NewFromString(moved)
		e.Refill, _ = decimal.NewFromString(refill)

		events = append(events, e)
	}
	return events, rows.Err()
}
