package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradesim/exchange-engine/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every query
// method works identically inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	q    querier
	pool *pgxpool.Pool // nil when this store is a transactional view
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{q: pool, pool: pool}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		// Already transactional; run in the same transaction.
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresStore{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- Assets ---

func (s *PostgresStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	return s.q.QueryRow(ctx,
		`INSERT INTO assets (symbol, name) VALUES ($1, $2) RETURNING id`,
		a.Symbol, a.Name,
	).Scan(&a.ID)
}

func (s *PostgresStore) ListAssets(ctx context.Context) ([]model.Asset, error) {
	rows, err := s.q.Query(ctx, `SELECT id, symbol, name FROM assets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []model.Asset
	for rows.Next() {
		var a model.Asset
		if err := rows.Scan(&a.ID, &a.Symbol, &a.Name); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.q.QueryRow(ctx,
		`INSERT INTO users (balance) VALUES ($1::NUMERIC) RETURNING id`,
		u.Balance.String(),
	).Scan(&u.ID)
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	var balance string

	err := s.q.QueryRow(ctx,
		`SELECT id, balance::TEXT FROM users WHERE id = $1`, id).
		Scan(&u.ID, &balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}

	u.Balance, _ = decimal.NewFromString(balance)
	return &u, nil
}

func (s *PostgresStore) UpdateUserBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE users SET balance = $2::NUMERIC WHERE id = $1`,
		id, balance.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Holdings ---

func (s *PostgresStore) GetHolding(ctx context.Context, userID, assetID int64) (*model.Holding, error) {
	var h model.Holding
	var amount string

	err := s.q.QueryRow(ctx,
		`SELECT id, user_id, asset_id, amount::TEXT
		 FROM user_balances WHERE user_id = $1 AND asset_id = $2`,
		userID, assetID).
		Scan(&h.ID, &h.UserID, &h.AssetID, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get holding user=%d asset=%d: %w", userID, assetID, err)
	}

	h.Amount, _ = decimal.NewFromString(amount)
	return &h, nil
}

func (s *PostgresStore) SetHoldingAmount(ctx context.Context, userID, assetID int64, amount decimal.Decimal) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO user_balances (user_id, asset_id, amount)
		 VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (user_id, asset_id) DO UPDATE SET amount = EXCLUDED.amount`,
		userID, assetID, amount.String(),
	)
	return err
}

func (s *PostgresStore) TotalHeld(ctx context.Context, assetID int64) (decimal.Decimal, error) {
	return s.sumQuery(ctx,
		`SELECT COALESCE(SUM(amount), 0)::TEXT FROM user_balances WHERE asset_id = $1`,
		assetID)
}

// --- Orders ---

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO orders (id, user_id, asset_id, order_type, price, amount, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)`,
		o.ID, o.UserID, o.AssetID, o.Type,
		o.Price.String(), o.Amount.String(),
		o.Status, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	var price, amount string

	err := s.q.QueryRow(ctx,
		`SELECT id, user_id, asset_id, order_type, price::TEXT, amount::TEXT, status, created_at, updated_at
		 FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.UserID, &o.AssetID, &o.Type, &price, &amount,
			&o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}

	o.Price, _ = decimal.NewFromString(price)
	o.Amount, _ = decimal.NewFromString(amount)
	return &o, nil
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id, status string, at time.Time) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PendingOrderAmount(ctx context.Context, assetID int64, side string) (decimal.Decimal, error) {
	return s.sumQuery(ctx,
		`SELECT COALESCE(SUM(amount), 0)::TEXT
		 FROM orders WHERE asset_id = $1 AND order_type = $2 AND status = 'pending'`,
		assetID, side)
}

// --- Trades ---

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO trades (id, user_id, asset_id, trade_type, price, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)`,
		t.ID, t.UserID, t.AssetID, t.Type,
		t.Price.String(), t.Amount.String(), t.CreatedAt,
	)
	return err
}

func (s *PostgresStore) TradeVolumeSince(ctx context.Context, assetID int64, side string, since time.Time) (decimal.Decimal, error) {
	return s.sumQuery(ctx,
		`SELECT COALESCE(SUM(amount), 0)::TEXT
		 FROM trades WHERE asset_id = $1 AND trade_type = $2 AND created_at >= $3`,
		assetID, side, since)
}

// --- Price snapshots ---

func (s *PostgresStore) InsertSnapshots(ctx context.Context, snapshots []model.PriceSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		batch.Queue(
			`INSERT INTO price_snapshot (asset_id, price, created_at)
			 VALUES ($1, $2::NUMERIC, $3)`,
			snap.AssetID, snap.Price.String(), snap.CreatedAt,
		)
	}
	return s.q.SendBatch(ctx, batch).Close()
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, assetID int64) (*model.PriceSnapshot, error) {
	var snap model.PriceSnapshot
	var price string

	err := s.q.QueryRow(ctx,
		`SELECT id, asset_id, price::TEXT, created_at
		 FROM price_snapshot WHERE asset_id = $1
		 ORDER BY created_at DESC LIMIT 1`, assetID).
		Scan(&snap.ID, &snap.AssetID, &price, &snap.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot asset=%d: %w", assetID, err)
	}

	snap.Price, _ = decimal.NewFromString(price)
	return &snap, nil
}

// sumQuery runs a single-value aggregate and parses it as a decimal.
func (s *PostgresStore) sumQuery(ctx context.Context, sql string, args ...any) (decimal.Decimal, error) {
	var sum string
	if err := s.q.QueryRow(ctx, sql, args...).Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(sum)
	if err != nil {
		return decimal.Zero, err
	}
	return d, nil
}
