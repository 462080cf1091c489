// Package positions is the durable position ledger and the system's
// source of truth for holdings.
package positions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"tradewarden/internal/config"
	"tradewarden/internal/exchange"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Status is the lifecycle state of a position. The only transition is
// OPEN -> CLOSED, exactly once.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Position is one ledger row. Rows are never deleted.
type Position struct {
	ID          uuid.UUID      `db:"id"`
	Symbol      string         `db:"symbol"`
	Side        Side           `db:"side"`
	EntryPrice  float64        `db:"entry_price"`
	Amount      float64        `db:"amount"`
	Strategy    string         `db:"strategy"`
	Status      Status         `db:"status"`
	ExitPrice   *float64       `db:"exit_price"`
	ExitReason  *string        `db:"exit_reason"`
	RealizedPnL *float64       `db:"realized_pnl"`
	Fees        float64        `db:"fees"`
	Metadata    map[string]any `db:"metadata"`
	OpenedAt    time.Time      `db:"opened_at"`
	ClosedAt    *time.Time     `db:"closed_at"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// SideSign is +1 for LONG, -1 for SHORT.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Querier is the subset of pgxpool.Pool the store uses; pgxmock
// implements it for unit tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store persists positions in PostgreSQL. Every call is its own
// transaction; all external strings travel as bound parameters.
type Store struct {
	db     Querier
	logger zerolog.Logger
}

// NewStore connects a pool from database config.
func NewStore(ctx context.Context, cfg config.DatabaseConfig, dsn string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.PoolSize)
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewStoreWithQuerier(pool), nil
}

// NewStoreWithQuerier wraps an existing pool or mock.
func NewStoreWithQuerier(db Querier) *Store {
	return &Store{
		db:     db,
		logger: config.NewLogger("positions.store"),
	}
}

// Shutdown releases the pool. Close is the position transition, so the
// pool release carries a distinct name.
func (s *Store) Shutdown() { s.db.Close() }

// Health checks connectivity.
func (s *Store) Health(ctx context.Context) error { return s.db.Ping(ctx) }

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	id UUID PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL CHECK (side IN ('LONG', 'SHORT')),
	entry_price DOUBLE PRECISION NOT NULL CHECK (entry_price > 0),
	amount DOUBLE PRECISION NOT NULL CHECK (amount > 0),
	strategy TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'OPEN' CHECK (status IN ('OPEN', 'CLOSED')),
	exit_price DOUBLE PRECISION,
	exit_reason TEXT,
	realized_pnl DOUBLE PRECISION,
	fees DOUBLE PRECISION NOT NULL DEFAULT 0,
	metadata JSONB,
	opened_at TIMESTAMPTZ NOT NULL,
	closed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status);
CREATE INDEX IF NOT EXISTS idx_positions_symbol_status ON positions (symbol, status);
CREATE INDEX IF NOT EXISTS idx_positions_closed_at ON positions (closed_at DESC) WHERE status = 'CLOSED';
`

// Migrate creates the ledger table and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate positions schema: %w", err)
	}
	s.logger.Info().Msg("Positions schema ready")
	return nil
}

const positionColumns = `
	id, symbol, side, entry_price, amount, strategy, status,
	exit_price, exit_reason, realized_pnl, fees, metadata,
	opened_at, closed_at, created_at, updated_at`

// Open writes a new OPEN row atomically and returns its ID.
func (s *Store) Open(ctx context.Context, symbol string, side Side, entryPrice, amount float64, strategy string, metadata map[string]any) (uuid.UUID, error) {
	if entryPrice <= 0 {
		return uuid.Nil, fmt.Errorf("%w: entry price must be positive", exchange.ErrValidation)
	}
	if amount <= 0 {
		return uuid.Nil, fmt.Errorf("%w: amount must be positive", exchange.ErrValidation)
	}
	if side != SideLong && side != SideShort {
		return uuid.Nil, fmt.Errorf("%w: side must be LONG or SHORT", exchange.ErrValidation)
	}

	id := uuid.New()
	now := time.Now()
	query := `
		INSERT INTO positions (
			id, symbol, side, entry_price, amount, strategy, status,
			metadata, opened_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.Exec(ctx, query,
		id, symbol, side, entryPrice, amount, strategy, StatusOpen,
		metadata, now, now, now,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to open position: %w", err)
	}

	s.logger.Info().
		Str("position_id", id.String()).
		Str("symbol", symbol).
		Str("side", string(side)).
		Float64("entry_price", entryPrice).
		Float64("amount", amount).
		Msg("Position opened")
	return id, nil
}

// Close performs the single OPEN -> CLOSED transition. Closing an already
// closed position returns ErrConflict; realized PnL is
// (exit - entry) * amount * side_sign - fees.
func (s *Store) Close(ctx context.Context, id uuid.UUID, exitPrice float64, reason string, fees float64) (*Position, error) {
	if exitPrice <= 0 {
		return nil, fmt.Errorf("%w: exit price must be positive", exchange.ErrValidation)
	}

	now := time.Now()
	// The status guard in the WHERE clause makes the transition atomic:
	// a concurrent close matches zero rows.
	query := `
		UPDATE positions
		SET status = $2,
			exit_price = $3,
			exit_reason = $4,
			realized_pnl = (($3 - entry_price) * amount * (CASE WHEN side = 'SHORT' THEN -1 ELSE 1 END)) - $5,
			fees = fees + $5,
			closed_at = $6,
			updated_at = $6
		WHERE id = $1 AND status = 'OPEN'
	`
	tag, err := s.db.Exec(ctx, query, id, StatusClosed, exitPrice, reason, fees, now)
	if err != nil {
		return nil, fmt.Errorf("failed to close position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish already-closed from unknown
		existing, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Status == StatusClosed {
			return nil, fmt.Errorf("%w: position %s already closed", exchange.ErrConflict, id)
		}
		return nil, fmt.Errorf("%w: position %s", exchange.ErrNotFound, id)
	}

	closed, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("position_id", id.String()).
		Float64("exit_price", exitPrice).
		Float64("realized_pnl", derefFloat(closed.RealizedPnL)).
		Str("reason", reason).
		Msg("Position closed")
	return closed, nil
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// Get retrieves a position by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Position, error) {
	query := `SELECT` + positionColumns + ` FROM positions WHERE id = $1`
	row := s.db.QueryRow(ctx, query, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: position %s", exchange.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return p, nil
}

// ListOpen returns all OPEN positions, newest first.
func (s *Store) ListOpen(ctx context.Context) ([]*Position, error) {
	query := `SELECT` + positionColumns + ` FROM positions WHERE status = 'OPEN' ORDER BY opened_at DESC`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListRecentClosed returns the n most recently closed positions.
func (s *Store) ListRecentClosed(ctx context.Context, n int) ([]*Position, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT` + positionColumns + ` FROM positions WHERE status = 'CLOSED' ORDER BY closed_at DESC LIMIT $1`
	rows, err := s.db.Query(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListPage returns one page of the full ledger for large datasets.
func (s *Store) ListPage(ctx context.Context, limit, offset int) ([]*Position, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `SELECT` + positionColumns + ` FROM positions ORDER BY opened_at DESC LIMIT $1 OFFSET $2`
	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions page: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPosition(row pgx.Row) (*Position, error) {
	var p Position
	err := row.Scan(
		&p.ID, &p.Symbol, &p.Side, &p.EntryPrice, &p.Amount, &p.Strategy, &p.Status,
		&p.ExitPrice, &p.ExitReason, &p.RealizedPnL, &p.Fees, &p.Metadata,
		&p.OpenedAt, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPositions(rows pgx.Rows) ([]*Position, error) {
	var out []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return out, nil
}
