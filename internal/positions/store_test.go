package positions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewarden/internal/exchange"
)

var posColumns = []string{
	"id", "symbol", "side", "entry_price", "amount", "strategy", "status",
	"exit_price", "exit_reason", "realized_pnl", "fees", "metadata",
	"opened_at", "closed_at", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStoreWithQuerier(mock), mock
}

func openRow(id uuid.UUID, symbol string, side Side, entry, amount float64) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows(posColumns).AddRow(
		id, symbol, side, entry, amount, "grid", StatusOpen,
		nil, nil, nil, 0.0, map[string]any(nil),
		now, nil, now, now,
	)
}

func closedRow(id uuid.UUID, symbol string, exit, pnl float64) *pgxmock.Rows {
	now := time.Now()
	reason := "stop-loss crossed"
	return pgxmock.NewRows(posColumns).AddRow(
		id, symbol, SideLong, 50_000.0, 1.0, "grid", StatusClosed,
		&exit, &reason, &pnl, 10.0, map[string]any(nil),
		now.Add(-time.Hour), &now, now.Add(-time.Hour), now,
	)
}

func TestStoreOpen(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO positions").
		WithArgs(
			pgxmock.AnyArg(), "BTC/USDT", SideLong, 50_000.0, 0.5, "grid", StatusOpen,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := store.Open(context.Background(), "BTC/USDT", SideLong, 50_000, 0.5, "grid", nil)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreOpenValidation(t *testing.T) {
	store, _ := newMockStore(t)
	ctx := context.Background()

	_, err := store.Open(ctx, "BTC/USDT", SideLong, 0, 1, "grid", nil)
	assert.ErrorIs(t, err, exchange.ErrValidation)

	_, err = store.Open(ctx, "BTC/USDT", SideLong, 1, 0, "grid", nil)
	assert.ErrorIs(t, err, exchange.ErrValidation)

	_, err = store.Open(ctx, "BTC/USDT", "FLAT", 1, 1, "grid", nil)
	assert.ErrorIs(t, err, exchange.ErrValidation)
}

func TestStoreOpenBindsHostileStrings(t *testing.T) {
	store, mock := newMockStore(t)

	// A DROP attempt travels as a parameter, never spliced into SQL
	hostile := "BTC/USDT'; DROP TABLE positions; --"
	mock.ExpectExec("INSERT INTO positions").
		WithArgs(
			pgxmock.AnyArg(), hostile, SideLong, 1.0, 1.0, "grid", StatusOpen,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	_, err := store.Open(context.Background(), hostile, SideLong, 1, 1, "grid", nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCloseComputesTransition(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE positions").
		WithArgs(id, StatusClosed, 52_000.0, "take profit", 10.0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT").
		WithArgs(id).
		WillReturnRows(closedRow(id, "BTC/USDT", 52_000, 1_990))

	closed, err := store.Close(context.Background(), id, 52_000, "take profit", 10)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	assert.InDelta(t, 1_990, *closed.RealizedPnL, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCloseAlreadyClosedConflicts(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	// Guarded UPDATE matches zero rows; the follow-up read shows CLOSED
	mock.ExpectExec("UPDATE positions").
		WithArgs(id, StatusClosed, 52_000.0, "retry", 0.0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT").
		WithArgs(id).
		WillReturnRows(closedRow(id, "BTC/USDT", 52_000, 1_990))

	_, err := store.Close(context.Background(), id, 52_000, "retry", 0)
	assert.ErrorIs(t, err, exchange.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCloseRejectsBadExit(t *testing.T) {
	store, _ := newMockStore(t)
	_, err := store.Close(context.Background(), uuid.New(), 0, "x", 0)
	assert.ErrorIs(t, err, exchange.ErrValidation)
}

func TestStoreGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(posColumns))

	_, err := store.Get(context.Background(), id)
	assert.ErrorIs(t, err, exchange.ErrNotFound)
}

func TestStoreListOpen(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT").
		WillReturnRows(openRow(id, "ETH/USDT", SideLong, 3_000, 2))

	open, err := store.ListOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, id, open[0].ID)
	assert.Equal(t, StatusOpen, open[0].Status)
}

func TestStoreListRecentClosedDefaultsLimit(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT").
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows(posColumns))

	closed, err := store.ListRecentClosed(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, closed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSideSign(t *testing.T) {
	assert.Equal(t, 1.0, SideLong.Sign())
	assert.Equal(t, -1.0, SideShort.Sign())
}

func TestStoreShutdownReleasesPool(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store := NewStoreWithQuerier(mock)

	mock.ExpectClose()
	store.Shutdown()
	assert.NoError(t, mock.ExpectationsWereMet())
}
