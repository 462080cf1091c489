package positions

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewarden/internal/events"
	"tradewarden/internal/exchange"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string]int
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(map[string]int)}
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[subject]++
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[subject]
}

type stubBalances struct {
	balances map[string]float64
}

func (s *stubBalances) GetBalance(_ context.Context, asset string) (*exchange.Balance, error) {
	return &exchange.Balance{Asset: asset, Free: s.balances[asset]}, nil
}

func TestManagerOpenPublishesEvent(t *testing.T) {
	store, mock := newMockStore(t)
	pub := newRecordingPublisher()
	mgr := NewManager(store, pub)

	mock.ExpectExec("INSERT INTO positions").
		WithArgs(
			pgxmock.AnyArg(), "BTC/USDT", SideLong, 50_000.0, 0.5, "grid", StatusOpen,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := mgr.Open(context.Background(), "BTC/USDT", SideLong, 50_000, 0.5, "grid", nil)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, 1, pub.count(events.SubjectPositionOpened))
}

func TestManagerClosePublishesEvent(t *testing.T) {
	store, mock := newMockStore(t)
	pub := newRecordingPublisher()
	mgr := NewManager(store, pub)
	id := uuid.New()

	mock.ExpectExec("UPDATE positions").
		WithArgs(id, StatusClosed, 52_000.0, "take profit", 0.0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT").
		WithArgs(id).
		WillReturnRows(closedRow(id, "BTC/USDT", 52_000, 2_000))

	_, err := mgr.Close(context.Background(), id, 52_000, "take profit", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, pub.count(events.SubjectPositionClosed))
}

func TestManagerCloseFailureDoesNotPublish(t *testing.T) {
	store, mock := newMockStore(t)
	pub := newRecordingPublisher()
	mgr := NewManager(store, pub)
	id := uuid.New()

	mock.ExpectExec("UPDATE positions").
		WithArgs(id, StatusClosed, 52_000.0, "retry", 0.0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT").
		WithArgs(id).
		WillReturnRows(closedRow(id, "BTC/USDT", 52_000, 2_000))

	_, err := mgr.Close(context.Background(), id, 52_000, "retry", 0)
	assert.ErrorIs(t, err, exchange.ErrConflict)
	assert.Zero(t, pub.count(events.SubjectPositionClosed))
}

func TestManagerReconcileEmitsDiscrepancies(t *testing.T) {
	store, mock := newMockStore(t)
	pub := newRecordingPublisher()
	mgr := NewManager(store, pub)
	id := uuid.New()

	mock.ExpectQuery("SELECT").
		WillReturnRows(openRow(id, "BTC/USDT", SideLong, 50_000, 2))

	// Ledger expects 2 BTC, venue holds 0.5
	summary, err := mgr.Reconcile(context.Background(), &stubBalances{
		balances: map[string]float64{"BTC": 0.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Checked)
	require.Len(t, summary.Discrepancies, 1)
	assert.Equal(t, id, summary.Discrepancies[0].PositionID)
	assert.Equal(t, 1, pub.count(events.SubjectPositionDiscrepancy))
}

func TestManagerReconcileCleanLedger(t *testing.T) {
	store, mock := newMockStore(t)
	pub := newRecordingPublisher()
	mgr := NewManager(store, pub)

	mock.ExpectQuery("SELECT").
		WillReturnRows(openRow(uuid.New(), "ETH/USDT", SideLong, 3_000, 1))

	summary, err := mgr.Reconcile(context.Background(), &stubBalances{
		balances: map[string]float64{"ETH": 5},
	})
	require.NoError(t, err)
	assert.Empty(t, summary.Discrepancies)
	assert.Zero(t, pub.count(events.SubjectPositionDiscrepancy))
}
