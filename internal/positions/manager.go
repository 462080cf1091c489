package positions

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradewarden/internal/config"
	"tradewarden/internal/events"
	"tradewarden/internal/exchange"
)

// BalanceReader is the slice of the adapter reconciliation needs.
type BalanceReader interface {
	GetBalance(ctx context.Context, asset string) (*exchange.Balance, error)
}

// Discrepancy is one mismatch between the ledger and the venue.
type Discrepancy struct {
	PositionID uuid.UUID `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Expected   float64   `json:"expected"`
	Held       float64   `json:"held"`
	Detail     string    `json:"detail"`
}

// ReconcileSummary reports a reconciliation pass. The ledger is never
// mutated by reconciliation; resolution is an operator action.
type ReconcileSummary struct {
	Checked       int           `json:"checked"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	Errors        []string      `json:"errors"`
}

// Manager is the position state manager: it owns the ledger, publishes
// lifecycle events, and reconciles against the venue on startup.
type Manager struct {
	store     *Store
	publisher events.Publisher
	logger    zerolog.Logger
}

// NewManager wires the ledger to the event stream.
func NewManager(store *Store, publisher events.Publisher) *Manager {
	return &Manager{
		store:     store,
		publisher: publisher,
		logger:    config.NewLogger("positions.manager"),
	}
}

// Open records a new OPEN position and publishes position.opened.
func (m *Manager) Open(ctx context.Context, symbol string, side Side, entryPrice, amount float64, strategy string, metadata map[string]any) (uuid.UUID, error) {
	id, err := m.store.Open(ctx, symbol, side, entryPrice, amount, strategy, metadata)
	if err != nil {
		return uuid.Nil, err
	}
	m.publisher.Publish(ctx, events.SubjectPositionOpened, map[string]any{
		"position_id": id.String(),
		"symbol":      symbol,
		"side":        string(side),
		"entry_price": entryPrice,
		"amount":      amount,
		"strategy":    strategy,
	})
	return id, nil
}

// Close performs the single close transition and publishes
// position.closed with the realized PnL.
func (m *Manager) Close(ctx context.Context, id uuid.UUID, exitPrice float64, reason string, fees float64) (*Position, error) {
	closed, err := m.store.Close(ctx, id, exitPrice, reason, fees)
	if err != nil {
		return nil, err
	}
	m.publisher.Publish(ctx, events.SubjectPositionClosed, map[string]any{
		"position_id":  id.String(),
		"symbol":       closed.Symbol,
		"exit_price":   exitPrice,
		"realized_pnl": derefFloat(closed.RealizedPnL),
		"reason":       reason,
	})
	return closed, nil
}

// Get returns one position by ID.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Position, error) {
	return m.store.Get(ctx, id)
}

// GetOpen returns all open positions.
func (m *Manager) GetOpen(ctx context.Context) ([]*Position, error) {
	return m.store.ListOpen(ctx)
}

// ListRecentClosed returns the n most recently closed positions.
func (m *Manager) ListRecentClosed(ctx context.Context, n int) ([]*Position, error) {
	return m.store.ListRecentClosed(ctx, n)
}

// ListPage pages through the full ledger.
func (m *Manager) ListPage(ctx context.Context, limit, offset int) ([]*Position, error) {
	return m.store.ListPage(ctx, limit, offset)
}

// Health proxies the store health check.
func (m *Manager) Health(ctx context.Context) error {
	return m.store.Health(ctx)
}

// Reconcile compares OPEN positions against venue balances. Each
// mismatch is published as position.discrepancy and returned in the
// summary; the ledger itself is left untouched.
func (m *Manager) Reconcile(ctx context.Context, balances BalanceReader) (*ReconcileSummary, error) {
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		return nil, err
	}

	summary := &ReconcileSummary{Checked: len(open)}

	// LONG exposure per base asset according to the ledger
	expected := make(map[string]float64)
	bySymbol := make(map[string][]*Position)
	for _, p := range open {
		base := baseAsset(p.Symbol)
		if p.Side == SideLong {
			expected[base] += p.Amount
		}
		bySymbol[base] = append(bySymbol[base], p)
	}

	for asset, want := range expected {
		bal, err := balances.GetBalance(ctx, asset)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("balance lookup for %s: %v", asset, err))
			continue
		}
		held := bal.Free + bal.Locked
		if held >= want {
			continue
		}
		for _, p := range bySymbol[asset] {
			d := Discrepancy{
				PositionID: p.ID,
				Symbol:     p.Symbol,
				Expected:   want,
				Held:       held,
				Detail:     fmt.Sprintf("ledger expects %.8g %s but venue holds %.8g", want, asset, held),
			}
			summary.Discrepancies = append(summary.Discrepancies, d)
			m.publisher.Publish(ctx, events.SubjectPositionDiscrepancy, d)
		}
	}

	m.logger.Info().
		Int("checked", summary.Checked).
		Int("discrepancies", len(summary.Discrepancies)).
		Int("errors", len(summary.Errors)).
		Msg("Reconciliation complete")
	return summary, nil
}

// baseAsset extracts BASE from BASE/QUOTE.
func baseAsset(symbol string) string {
	if i := strings.IndexByte(symbol, '/'); i > 0 {
		return symbol[:i]
	}
	return symbol
}
