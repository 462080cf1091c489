package bots

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		want Category
	}{
		{"lstm_momentum", CategoryAIML},
		{"transformer_trend", CategoryAIML},
		{"xgboost_ranker", CategoryAIML},
		{"grid_trader", CategoryStrategy},
		{"arbitrage_scanner", CategoryStrategy},
		{"pairs_spread", CategoryStrategy},
		{"vwap_exec", CategoryExecution},
		{"twap_slicer", CategoryExecution},
		{"iceberg_feeder", CategoryExecution},
		{"var_guard", CategoryRisk},
		{"cvar_guard", CategoryRisk},
		{"monte_carlo_sim", CategoryRisk},
		{"black_swan_watch", CategoryRisk},
		{"rsi_guard", CategoryIndicator},
		{"macd_cross", CategoryIndicator},
		{"bollinger_band", CategoryIndicator},
		{"ichimoku_cloud", CategoryIndicator},
		{"profit_lock", CategoryProtection},
		{"crash_shield", CategoryProtection},
		{"whale_watch", CategoryGeneral},
		{"unknown_thing", CategoryGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.name))
		})
	}
}

func TestActionSign(t *testing.T) {
	assert.Equal(t, 1.0, ActionBuy.Sign())
	assert.Equal(t, -1.0, ActionSell.Sign())
	assert.Equal(t, 0.0, ActionHold.Sign())
}
