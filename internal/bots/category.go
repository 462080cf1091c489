package bots

import "strings"

// Category buckets bots for decision weighting.
type Category string

const (
	CategoryAIML       Category = "AI_ML"
	CategoryStrategy   Category = "STRATEGY"
	CategoryExecution  Category = "EXECUTION"
	CategoryRisk       Category = "RISK"
	CategoryIndicator  Category = "INDICATOR"
	CategoryProtection Category = "PROTECTION"
	CategoryGeneral    Category = "GENERAL"
)

// categoryMarkers maps name substrings to categories. The mapping is
// data: adding a marker never requires touching categorization logic.
var categoryMarkers = []struct {
	marker   string
	category Category
}{
	{"lstm", CategoryAIML},
	{"gan", CategoryAIML},
	{"transformer", CategoryAIML},
	{"xgboost", CategoryAIML},
	{"grid", CategoryStrategy},
	{"market_making", CategoryStrategy},
	{"arbitrage", CategoryStrategy},
	{"pairs", CategoryStrategy},
	{"vwap", CategoryExecution},
	{"twap", CategoryExecution},
	{"iceberg", CategoryExecution},
	{"sniper", CategoryExecution},
	{"cvar", CategoryRisk}, // before "var": "cvar" contains it
	{"var", CategoryRisk},
	{"monte_carlo", CategoryRisk},
	{"black_swan", CategoryRisk},
	{"rsi", CategoryIndicator},
	{"macd", CategoryIndicator},
	{"bollinger", CategoryIndicator},
	{"ichimoku", CategoryIndicator},
	{"fibonacci", CategoryIndicator},
	{"profit_lock", CategoryProtection},
	{"rug_shield", CategoryProtection},
	{"crash_shield", CategoryProtection},
}

// Categorize infers a bot's category from its name.
func Categorize(name string) Category {
	lower := strings.ToLower(name)
	for _, m := range categoryMarkers {
		if strings.Contains(lower, m.marker) {
			return m.category
		}
	}
	return CategoryGeneral
}
