package bots

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"tradewarden/internal/config"
)

// ManifestEntry describes one bot in the discovery manifest.
type ManifestEntry struct {
	Type    string         `yaml:"type"`
	Enabled *bool          `yaml:"enabled"` // nil means enabled
	Params  map[string]any `yaml:"params"`
}

// Manifest is the on-disk bot fleet description.
type Manifest struct {
	Bots []ManifestEntry `yaml:"bots"`
}

// Factory constructs one bot type from its manifest params.
type Factory func(params map[string]any) (Bot, error)

// builtinFactories maps manifest bot types to constructors.
var builtinFactories = map[string]Factory{
	"rsi": func(p map[string]any) (Bot, error) {
		return NewRSIBot(intParam(p, "period", 14)), nil
	},
	"macd": func(p map[string]any) (Bot, error) {
		return NewMACDBot(), nil
	},
	"bollinger": func(p map[string]any) (Bot, error) {
		return NewBollingerBot(intParam(p, "period", 20)), nil
	},
	"lstm_momentum": func(p map[string]any) (Bot, error) {
		return NewLSTMMomentumBot(intParam(p, "window", 10)), nil
	},
	"grid": func(p map[string]any) (Bot, error) {
		return NewGridBot(floatParam(p, "step_pct", 1.0), intParam(p, "levels", 5)), nil
	},
	"vwap": func(p map[string]any) (Bot, error) {
		return NewVWAPBot(intParam(p, "window", 20)), nil
	},
	"var_guard": func(p map[string]any) (Bot, error) {
		return NewVaRGuardBot(floatParam(p, "quantile", 0.95), floatParam(p, "loss_limit", 0.03)), nil
	},
	"profit_lock": func(p map[string]any) (Bot, error) {
		return NewProfitLockBot(floatParam(p, "trigger_pct", 3.0), floatParam(p, "keep_ratio", 0.5)), nil
	},
	"whale_watch": func(p map[string]any) (Bot, error) {
		return NewWhaleWatchBot(floatParam(p, "spike_ratio", 5.0)), nil
	},
}

func intParam(p map[string]any, key string, def int) int {
	if v, ok := p[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func floatParam(p map[string]any, key string, def float64) float64 {
	if v, ok := p[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

// DiscoveryResult summarizes one manifest scan. A single bot failing to
// instantiate lands in Errors and never aborts discovery.
type DiscoveryResult struct {
	Discovered int      `json:"discovered"`
	Bots       []string `json:"bots"`
	Errors     []string `json:"errors,omitempty"`
}

// Registry owns the bot fleet, keyed by unique bot name.
type Registry struct {
	mu     sync.RWMutex
	bots   map[string]Bot
	logger zerolog.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bots:   make(map[string]Bot),
		logger: config.NewLogger("bots.registry"),
	}
}

// Discover reads the manifest and instantiates every enabled bot.
func (r *Registry) Discover(manifestPath string) (*DiscoveryResult, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read bot manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse bot manifest: %w", err)
	}

	result := &DiscoveryResult{}
	for i, entry := range manifest.Bots {
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}
		factory, ok := builtinFactories[entry.Type]
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d: unknown bot type %q", i, entry.Type))
			continue
		}
		bot, err := factory(entry.Params)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d (%s): %v", i, entry.Type, err))
			continue
		}
		if err := r.Register(bot); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Discovered++
		result.Bots = append(result.Bots, bot.Name())
	}

	r.logger.Info().
		Int("discovered", result.Discovered).
		Int("errors", len(result.Errors)).
		Msg("Bot discovery complete")
	return result, nil
}

// Register adds a bot, rejecting duplicate names.
func (r *Registry) Register(bot Bot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bots[bot.Name()]; exists {
		return fmt.Errorf("duplicate bot name %q", bot.Name())
	}
	r.bots[bot.Name()] = bot
	return nil
}

// Get returns one bot by name.
func (r *Registry) Get(name string) (Bot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bot, ok := r.bots[name]
	return bot, ok
}

// GetByCategory returns all bots in a category, name-sorted.
func (r *Registry) GetByCategory(category Category) []Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Bot
	for _, bot := range r.bots {
		if bot.Category() == category {
			out = append(out, bot)
		}
	}
	sortBots(out)
	return out
}

// All returns every registered bot, name-sorted.
func (r *Registry) All() []Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Bot, 0, len(r.bots))
	for _, bot := range r.bots {
		out = append(out, bot)
	}
	sortBots(out)
	return out
}

// Analyzers returns registered bots that produce signals.
func (r *Registry) Analyzers() []Analyzer {
	var out []Analyzer
	for _, bot := range r.All() {
		if a, ok := bot.(Analyzer); ok {
			out = append(out, a)
		}
	}
	return out
}

// Updaters returns registered stateful monitor bots.
func (r *Registry) Updaters() []Updater {
	var out []Updater
	for _, bot := range r.All() {
		if u, ok := bot.(Updater); ok {
			out = append(out, u)
		}
	}
	return out
}

// Evaluators returns registered protection bots.
func (r *Registry) Evaluators() []Evaluator {
	var out []Evaluator
	for _, bot := range r.All() {
		if e, ok := bot.(Evaluator); ok {
			out = append(out, e)
		}
	}
	return out
}

// StatusSummary collects every bot's status report, name-sorted.
func (r *Registry) StatusSummary() []Status {
	bots := r.All()
	out := make([]Status, 0, len(bots))
	for _, bot := range bots {
		out = append(out, bot.Status())
	}
	return out
}

func sortBots(bots []Bot) {
	sort.Slice(bots, func(i, j int) bool { return bots[i].Name() < bots[j].Name() })
}
