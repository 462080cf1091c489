package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d error(s):\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateApp()...)
	errs = append(errs, c.validateTrading()...)
	errs = append(errs, c.validateSafety()...)
	errs = append(errs, c.validateOrchestrator()...)
	errs = append(errs, c.validateRugShield()...)
	errs = append(errs, c.validateStopLoss()...)
	errs = append(errs, c.validateHelios()...)
	errs = append(errs, c.validateExchange()...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errs ValidationErrors

	switch c.App.Environment {
	case "development", "staging", "production":
	default:
		errs = append(errs, ValidationError{
			Field:   "app.environment",
			Message: fmt.Sprintf("must be development, staging, or production (got %q)", c.App.Environment),
		})
	}

	switch c.App.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, ValidationError{
			Field:   "app.log_format",
			Message: fmt.Sprintf("must be json or console (got %q)", c.App.LogFormat),
		})
	}

	return errs
}

func (c *Config) validateTrading() ValidationErrors {
	var errs ValidationErrors

	if len(c.Trading.Pairs) == 0 {
		errs = append(errs, ValidationError{
			Field:   "trading.pairs",
			Message: "at least one trading pair is required",
		})
	}
	for _, pair := range c.Trading.Pairs {
		if !strings.Contains(pair, "/") {
			errs = append(errs, ValidationError{
				Field:   "trading.pairs",
				Message: fmt.Sprintf("pair %q must use BASE/QUOTE format", pair),
			})
		}
	}
	if c.Trading.CycleIntervalS <= 0 {
		errs = append(errs, ValidationError{
			Field:   "trading.cycle_interval_s",
			Message: "must be positive",
		})
	}
	if c.Trading.DefaultQuantity <= 0 {
		errs = append(errs, ValidationError{
			Field:   "trading.default_quantity",
			Message: "must be positive",
		})
	}

	return errs
}

func (c *Config) validateSafety() ValidationErrors {
	var errs ValidationErrors

	if c.Safety.RateLimitPerMinute <= 0 {
		errs = append(errs, ValidationError{
			Field:   "safety.rate_limit_per_minute",
			Message: "must be positive",
		})
	}
	if c.Safety.FailureThreshold <= 0 {
		errs = append(errs, ValidationError{
			Field:   "safety.failure_threshold",
			Message: "must be positive",
		})
	}
	if c.Safety.RecoveryTimeoutS <= 0 {
		errs = append(errs, ValidationError{
			Field:   "safety.recovery_timeout_s",
			Message: "must be positive",
		})
	}

	return errs
}

func (c *Config) validateOrchestrator() ValidationErrors {
	var errs ValidationErrors

	if c.Orchestrator.DecisionThreshold <= 0 || c.Orchestrator.DecisionThreshold >= 1 {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.decision_threshold",
			Message: fmt.Sprintf("must be in (0, 1) (got %v)", c.Orchestrator.DecisionThreshold),
		})
	}
	if c.Orchestrator.DissentGate <= 0 || c.Orchestrator.DissentGate > 0.5 {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.dissent_gate",
			Message: fmt.Sprintf("must be in (0, 0.5] (got %v)", c.Orchestrator.DissentGate),
		})
	}
	for category, weight := range c.Orchestrator.CategoryWeights {
		if weight < 0 || weight > 1 {
			errs = append(errs, ValidationError{
				Field:   "orchestrator.category_weights",
				Message: fmt.Sprintf("weight for %s must be in [0, 1] (got %v)", category, weight),
			})
		}
	}

	return errs
}

func (c *Config) validateRugShield() ValidationErrors {
	var errs ValidationErrors

	if c.RugShield.MinLiquidityUSD < 0 {
		errs = append(errs, ValidationError{
			Field:   "rug_shield.min_liquidity_usd",
			Message: "must not be negative",
		})
	}
	if c.RugShield.MaxSpreadPct <= 0 {
		errs = append(errs, ValidationError{
			Field:   "rug_shield.max_spread_pct",
			Message: "must be positive",
		})
	}

	return errs
}

func (c *Config) validateStopLoss() ValidationErrors {
	var errs ValidationErrors

	if c.StopLoss.MinPct <= 0 || c.StopLoss.MaxPct <= 0 || c.StopLoss.MinPct > c.StopLoss.MaxPct {
		errs = append(errs, ValidationError{
			Field:   "stop_loss",
			Message: fmt.Sprintf("min_pct/max_pct must be positive with min <= max (got %v/%v)",
				c.StopLoss.MinPct, c.StopLoss.MaxPct),
		})
	}
	if c.StopLoss.ATRPeriod <= 0 {
		errs = append(errs, ValidationError{
			Field:   "stop_loss.atr_period",
			Message: "must be positive",
		})
	}

	return errs
}

func (c *Config) validateHelios() ValidationErrors {
	var errs ValidationErrors

	if c.Helios.MonitoringIntervalS <= 0 {
		errs = append(errs, ValidationError{
			Field:   "helios.monitoring_interval_s",
			Message: "must be positive",
		})
	}
	if c.Helios.StableVersionRetention <= 0 {
		errs = append(errs, ValidationError{
			Field:   "helios.stable_version_retention",
			Message: "must be positive",
		})
	}

	return errs
}

func (c *Config) validateExchange() ValidationErrors {
	var errs ValidationErrors

	switch c.Exchange.Backend {
	case "mock", "binance":
	default:
		errs = append(errs, ValidationError{
			Field:   "exchange.backend",
			Message: fmt.Sprintf("must be mock or binance (got %q)", c.Exchange.Backend),
		})
	}

	// Live trading against the real backend needs credentials up front
	if c.Trading.Enabled && c.Exchange.Backend == "binance" && !c.Vault.Enabled {
		if c.Exchange.APIKey == "" || c.Exchange.SecretKey == "" {
			errs = append(errs, ValidationError{
				Field:   "exchange.api_key",
				Message: "api_key and secret_key are required for live binance trading (or enable vault)",
			})
		}
	}

	return errs
}
