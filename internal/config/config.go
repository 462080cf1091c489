package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Trading      TradingConfig      `mapstructure:"trading"`
	Safety       SafetyConfig       `mapstructure:"safety"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	RugShield    RugShieldConfig    `mapstructure:"rug_shield"`
	StopLoss     StopLossConfig     `mapstructure:"stop_loss"`
	Helios       HeliosConfig       `mapstructure:"helios"`
	Exchange     ExchangeConfig     `mapstructure:"exchange"`
	Bots         BotsConfig         `mapstructure:"bots"`
	API          APIConfig          `mapstructure:"api"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Alerts       AlertsConfig       `mapstructure:"alerts"`
	Vault        VaultConfig        `mapstructure:"vault"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings for the position ledger and Helios
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// NATSConfig contains settings for the outbound event stream
type NATSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	URL         string `mapstructure:"url"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// TradingConfig contains trading settings
type TradingConfig struct {
	Enabled         bool     `mapstructure:"enabled"` // false = monitoring-only, log intents without placing orders
	Pairs           []string `mapstructure:"pairs"`
	CycleIntervalS  int      `mapstructure:"cycle_interval_s"`
	CycleJitter     bool     `mapstructure:"cycle_jitter"`
	DefaultQuantity float64  `mapstructure:"default_quantity"`
	MaxPositions    int      `mapstructure:"max_positions"`
	HealthEveryN    int      `mapstructure:"health_every_n"` // health check every Nth cycle
	StatusEveryM    int      `mapstructure:"status_every_m"` // aggregate status publish every Mth cycle
}

// SafetyConfig contains rate limiter and circuit breaker settings
type SafetyConfig struct {
	RateLimitPerMinute int     `mapstructure:"rate_limit_per_minute"`
	RateLimitPerSecond int     `mapstructure:"rate_limit_per_second"`
	FailureThreshold   int     `mapstructure:"failure_threshold"`
	RecoveryTimeoutS   int     `mapstructure:"recovery_timeout_s"`
	SuccessThreshold   int     `mapstructure:"success_threshold"`
	MaxBackoffS        float64 `mapstructure:"max_backoff_s"`
	RequestTimeoutS    int     `mapstructure:"request_timeout_s"`
}

// OrchestratorConfig contains decision aggregation settings
type OrchestratorConfig struct {
	DecisionThreshold float64            `mapstructure:"decision_threshold"`
	DissentGate       float64            `mapstructure:"dissent_gate"`
	CategoryWeights   map[string]float64 `mapstructure:"category_weights"`
	BotTimeoutS       int                `mapstructure:"bot_timeout_s"`
	ErrorIsolationN   int                `mapstructure:"error_isolation_n"` // errors within window to isolate a bot
	ErrorIsolationM   int                `mapstructure:"error_isolation_m"` // window size in cycles
}

// RugShieldConfig contains asset safety filter thresholds
type RugShieldConfig struct {
	MinLiquidityUSD float64  `mapstructure:"min_liquidity_usd"`
	MinVolume24hUSD float64  `mapstructure:"min_volume_24h_usd"`
	MaxSpreadPct    float64  `mapstructure:"max_spread_pct"`
	Blacklist       []string `mapstructure:"blacklist"`
}

// StopLossConfig contains dynamic stop-loss settings
type StopLossConfig struct {
	BasePct       float64 `mapstructure:"base_pct"`
	ATRMultiplier float64 `mapstructure:"atr_multiplier"`
	MinPct        float64 `mapstructure:"min_pct"`
	MaxPct        float64 `mapstructure:"max_pct"`
	ATRPeriod     int     `mapstructure:"atr_period"`
	Timeframe     string  `mapstructure:"timeframe"`
}

// HeliosConfig contains deployment rollback protocol settings
type HeliosConfig struct {
	MonitoringIntervalS    int    `mapstructure:"monitoring_interval_s"`
	StableVersionRetention int    `mapstructure:"stable_version_retention"`
	ArtifactDir            string `mapstructure:"artifact_dir"`
}

// ExchangeConfig contains exchange adapter settings
type ExchangeConfig struct {
	Backend   string `mapstructure:"backend"` // "mock" or "binance"
	APIKey    string `mapstructure:"api_key"`
	SecretKey string `mapstructure:"secret_key"`
	Testnet   bool   `mapstructure:"testnet"`
}

// BotsConfig contains bot registry settings
type BotsConfig struct {
	ManifestPath string `mapstructure:"manifest_path"`
}

// APIConfig contains status/control HTTP server settings
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// MonitoringConfig contains Prometheus metrics settings
type MonitoringConfig struct {
	EnableMetrics bool `mapstructure:"enable_metrics"`
	MetricsPort   int  `mapstructure:"metrics_port"`
}

// AlertsConfig contains notification sink settings
type AlertsConfig struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID int64  `mapstructure:"telegram_chat_id"`
}

// VaultConfig holds optional HashiCorp Vault settings for exchange credentials
type VaultConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	MountPath  string `mapstructure:"mount_path"`
	SecretPath string `mapstructure:"secret_path"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("TRADEWARDEN")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and environment variables apply
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "tradewarden")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "tradewarden")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// NATS defaults
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.topic_prefix", "tradewarden")

	// Trading defaults
	v.SetDefault("trading.enabled", false)
	v.SetDefault("trading.pairs", []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"})
	v.SetDefault("trading.cycle_interval_s", 60)
	v.SetDefault("trading.cycle_jitter", false)
	v.SetDefault("trading.default_quantity", 0.01)
	v.SetDefault("trading.max_positions", 3)
	v.SetDefault("trading.health_every_n", 5)
	v.SetDefault("trading.status_every_m", 10)

	// Safety defaults
	v.SetDefault("safety.rate_limit_per_minute", 50)
	v.SetDefault("safety.rate_limit_per_second", 10)
	v.SetDefault("safety.failure_threshold", 5)
	v.SetDefault("safety.recovery_timeout_s", 60)
	v.SetDefault("safety.success_threshold", 1)
	v.SetDefault("safety.max_backoff_s", 5.0)
	v.SetDefault("safety.request_timeout_s", 10)

	// Orchestrator defaults
	v.SetDefault("orchestrator.decision_threshold", 0.15)
	v.SetDefault("orchestrator.dissent_gate", 0.4)
	v.SetDefault("orchestrator.category_weights", map[string]float64{
		"AI_ML":      0.25,
		"STRATEGY":   0.20,
		"INDICATOR":  0.15,
		"RISK":       0.20,
		"PROTECTION": 0.15,
		"GENERAL":    0.05,
	})
	v.SetDefault("orchestrator.bot_timeout_s", 2)
	v.SetDefault("orchestrator.error_isolation_n", 3)
	v.SetDefault("orchestrator.error_isolation_m", 10)

	// Rug shield defaults
	v.SetDefault("rug_shield.min_liquidity_usd", 1_000_000.0)
	v.SetDefault("rug_shield.min_volume_24h_usd", 100_000.0)
	v.SetDefault("rug_shield.max_spread_pct", 1.0)
	v.SetDefault("rug_shield.blacklist", []string{})

	// Stop-loss defaults
	v.SetDefault("stop_loss.base_pct", 2.0)
	v.SetDefault("stop_loss.atr_multiplier", 1.5)
	v.SetDefault("stop_loss.min_pct", 0.5)
	v.SetDefault("stop_loss.max_pct", 5.0)
	v.SetDefault("stop_loss.atr_period", 14)
	v.SetDefault("stop_loss.timeframe", "1h")

	// Helios defaults
	v.SetDefault("helios.monitoring_interval_s", 30)
	v.SetDefault("helios.stable_version_retention", 10)
	v.SetDefault("helios.artifact_dir", "./deployments")

	// Exchange defaults
	v.SetDefault("exchange.backend", "mock")
	v.SetDefault("exchange.testnet", true)

	// Bots defaults
	v.SetDefault("bots.manifest_path", "./configs/bots.yaml")

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	// Monitoring defaults
	v.SetDefault("monitoring.enable_metrics", true)
	v.SetDefault("monitoring.metrics_port", 9100)

	// Vault defaults
	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "http://localhost:8200")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "tradewarden")
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// CycleInterval returns the cycle cadence as a time.Duration
func (c *TradingConfig) CycleInterval() time.Duration {
	return time.Duration(c.CycleIntervalS) * time.Second
}

// RecoveryTimeout returns the circuit recovery timeout as a time.Duration
func (c *SafetyConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutS) * time.Second
}

// RequestTimeout returns the per-call adapter timeout as a time.Duration
func (c *SafetyConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutS) * time.Second
}

// MaxBackoff returns the bounded rate-limit backoff as a time.Duration
func (c *SafetyConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffS * float64(time.Second))
}

// BotTimeout returns the per-bot analyze timeout as a time.Duration
func (c *OrchestratorConfig) BotTimeout() time.Duration {
	return time.Duration(c.BotTimeoutS) * time.Second
}

// MonitoringInterval returns the Helios monitoring cadence as a time.Duration
func (c *HeliosConfig) MonitoringInterval() time.Duration {
	return time.Duration(c.MonitoringIntervalS) * time.Second
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
