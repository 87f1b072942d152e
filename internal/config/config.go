package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"bridgeroute/internal/logger"
)

// Config represents the application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    logger.Config    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Cache      CacheConfig      `yaml:"cache"`
	Sources    SourcesConfig    `yaml:"sources"`
	FX         FXConfig         `yaml:"fx"`
	Fees       FeesConfig       `yaml:"fees"`
	Transfer   TransferConfig   `yaml:"transfer"`
	Venues     []VenueConfig    `yaml:"venues"`
	Routing    RoutingConfig    `yaml:"routing"`
	Schedules  ScheduleConfig   `yaml:"schedules"`
}

// AppConfig represents application configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// DatabaseConfig represents database configuration.
// Driver is either "postgres" or "sqlite"; Path is only used by sqlite.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	Path            string        `yaml:"path"`
	MaxOpen         int           `yaml:"max_open"`
	MaxIdle         int           `yaml:"max_idle"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Timeout         time.Duration `yaml:"timeout"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// DSN builds the driver specific connection string
func (c DatabaseConfig) DSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// MigrationURL builds the golang-migrate database URL
func (c DatabaseConfig) MigrationURL() string {
	if c.Driver == "sqlite" {
		return "sqlite://" + c.Path
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// MonitoringConfig represents monitoring configuration
type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPath    string `yaml:"prometheus_path"`
	Addr              string `yaml:"addr"`
}

// TTLConfig is the pair of lifetimes the coalescer applies to one fact kind
type TTLConfig struct {
	Success time.Duration `yaml:"success"`
	Failure time.Duration `yaml:"failure"`
}

// CacheConfig represents cache lifetimes per fact kind
type CacheConfig struct {
	MaxEntries int       `yaml:"max_entries"`
	Price      TTLConfig `yaml:"price"`
	FX         TTLConfig `yaml:"fx"`
	Orderbook  TTLConfig `yaml:"orderbook"`
	Fees       TTLConfig `yaml:"fees"`
	Withdrawal TTLConfig `yaml:"withdrawal"`
}

// ProviderConfig describes one upstream in a fallback chain.
// Type selects the adapter: banexg, redis, websocket or yahoo.
type ProviderConfig struct {
	Name    string        `yaml:"name"`
	Type    string        `yaml:"type"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
	Retries int           `yaml:"retries"`
	Venue   string        `yaml:"venue"`
	// MaxAge is the oldest pushed tick a redis or websocket feed serves
	MaxAge time.Duration `yaml:"max_age"`
}

// SourcesConfig lists providers in fallback order per fact kind
type SourcesConfig struct {
	Price     []ProviderConfig `yaml:"price"`
	FX        []ProviderConfig `yaml:"fx"`
	Orderbook []ProviderConfig `yaml:"orderbook"`
}

// BoundsConfig is the plausible range of an FX pair
type BoundsConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// FallbackRateConfig is a last-resort FX rate and the reason it exists
type FallbackRateConfig struct {
	Rate   float64 `yaml:"rate"`
	Reason string  `yaml:"reason"`
}

// FXConfig keys are pairs written as "BASE/QUOTE", e.g. "USD/KRW"
type FXConfig struct {
	Bounds   map[string]BoundsConfig       `yaml:"bounds"`
	Fallback map[string]FallbackRateConfig `yaml:"fallback"`
}

// FeesConfig holds the defaults used when the fee table has no row
type FeesConfig struct {
	DefaultTradingPct float64            `yaml:"default_trading_pct"`
	DefaultWithdrawal map[string]float64 `yaml:"default_withdrawal"`
}

// TransferConfig holds on-chain transfer times in minutes per asset
type TransferConfig struct {
	Minutes        map[string]float64 `yaml:"minutes"`
	DefaultMinutes float64            `yaml:"default_minutes"`
}

// VenueConfig is one catalog entry. Exchange is the banexg exchange id.
type VenueConfig struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Region        string   `yaml:"region"`
	Exchange      string   `yaml:"exchange"`
	Currencies    []string `yaml:"currencies"`
	Assets        []string `yaml:"assets"`
	TradingFeePct float64  `yaml:"trading_fee_pct"`
}

// RoutingConfig represents route search settings
type RoutingConfig struct {
	MaxAlternatives            int           `yaml:"max_alternatives"`
	MaxConcurrentFetches       int           `yaml:"max_concurrent_fetches"`
	UnknownLiquidityPenaltyPct float64       `yaml:"unknown_liquidity_penalty_pct"`
	RequestTimeout             time.Duration `yaml:"request_timeout"`
	// SpreadNotional sizes the withdrawal fee of a spread check, in the
	// first venue's primary currency
	SpreadNotional float64 `yaml:"spread_notional"`
}

// ScheduleConfig holds cron specs for the background tasks
type ScheduleConfig struct {
	Enabled         bool   `yaml:"enabled"`
	VenueHealth     string `yaml:"venue_health"`
	SnapshotCapture string `yaml:"snapshot_capture"`
	// SnapshotRetention is how long captured snapshots are kept
	SnapshotRetention time.Duration `yaml:"snapshot_retention"`
	// TaskTimeout bounds a single task run
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

// Default returns a configuration usable without any file
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load loads configuration from a YAML file, then applies .env and
// BRIDGEROUTE_ environment overrides and validates the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// .env is optional
	_ = godotenv.Load()

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	ApplyEnvOverrides(cfg, NewEnvManager("", ""))

	if err := NewValidator(cfg).Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML and fills defaults without touching the environment
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// ApplyEnvOverrides overlays BRIDGEROUTE_ variables onto cfg
func ApplyEnvOverrides(cfg *Config, em *EnvManager) {
	cfg.App.Env = em.GetString("APP_ENV", cfg.App.Env)

	cfg.Logging.Level = logger.LogLevel(em.GetString("LOG_LEVEL", string(cfg.Logging.Level)))
	cfg.Logging.Output = em.GetString("LOG_OUTPUT", cfg.Logging.Output)

	cfg.Database.Driver = em.GetString("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.Host = em.GetString("DATABASE_HOST", cfg.Database.Host)
	cfg.Database.Port = em.GetInt("DATABASE_PORT", cfg.Database.Port)
	cfg.Database.User = em.GetString("DATABASE_USER", cfg.Database.User)
	cfg.Database.Password = em.GetEncryptedString("DATABASE_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = em.GetString("DATABASE_NAME", cfg.Database.DBName)
	cfg.Database.Path = em.GetString("DATABASE_PATH", cfg.Database.Path)

	cfg.Redis.Enabled = em.GetBool("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Addr = em.GetString("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = em.GetEncryptedString("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Monitoring.Addr = em.GetString("MONITORING_ADDR", cfg.Monitoring.Addr)
	cfg.Routing.RequestTimeout = em.GetDuration("ROUTING_REQUEST_TIMEOUT", cfg.Routing.RequestTimeout)
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "bridgeroute"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = logger.DefaultConfig.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = logger.DefaultConfig.Format
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = logger.DefaultConfig.Output
	}
	if cfg.Logging.MaxSize == 0 {
		cfg.Logging.MaxSize = logger.DefaultConfig.MaxSize
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		cfg.Database.Path = "data/bridgeroute.db"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpen == 0 {
		cfg.Database.MaxOpen = 10
	}
	if cfg.Database.MaxIdle == 0 {
		cfg.Database.MaxIdle = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Database.Timeout == 0 {
		cfg.Database.Timeout = 5 * time.Second
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}

	if cfg.Monitoring.PrometheusPath == "" {
		cfg.Monitoring.PrometheusPath = "/metrics"
	}
	if cfg.Monitoring.Addr == "" {
		cfg.Monitoring.Addr = ":9090"
	}

	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 10000
	}
	defaultTTL(&cfg.Cache.Price, 10*time.Second, 3*time.Second)
	defaultTTL(&cfg.Cache.FX, time.Minute, 15*time.Second)
	defaultTTL(&cfg.Cache.Orderbook, 5*time.Second, 2*time.Second)
	defaultTTL(&cfg.Cache.Fees, 10*time.Minute, time.Minute)
	defaultTTL(&cfg.Cache.Withdrawal, time.Minute, 15*time.Second)

	for _, chain := range [][]ProviderConfig{cfg.Sources.Price, cfg.Sources.FX, cfg.Sources.Orderbook} {
		for i := range chain {
			if chain[i].Name == "" {
				chain[i].Name = chain[i].Type
			}
			if chain[i].Timeout == 0 {
				chain[i].Timeout = 3 * time.Second
			}
			if chain[i].RPS == 0 {
				chain[i].RPS = 10
			}
			if chain[i].Burst == 0 {
				chain[i].Burst = 5
			}
			if chain[i].MaxAge == 0 {
				chain[i].MaxAge = 30 * time.Second
			}
		}
	}

	if cfg.Fees.DefaultTradingPct == 0 {
		cfg.Fees.DefaultTradingPct = 0.25
	}

	if cfg.Transfer.DefaultMinutes == 0 {
		cfg.Transfer.DefaultMinutes = 30
	}

	for i := range cfg.Venues {
		if cfg.Venues[i].Name == "" {
			cfg.Venues[i].Name = cfg.Venues[i].ID
		}
		if cfg.Venues[i].Exchange == "" {
			cfg.Venues[i].Exchange = cfg.Venues[i].ID
		}
	}

	if cfg.Routing.MaxAlternatives == 0 {
		cfg.Routing.MaxAlternatives = 10
	}
	if cfg.Routing.MaxConcurrentFetches == 0 {
		cfg.Routing.MaxConcurrentFetches = 8
	}
	if cfg.Routing.UnknownLiquidityPenaltyPct == 0 {
		cfg.Routing.UnknownLiquidityPenaltyPct = 2.0
	}
	if cfg.Routing.SpreadNotional == 0 {
		cfg.Routing.SpreadNotional = 1_000_000
	}
	if cfg.Routing.RequestTimeout == 0 {
		cfg.Routing.RequestTimeout = 15 * time.Second
	}

	if cfg.Schedules.VenueHealth == "" {
		cfg.Schedules.VenueHealth = "@every 1m"
	}
	if cfg.Schedules.SnapshotCapture == "" {
		cfg.Schedules.SnapshotCapture = "@every 5m"
	}
	if cfg.Schedules.SnapshotRetention == 0 {
		cfg.Schedules.SnapshotRetention = 7 * 24 * time.Hour
	}
	if cfg.Schedules.TaskTimeout == 0 {
		cfg.Schedules.TaskTimeout = time.Minute
	}
}

func defaultTTL(ttl *TTLConfig, success, failure time.Duration) {
	if ttl.Success == 0 {
		ttl.Success = success
	}
	if ttl.Failure == 0 {
		ttl.Failure = failure
	}
}

// FXPairs returns every configured pair in sorted order
func (c *Config) FXPairs() []string {
	seen := make(map[string]struct{})
	for pair := range c.FX.Bounds {
		seen[strings.ToUpper(pair)] = struct{}{}
	}
	for pair := range c.FX.Fallback {
		seen[strings.ToUpper(pair)] = struct{}{}
	}
	pairs := make([]string, 0, len(seen))
	for pair := range seen {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)
	return pairs
}
