// Package config manages application configuration loading and validation.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/coachpo/marketmaker/internal/resilience"
	"github.com/coachpo/marketmaker/internal/risk"
)

// Environment identifies the deployment environment.
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// VenueConfig describes the exchange connection.
type VenueConfig struct {
	Name string `yaml:"name"`
	// WSURL is the market data and execution websocket endpoint.
	WSURL  string   `yaml:"wsUrl"`
	Topics []string `yaml:"topics"`
	// StreamBufferSize bounds the decoded event channel.
	StreamBufferSize int `yaml:"streamBufferSize"`
}

// QuotingConfig tunes the per-symbol quoting loop. Decimal quantities are
// expressed as strings to keep YAML scalars exact.
type QuotingConfig struct {
	BaseSpreadBps       string        `yaml:"baseSpreadBps"`
	BaseOrderSize       string        `yaml:"baseOrderSize"`
	PriceTick           string        `yaml:"priceTick"`
	TickInterval        time.Duration `yaml:"tickInterval"`
	Depth               int           `yaml:"depth"`
	SignalWindow        int           `yaml:"signalWindow"`
	ReconcileEveryTicks int           `yaml:"reconcileEveryTicks"`
	OrderCallTimeout    time.Duration `yaml:"orderCallTimeout"`
	ShutdownTimeout     time.Duration `yaml:"shutdownTimeout"`
}

// RiskConfig defines the risk limits for the quoted symbol. Decimal values
// are strings, parsed once during validation.
type RiskConfig struct {
	MinSpreadBps         string  `yaml:"minSpreadBps"`
	MaxSpreadBps         string  `yaml:"maxSpreadBps"`
	MaxPositionSize      string  `yaml:"maxPositionSize"`
	MinOrderSize         string  `yaml:"minOrderSize"`
	MaxOrderSize         string  `yaml:"maxOrderSize"`
	MaxOpenOrdersPerSide int     `yaml:"maxOpenOrdersPerSide"`
	RepriceThresholdBps  string  `yaml:"repriceThresholdBps"`
	MaxDrawdownPct       string  `yaml:"maxDrawdownPct"`
	OrderThrottle        float64 `yaml:"orderThrottle"`
}

// ResilienceConfig groups the network failure-handling knobs.
type ResilienceConfig struct {
	Breaker   resilience.BreakerConfig            `yaml:"breaker"`
	Guard     resilience.GuardConfig              `yaml:"guard"`
	Reconnect resilience.SupervisorConfig         `yaml:"reconnect"`
	Quotas    map[string]resilience.EndpointQuota `yaml:"quotas"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// DatabaseConfig controls PostgreSQL connectivity for fill persistence.
type DatabaseConfig struct {
	Enabled           bool          `yaml:"enabled"`
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// AppConfig is the unified application configuration sourced from YAML.
type AppConfig struct {
	Environment Environment      `yaml:"environment"`
	Symbol      string           `yaml:"symbol"`
	Venue       VenueConfig      `yaml:"venue"`
	Quoting     QuotingConfig    `yaml:"quoting"`
	Risk        RiskConfig       `yaml:"risk"`
	Resilience  ResilienceConfig `yaml:"resilience"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Database    DatabaseConfig   `yaml:"database"`
	Logging     LoggingConfig    `yaml:"logging"`
}

func defaultRiskConfig() RiskConfig {
	return RiskConfig{
		MinSpreadBps:         "2",
		MaxSpreadBps:         "50",
		MaxPositionSize:      "10",
		MinOrderSize:         "0.001",
		MaxOrderSize:         "1",
		MaxOpenOrdersPerSide: 1,
		RepriceThresholdBps:  "5",
		MaxDrawdownPct:       "0.2",
		OrderThrottle:        10,
	}
}

// Default returns a runnable configuration for local development.
func Default() AppConfig {
	return AppConfig{
		Environment: EnvDev,
		Symbol:      "BTC-USDT",
		Venue: VenueConfig{
			Name:             "bybit",
			WSURL:            "wss://stream.bybit.com/v5/public/linear",
			Topics:           []string{"orderbook", "execution", "position"},
			StreamBufferSize: 256,
		},
		Quoting: QuotingConfig{
			BaseSpreadBps:       "10",
			BaseOrderSize:       "0.01",
			TickInterval:        500 * time.Millisecond,
			Depth:               5,
			SignalWindow:        120,
			ReconcileEveryTicks: 20,
			OrderCallTimeout:    5 * time.Second,
			ShutdownTimeout:     10 * time.Second,
		},
		Risk: defaultRiskConfig(),
		Resilience: ResilienceConfig{
			Breaker: resilience.BreakerConfig{
				FailureThreshold:         5,
				RecoveryTimeout:          30 * time.Second,
				HalfOpenSuccessThreshold: 2,
				HalfOpenMaxCalls:         2,
			},
			Guard: resilience.GuardConfig{
				MaxRetries:           3,
				RetryInitialInterval: 200 * time.Millisecond,
				RetryMaxInterval:     2 * time.Second,
			},
			Reconnect: resilience.SupervisorConfig{
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     30 * time.Second,
				MaxAttempts:     10,
			},
			Quotas: map[string]resilience.EndpointQuota{
				"placeOrder":  {MaxCalls: 50, Window: time.Second},
				"cancelOrder": {MaxCalls: 50, Window: time.Second},
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "marketmaker",
			OTLPInsecure: true,
		},
		Database: DatabaseConfig{
			DSN: "postgresql://localhost:5432/marketmaker",
		},
	}
}

// Load reads and validates an AppConfig from the provided YAML file. Sections
// absent from the file keep their defaults.
func Load(configPath string) (AppConfig, error) {
	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.normalise(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads the file at path, or returns the defaults when path is
// empty. The bool reports whether a file was read.
func LoadOrDefault(path string) (AppConfig, bool, error) {
	if strings.TrimSpace(path) == "" {
		cfg := Default()
		if err := cfg.normalise(); err != nil {
			return AppConfig{}, false, err
		}
		if err := cfg.Validate(); err != nil {
			return AppConfig{}, false, err
		}
		return cfg, false, nil
	}
	cfg, err := Load(path)
	return cfg, err == nil, err
}

func (c *AppConfig) normalise() error {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	c.Symbol = strings.TrimSpace(c.Symbol)
	c.Venue.Name = strings.TrimSpace(c.Venue.Name)
	c.Venue.WSURL = strings.TrimSpace(c.Venue.WSURL)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)

	if c.Venue.StreamBufferSize <= 0 {
		c.Venue.StreamBufferSize = 256
	}
	if len(c.Venue.Topics) > 0 {
		topics := make([]string, 0, len(c.Venue.Topics))
		seen := make(map[string]struct{}, len(c.Venue.Topics))
		for _, topic := range c.Venue.Topics {
			trimmed := strings.TrimSpace(topic)
			if trimmed == "" {
				continue
			}
			if _, ok := seen[trimmed]; ok {
				continue
			}
			seen[trimmed] = struct{}{}
			topics = append(topics, trimmed)
		}
		c.Venue.Topics = topics
	}

	if c.Quoting.TickInterval <= 0 {
		c.Quoting.TickInterval = 500 * time.Millisecond
	}
	if c.Quoting.Depth <= 0 {
		c.Quoting.Depth = 5
	}
	if c.Quoting.SignalWindow <= 0 {
		c.Quoting.SignalWindow = 120
	}
	if c.Quoting.ReconcileEveryTicks <= 0 {
		c.Quoting.ReconcileEveryTicks = 20
	}
	if c.Quoting.OrderCallTimeout <= 0 {
		c.Quoting.OrderCallTimeout = 5 * time.Second
	}
	if c.Quoting.ShutdownTimeout <= 0 {
		c.Quoting.ShutdownTimeout = 10 * time.Second
	}

	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 8
	}
	if c.Database.MinConns <= 0 {
		c.Database.MinConns = 1
	}
	if c.Database.MinConns > c.Database.MaxConns {
		c.Database.MinConns = c.Database.MaxConns
	}
	if c.Database.MaxConnLifetime <= 0 {
		c.Database.MaxConnLifetime = 30 * time.Minute
	}
	if c.Database.MaxConnIdleTime <= 0 {
		c.Database.MaxConnIdleTime = 5 * time.Minute
	}
	if c.Database.HealthCheckPeriod <= 0 {
		c.Database.HealthCheckPeriod = 30 * time.Second
	}
	return nil
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}
	if c.Symbol == "" {
		return fmt.Errorf("symbol required")
	}
	if c.Venue.WSURL == "" {
		return fmt.Errorf("venue wsUrl required")
	}
	if len(c.Venue.Topics) == 0 {
		return fmt.Errorf("venue topics required")
	}

	if _, err := parseDecimal("quoting.baseSpreadBps", c.Quoting.BaseSpreadBps); err != nil {
		return err
	}
	size, err := parseDecimal("quoting.baseOrderSize", c.Quoting.BaseOrderSize)
	if err != nil {
		return err
	}
	if size.Sign() <= 0 {
		return fmt.Errorf("quoting.baseOrderSize must be > 0")
	}
	if c.Quoting.PriceTick != "" {
		if _, err := parseDecimal("quoting.priceTick", c.Quoting.PriceTick); err != nil {
			return err
		}
	}

	limits, err := c.Limits()
	if err != nil {
		return err
	}
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}

	for endpoint, quota := range c.Resilience.Quotas {
		if quota.MaxCalls <= 0 {
			return fmt.Errorf("resilience quota %q: maxCalls must be > 0", endpoint)
		}
		if quota.Window <= 0 {
			return fmt.Errorf("resilience quota %q: window must be > 0", endpoint)
		}
	}

	if c.Telemetry.EnableMetrics && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry otlpEndpoint required when metrics enabled")
	}
	if c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database dsn required when enabled")
	}
	return nil
}

// Limits converts the string-typed risk section into risk.Limits.
func (c AppConfig) Limits() (risk.Limits, error) {
	limits := risk.Limits{
		MaxOpenOrdersPerSide: c.Risk.MaxOpenOrdersPerSide,
		OrderThrottle:        c.Risk.OrderThrottle,
	}
	var firstErr error
	parse := func(name, raw string) decimal.Decimal {
		value, err := parseDecimal(name, raw)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return value
	}
	limits.MinSpreadBps = parse("risk.minSpreadBps", c.Risk.MinSpreadBps)
	limits.MaxSpreadBps = parse("risk.maxSpreadBps", c.Risk.MaxSpreadBps)
	limits.MaxPositionSize = parse("risk.maxPositionSize", c.Risk.MaxPositionSize)
	limits.MinOrderSize = parse("risk.minOrderSize", c.Risk.MinOrderSize)
	limits.MaxOrderSize = parse("risk.maxOrderSize", c.Risk.MaxOrderSize)
	limits.RepriceThresholdBps = parse("risk.repriceThresholdBps", c.Risk.RepriceThresholdBps)
	limits.MaxDrawdownPct = parse("risk.maxDrawdownPct", c.Risk.MaxDrawdownPct)
	if firstErr != nil {
		return risk.Limits{}, firstErr
	}
	return limits, nil
}

// BaseSpreadBps returns the parsed quoting base spread.
func (c AppConfig) BaseSpreadBps() (decimal.Decimal, error) {
	return parseDecimal("quoting.baseSpreadBps", c.Quoting.BaseSpreadBps)
}

// BaseOrderSize returns the parsed quoting base order size.
func (c AppConfig) BaseOrderSize() (decimal.Decimal, error) {
	return parseDecimal("quoting.baseOrderSize", c.Quoting.BaseOrderSize)
}

// PriceTick returns the parsed venue price grid, zero when unset.
func (c AppConfig) PriceTick() (decimal.Decimal, error) {
	if strings.TrimSpace(c.Quoting.PriceTick) == "" {
		return decimal.Zero, nil
	}
	return parseDecimal("quoting.priceTick", c.Quoting.PriceTick)
}

func parseDecimal(name, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: invalid decimal %q", name, raw)
	}
	return value, nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
