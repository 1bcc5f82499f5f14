// Package config loads and validates the engine configuration from YAML.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/argo-execution/internal/types"
	"github.com/rxtech-lab/argo-execution/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultMaxPositionFraction  = 0.20
	DefaultMaxOpenPositions     = 10
	DefaultOpenAgreement        = 0.40
	DefaultFailureThreshold     = 5
	DefaultResetTimeoutSec      = 60
	DefaultRatePerSecond        = 3
	DefaultBurstLimit           = 5
	DefaultBurstWindowMs        = 100
	DefaultAcquireTimeoutSec    = 10
	DefaultRetryAttempts        = 3
	DefaultRetryBaseDelayMs     = 250
	DefaultFillPollIntervalMs   = 500
	DefaultFillTimeoutSec       = 30
	DefaultWorkerCount          = 4
	DefaultSnapshotIntervalSec  = 30
	DefaultReconcileIntervalSec = 60
	DefaultStopLossPercent      = 2.0
	DefaultSectorLimit          = 2
)

// InstrumentConfig describes one tradable instrument: its symbol, the closed
// instrument class driving margin-segment selection, and the correlation
// group used by the risk gate.
type InstrumentConfig struct {
	Symbol string                `yaml:"symbol" json:"symbol" validate:"required"`
	Class  types.InstrumentClass `yaml:"class" json:"class" validate:"required,oneof=EQUITY DERIVATIVE_INDEX DERIVATIVE_STOCK"`
	Group  string                `yaml:"group" json:"group" validate:"required"`
}

// EngineConfig holds the control-loop settings.
type EngineConfig struct {
	// Instruments is the tradable universe the loop iterates over.
	Instruments []InstrumentConfig `yaml:"instruments" json:"instruments" jsonschema:"description=Instruments the control loop trades" validate:"required,min=1,dive"`
	// WorkerCount bounds the number of concurrent iteration workers.
	WorkerCount int `yaml:"worker_count" json:"worker_count" jsonschema:"description=Concurrent iteration workers,default=4" validate:"gte=0"`
	// IterationIntervalSec is the pause between control-loop iterations.
	IterationIntervalSec int `yaml:"iteration_interval_sec" json:"iteration_interval_sec" validate:"gte=0"`
	// SnapshotIntervalSec throttles the background snapshot persister.
	SnapshotIntervalSec int `yaml:"snapshot_interval_sec" json:"snapshot_interval_sec" validate:"gte=0"`
	// ReconcileIntervalSec paces the brokerage position-reconciliation poller.
	ReconcileIntervalSec int `yaml:"reconcile_interval_sec" json:"reconcile_interval_sec" validate:"gte=0"`
	// SnapshotPath is where portfolio snapshots are persisted.
	SnapshotPath string `yaml:"snapshot_path" json:"snapshot_path"`
	// HistoryPath is the duckdb file backing the trade-history archive.
	// Empty means in-memory.
	HistoryPath string `yaml:"history_path" json:"history_path"`
	// ControlListen is the bind address of the HTTP control surface. Empty
	// disables the control server.
	ControlListen string `yaml:"control_listen" json:"control_listen"`
}

// PortfolioConfig holds capital and position-sizing limits.
type PortfolioConfig struct {
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital" jsonschema:"description=Starting cash" validate:"required,gt=0"`
	// MaxPositionFraction caps a single position's notional as a fraction of
	// total capital.
	MaxPositionFraction float64 `yaml:"max_position_fraction" json:"max_position_fraction" validate:"gte=0,lte=1"`
	MaxOpenPositions    int     `yaml:"max_open_positions" json:"max_open_positions" validate:"gte=0"`
	// StopLossPercent is the protective-stop distance from the confirmed fill
	// price, in percent.
	StopLossPercent float64 `yaml:"stop_loss_percent" json:"stop_loss_percent" validate:"gte=0"`
	// TargetPercent is the default profit-target distance, in percent. Zero
	// means no target.
	TargetPercent float64 `yaml:"target_percent" json:"target_percent" validate:"gte=0"`
	// Commission selects the fee model: "zero" or "flat".
	Commission string `yaml:"commission" json:"commission" validate:"omitempty,oneof=zero flat"`
	// FlatFee is the per-order fee when Commission is "flat".
	FlatFee float64 `yaml:"flat_fee" json:"flat_fee" validate:"gte=0"`
}

// MediumCorrelationGroup caps how many instruments of a related set may be
// held simultaneously.
type MediumCorrelationGroup struct {
	Groups []string `yaml:"groups" json:"groups" validate:"required,min=2"`
	// MaxSimultaneous is the holding cap across the set.
	MaxSimultaneous int `yaml:"max_simultaneous" json:"max_simultaneous" validate:"required,gte=1"`
}

// RiskConfig holds correlation and exposure limits. Limits are injected
// configuration, not derived from a live correlation feed.
type RiskConfig struct {
	// HighCorrelationPairs lists instrument-group pairs that must never be
	// held simultaneously.
	HighCorrelationPairs [][]string `yaml:"high_correlation_pairs" json:"high_correlation_pairs" validate:"dive,len=2"`
	// MediumCorrelationGroups are related sets capped at MaxSimultaneous.
	MediumCorrelationGroups []MediumCorrelationGroup `yaml:"medium_correlation_groups" json:"medium_correlation_groups" validate:"dive"`
	// SectorLimits caps open positions per instrument group. Groups absent
	// from the map use DefaultSectorLimit.
	SectorLimits       map[string]int `yaml:"sector_limits" json:"sector_limits"`
	DefaultSectorLimit int            `yaml:"default_sector_limit" json:"default_sector_limit" validate:"gte=0"`
}

// GatewayConfig holds brokerage rate limits and retry behaviour.
type GatewayConfig struct {
	// RatePerSecond is the steady-state token refill rate.
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second" validate:"gte=0"`
	// BurstLimit and BurstWindowMs cap requests inside a short window.
	BurstLimit    int `yaml:"burst_limit" json:"burst_limit" validate:"gte=0"`
	BurstWindowMs int `yaml:"burst_window_ms" json:"burst_window_ms" validate:"gte=0"`
	// AcquireTimeoutSec bounds how long a caller may block on a token.
	AcquireTimeoutSec int `yaml:"acquire_timeout_sec" json:"acquire_timeout_sec" validate:"gte=0"`
	// RetryAttempts bounds the exponential-backoff retry wrapper.
	RetryAttempts    int `yaml:"retry_attempts" json:"retry_attempts" validate:"gte=0"`
	RetryBaseDelayMs int `yaml:"retry_base_delay_ms" json:"retry_base_delay_ms" validate:"gte=0"`
	// FillPollIntervalMs and FillTimeoutSec pace fill-status polling.
	FillPollIntervalMs int `yaml:"fill_poll_interval_ms" json:"fill_poll_interval_ms" validate:"gte=0"`
	FillTimeoutSec     int `yaml:"fill_timeout_sec" json:"fill_timeout_sec" validate:"gte=0"`
}

// BreakerConfig holds circuit-breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold" validate:"gte=0"`
	ResetTimeoutSec  int `yaml:"reset_timeout_sec" json:"reset_timeout_sec" validate:"gte=0"`
}

// PolicyConfig holds signal-admission thresholds.
type PolicyConfig struct {
	// OpenAgreement is the fraction of strategies that must agree to open a
	// position. Closing always requires only a single vote.
	OpenAgreement float64 `yaml:"open_agreement" json:"open_agreement" validate:"gte=0,lte=1"`
}

// Config is the root engine configuration.
type Config struct {
	Engine    EngineConfig    `yaml:"engine" json:"engine" validate:"required"`
	Portfolio PortfolioConfig `yaml:"portfolio" json:"portfolio" validate:"required"`
	Risk      RiskConfig      `yaml:"risk" json:"risk"`
	Gateway   GatewayConfig   `yaml:"gateway" json:"gateway"`
	Breaker   BreakerConfig   `yaml:"breaker" json:"breaker"`
	Policy    PolicyConfig    `yaml:"policy" json:"policy"`
}

// LoadConfig reads, defaults, and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to read config file", err)
	}

	return ParseConfig(raw)
}

// ParseConfig parses, defaults, and validates raw YAML config bytes.
func ParseConfig(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config", err)
	}

	cfg.applyDefaults()

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid config", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.WorkerCount <= 0 {
		c.Engine.WorkerCount = DefaultWorkerCount
	}

	if c.Engine.SnapshotIntervalSec <= 0 {
		c.Engine.SnapshotIntervalSec = DefaultSnapshotIntervalSec
	}

	if c.Engine.ReconcileIntervalSec <= 0 {
		c.Engine.ReconcileIntervalSec = DefaultReconcileIntervalSec
	}

	if c.Portfolio.MaxPositionFraction <= 0 {
		c.Portfolio.MaxPositionFraction = DefaultMaxPositionFraction
	}

	if c.Portfolio.MaxOpenPositions <= 0 {
		c.Portfolio.MaxOpenPositions = DefaultMaxOpenPositions
	}

	if c.Portfolio.StopLossPercent <= 0 {
		c.Portfolio.StopLossPercent = DefaultStopLossPercent
	}

	if c.Portfolio.Commission == "" {
		c.Portfolio.Commission = "zero"
	}

	if c.Risk.DefaultSectorLimit <= 0 {
		c.Risk.DefaultSectorLimit = DefaultSectorLimit
	}

	if c.Gateway.RatePerSecond <= 0 {
		c.Gateway.RatePerSecond = DefaultRatePerSecond
	}

	if c.Gateway.BurstLimit <= 0 {
		c.Gateway.BurstLimit = DefaultBurstLimit
	}

	if c.Gateway.BurstWindowMs <= 0 {
		c.Gateway.BurstWindowMs = DefaultBurstWindowMs
	}

	if c.Gateway.AcquireTimeoutSec <= 0 {
		c.Gateway.AcquireTimeoutSec = DefaultAcquireTimeoutSec
	}

	if c.Gateway.RetryAttempts <= 0 {
		c.Gateway.RetryAttempts = DefaultRetryAttempts
	}

	if c.Gateway.RetryBaseDelayMs <= 0 {
		c.Gateway.RetryBaseDelayMs = DefaultRetryBaseDelayMs
	}

	if c.Gateway.FillPollIntervalMs <= 0 {
		c.Gateway.FillPollIntervalMs = DefaultFillPollIntervalMs
	}

	if c.Gateway.FillTimeoutSec <= 0 {
		c.Gateway.FillTimeoutSec = DefaultFillTimeoutSec
	}

	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = DefaultFailureThreshold
	}

	if c.Breaker.ResetTimeoutSec <= 0 {
		c.Breaker.ResetTimeoutSec = DefaultResetTimeoutSec
	}

	if c.Policy.OpenAgreement <= 0 {
		c.Policy.OpenAgreement = DefaultOpenAgreement
	}
}

// Duration helpers so callers work in time.Duration without repeating unit math.

func (e *EngineConfig) IterationInterval() time.Duration {
	return time.Duration(e.IterationIntervalSec) * time.Second
}

func (e *EngineConfig) SnapshotInterval() time.Duration {
	return time.Duration(e.SnapshotIntervalSec) * time.Second
}

func (e *EngineConfig) ReconcileInterval() time.Duration {
	return time.Duration(e.ReconcileIntervalSec) * time.Second
}

func (g *GatewayConfig) BurstWindow() time.Duration {
	return time.Duration(g.BurstWindowMs) * time.Millisecond
}

func (g *GatewayConfig) AcquireTimeout() time.Duration {
	return time.Duration(g.AcquireTimeoutSec) * time.Second
}

func (g *GatewayConfig) RetryBaseDelay() time.Duration {
	return time.Duration(g.RetryBaseDelayMs) * time.Millisecond
}

func (g *GatewayConfig) FillPollInterval() time.Duration {
	return time.Duration(g.FillPollIntervalMs) * time.Millisecond
}

func (g *GatewayConfig) FillTimeout() time.Duration {
	return time.Duration(g.FillTimeoutSec) * time.Second
}

func (b *BreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(b.ResetTimeoutSec) * time.Second
}
