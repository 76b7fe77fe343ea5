// Package config loads and validates replay run configuration from YAML.
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

	"github.com/coachpo/replay/internal/backtest"
	"github.com/coachpo/replay/internal/risk"
	"github.com/coachpo/replay/internal/statistic"
)

// SeedBalance declares one asset balance present before the first event.
type SeedBalance struct {
	Asset string `yaml:"asset"`
	Total string `yaml:"total"`
	Free  string `yaml:"free"`
}

// RiskThresholds holds the decimal-valued gate limits. Limits are strings so
// YAML round-trips them without float loss; empty means unlimited.
type RiskThresholds struct {
	MaxLeverage         string `yaml:"maxLeverage"`
	MaxPositionNotional string `yaml:"maxPositionNotional"`
	MaxExposurePercent  string `yaml:"maxExposurePercent"`
	MaxPositionQuantity string `yaml:"maxPositionQuantity"`
}

// RiskSettings configures the threshold risk gate. Instruments maps symbols
// to per-instrument overrides; an empty override field falls back to the
// global threshold. When Enabled is false every request is approved.
type RiskSettings struct {
	Enabled        bool `yaml:"enabled"`
	RiskThresholds `yaml:",inline"`
	OrderThrottle  float64                   `yaml:"orderThrottle"`
	Instruments    map[string]RiskThresholds `yaml:"instruments"`
}

// ExecutionSettings parameterise the simulated exchange.
type ExecutionSettings struct {
	Latency     time.Duration `yaml:"latency"`
	FeePercent  string        `yaml:"feePercent"`
	SlippageBps string        `yaml:"slippageBps"`
}

// TelemetrySettings configures the optional OTLP metrics exporter. An empty
// endpoint keeps telemetry local.
type TelemetrySettings struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Settings is the replay configuration tree loaded from defaults and YAML.
type Settings struct {
	Exchange       string            `yaml:"exchange"`
	Instruments    []string          `yaml:"instruments"`
	Interval       string            `yaml:"interval"`
	RiskFreeReturn string            `yaml:"riskFreeReturn"`
	CloseOnFinish  bool              `yaml:"closeOnFinish"`
	MaxParallel    int               `yaml:"maxParallel"`
	SeedBalances   []SeedBalance     `yaml:"seedBalances"`
	Risk           RiskSettings      `yaml:"risk"`
	Execution      ExecutionSettings `yaml:"execution"`
	Telemetry      TelemetrySettings `yaml:"telemetry"`
}

// Default returns the configuration used when no file is supplied: a single
// simulated venue with daily summaries, no risk limits, and frictionless
// execution.
func Default() Settings {
	return Settings{
		Exchange:       "sim",
		Interval:       "daily",
		RiskFreeReturn: "0",
		CloseOnFinish:  true,
		Telemetry:      TelemetrySettings{ServiceName: "replay"},
	}
}

// Load reads and validates Settings from the provided YAML file. Fields the
// file omits keep their defaults.
func Load(path string) (Settings, error) {
	reader, closer, err := openConfigFile(path)
	if err != nil {
		return Settings{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return Settings{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func (s *Settings) normalise() {
	s.Exchange = strings.TrimSpace(s.Exchange)
	s.Interval = strings.TrimSpace(s.Interval)
	s.RiskFreeReturn = strings.TrimSpace(s.RiskFreeReturn)
	s.Telemetry.OTLPEndpoint = strings.TrimSpace(s.Telemetry.OTLPEndpoint)
	s.Telemetry.ServiceName = strings.TrimSpace(s.Telemetry.ServiceName)
	for i, instrument := range s.Instruments {
		s.Instruments[i] = strings.TrimSpace(instrument)
	}
	for i, seed := range s.SeedBalances {
		s.SeedBalances[i].Asset = strings.TrimSpace(seed.Asset)
	}
}

// Validate performs semantic validation on the configuration.
func (s Settings) Validate() error {
	if s.Exchange == "" {
		return fmt.Errorf("exchange required")
	}
	if len(s.Instruments) == 0 {
		return fmt.Errorf("at least one instrument required")
	}
	for _, instrument := range s.Instruments {
		if !strings.Contains(instrument, "-") {
			return fmt.Errorf("instrument %q must be BASE-QUOTE", instrument)
		}
	}
	if _, err := s.SummaryInterval(); err != nil {
		return err
	}
	if _, err := s.riskFree(); err != nil {
		return err
	}
	if _, err := s.RiskLimits(); err != nil {
		return err
	}
	if s.MaxParallel < 0 {
		return fmt.Errorf("maxParallel must be >= 0")
	}
	if s.Execution.Latency < 0 {
		return fmt.Errorf("execution latency must be >= 0")
	}
	if _, err := s.ExecutionOptions(); err != nil {
		return err
	}
	if _, err := s.SeedBalanceValues(); err != nil {
		return err
	}
	if s.Telemetry.OTLPEndpoint != "" && s.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry serviceName required when exporting")
	}
	return nil
}

// SummaryInterval resolves the configured interval name. Names the summary
// generator knows (daily, annual_252, annual_365) are tried first, then Go
// duration strings such as "90m".
func (s Settings) SummaryInterval() (statistic.TimeInterval, error) {
	interval, err := statistic.ParseInterval(s.Interval)
	if err == nil {
		return interval, nil
	}
	duration, durErr := time.ParseDuration(s.Interval)
	if durErr != nil || duration <= 0 {
		return nil, fmt.Errorf("interval %q is neither a known name nor a positive duration", s.Interval)
	}
	return statistic.Custom{Duration: duration}, nil
}

// RiskFreeReturnValue parses the configured risk-free rate.
func (s Settings) RiskFreeReturnValue() decimal.Decimal {
	value, err := s.riskFree()
	if err != nil {
		return decimal.Zero
	}
	return value
}

func (s Settings) riskFree() (decimal.Decimal, error) {
	if s.RiskFreeReturn == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(s.RiskFreeReturn)
	if err != nil {
		return decimal.Zero, fmt.Errorf("riskFreeReturn: %w", err)
	}
	return value, nil
}

// RiskLimits converts the risk section into gate limits, including the
// per-instrument overrides.
func (s Settings) RiskLimits() (risk.Limits, error) {
	limits, err := parseThresholds("risk", s.Risk.RiskThresholds)
	if err != nil {
		return risk.Limits{}, err
	}
	if s.Risk.OrderThrottle < 0 {
		return risk.Limits{}, fmt.Errorf("risk orderThrottle must be >= 0")
	}
	limits.OrderThrottle = s.Risk.OrderThrottle
	for symbol, thresholds := range s.Risk.Instruments {
		override, err := parseThresholds("risk "+symbol, thresholds)
		if err != nil {
			return risk.Limits{}, err
		}
		if limits.Instruments == nil {
			limits.Instruments = make(map[string]risk.Limits)
		}
		limits.Instruments[symbol] = override
	}
	return limits, nil
}

func parseThresholds(label string, t RiskThresholds) (risk.Limits, error) {
	var limits risk.Limits
	var err error
	if limits.MaxLeverage, err = optionalDecimal(label+" maxLeverage", t.MaxLeverage); err != nil {
		return risk.Limits{}, err
	}
	if limits.MaxPositionNotional, err = optionalDecimal(label+" maxPositionNotional", t.MaxPositionNotional); err != nil {
		return risk.Limits{}, err
	}
	if limits.MaxExposurePercent, err = optionalDecimal(label+" maxExposurePercent", t.MaxExposurePercent); err != nil {
		return risk.Limits{}, err
	}
	if limits.MaxPositionQuantity, err = optionalDecimal(label+" maxPositionQuantity", t.MaxPositionQuantity); err != nil {
		return risk.Limits{}, err
	}
	return limits, nil
}

// optionalDecimal parses a decimal-valued limit. Empty means unset and
// yields zero; negatives are rejected.
func optionalDecimal(label, raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", label, err)
	}
	if value.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%s must be >= 0", label)
	}
	return value, nil
}

// RiskManager builds the configured gate: a threshold manager when the risk
// section is enabled, otherwise the approve-all default.
func (s Settings) RiskManager() (risk.Manager, error) {
	if !s.Risk.Enabled {
		return risk.DefaultManager{}, nil
	}
	limits, err := s.RiskLimits()
	if err != nil {
		return nil, err
	}
	return risk.NewThresholdManager(limits), nil
}

// ExecutionOptions converts the execution section into simulator options.
func (s Settings) ExecutionOptions() ([]backtest.ExecutionOption, error) {
	var opts []backtest.ExecutionOption
	if s.Execution.Latency > 0 {
		opts = append(opts, backtest.WithLatencyModel(backtest.ConstantLatency{Value: s.Execution.Latency}))
	}
	if s.Execution.FeePercent != "" {
		percent, err := decimal.NewFromString(s.Execution.FeePercent)
		if err != nil {
			return nil, fmt.Errorf("execution feePercent: %w", err)
		}
		if percent.IsNegative() {
			return nil, fmt.Errorf("execution feePercent must be >= 0")
		}
		rate := percent.Div(decimal.NewFromInt(100))
		opts = append(opts, backtest.WithFeeModel(backtest.ProportionalFee{Rate: rate}))
	}
	if s.Execution.SlippageBps != "" {
		bps, err := decimal.NewFromString(s.Execution.SlippageBps)
		if err != nil {
			return nil, fmt.Errorf("execution slippageBps: %w", err)
		}
		if bps.IsNegative() {
			return nil, fmt.Errorf("execution slippageBps must be >= 0")
		}
		opts = append(opts, backtest.WithSlippageModel(backtest.BasisPointSlippage{BPS: bps}))
	}
	return opts, nil
}

// ParsedSeedBalance is one validated pre-run balance.
type ParsedSeedBalance struct {
	Asset string
	Total decimal.Decimal
	Free  decimal.Decimal
}

// SeedBalanceValues parses and validates the seed balances: totals are
// non-negative and free never exceeds total. An omitted free defaults to the
// full total.
func (s Settings) SeedBalanceValues() ([]ParsedSeedBalance, error) {
	parsed := make([]ParsedSeedBalance, 0, len(s.SeedBalances))
	for _, seed := range s.SeedBalances {
		if seed.Asset == "" {
			return nil, fmt.Errorf("seed balance asset required")
		}
		total, err := decimal.NewFromString(seed.Total)
		if err != nil {
			return nil, fmt.Errorf("seed balance %s total: %w", seed.Asset, err)
		}
		free := total
		if strings.TrimSpace(seed.Free) != "" {
			if free, err = decimal.NewFromString(seed.Free); err != nil {
				return nil, fmt.Errorf("seed balance %s free: %w", seed.Asset, err)
			}
		}
		if total.IsNegative() || free.IsNegative() || free.GreaterThan(total) {
			return nil, fmt.Errorf("seed balance %s requires 0 <= free <= total", seed.Asset)
		}
		parsed = append(parsed, ParsedSeedBalance{Asset: seed.Asset, Total: total, Free: free})
	}
	return parsed, nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
