// Package config provides configuration management for the strategy engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"banknifty-trader/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Trading       TradingConfig      `mapstructure:"trading"`
	Strategy      StrategyConfig     `mapstructure:"strategy"`
	Backtest      BacktestConfig     `mapstructure:"backtest"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Security      SecurityConfig     `mapstructure:"security"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds trading-related configuration.
type TradingConfig struct {
	Mode            string `mapstructure:"mode"`             // "live", "paper"
	DefaultProduct  string `mapstructure:"default_product"`  // NRML for F&O carry
	DefaultExchange string `mapstructure:"default_exchange"` // NFO
}

// StrategyConfig holds the strategy instance parameters.
type StrategyConfig struct {
	Underlying                string             `mapstructure:"underlying"`
	EntryTime                 string             `mapstructure:"entry_time"`        // "15:00" IST
	ExitCutoffTime            string             `mapstructure:"exit_cutoff_time"`  // "15:25" IST
	ProfitTargetPercent       float64            `mapstructure:"profit_target_percent"`
	DeployedCapital           float64            `mapstructure:"deployed_capital"`
	StrikeOffsetTiers         map[string]float64 `mapstructure:"strike_offset_tiers"`
	LegVariant                string             `mapstructure:"leg_variant"`
	LotSize                   int                `mapstructure:"lot_size"`
	RoundingUnit              float64            `mapstructure:"rounding_unit"`
	RollRegimeCutoverDate     string             `mapstructure:"roll_regime_cutover_date"` // "2006-01-02"
	PollIntervalSeconds       int                `mapstructure:"poll_interval_seconds"`
	LateEntryToleranceSeconds int                `mapstructure:"late_entry_tolerance_seconds"`
	MaxCloseRetries           int                `mapstructure:"max_close_retries"`
	Holidays                  []string           `mapstructure:"holidays"` // "2006-01-02" dates
}

// BacktestConfig holds backtest parameters.
type BacktestConfig struct {
	InitialCapital     float64 `mapstructure:"initial_capital"`
	CommissionPerOrder float64 `mapstructure:"commission_per_order"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Level   string        `mapstructure:"level"` // all, trades_only, errors_only
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	ReadOnlyMode       bool `mapstructure:"read_only_mode"`
	EncryptCredentials bool `mapstructure:"encrypt_credentials"`
}

// Credentials holds API credentials.
type Credentials struct {
	Zerodha ZerodhaCredentials `mapstructure:"zerodha"`
}

// ZerodhaCredentials holds Zerodha API credentials.
type ZerodhaCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	UserID      string `mapstructure:"user_id"`
	AccessToken string `mapstructure:"access_token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/banknifty-trader"
	}
	return filepath.Join(home, ".config", "banknifty-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadConfigFile(configDir string, target *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := createTemplateConfig(configDir); err != nil {
				return err
			}
			// Templates were written; proceed with defaults.
			return v.Unmarshal(target)
		}
		return err
	}

	return v.Unmarshal(target)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.default_product", "NRML")
	v.SetDefault("trading.default_exchange", "NFO")

	v.SetDefault("strategy.underlying", "BANKNIFTY")
	v.SetDefault("strategy.entry_time", "15:00")
	v.SetDefault("strategy.exit_cutoff_time", "15:25")
	v.SetDefault("strategy.profit_target_percent", 10.0)
	v.SetDefault("strategy.deployed_capital", 500000.0)
	v.SetDefault("strategy.strike_offset_tiers", map[string]float64{
		"near": 0.25, "mid": 0.50, "far": 0.75,
	})
	v.SetDefault("strategy.leg_variant", "calendar_spread")
	v.SetDefault("strategy.lot_size", 25)
	v.SetDefault("strategy.rounding_unit", 100.0)
	v.SetDefault("strategy.roll_regime_cutover_date", "2025-09-01")
	v.SetDefault("strategy.poll_interval_seconds", 5)
	v.SetDefault("strategy.late_entry_tolerance_seconds", 300)
	v.SetDefault("strategy.max_close_retries", 3)

	v.SetDefault("backtest.initial_capital", 500000.0)
	v.SetDefault("backtest.commission_per_order", 20.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age_days", 30)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZERODHA_API_KEY"); v != "" {
		cfg.Credentials.Zerodha.APIKey = v
	}
	if v := os.Getenv("ZERODHA_API_SECRET"); v != "" {
		cfg.Credentials.Zerodha.APISecret = v
	}
	if v := os.Getenv("ZERODHA_USER_ID"); v != "" {
		cfg.Credentials.Zerodha.UserID = v
	}
	if v := os.Getenv("ZERODHA_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Zerodha.AccessToken = v
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.Mode != "" && c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return errors.NewConfigError("trading.mode",
			fmt.Sprintf("invalid mode %q (must be 'live' or 'paper')", c.Trading.Mode))
	}

	s := &c.Strategy
	if s.Underlying == "" {
		return errors.NewConfigError("strategy.underlying", "underlying not set")
	}
	entry, err := parseClock(s.EntryTime)
	if err != nil {
		return errors.NewConfigError("strategy.entry_time", err.Error())
	}
	cutoff, err := parseClock(s.ExitCutoffTime)
	if err != nil {
		return errors.NewConfigError("strategy.exit_cutoff_time", err.Error())
	}
	if !cutoff.after(entry) {
		return errors.NewConfigError("strategy.exit_cutoff_time",
			"exit cutoff must be after entry time")
	}
	if s.ProfitTargetPercent <= 0 {
		return errors.NewConfigError("strategy.profit_target_percent", "must be positive")
	}
	if s.DeployedCapital <= 0 {
		return errors.NewConfigError("strategy.deployed_capital", "must be positive")
	}
	if s.LotSize <= 0 {
		return errors.NewConfigError("strategy.lot_size", "must be positive")
	}
	if s.RoundingUnit <= 0 {
		return errors.NewConfigError("strategy.rounding_unit", "must be positive")
	}
	if s.PollIntervalSeconds <= 0 {
		return errors.NewConfigError("strategy.poll_interval_seconds", "must be positive")
	}
	if s.LateEntryToleranceSeconds < 0 {
		return errors.NewConfigError("strategy.late_entry_tolerance_seconds", "must not be negative")
	}
	if s.MaxCloseRetries <= 0 {
		return errors.NewConfigError("strategy.max_close_retries", "must be positive")
	}
	for name, pct := range s.StrikeOffsetTiers {
		if pct <= 0 {
			return errors.NewConfigError("strategy.strike_offset_tiers",
				fmt.Sprintf("tier %q has non-positive offset %.3f", name, pct))
		}
	}
	if _, err := s.CutoverDate(); err != nil {
		return errors.NewConfigError("strategy.roll_regime_cutover_date", err.Error())
	}
	if _, err := s.HolidayDates(); err != nil {
		return errors.NewConfigError("strategy.holidays", err.Error())
	}
	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode != "live"
}

// CutoverDate returns the parsed rule-regime cutover date.
func (s *StrategyConfig) CutoverDate() (time.Time, error) {
	if s.RollRegimeCutoverDate == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s.RollRegimeCutoverDate)
}

// HolidayDates returns the parsed market holiday dates.
func (s *StrategyConfig) HolidayDates() ([]time.Time, error) {
	dates := make([]time.Time, 0, len(s.Holidays))
	for _, h := range s.Holidays {
		d, err := time.Parse("2006-01-02", h)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", h, err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// PollInterval returns the poll interval as a duration.
func (s *StrategyConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// LateEntryTolerance returns the late-entry tolerance as a duration.
func (s *StrategyConfig) LateEntryTolerance() time.Duration {
	return time.Duration(s.LateEntryToleranceSeconds) * time.Second
}

// EntryAt returns the entry time anchored on the given day in its location.
func (s *StrategyConfig) EntryAt(day time.Time) time.Time {
	c, _ := parseClock(s.EntryTime)
	return c.on(day)
}

// ExitCutoffAt returns the forced-exit cutoff anchored on the given day.
func (s *StrategyConfig) ExitCutoffAt(day time.Time) time.Time {
	c, _ := parseClock(s.ExitCutoffTime)
	return c.on(day)
}

type clock struct {
	hour, minute int
}

func parseClock(v string) (clock, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return clock{}, fmt.Errorf("invalid time %q (want HH:MM): %w", v, err)
	}
	return clock{hour: t.Hour(), minute: t.Minute()}, nil
}

func (c clock) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.minute, 0, 0, day.Location())
}

func (c clock) after(other clock) bool {
	return c.hour*60+c.minute > other.hour*60+other.minute
}
