package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Bank Nifty Trader Configuration

[trading]
# Trading mode: "live" or "paper"
mode = "paper"
# Product type for F&O carry positions
default_product = "NRML"
# Exchange segment for derivatives
default_exchange = "NFO"

[strategy]
underlying = "BANKNIFTY"
# Entry trigger on expiry day (IST)
entry_time = "15:00"
# Hard forced-exit cutoff (IST)
exit_cutoff_time = "15:25"
# Exit all legs once combined P&L reaches this percent of deployed capital
profit_target_percent = 10.0
# Capital figure used for the profit-target percentage
deployed_capital = 500000.0
# Named leg template: calendar_spread
leg_variant = "calendar_spread"
# Bank Nifty lot size
lot_size = 25
# Strikes round to the nearest multiple of this
rounding_unit = 100.0
# Monthly expiry weekday rule change: last Thursday before, last Tuesday after
roll_regime_cutover_date = "2025-09-01"
# P&L monitoring poll interval
poll_interval_seconds = 5
# Fire entry late within this window after a restart instead of skipping the day
late_entry_tolerance_seconds = 300
# Close-all retry attempts before the session is aborted
max_close_retries = 3
# Market holidays (YYYY-MM-DD), e.g. holidays = ["2025-10-21"]
holidays = []

[strategy.strike_offset_tiers]
near = 0.25
mid = 0.50
far = 0.75

[backtest]
initial_capital = 500000.0
commission_per_order = 20.0

[logging]
level = "info"
console = true
file = true
max_size_mb = 100
max_backups = 7
max_age_days = 30

[notifications]
enabled = false
# all, trades_only, errors_only
level = "all"

[notifications.webhook]
enabled = false
url = ""

[security]
# Block all order placement
read_only_mode = false
# Encrypt credentials.toml at rest
encrypt_credentials = false
`

const credentialsTemplate = `# Bank Nifty Trader Credentials
# Keep this file private (chmod 600).

[zerodha]
api_key = ""
api_secret = ""
user_id = ""
access_token = ""
`

// createTemplateConfig writes a template config.toml to the config directory.
func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(configTemplate), 0644)
}

// createTemplateCredentials writes a template credentials.toml.
func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	path := filepath.Join(configDir, "credentials.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(credentialsTemplate), 0600)
}
