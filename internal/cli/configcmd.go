package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"banknifty-trader/internal/config"
	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/security"
)

// masterPasswordEnv supplies the password that unlocks credentials.enc.
const masterPasswordEnv = "TRADER_MASTER_PASSWORD"

// newConfigCmd manages configuration.
func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			redacted := *app.Config
			redacted.Credentials.Zerodha.APISecret = redact(redacted.Credentials.Zerodha.APISecret)
			redacted.Credentials.Zerodha.AccessToken = redact(redacted.Credentials.Zerodha.AccessToken)

			if output.IsJSON() {
				return output.JSON(redacted)
			}

			output.Printf("%-28s %s\n", "Mode", redacted.Trading.Mode)
			output.Printf("%-28s %s\n", "Underlying", redacted.Strategy.Underlying)
			output.Printf("%-28s %s IST\n", "Entry time", redacted.Strategy.EntryTime)
			output.Printf("%-28s %s IST\n", "Exit cutoff", redacted.Strategy.ExitCutoffTime)
			output.Printf("%-28s %.2f%%\n", "Profit target", redacted.Strategy.ProfitTargetPercent)
			output.Printf("%-28s %.2f\n", "Deployed capital", redacted.Strategy.DeployedCapital)
			output.Printf("%-28s %s\n", "Leg variant", redacted.Strategy.LegVariant)
			output.Printf("%-28s %d\n", "Lot size", redacted.Strategy.LotSize)
			output.Printf("%-28s %.0f\n", "Rounding unit", redacted.Strategy.RoundingUnit)
			output.Printf("%-28s %s\n", "Regime cutover", redacted.Strategy.RollRegimeCutoverDate)
			output.Printf("%-28s %v\n", "Read-only mode", redacted.Security.ReadOnlyMode)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			credFile := "credentials.toml"
			if app.Config.Security.EncryptCredentials {
				credFile = "credentials.enc"
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"config_dir":  app.ConfigDir,
					"config":      filepath.Join(app.ConfigDir, "config.toml"),
					"credentials": filepath.Join(app.ConfigDir, credFile),
					"database":    filepath.Join(app.ConfigDir, "trader.db"),
				})
			}
			output.Printf("Config directory: %s\n", app.ConfigDir)
			output.Printf("  config.toml\n  %s\n  trader.db\n", credFile)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "encrypt-credentials",
		Short: "Encrypt broker credentials at rest",
		Long: `Encrypt the loaded Zerodha credentials to credentials.enc with a
master password taken from the ` + masterPasswordEnv + ` environment variable.

After encrypting, set security.encrypt_credentials = true in config.toml
and delete the plaintext credentials.toml. Every later invocation reads
credentials.enc using the same environment variable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			password := os.Getenv(masterPasswordEnv)
			if password == "" {
				return errors.NewConfigError("encrypt_credentials",
					masterPasswordEnv+" must be set to encrypt credentials")
			}
			creds := app.Config.Credentials.Zerodha
			if creds.APIKey == "" {
				return errors.NewConfigError("credentials",
					"no zerodha credentials loaded, nothing to encrypt")
			}

			cm := security.NewCredentialManager(app.ConfigDir)
			if err := cm.Save(password, creds); err != nil {
				return err
			}
			output.Success("Credentials encrypted to " + cm.EncryptedPath())
			output.Info("Set security.encrypt_credentials = true and remove credentials.toml")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				return err
			}
			if _, err := app.buildCalendar(); err != nil {
				return err
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

// decryptCredentials loads encrypted broker credentials using the master
// password from the environment.
func decryptCredentials(configDir string) (config.ZerodhaCredentials, error) {
	password := os.Getenv(masterPasswordEnv)
	if password == "" {
		return config.ZerodhaCredentials{}, errors.NewConfigError("encrypt_credentials",
			masterPasswordEnv+" must be set to decrypt credentials")
	}
	return security.NewCredentialManager(configDir).Load(password)
}

// redact hides all but the last four characters of a secret.
func redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
