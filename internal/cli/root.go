// Package cli provides the command-line interface for the strategy engine.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"banknifty-trader/internal/broker"
	"banknifty-trader/internal/calendar"
	"banknifty-trader/internal/config"
	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/logging"
	"banknifty-trader/internal/models"
	"banknifty-trader/internal/notify"
	"banknifty-trader/internal/security"
	"banknifty-trader/internal/store"
)

// Version information
const (
	Version = "0.1.0"
)

// Exit codes. An aborted session exits non-zero so supervisors page on it.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConfig  = 2
	ExitAborted = 3
)

// ExitError carries an explicit process exit code through cobra.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// App holds the application dependencies.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
	Store     store.DataStore
	Notifier  *notify.MultiNotifier
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	configDir := configDirFromArgs(os.Args[1:])

	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return ExitConfig
	}

	if cfg.Security.EncryptCredentials {
		creds, err := decryptCredentials(configDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
			return ExitConfig
		}
		cfg.Credentials.Zerodha = creds
	}

	logger := logging.NewLoggerWithConfig(logging.LogConfig{
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		File:       cfg.Logging.File,
		FilePath:   logFilePath(cfg, configDir),
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
	})

	rootCmd := NewRootCmd(cfg, logger, configDir)
	if err := rootCmd.Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.Err)
			}
			return exitErr.Code
		}
		var cfgErr *errors.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitConfig
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailure
	}
	return ExitOK
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger, configDir string) *cobra.Command {
	app := &App{
		ConfigDir: configDir,
		Config:    cfg,
		Logger:    logger,
		Notifier:  notify.NewMultiNotifier(cfg.Notifications),
	}

	dataStore, err := store.NewSQLiteStore(filepath.Join(configDir, "trader.db"))
	if err != nil {
		logger.Warn().Err(err).Msg("store unavailable, sessions will not be persisted")
	} else {
		app.Store = dataStore
	}

	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Bank Nifty calendar-spread execution engine",
		Long: `Bank Nifty calendar-spread execution engine for NSE monthly expiries.

On every monthly expiry day it enters a multi-leg futures-and-options
position at 15:00 IST, monitors combined P&L against the deployed capital,
books profit at the target percentage and force-exits at 15:25 IST.

Use 'trader help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/banknifty-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newExecuteCmd(app))
	rootCmd.AddCommand(newScheduleCmd(app))
	rootCmd.AddCommand(newBacktestCmd(app))
	rootCmd.AddCommand(newExpiryCmd(app))
	rootCmd.AddCommand(newDataCmd(app))
	rootCmd.AddCommand(newSessionsCmd(app))
	rootCmd.AddCommand(newAlertsCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"version": Version})
				return
			}
			output.Printf("trader %s\n", Version)
		},
	}
}

// configDirFromArgs pre-scans the args for --config so configuration loads
// before cobra parses anything.
func configDirFromArgs(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if len(arg) > len("--config=") && arg[:len("--config=")] == "--config=" {
			return arg[len("--config="):]
		}
	}
	return config.DefaultConfigDir()
}

func logFilePath(cfg *config.Config, configDir string) string {
	if cfg.Logging.FilePath != "" {
		return cfg.Logging.FilePath
	}
	return filepath.Join(configDir, "logs", "trader.log")
}

// buildCalendar creates the expiry calendar from configuration.
func (app *App) buildCalendar() (*calendar.Calendar, error) {
	cutover, err := app.Config.Strategy.CutoverDate()
	if err != nil {
		return nil, errors.NewConfigError("roll_regime_cutover_date", err.Error())
	}
	holidays, err := app.Config.Strategy.HolidayDates()
	if err != nil {
		return nil, errors.NewConfigError("holidays", err.Error())
	}
	return calendar.New(cutover, calendar.NewHolidaySet(holidays)), nil
}

// quoteMaxAge bounds how old a cached quote may be before the price layer
// stops serving it as a fallback.
const quoteMaxAge = 2 * time.Minute

// buildExecution wires the executor and price source for the configured
// trading mode.
func (app *App) buildExecution() (broker.OrderExecutor, broker.PriceSource, error) {
	creds := app.Config.Credentials.Zerodha

	if app.Config.IsPaperMode() {
		if creds.APIKey != "" && creds.AccessToken != "" {
			// Paper trading against live quotes.
			prices := broker.NewCachedSource(app.newZerodha(creds), quoteMaxAge)
			return broker.NewPaperExecutor(prices), prices, nil
		}
		return nil, nil, errors.NewConfigError("credentials",
			"paper mode needs zerodha credentials for live quotes")
	}

	if creds.APIKey == "" || creds.AccessToken == "" {
		return nil, nil, errors.NewConfigError("credentials",
			"live mode needs zerodha api_key and access_token")
	}

	z := app.newZerodha(creds)
	exec := security.NewGuardedExecutor(z, app.Config.Security.ReadOnlyMode)
	return exec, broker.NewCachedSource(z, quoteMaxAge), nil
}

func (app *App) newZerodha(creds config.ZerodhaCredentials) *broker.ZerodhaExecutor {
	return broker.NewZerodhaExecutor(broker.ZerodhaConfig{
		APIKey:      creds.APIKey,
		AccessToken: creds.AccessToken,
		Product:     models.ProductType(app.Config.Trading.DefaultProduct),
		FillTimeout: 15 * time.Second,
	})
}
