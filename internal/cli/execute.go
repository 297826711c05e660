package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/notify"
	"banknifty-trader/internal/strategy"
	"banknifty-trader/pkg/utils"
)

// newExecuteCmd runs one expiry-day session end to end.
func newExecuteCmd(app *App) *cobra.Command {
	var dateFlag string

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Run one expiry-day session (entry, monitoring, exit)",
		Long: `Run the full expiry-day lifecycle for a single session.

The command arms the entry scheduler, fires the multi-leg entry at the
configured time, monitors combined P&L and exits on the profit target or
at the forced cutoff. It exits with code 3 if the session aborts with
legs still open.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := resolveDay(dateFlag)
			if err != nil {
				return err
			}
			return app.runSession(cmd, day)
		},
	}

	cmd.Flags().StringVar(&dateFlag, "date", "", "trading day (YYYY-MM-DD, default today in IST)")
	return cmd
}

// runSession wires an engine for the configured mode and runs one day.
func (app *App) runSession(cmd *cobra.Command, day time.Time) error {
	output := NewOutput(cmd)

	if err := app.Config.Validate(); err != nil {
		return err
	}

	cal, err := app.buildCalendar()
	if err != nil {
		return err
	}
	exec, prices, err := app.buildExecution()
	if err != nil {
		return err
	}

	engine := strategy.NewEngine(app.Config.Strategy, strategy.EngineDeps{
		Calendar: cal,
		Executor: exec,
		Prices:   prices,
		Clock:    strategy.RealClock(),
		Journal:  app.journal(),
		Alerter:  app.Notifier,
		Logger:   app.Logger,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// First interrupt closes the position cleanly; a second one tears the
	// session down.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		output.Warning("Interrupt received, closing position (interrupt again to force quit)")
		engine.RequestManualExit()
		<-sigCh
		cancel()
	}()

	result, err := engine.Run(ctx, day)
	if err != nil {
		if errors.Is(err, errors.ErrNotExpiryDay) {
			output.Warning("%s is not a monthly expiry day", day.Format("2006-01-02"))
			return nil
		}
		return err
	}

	if output.IsJSON() {
		output.JSON(result)
	} else {
		printSessionResult(output, result)
	}

	if result.Outcome == strategy.OutcomeAborted {
		return &ExitError{Code: ExitAborted,
			Err: errors.Wrap(errors.ErrSessionFinished, "session aborted with open legs")}
	}
	return nil
}

func printSessionResult(output *Output, result *strategy.SessionResult) {
	output.Printf("Session %s (%s)\n", result.SessionID, result.Day.Format("2006-01-02"))
	output.Printf("Outcome: %s\n", result.Outcome)

	switch result.Outcome {
	case strategy.OutcomeSkipped:
		output.Warning("No position was taken today")
		return
	case strategy.OutcomeAborted:
		open := len(result.Position.OpenLegs())
		output.Error("ABORTED: %d legs remain open, manual intervention required", open)
	}

	if result.Position != nil {
		for _, leg := range result.Position.Legs {
			state := "open"
			if leg.Closed {
				state = "closed"
			}
			output.Printf("  %-5s %dx %-24s fill %.2f  %s\n",
				leg.Side, leg.Quantity, leg.Symbol(), leg.FillPrice, state)
		}
	}
	if result.FinalPnL >= 0 {
		output.Success("Realized P&L: %s", notify.FormatCurrency(result.FinalPnL))
	} else {
		output.Error("Realized P&L: %s", notify.FormatCurrency(result.FinalPnL))
	}
}

// journal adapts the optional store to the engine interface.
func (app *App) journal() strategy.Journal {
	if app.Store == nil {
		return nil
	}
	return app.Store
}

// resolveDay parses the --date flag, defaulting to today in IST.
func resolveDay(flag string) (time.Time, error) {
	if flag == "" {
		now := time.Now().In(utils.IndiaLocation)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, utils.IndiaLocation), nil
	}
	day, err := time.ParseInLocation("2006-01-02", flag, utils.IndiaLocation)
	if err != nil {
		return time.Time{}, errors.NewConfigError("date", err.Error())
	}
	return day, nil
}
