package cli

import (
	"time"

	"github.com/spf13/cobra"

	"banknifty-trader/internal/backtest"
	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/notify"
	"banknifty-trader/internal/strategy"
)

// newBacktestCmd replays stored candles through the strategy engine.
func newBacktestCmd(app *App) *cobra.Command {
	var fromFlag, toFlag string

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the strategy over stored historical candles",
		Long: `Simulate every monthly expiry in a date range against candles
previously imported with 'trader data import'. The simulation runs the
exact live code paths on a simulated clock.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return errors.Wrap(errors.ErrDatabaseError, "backtest needs the candle store")
			}
			if err := app.Config.Validate(); err != nil {
				return err
			}

			from, err := time.Parse("2006-01-02", fromFlag)
			if err != nil {
				return errors.NewConfigError("from", err.Error())
			}
			to, err := time.Parse("2006-01-02", toFlag)
			if err != nil {
				return errors.NewConfigError("to", err.Error())
			}

			cal, err := app.buildCalendar()
			if err != nil {
				return err
			}

			runner := backtest.NewRunner(*app.Config, app.Store, cal, app.Logger)
			result, err := runner.Run(cmd.Context(), from, to)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(result)
			}
			printBacktestResult(output, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&fromFlag, "from", "", "range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toFlag, "to", "", "range end (YYYY-MM-DD)")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func printBacktestResult(output *Output, result *backtest.Result) {
	output.Printf("Backtest %s to %s\n",
		result.From.Format("2006-01-02"), result.To.Format("2006-01-02"))
	output.Printf("%-20s %s\n", "Initial capital", notify.FormatCurrency(result.InitialCapital))
	output.Printf("%-20s %s\n", "Final equity", notify.FormatCurrency(result.FinalEquity))
	output.Printf("%-20s %s\n", "Net P&L", notify.FormatCurrency(result.TotalPnL))
	output.Printf("%-20s %s\n", "Commission", notify.FormatCurrency(result.Commission))
	output.Printf("%-20s %d (%d won, %d lost, %d skipped, %d aborted)\n", "Trades",
		result.TotalTrades, result.WinningTrades, result.LosingTrades,
		result.SkippedDays, result.AbortedDays)
	output.Printf("%-20s %.1f%%\n", "Win rate", result.WinRate)
	output.Printf("%-20s %s\n", "Max drawdown", notify.FormatCurrency(result.MaxDrawdown))

	output.Println()
	for _, day := range result.Days {
		if day.Session.Outcome == strategy.OutcomeSkipped {
			output.Warning("%s  SKIPPED", day.Session.Day.Format("2006-01-02"))
			continue
		}
		if day.NetPnL >= 0 {
			output.Success("%s  %-12s net %s",
				day.Session.Day.Format("2006-01-02"), day.Session.Outcome,
				notify.FormatCurrency(day.NetPnL))
		} else {
			output.Error("%s  %-12s net %s",
				day.Session.Day.Format("2006-01-02"), day.Session.Outcome,
				notify.FormatCurrency(day.NetPnL))
		}
	}
}
