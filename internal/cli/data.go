package cli

import (
	"github.com/spf13/cobra"

	"banknifty-trader/internal/backtest"
	"banknifty-trader/internal/errors"
)

// newDataCmd manages historical candle data.
func newDataCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Manage historical candle data",
	}

	cmd.AddCommand(newDataImportCmd(app))
	return cmd
}

func newDataImportCmd(app *App) *cobra.Command {
	var file, symbol, timeframe string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import candles from a CSV file",
		Long: `Import historical candles into the local store for backtesting.

The CSV needs a header row with timestamp, open, high, low, close and
volume columns. Timestamps accept RFC3339 or "2006-01-02 15:04:05".
Re-importing a file replaces overlapping candles instead of duplicating.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return errors.Wrap(errors.ErrDatabaseError, "candle import needs the store")
			}

			candles, err := backtest.LoadCandlesCSV(file)
			if err != nil {
				return err
			}
			if len(candles) == 0 {
				return errors.NewConfigError("file", "no candles found in file")
			}

			if err := app.Store.SaveCandles(cmd.Context(), symbol, timeframe, candles); err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol":    symbol,
					"timeframe": timeframe,
					"imported":  len(candles),
					"from":      candles[0].Timestamp,
					"to":        candles[len(candles)-1].Timestamp,
				})
			}
			output.Success("Imported %d candles for %s (%s), %s to %s",
				len(candles), symbol, timeframe,
				candles[0].Timestamp.Format("2006-01-02 15:04"),
				candles[len(candles)-1].Timestamp.Format("2006-01-02 15:04"))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "CSV file to import")
	cmd.Flags().StringVar(&symbol, "symbol", "", "trading symbol, e.g. BANKNIFTY251028FUT")
	cmd.Flags().StringVar(&timeframe, "timeframe", "minute", "candle timeframe")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("symbol")
	return cmd
}
