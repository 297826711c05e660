package cli

import (
	"time"

	"github.com/spf13/cobra"

	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/models"
	"banknifty-trader/pkg/utils"
)

// newScheduleCmd runs the long-lived scheduler daemon: it sleeps until the
// next monthly expiry and runs a session on each one.
func newScheduleCmd(app *App) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the expiry-day scheduler daemon",
		Long: `Run continuously, executing one session on every monthly expiry day.

Between expiries the process sleeps. On each expiry day it runs the same
lifecycle as 'trader execute'. An aborted session stops the daemon with
exit code 3 so a supervisor can page.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Config.Validate(); err != nil {
				return err
			}
			cal, err := app.buildCalendar()
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			ctx := cmd.Context()

			for {
				now := time.Now().In(utils.IndiaLocation)
				today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, utils.IndiaLocation)

				expiry, err := cal.Resolve(today)
				if err != nil {
					return err
				}
				next := expiry.CurrentMonthExpiry.Date
				if next.Before(today) {
					next = expiry.NextMonthExpiry.Date
				}
				day := time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, utils.IndiaLocation)

				// Wake a few minutes ahead of the entry trigger.
				wakeAt := app.Config.Strategy.EntryAt(day).Add(-5 * time.Minute)
				if wait := time.Until(wakeAt); wait > 0 {
					output.Info("Next expiry %s, sleeping until %s",
						day.Format("2006-01-02"), wakeAt.Format("2006-01-02 15:04 MST"))
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(wait):
					}
				}

				if status := utils.MarketStatusAt(app.Config.Strategy.EntryAt(day)); status != models.MarketOpen {
					app.Logger.Warn().
						Str("day", day.Format("2006-01-02")).
						Str("market_status", string(status)).
						Msg("market not open at entry time, skipping day")
				} else {
					err = app.runSession(cmd, day)
					var exitErr *ExitError
					if errors.As(err, &exitErr) {
						return err
					}
					if err != nil {
						app.Logger.Error().Err(err).
							Str("day", day.Format("2006-01-02")).
							Msg("session failed, daemon continues")
					}
					if once {
						return err
					}
				}

				// Move past this expiry before resolving the next one.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Until(day.AddDate(0, 0, 1))):
				}
			}
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single expiry session and exit")
	return cmd
}
