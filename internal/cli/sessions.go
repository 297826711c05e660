package cli

import (
	"github.com/spf13/cobra"

	"banknifty-trader/internal/errors"
	"banknifty-trader/internal/notify"
	"banknifty-trader/internal/store"
	"banknifty-trader/internal/strategy"
)

// newSessionsCmd inspects past trading sessions.
func newSessionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Browse past trading sessions",
		Long: `List past expiry-day sessions and drill into one session's legs
and P&L history.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return errors.Wrap(errors.ErrDatabaseError, "session history needs the store")
			}

			filter := store.SessionFilter{}
			if v, _ := cmd.Flags().GetString("from"); v != "" {
				day, err := resolveDay(v)
				if err != nil {
					return err
				}
				filter.From = day
			}
			if v, _ := cmd.Flags().GetString("to"); v != "" {
				day, err := resolveDay(v)
				if err != nil {
					return err
				}
				filter.To = day
			}
			if v, _ := cmd.Flags().GetString("outcome"); v != "" {
				filter.Outcome = strategy.SessionOutcome(v)
			}
			filter.Limit, _ = cmd.Flags().GetInt("limit")

			sessions, err := app.Store.GetSessions(cmd.Context(), filter)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(sessions)
			}
			if len(sessions) == 0 {
				output.Info("No sessions recorded")
				return nil
			}
			for _, s := range sessions {
				output.Printf("%s  %-11s  %-15s  %12s  %s\n",
					s.Day.Format("2006-01-02"), s.Outcome, s.Plan.Variant,
					notify.FormatCurrency(s.FinalPnL), s.SessionID)
			}
			return nil
		},
	}

	cmd.Flags().String("from", "", "earliest trading day (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "latest trading day (YYYY-MM-DD)")
	cmd.Flags().String("outcome", "", "filter by outcome (SKIPPED, PROFIT_EXIT, FORCED_EXIT, ABORTED)")
	cmd.Flags().Int("limit", 20, "maximum sessions to list")

	cmd.AddCommand(newSessionsShowCmd(app))
	return cmd
}

func newSessionsShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session's legs and P&L history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return errors.Wrap(errors.ErrDatabaseError, "session history needs the store")
			}

			result, err := app.Store.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			snaps, err := app.Store.GetSnapshots(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"session":   result,
					"snapshots": snaps,
				})
			}

			output.Printf("%-16s %s\n", "Session", result.SessionID)
			output.Printf("%-16s %s\n", "Day", result.Day.Format("2006-01-02"))
			output.Printf("%-16s %s\n", "Outcome", result.Outcome)
			if result.Decision.Reason != "" {
				output.Printf("%-16s %s\n", "Exit reason", result.Decision.Reason)
			}
			output.Printf("%-16s %s\n", "Final P&L", notify.FormatCurrency(result.FinalPnL))

			if result.Position != nil {
				output.Printf("\nLegs (lot size %d):\n", result.Position.LotSize)
				for _, leg := range result.Position.Legs {
					state := "open"
					if leg.Closed {
						state = "closed"
					}
					output.Printf("  %-24s %-4s x%d  fill %10.2f  %s\n",
						leg.Symbol(), leg.Side, leg.Quantity, leg.FillPrice, state)
				}
				output.Printf("\nRealized P&L: %s\n",
					notify.FormatCurrency(result.Position.RealizedPnL()))
			}

			if len(snaps) > 0 {
				last := snaps[len(snaps)-1]
				output.Printf("\n%d snapshots, last at %s: %s (%.2f%%)\n",
					len(snaps), last.Timestamp.Format("15:04:05"),
					notify.FormatCurrency(last.Combined), last.PercentOfCapital)
			}
			return nil
		},
	}
}
