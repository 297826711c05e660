package cli

import (
	"time"

	"github.com/spf13/cobra"

	"banknifty-trader/internal/calendar"
	"banknifty-trader/internal/errors"
)

// newExpiryCmd resolves monthly expiry dates.
func newExpiryCmd(app *App) *cobra.Command {
	var dateFlag string
	var yearFlag int

	cmd := &cobra.Command{
		Use:   "expiry",
		Short: "Resolve monthly expiry dates",
		Long: `Resolve the monthly expiry for a date, or list all expiries for a year.

The expiry weekday follows the exchange rule in effect for the month:
last Thursday before the cutover, last Tuesday from the cutover onwards.
Holidays shift the expiry to the preceding trading day.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cal, err := app.buildCalendar()
			if err != nil {
				return err
			}
			output := NewOutput(cmd)

			if yearFlag != 0 {
				return printYearExpiries(output, cal, yearFlag)
			}

			day, err := resolveDay(dateFlag)
			if err != nil {
				return err
			}
			info, err := cal.Resolve(day)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"query_date":           day.Format("2006-01-02"),
					"current_month_expiry": info.CurrentMonthExpiry.Date.Format("2006-01-02"),
					"next_month_expiry":    info.NextMonthExpiry.Date.Format("2006-01-02"),
					"regime":               info.Regime,
				})
			}

			output.Printf("%-22s %s\n", "Query date", day.Format("2006-01-02 (Monday)"))
			output.Printf("%-22s %s\n", "Current month expiry",
				info.CurrentMonthExpiry.Date.Format("2006-01-02 (Monday)"))
			output.Printf("%-22s %s\n", "Next month expiry",
				info.NextMonthExpiry.Date.Format("2006-01-02 (Monday)"))
			output.Printf("%-22s %s\n", "Regime", info.Regime)

			if sameCalendarDay(day, info.CurrentMonthExpiry.Date) {
				output.Success("Today is the monthly expiry day")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dateFlag, "date", "", "query date (YYYY-MM-DD, default today in IST)")
	cmd.Flags().IntVar(&yearFlag, "year", 0, "list all monthly expiries for a year")
	return cmd
}

func printYearExpiries(output *Output, cal *calendar.Calendar, year int) error {
	if year < 2000 || year > 2100 {
		return errors.NewConfigError("year", "year out of range")
	}
	expiries, err := cal.ExpiriesForYear(year)
	if err != nil {
		return err
	}

	if output.IsJSON() {
		dates := make([]string, 0, len(expiries))
		for _, e := range expiries {
			dates = append(dates, e.Date.Format("2006-01-02"))
		}
		return output.JSON(map[string]interface{}{"year": year, "expiries": dates})
	}

	output.Printf("Monthly expiries %d\n", year)
	for _, e := range expiries {
		output.Printf("  %-10s %s\n", e.Date.Month(), e.Date.Format("2006-01-02 (Monday)"))
	}
	return nil
}

func sameCalendarDay(a, b time.Time) bool {
	return a.Format("2006-01-02") == b.Format("2006-01-02")
}
