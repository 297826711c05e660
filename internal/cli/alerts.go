package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"banknifty-trader/internal/errors"
)

// newAlertsCmd lists and acknowledges abort alerts.
func newAlertsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Manage abort alerts",
		Long: `List and acknowledge persisted abort alerts.

An aborted session leaves legs open at the broker. The alert stays
pending until an operator has flattened the position manually and
acknowledges it here.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending abort alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return errors.Wrap(errors.ErrDatabaseError, "alerts need the store")
			}
			alerts, err := app.Store.GetPendingAbortAlerts(cmd.Context())
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(alerts)
			}
			if len(alerts) == 0 {
				output.Success("No pending abort alerts")
				return nil
			}
			for _, alert := range alerts {
				output.Error("#%d  session %s  raised %s",
					alert.ID, alert.SessionID, alert.RaisedAt.Format("2006-01-02 15:04:05"))
				output.Printf("     %s\n", alert.Reason)
			}
			output.Warning("%d alert(s) pending, acknowledge with 'trader alerts ack <id>'", len(alerts))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "ack <id>",
		Short: "Acknowledge an abort alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return errors.Wrap(errors.ErrDatabaseError, "alerts need the store")
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.NewConfigError("id", "alert id must be a number")
			}
			if err := app.Store.AcknowledgeAbortAlert(cmd.Context(), id); err != nil {
				return err
			}
			NewOutput(cmd).Success("Alert #%d acknowledged", id)
			return nil
		},
	})

	return cmd
}
