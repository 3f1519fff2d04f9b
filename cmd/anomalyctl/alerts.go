package main

import (
	"github.com/spf13/cobra"

	"github.com/kubilitics/kubilitics-anomaly/internal/alerting"
	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
)

func newAlertsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect and acknowledge stored alerts",
	}
	cmd.AddCommand(
		newAlertsListCmd(a),
		newAlertsGetCmd(a),
		newAlertsAckCmd(a),
		newAlertsStatsCmd(a),
	)
	return cmd
}

// withManager opens the store for the duration of fn.
func (a *app) withManager(cmd *cobra.Command, fn func(*alerting.Manager) error) error {
	store, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(alerting.NewManager(store))
}

func newAlertsListCmd(a *app) *cobra.Command {
	var severity string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open alerts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sev, err := anomaly.ParseSeverity(severity)
			if err != nil {
				return err
			}
			return a.withManager(cmd, func(m *alerting.Manager) error {
				alerts, err := m.GetActiveAlerts(cmd.Context(), sev)
				if err != nil {
					return err
				}
				return a.printJSON(alerts)
			})
		},
	}
	cmd.Flags().StringVar(&severity, "severity", "", "only warning or critical alerts")
	return cmd
}

func newAlertsGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd, func(m *alerting.Manager) error {
				alert, err := m.GetAlert(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.printJSON(alert)
			})
		},
	}
}

func newAlertsAckCmd(a *app) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "ack ID",
		Short: "Acknowledge an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd, func(m *alerting.Manager) error {
				alert, err := m.AcknowledgeAlert(cmd.Context(), args[0], notes)
				if err != nil {
					return err
				}
				return a.printJSON(alert)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "free-form acknowledgement notes")
	return cmd
}

func newAlertsStatsCmd(a *app) *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count alerts by metric and severity over a trailing window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd, func(m *alerting.Manager) error {
				stats, err := m.GetAnomalyStats(cmd.Context(), hours)
				if err != nil {
					return err
				}
				return a.printJSON(stats)
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", alerting.DefaultStatsWindowHours, "window size in hours")
	return cmd
}
