package main

import (
	"github.com/spf13/cobra"

	"github.com/kubilitics/kubilitics-anomaly/internal/alerting"
	"github.com/kubilitics/kubilitics-anomaly/internal/analytics"
	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
)

func newDetectCmd(a *app) *cobra.Command {
	var file string
	flags := &detectFlags{}

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run the detector ensemble, or one detector, over a series",
		Example: `  anomalyctl detect --file cpu.yaml
  anomalyctl detect --file cpu.json --method iqr --multiplier 3
  cat cpu.json | anomalyctl detect --file - --methods zscore,isolation`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			var series []float64
			if err := a.readInput(file, &series); err != nil {
				return err
			}

			if flags.method != "" {
				m, err := anomaly.ParseMethod(flags.method)
				if err != nil {
					return err
				}
				res, err := anomaly.Run(m, series, opts)
				if err != nil {
					return err
				}
				return a.printJSON(res)
			}

			res, err := anomaly.DetectAll(series, opts)
			if err != nil {
				return err
			}
			return a.printJSON(res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON or YAML list of numbers, - for stdin")
	cmd.Flags().StringVar(&flags.method, "method", "", "run a single detector instead of the ensemble")
	flags.register(cmd)
	return cmd
}

func newMultiCmd(a *app) *cobra.Command {
	var file string
	var threshold float64

	cmd := &cobra.Command{
		Use:     "multi",
		Short:   "Correlate several metrics sampled at the same instants",
		Example: `  anomalyctl multi --file node.yaml --threshold 2.5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var metrics map[string][]float64
			if err := a.readInput(file, &metrics); err != nil {
				return err
			}
			res, err := anomaly.MultiDimensional(metrics, threshold)
			if err != nil {
				return err
			}
			return a.printJSON(res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON or YAML map of metric name to numbers, - for stdin")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "z-score threshold (default 2)")
	return cmd
}

func newScanCmd(a *app) *cobra.Command {
	var (
		file        string
		metricName  string
		minSeverity string
	)
	flags := &detectFlags{}

	cmd := &cobra.Command{
		Use:     "scan",
		Short:   "Detect over a series and store an alert per escalated anomaly",
		Example: `  anomalyctl scan --file cpu.yaml --metric cpu_usage --min-severity warning --db /var/lib/kubilitics/anomaly.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			sev, err := anomaly.ParseSeverity(minSeverity)
			if err != nil {
				return err
			}
			var series []float64
			if err := a.readInput(file, &series); err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			engine, err := analytics.NewEngine(analytics.EngineConfig{}, nil)
			if err != nil {
				return err
			}
			scanner := analytics.NewScanner(engine, alerting.NewManager(store), nil, nil)
			res, err := scanner.Scan(ctx, metricName, series, opts, analytics.Policy{MinSeverity: sev})
			if err != nil {
				return err
			}
			return a.printJSON(res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON or YAML list of numbers, - for stdin")
	cmd.Flags().StringVar(&metricName, "metric", "", "metric name recorded on the alerts")
	cmd.Flags().StringVar(&minSeverity, "min-severity", string(anomaly.SeverityCritical), "lowest severity to escalate; empty escalates everything")
	flags.register(cmd)
	return cmd
}
