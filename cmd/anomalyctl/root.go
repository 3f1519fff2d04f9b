package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kubilitics/kubilitics-anomaly/internal/analytics/anomaly"
	"github.com/kubilitics/kubilitics-anomaly/internal/db"
)

type app struct {
	dbPath      string
	postgresURL string
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{stdin: in, stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "anomalyctl",
		Short:         "Run anomaly detection offline and manage stored alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&a.dbPath, "db", "anomaly.db", "path to the SQLite alert store")
	cmd.PersistentFlags().StringVar(&a.postgresURL, "postgres-url", "", "use the PostgreSQL alert store at this URL instead of SQLite")

	cmd.AddCommand(
		newDetectCmd(a),
		newMultiCmd(a),
		newScanCmd(a),
		newAlertsCmd(a),
	)
	return cmd
}

// openStore opens the store named by the global flags.
func (a *app) openStore(ctx context.Context) (db.AlertStore, error) {
	if a.postgresURL != "" {
		return db.Open(ctx, db.Config{Type: "postgres", PostgresURL: a.postgresURL})
	}
	return db.Open(ctx, db.Config{Type: "sqlite", SQLitePath: a.dbPath})
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput reads path, or stdin for "-". JSON parses as YAML, so one
// decoder covers both formats.
func (a *app) readInput(path string, v interface{}) error {
	if path == "" {
		return fmt.Errorf("--file is required")
	}
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(a.stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// detectFlags are the detector parameters shared by detect and scan.
type detectFlags struct {
	method        string
	methods       []string
	threshold     float64
	multiplier    float64
	windowSize    int
	sensitivity   float64
	contamination float64
}

func (f *detectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.methods, "methods", nil, "ensemble methods, comma separated (default zscore,iqr,sudden_change,isolation)")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "z-score and sudden-change threshold (0 keeps each detector's default)")
	cmd.Flags().Float64Var(&f.multiplier, "multiplier", 0, "IQR fence multiplier")
	cmd.Flags().IntVar(&f.windowSize, "window-size", 0, "window size for sudden-change and trend-break")
	cmd.Flags().Float64Var(&f.sensitivity, "sensitivity", 0, "trend-break slope sensitivity")
	cmd.Flags().Float64Var(&f.contamination, "contamination", 0, "expected anomaly share for isolation, in (0,1)")
}

func (f *detectFlags) options() (anomaly.Options, error) {
	opts := anomaly.Options{
		Threshold:     f.threshold,
		Multiplier:    f.multiplier,
		WindowSize:    f.windowSize,
		Sensitivity:   f.sensitivity,
		Contamination: f.contamination,
	}
	for _, name := range f.methods {
		m, err := anomaly.ParseMethod(strings.TrimSpace(name))
		if err != nil {
			return anomaly.Options{}, err
		}
		opts.Methods = append(opts.Methods, m)
	}
	return opts, opts.Validate()
}
