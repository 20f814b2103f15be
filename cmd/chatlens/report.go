package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesm/chatlens/internal/config"
	"github.com/wesm/chatlens/internal/report"
	"github.com/wesm/chatlens/internal/store"
	"github.com/wesm/chatlens/internal/timeutil"
)

var flagYear int

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate reports as JSON on stdout",
	}
	cmd.PersistentFlags().IntVar(&flagYear, "year", 0,
		"report year (0 means all time)")

	annual := &cobra.Command{
		Use:   "annual",
		Short: "Annual report across all sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSource(cmd, func(ctx context.Context, src report.Source, opts report.Options) (any, error) {
				return report.Annual(ctx, src, opts)
			})
		},
	}

	dual := &cobra.Command{
		Use:   "dual <session-id>",
		Short: "Pairwise report for one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSource(cmd, func(ctx context.Context, src report.Source, opts report.Options) (any, error) {
				return report.Dual(ctx, src, args[0], opts)
			})
		},
	}

	cmd.AddCommand(annual, dual)
	return cmd
}

// withSource opens the store, builds report options with progress
// on stderr, runs compute and prints its result as JSON.
func withSource(
	cmd *cobra.Command,
	compute func(context.Context, report.Source, report.Options) (any, error),
) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("opening store %s: %w", cfg.StorePath, err)
	}
	defer st.Close()

	opts := reportOptions(cfg)
	result, err := compute(cmd.Context(), report.NewSource(st), opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func reportOptions(cfg config.Config) report.Options {
	return report.Options{
		Year:        flagYear,
		Timezone:    timeutil.Location(cfg.Timezone),
		BatchSize:   cfg.BatchSize,
		ScanRangeLo: cfg.ScanRangeLo,
		ScanRangeHi: cfg.ScanRangeHi,
		Progress: func(p report.Progress) {
			fmt.Fprintf(os.Stderr, "\r%-40s %3d%%", p.StatusText, p.Percent)
		},
	}
}
