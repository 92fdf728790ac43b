// Command gendata writes a synthetic invoice, trip-sheet and attendance set
// that the reconciler can consume.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"expense-reconciler/cmd/reconciler/cmd"
	"expense-reconciler/internal/models"
	"expense-reconciler/internal/sampledata"
	"expense-reconciler/pkg/errors"
	"expense-reconciler/pkg/logger"
)

var (
	outputDir string
	start     string
	cfg       = sampledata.DefaultConfig()
)

var rootCmd = &cobra.Command{
	Use:   "gendata",
	Short: "Generate sample reconciliation inputs",
	Long: `Generate invoices.csv, trips.csv and attendance.csv with realistic
amounts, late-night rides and missing overtime records.

Examples:
  gendata --out ./sample --trip-sheets 50 --seed 7
  reconciler reconcile -i sample/invoices.csv -t sample/trips.csv -a sample/attendance.csv`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&outputDir, "out", "sample", "output directory")
	rootCmd.Flags().StringVar(&start, "start", cfg.Start.Format(models.DateLayout), "first workday (YYYY-MM-DD)")
	rootCmd.Flags().Int64Var(&cfg.Seed, "seed", 0, "random seed (0 for a random dataset)")
	rootCmd.Flags().IntVar(&cfg.TripSheets, "trip-sheets", cfg.TripSheets, "number of trip-sheets")
	rootCmd.Flags().IntVar(&cfg.MaxLegs, "max-legs", cfg.MaxLegs, "maximum rides per trip-sheet")
	rootCmd.Flags().IntVar(&cfg.Days, "days", cfg.Days, "number of days covered")
	rootCmd.Flags().StringSliceVar(&cfg.Cities, "cities", cfg.Cities, "cities to draw from")
	rootCmd.Flags().Float64Var(&cfg.EarlyMorningShare, "early-morning-share", cfg.EarlyMorningShare, "share of rides after midnight")
	rootCmd.Flags().Float64Var(&cfg.MismatchShare, "mismatch-share", cfg.MismatchShare, "share of invoices far from their trip-sheet")
	rootCmd.Flags().Float64Var(&cfg.MissingOvertimeShare, "missing-overtime-share", cfg.MissingOvertimeShare, "share of workdays without an overtime record")
	rootCmd.Flags().IntVar(&cfg.ExtraInvoices, "extra-invoices", cfg.ExtraInvoices, "invoices without a trip-sheet")
}

func run(c *cobra.Command, _ []string) error {
	log := logger.GetGlobalLogger().WithComponent("gendata")

	day, err := time.Parse(models.DateLayout, start)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "start", start, err)
	}
	cfg.Start = day

	ds, err := sampledata.Generate(cfg)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "gendata", outputDir, err)
	}

	files, err := ds.WriteCSV(outputDir)
	if err != nil {
		return errors.FileError(errors.CodeDirectoryError, outputDir, err)
	}

	log.WithFields(logger.Fields{
		"invoices":    len(ds.Invoices),
		"trip_sheets": len(ds.TripSheets),
		"attendance":  len(ds.Attendance),
		"mismatched":  len(ds.Mismatched),
	}).Info("Sample data written")

	fmt.Fprintf(c.OutOrStdout(), "%s\n%s\n%s\n", files.Invoices, files.Trips, files.Attendance)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(cmd.NewCLIErrorHandler().HandleError(err))
	}
}
