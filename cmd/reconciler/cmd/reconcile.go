package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"expense-reconciler/cmd/reconciler/config"
	"expense-reconciler/internal/parsers"
	"expense-reconciler/internal/reconciler"
	"expense-reconciler/internal/reporter"
	"expense-reconciler/internal/store"
	"expense-reconciler/pkg/errors"
	"expense-reconciler/pkg/logger"
)

// reconcileOptions holds the resolved settings of one reconcile invocation
type reconcileOptions struct {
	invoiceFile  string
	tripFiles    []string
	overtimeFile string

	outputFormat string
	outputFile   string
	historyDB    string
	showProgress bool
	maxFiles     int

	invoiceConfig  *parsers.InvoiceParserConfig
	tripConfig     *parsers.TripLegParserConfig
	overtimeConfig *parsers.OvertimeParserConfig
}

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Match invoices to trip-sheets and build the overtime ledger",
	Long: `Reconcile pairs taxi invoices with ride-hailing trip-sheets and books
every ride of a matched trip-sheet on its overtime workday.

This command requires:
- An invoice file (CSV: source, total_amount, date, city)
- One or more trip-leg files (CSV: source, date, time, amount, origin, destination, city)

An attendance file (CSV: date, overtime_hours or standard_hours/actual_hours)
is optional. Without it no ride is justified by an overtime record.

Examples:
  # Basic reconciliation
  reconciler reconcile --invoices invoices.csv --trips trips.csv --attendance attendance.csv

  # Several trip files, a wider tolerance and no forced pairing
  reconciler reconcile -i invoices.csv -t jan.csv,feb.csv --tolerance 1.00 --forced-pairing=false

  # Semicolon separated exports with custom headers
  reconciler reconcile -i inv.csv -t trips.csv --delimiter semicolon \
    --invoice-columns total_amount=Amount,source=File

  # JSON ledger written to a file and recorded in the run history
  reconciler reconcile -i inv.csv -t trips.csv -f json -o ledger.json --history-db runs.db`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	flags := reconcileCmd.Flags()

	// Input flags
	flags.StringP("invoices", "i", "", "path to invoice CSV file (required)")
	flags.StringSliceP("trips", "t", []string{}, "comma-separated paths to trip-leg CSV files (required)")
	flags.StringP("attendance", "a", "", "path to attendance CSV file with overtime hours")

	// Matching flags
	flags.String("tolerance", "0.50", "largest amount difference that still counts as a match")
	flags.Bool("forced-pairing", true, "pair leftover invoices and trip-sheets after tolerance matching")
	flags.Int("early-morning-hour", 6, "rides before this hour belong to the previous day's overtime")
	flags.String("min-overtime-hours", "1", "ignore derived overtime below this many hours")
	flags.String("daily-limit", "0", "flag workdays whose taxi total exceeds this amount (0 disables)")
	flags.String("placeholder-origin", "", "ledger label for legs with an empty origin")
	flags.String("placeholder-destination", "", "ledger label for legs with an empty destination")

	// Input format flags
	flags.String("delimiter", "comma", "CSV delimiter: comma, semicolon, tab, pipe")
	flags.StringSlice("invoice-columns", nil, "invoice column mappings, standard=actual")
	flags.StringSlice("trip-columns", nil, "trip-leg column mappings, standard=actual")
	flags.StringSlice("attendance-columns", nil, "attendance column mappings, standard=actual")
	flags.Int("max-files", 4, "trip files parsed concurrently")

	// Output flags
	flags.StringP("output-format", "f", "console", "output format: console, json, csv")
	flags.StringP("output-file", "o", "", "output file path (default: stdout)")
	flags.Bool("progress", false, "show progress on stderr")

	for _, name := range []string{
		"invoices", "trips", "attendance",
		"tolerance", "forced-pairing", "early-morning-hour", "min-overtime-hours", "daily-limit",
		"placeholder-origin", "placeholder-destination",
		"delimiter", "invoice-columns", "trip-columns", "attendance-columns", "max-files",
		"output-format", "output-file", "progress",
	} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	invoiceFile := viper.GetString("invoices")
	tripFiles := viper.GetStringSlice("trips")

	if invoiceFile == "" {
		return errors.ValidationError(errors.CodeMissingField, "invoices", nil, nil).
			WithSuggestion("Pass the invoice file with --invoices")
	}
	if len(tripFiles) == 0 {
		return errors.ValidationError(errors.CodeMissingField, "trips", nil, nil).
			WithSuggestion("Pass at least one trip-leg file with --trips")
	}

	if err := validateFileExists(invoiceFile, "invoice file"); err != nil {
		return err
	}
	for i, tripFile := range tripFiles {
		if err := validateFileExists(tripFile, fmt.Sprintf("trip file %d", i+1)); err != nil {
			return err
		}
	}
	if attendance := viper.GetString("attendance"); attendance != "" {
		if err := validateFileExists(attendance, "attendance file"); err != nil {
			return err
		}
	}

	if _, err := config.CreateReportConfig(viper.GetString("output-format")); err != nil {
		return err
	}

	if viper.GetInt("max-files") < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max-files", viper.GetInt("max-files"), nil).
			WithSuggestion("Use at least 1")
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.ValidationError(errors.CodeMissingField, description, nil, nil)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err).WithContext("input", description)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err).WithContext("input", description)
	}

	if info.IsDir() {
		return errors.FileError(errors.CodeDirectoryError, filePath, nil).WithContext("input", description)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err).WithContext("input", description)
	}
	file.Close()

	return nil
}

// loadReconcileOptions resolves flags, config file and environment into options
func loadReconcileOptions() (*reconcileOptions, error) {
	delimiter, err := parsers.ParseDelimiter(viper.GetString("delimiter"))
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "delimiter", viper.GetString("delimiter"), err)
	}

	invoiceAliases, err := config.ParseColumnMappings(viper.GetStringSlice("invoice-columns"))
	if err != nil {
		return nil, err
	}
	tripAliases, err := config.ParseColumnMappings(viper.GetStringSlice("trip-columns"))
	if err != nil {
		return nil, err
	}
	attendanceAliases, err := config.ParseColumnMappings(viper.GetStringSlice("attendance-columns"))
	if err != nil {
		return nil, err
	}

	minOvertime, err := config.ParseAmount("min-overtime-hours", viper.GetString("min-overtime-hours"))
	if err != nil {
		return nil, err
	}

	return &reconcileOptions{
		invoiceFile:    viper.GetString("invoices"),
		tripFiles:      viper.GetStringSlice("trips"),
		overtimeFile:   viper.GetString("attendance"),
		outputFormat:   viper.GetString("output-format"),
		outputFile:     viper.GetString("output-file"),
		historyDB:      viper.GetString("history-db"),
		showProgress:   viper.GetBool("progress"),
		maxFiles:       viper.GetInt("max-files"),
		invoiceConfig:  config.CreateInvoiceParserConfig(delimiter, invoiceAliases),
		tripConfig:     config.CreateTripParserConfig(delimiter, tripAliases),
		overtimeConfig: config.CreateOvertimeParserConfig(delimiter, minOvertime, attendanceAliases),
	}, nil
}

// newServiceFromFlags builds the reconciliation service from the matching and ledger flags
func newServiceFromFlags(opts *reconcileOptions) (*reconciler.ReconciliationService, error) {
	tolerance, err := config.ParseAmount("tolerance", viper.GetString("tolerance"))
	if err != nil {
		return nil, err
	}
	matchingConfig, err := config.CreateMatchingConfig(tolerance, viper.GetBool("forced-pairing"))
	if err != nil {
		return nil, err
	}

	dailyLimit, err := config.ParseAmount("daily-limit", viper.GetString("daily-limit"))
	if err != nil {
		return nil, err
	}
	ledgerConfig, err := config.CreateLedgerConfig(viper.GetInt("early-morning-hour"), dailyLimit,
		viper.GetString("placeholder-origin"), viper.GetString("placeholder-destination"))
	if err != nil {
		return nil, err
	}

	if err := config.ValidateConfig(opts.invoiceConfig, opts.tripConfig, opts.overtimeConfig, matchingConfig); err != nil {
		return nil, err
	}

	return reconciler.NewReconciliationService(matchingConfig, ledgerConfig, config.CreateReconcilerConfig(opts.maxFiles))
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.GetGlobalLogger().WithComponent("cli")

	opts, err := loadReconcileOptions()
	if err != nil {
		return err
	}

	log.WithFields(logger.Fields{
		"invoices":   opts.invoiceFile,
		"trips":      opts.tripFiles,
		"attendance": opts.overtimeFile,
		"format":     opts.outputFormat,
	}).Debug("Starting reconciliation")

	service, err := newServiceFromFlags(opts)
	if err != nil {
		return err
	}

	if opts.showProgress {
		service.AddProgressCallback(progressPrinter(cmd.ErrOrStderr()))
	}

	request := &reconciler.ReconciliationRequest{
		InvoiceFile:    opts.invoiceFile,
		TripFiles:      opts.tripFiles,
		OvertimeFile:   opts.overtimeFile,
		InvoiceConfig:  opts.invoiceConfig,
		TripConfig:     opts.tripConfig,
		OvertimeConfig: opts.overtimeConfig,
	}

	result, err := service.ProcessReconciliation(ctx, request)
	if err != nil {
		return err
	}

	if err := writeReport(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts, result, log); err != nil {
		return err
	}

	if opts.historyDB != "" {
		recordRun(opts.historyDB, result, log)
	}

	s := result.Summary
	log.WithFields(logger.Fields{
		"run_id":              result.RunID,
		"matches":             s.TotalMatches(),
		"unmatched_invoices":  s.UnmatchedInvoices,
		"unmatched_trips":     s.UnmatchedTripSheets,
		"ledger_rows":         s.LedgerRows,
		"discrepancies":       len(result.Discrepancies),
		"processing_duration": s.ProcessingDuration,
	}).Debug("Reconciliation completed")

	return nil
}

func writeReport(stdout, stderr io.Writer, opts *reconcileOptions, result *reconciler.ReconciliationResult, log logger.Logger) error {
	reportConfig, err := config.CreateReportConfig(opts.outputFormat)
	if err != nil {
		return err
	}

	generator, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return err
	}

	if opts.outputFile == "" {
		return generator.GenerateReportSafely(result, stdout)
	}

	written, err := generator.WriteReportFile(result, opts.outputFile)
	if err != nil {
		return err
	}
	if filepath.Clean(written) != filepath.Clean(opts.outputFile) {
		fmt.Fprintf(stderr, "Warning: could not write to %s, report saved to %s\n", opts.outputFile, written)
	}
	return nil
}

// recordRun stores the run summary. History failures never fail the run.
func recordRun(path string, result *reconciler.ReconciliationResult, log logger.Logger) {
	history, err := store.Open(path)
	if err != nil {
		log.WithError(err).Warn("Run history unavailable, run not recorded")
		return
	}
	defer history.Close()

	if err := history.SaveRun(store.NewRunRecord(result)); err != nil {
		log.WithError(err).Warn("Failed to record run")
		return
	}
	log.WithField("run_id", result.RunID).Debug("Run recorded")
}

// progressPrinter redraws a single status line on terminals and prints one
// line per step otherwise
func progressPrinter(w io.Writer) reconciler.ProgressCallback {
	redraw := isTerminal(w)
	return func(p *reconciler.ReconciliationProgress) {
		line := fmt.Sprintf("[%d/%d] %-20s (%.0f%%)", p.CompletedSteps, p.TotalSteps, p.Step, p.Percent())
		if !redraw {
			fmt.Fprintln(w, line)
			return
		}
		fmt.Fprint(w, "\r"+line)
		if p.Step == reconciler.StepCompleted {
			fmt.Fprintln(w)
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
