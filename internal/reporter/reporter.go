// Package reporter renders reconciliation results.
//
// Supported output formats:
//   - Console: tables for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per match, ledger row and leftover for spreadsheets
//
// Every input record is traceable in every format: an invoice or trip-sheet
// is either part of a match, with its amount difference, or listed as a
// leftover.
//
// Example usage:
//
//	config := reporter.DefaultReportConfig()
//	config.Format = reporter.FormatJSON
//
//	generator, err := reporter.NewReportGenerator(config)
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"expense-reconciler/internal/reconciler"
	"expense-reconciler/pkg/errors"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	IncludeMatches         bool `json:"include_matches"`
	IncludeLedger          bool `json:"include_ledger"`
	IncludeDiscrepancies   bool `json:"include_discrepancies"`
	IncludeProcessingStats bool `json:"include_processing_stats"`

	// MaxListItems caps console lists; zero prints everything. Leftovers
	// are never capped.
	MaxListItems int `json:"max_list_items"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                 FormatConsole,
		IncludeMatches:         true,
		IncludeLedger:          true,
		IncludeDiscrepancies:   true,
		IncludeProcessingStats: false,
		MaxListItems:           0,
		CSVDelimiter:           ',',
		CSVHeaders:             true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Format, validation.By(func(value interface{}) error {
			if f, _ := value.(OutputFormat); !f.IsValid() {
				return validation.NewError("validation_output_format", fmt.Sprintf("unsupported output format %q", f))
			}
			return nil
		})),
		validation.Field(&c.MaxListItems, validation.Min(0)),
		validation.Field(&c.CSVDelimiter, validation.Required),
	)
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "output_format", string(config.Format), err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes a report of result to writer
func (rg *ReportGenerator) GenerateReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	if result == nil {
		return errors.ValidationError(errors.CodeMissingField, "result", nil, nil)
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output_format", string(rg.config.Format), nil)
	}
}

// Config returns the current configuration
func (rg *ReportGenerator) Config() *ReportConfig {
	return rg.config
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	w := &errWriter{w: writer}

	w.printf("OVERTIME TAXI RECONCILIATION\n")
	w.printf("Run:       %s\n", result.RunID)
	w.printf("Generated: %s\n", result.ProcessedAt.Format(time.RFC3339))
	w.printf("Tolerance: %s\n\n", result.Tolerance.StringFixed(2))

	w.printf("=== SUMMARY ===\n")
	w.printf("%s\n\n", rg.summaryTable(result.Summary))

	if rg.config.IncludeMatches && len(result.Matches) > 0 {
		w.printf("=== MATCHES ===\n")
		w.printf("%s\n\n", rg.matchesTable(result))
	}

	if rg.config.IncludeLedger && result.Ledger != nil && len(result.Ledger.Rows) > 0 {
		w.printf("=== OVERTIME LEDGER ===\n")
		w.printf("%s\n\n", rg.ledgerTable(result))
	}

	if len(result.UnmatchedInvoices) > 0 {
		w.printf("=== UNMATCHED INVOICES ===\n")
		w.printf("%s\n\n", rg.unmatchedInvoicesTable(result))
	}

	if len(result.UnmatchedTripSheets) > 0 {
		w.printf("=== UNMATCHED TRIP-SHEETS ===\n")
		w.printf("%s\n\n", rg.unmatchedTripSheetsTable(result))
	}

	if rg.config.IncludeDiscrepancies && len(result.Discrepancies) > 0 {
		w.printf("=== DISCREPANCIES ===\n")
		rg.printDiscrepancies(result.Discrepancies, w)
	}

	if rg.config.IncludeProcessingStats && result.ProcessingStats != nil {
		w.printf("=== PROCESSING STATISTICS ===\n")
		rg.printProcessingStats(result.ProcessingStats, w)
	}

	return w.err
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(rg.filterResultForOutput(result)); err != nil {
		return errors.InternalError(errors.CodeProcessingError, "json_report", err)
	}
	return nil
}

// csvHeaders are the columns of the CSV report
var csvHeaders = []string{
	"record_type",
	"no",
	"workday",
	"overtime_hours",
	"trip_date",
	"trip_time",
	"origin",
	"destination",
	"amount",
	"invoice_source",
	"trip_sheet_source",
	"phase",
	"amount_diff",
	"note",
}

// CSV record types
const (
	csvMatch              = "match"
	csvLedger             = "ledger"
	csvUnmatchedInvoice   = "unmatched_invoice"
	csvUnmatchedTripSheet = "unmatched_trip_sheet"
)

// generateCSVReport writes matches, ledger rows and leftovers as one CSV table
func (rg *ReportGenerator) generateCSVReport(result *reconciler.ReconciliationResult, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	var records [][]string
	if rg.config.CSVHeaders {
		records = append(records, csvHeaders)
	}

	for i, m := range result.Matches {
		note := ""
		if !m.SameCity && m.Invoice.City != "" && m.TripSheet.City != "" {
			note = fmt.Sprintf("cities differ: %s / %s", m.Invoice.City, m.TripSheet.City)
		}
		records = append(records, []string{
			csvMatch,
			fmt.Sprint(i + 1),
			"", "", m.Invoice.Date, "", "", "",
			m.Invoice.TotalAmount.StringFixed(2),
			m.Invoice.Source,
			m.TripSheet.Source,
			m.Phase.String(),
			m.AmountDiff.StringFixed(2),
			note,
		})
	}

	if result.Ledger != nil {
		for _, row := range result.Ledger.Rows {
			phase := "tolerance"
			if row.Forced {
				phase = "forced"
			}
			records = append(records, []string{
				csvLedger,
				fmt.Sprint(row.No),
				row.WorkdayString(),
				row.OvertimeHours.String(),
				row.TripDateString(),
				row.TripTime.String(),
				row.Origin,
				row.Destination,
				row.Amount.StringFixed(2),
				row.InvoiceSource,
				row.TripSheetSource,
				phase,
				"",
				row.Note,
			})
		}
	}

	for i, inv := range result.UnmatchedInvoices {
		records = append(records, []string{
			csvUnmatchedInvoice,
			fmt.Sprint(i + 1),
			"", "", inv.Date, "", "", "",
			inv.TotalAmount.StringFixed(2),
			inv.Source,
			"", "", "",
			"no trip-sheet matched",
		})
	}

	for i, ts := range result.UnmatchedTripSheets {
		records = append(records, []string{
			csvUnmatchedTripSheet,
			fmt.Sprint(i + 1),
			"", "", "", "", "", "",
			ts.TotalAmount().StringFixed(2),
			"",
			ts.Source,
			"", "",
			fmt.Sprintf("no invoice matched (%d legs)", len(ts.Legs)),
		})
	}

	if err := csvWriter.WriteAll(records); err != nil {
		return errors.InternalError(errors.CodeProcessingError, "csv_report", err)
	}
	return nil
}

func (rg *ReportGenerator) summaryTable(s *reconciler.ResultSummary) string {
	matched := s.TotalMatches()
	rows := [][]string{
		{"Invoices", fmt.Sprint(s.TotalInvoices), s.TotalInvoiceAmount.StringFixed(2)},
		{"Trip-sheets", fmt.Sprintf("%d (%d legs)", s.TotalTripSheets, s.TotalLegs), s.TotalTripSheetAmount.StringFixed(2)},
		{"Matched within tolerance", fmt.Sprint(s.ToleranceMatches), ""},
		{"Forced pairs", fmt.Sprint(s.ForcedMatches), "max diff " + s.MaxForcedDiff.StringFixed(2)},
		{"Matched invoices", fmt.Sprintf("%d (%.1f%%)", matched, calculatePercentage(matched, s.TotalInvoices)), s.MatchedAmount.StringFixed(2)},
		{"Unmatched invoices", fmt.Sprint(s.UnmatchedInvoices), ""},
		{"Unmatched trip-sheets", fmt.Sprint(s.UnmatchedTripSheets), ""},
		{"Net difference", "", s.NetDiscrepancy.StringFixed(2)},
		{"Ledger rows", fmt.Sprintf("%d on %d workdays", s.LedgerRows, s.Workdays), s.LedgerAmount.StringFixed(2)},
		{"With overtime record", "", s.JustifiedAmount.StringFixed(2)},
		{"Without overtime record", "", s.UnjustifiedAmount.StringFixed(2)},
	}
	return renderTable([]string{"Item", "Count", "Amount"}, rows, []columnAlignment{alignLeft, alignRight, alignRight}, nil)
}

func (rg *ReportGenerator) matchesTable(result *reconciler.ReconciliationResult) string {
	var rows [][]string
	for i, m := range result.Matches {
		if rg.config.MaxListItems > 0 && i >= rg.config.MaxListItems {
			rows = append(rows, []string{"", fmt.Sprintf("... and %d more", len(result.Matches)-i)})
			break
		}
		city := m.Invoice.City
		if !m.SameCity && m.TripSheet.City != "" && m.TripSheet.City != m.Invoice.City {
			city = strings.TrimSpace(m.Invoice.City + " / " + m.TripSheet.City)
		}
		rows = append(rows, []string{
			fmt.Sprint(i + 1),
			m.Invoice.Source,
			m.Invoice.TotalAmount.StringFixed(2),
			m.TripSheet.Source,
			m.TripSheet.TotalAmount().StringFixed(2),
			m.AmountDiff.StringFixed(2),
			m.Phase.String(),
			city,
		})
	}
	return renderTable(
		[]string{"#", "Invoice", "Amount", "Trip-sheet", "Total", "Diff", "Phase", "City"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
		nil,
	)
}

func (rg *ReportGenerator) ledgerTable(result *reconciler.ReconciliationResult) string {
	l := result.Ledger
	var rows [][]string
	printed := 0

	for _, g := range l.Groups {
		for _, row := range g.Rows {
			if rg.config.MaxListItems > 0 && printed >= rg.config.MaxListItems {
				continue
			}
			printed++
			rows = append(rows, []string{
				fmt.Sprint(row.No),
				row.WorkdayString(),
				row.OvertimeHours.String(),
				row.TripDateString() + " " + row.TripTime.String(),
				row.Origin,
				row.Destination,
				row.Amount.StringFixed(2),
				row.Note,
			})
		}

		if rg.config.MaxListItems > 0 && printed >= rg.config.MaxListItems {
			continue
		}
		subtotal := "subtotal"
		if g.OverLimit {
			subtotal = "subtotal, over daily limit"
		}
		rows = append(rows, []string{"", g.WorkdayString(), "", "", "", subtotal, g.Subtotal.StringFixed(2), ""})
	}

	if hidden := len(l.Rows) - printed; hidden > 0 {
		rows = append(rows, []string{"", fmt.Sprintf("... and %d more", hidden)})
	}

	return renderTable(
		[]string{"#", "Workday", "OT Hours", "Ride", "From", "To", "Amount", "Note"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		[]string{"", "", "", "", "", "Total", l.Totals.Amount.StringFixed(2), ""},
	)
}

func (rg *ReportGenerator) unmatchedInvoicesTable(result *reconciler.ReconciliationResult) string {
	rows := make([][]string, 0, len(result.UnmatchedInvoices))
	for i, inv := range result.UnmatchedInvoices {
		rows = append(rows, []string{fmt.Sprint(i + 1), inv.Source, inv.Date, inv.City, inv.TotalAmount.StringFixed(2)})
	}
	return renderTable(
		[]string{"#", "Invoice", "Date", "City", "Amount"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight},
		nil,
	)
}

func (rg *ReportGenerator) unmatchedTripSheetsTable(result *reconciler.ReconciliationResult) string {
	rows := make([][]string, 0, len(result.UnmatchedTripSheets))
	for i, ts := range result.UnmatchedTripSheets {
		rows = append(rows, []string{fmt.Sprint(i + 1), ts.Source, fmt.Sprint(len(ts.Legs)), ts.City, ts.TotalAmount().StringFixed(2)})
	}
	return renderTable(
		[]string{"#", "Trip-sheet", "Legs", "City", "Total"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight},
		nil,
	)
}

func (rg *ReportGenerator) printDiscrepancies(discrepancies []*reconciler.Discrepancy, w *errWriter) {
	w.printf("Total Discrepancies Found: %d\n\n", len(discrepancies))

	groups := make(map[reconciler.Severity][]*reconciler.Discrepancy)
	for _, d := range discrepancies {
		groups[d.Severity] = append(groups[d.Severity], d)
	}

	for _, severity := range reconciler.Severities {
		items := groups[severity]
		if len(items) == 0 {
			continue
		}

		w.printf("%s Severity (%d):\n", strings.ToUpper(string(severity)), len(items))
		for i, d := range items {
			if rg.config.MaxListItems > 0 && i >= rg.config.MaxListItems {
				w.printf("  ... and %d more\n", len(items)-i)
				break
			}
			w.printf("  - %s: %s", d.Type, d.Description)
			if ref := reference(d); ref != "" {
				w.printf(" [%s]", ref)
			}
			w.printf("\n")
		}
		w.printf("\n")
	}
}

// reference names the records a discrepancy points at
func reference(d *reconciler.Discrepancy) string {
	var parts []string
	if d.InvoiceSource != "" {
		parts = append(parts, "invoice "+d.InvoiceSource)
	}
	if d.TripSheetSource != "" {
		parts = append(parts, "trip-sheet "+d.TripSheetSource)
	}
	if d.RowNo > 0 {
		parts = append(parts, fmt.Sprintf("row %d", d.RowNo))
	} else if d.Workday != "" {
		parts = append(parts, "workday "+d.Workday)
	}
	return strings.Join(parts, ", ")
}

func (rg *ReportGenerator) printProcessingStats(stats *reconciler.ProcessingStats, w *errWriter) {
	w.printf("Files Processed:      %d\n", stats.FilesProcessed)
	w.printf("Parse Errors:         %d\n", stats.ParseErrors)
	w.printf("Records/Second:       %.2f\n", stats.RecordsPerSecond)
	w.printf("Total Processing:     %v\n", stats.TotalProcessingTime)
	w.printf("Parsing Time:         %v\n", stats.ParsingTime)
	w.printf("Matching Time:        %v\n", stats.MatchingTime)
	w.printf("Ledger Time:          %v\n", stats.LedgerTime)
}

func (rg *ReportGenerator) filterResultForOutput(result *reconciler.ReconciliationResult) map[string]interface{} {
	output := map[string]interface{}{
		"run_id":                result.RunID,
		"processed_at":          result.ProcessedAt,
		"tolerance":             result.Tolerance.StringFixed(2),
		"summary":               result.Summary,
		"unmatched_invoices":    result.UnmatchedInvoices,
		"unmatched_trip_sheets": result.UnmatchedTripSheets,
	}

	if rg.config.IncludeMatches {
		output["matches"] = result.Matches
	}
	if rg.config.IncludeLedger && result.Ledger != nil {
		output["ledger"] = result.Ledger
	}
	if rg.config.IncludeDiscrepancies {
		output["discrepancies"] = result.Discrepancies
	}
	if rg.config.IncludeProcessingStats {
		if result.ProcessingStats != nil {
			output["processing_stats"] = result.ProcessingStats
		}
		if result.Preprocessing != nil {
			output["preprocessing"] = result.Preprocessing
		}
	}

	return output
}

func calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

// errWriter remembers the first write error so callers check once
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
