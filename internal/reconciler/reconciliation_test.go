package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"expense-reconciler/internal/ledger"
	"expense-reconciler/internal/matcher"
	"expense-reconciler/internal/models"
	"expense-reconciler/internal/sampledata"
	"expense-reconciler/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// createTestDataFiles writes an invoice file, two trip-leg files and an
// attendance file into a temp dir
func createTestDataFiles(t *testing.T) *ReconciliationRequest {
	t.Helper()
	dir := t.TempDir()

	invoices := writeFile(t, dir, "invoices.csv", `source,total_amount,date,city
inv-001.pdf,42.50,2026-01-20,Shanghai
inv-002.pdf,84.00,2026-01-21,Shanghai
inv-003.pdf,300.00,2026-01-22,Beijing
`)

	tripsJan := writeFile(t, dir, "trips-jan.csv", `source,date,time,amount,origin,destination,city
trip-a.pdf,2026-01-20,00:40,42.50,Office,Home,Shanghai
trip-b.pdf,2026-01-21,22:10,50.00,Office,Home,Shanghai
trip-b.pdf,2026-01-21,23:30,34.20,Home,Office,Shanghai
`)

	tripsFeb := writeFile(t, dir, "trips-feb.csv", `source,date,time,amount,origin,destination,city
trip-c.pdf,2026-02-03,21:00,18.00,Office,Home,Beijing
`)

	attendance := writeFile(t, dir, "attendance.csv", `date,overtime_hours
2026-01-19,3.5
2026-01-21,2
`)

	return &ReconciliationRequest{
		InvoiceFile:  invoices,
		TripFiles:    []string{tripsJan, tripsFeb},
		OvertimeFile: attendance,
	}
}

func newTestService(t *testing.T) *ReconciliationService {
	t.Helper()
	service, err := NewReconciliationService(matcher.DefaultMatchingConfig(), ledger.DefaultConfig(), DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create reconciliation service: %v", err)
	}
	return service
}

func TestReconciliationService_BasicReconciliation(t *testing.T) {
	request := createTestDataFiles(t)
	service := newTestService(t)

	result, err := service.ProcessReconciliation(context.Background(), request)
	if err != nil {
		t.Fatalf("Reconciliation failed: %v", err)
	}

	if result.RunID == "" {
		t.Error("Expected a run ID")
	}
	if result.Request != request {
		t.Error("Expected the request to be attached to the result")
	}

	s := result.Summary
	if s.TotalInvoices != 3 || s.TotalTripSheets != 3 || s.TotalLegs != 4 {
		t.Errorf("Unexpected totals: %d invoices, %d trip-sheets, %d legs", s.TotalInvoices, s.TotalTripSheets, s.TotalLegs)
	}
	if s.ToleranceMatches != 2 {
		t.Errorf("Expected 2 tolerance matches, got %d", s.ToleranceMatches)
	}
	if s.ForcedMatches != 1 {
		t.Errorf("Expected 1 forced match, got %d", s.ForcedMatches)
	}
	if s.UnmatchedInvoices != 0 || s.UnmatchedTripSheets != 0 {
		t.Errorf("Expected no leftovers, got %d invoices and %d trip-sheets", s.UnmatchedInvoices, s.UnmatchedTripSheets)
	}
	if s.OvertimeDays != 2 {
		t.Errorf("Expected 2 overtime days, got %d", s.OvertimeDays)
	}

	// largest invoice first, forced pairs last
	wantPairs := [][2]string{
		{"inv-002.pdf", "trip-b.pdf"},
		{"inv-001.pdf", "trip-a.pdf"},
		{"inv-003.pdf", "trip-c.pdf"},
	}
	if len(result.Matches) != len(wantPairs) {
		t.Fatalf("Expected %d matches, got %d", len(wantPairs), len(result.Matches))
	}
	for i, want := range wantPairs {
		m := result.Matches[i]
		if m.Invoice.Source != want[0] || m.TripSheet.Source != want[1] {
			t.Errorf("Match %d: expected %s/%s, got %s/%s", i, want[0], want[1], m.Invoice.Source, m.TripSheet.Source)
		}
	}
	if !result.Matches[2].IsForced() {
		t.Error("Expected the last match to be forced")
	}

	if s.LedgerRows != 4 {
		t.Fatalf("Expected 4 ledger rows, got %d", s.LedgerRows)
	}
	first := result.Ledger.Rows[0]
	if first.WorkdayString() != "2026-01-19" || first.TripSheetSource != "trip-a.pdf" {
		t.Errorf("Expected the 00:40 ride on workday 2026-01-19, got %s from %s", first.WorkdayString(), first.TripSheetSource)
	}
	if !s.UnjustifiedAmount.Equal(decimal.RequireFromString("18")) {
		t.Errorf("Expected unjustified amount 18, got %s", s.UnjustifiedAmount)
	}

	counts := result.CountBySeverity()
	if counts[SeverityHigh] != 1 {
		t.Errorf("Expected 1 high severity discrepancy, got %d", counts[SeverityHigh])
	}
	if counts[SeverityLow] != 1 {
		t.Errorf("Expected 1 low severity discrepancy, got %d", counts[SeverityLow])
	}

	if result.ProcessingStats == nil {
		t.Fatal("Expected processing statistics")
	}
	if result.ProcessingStats.FilesProcessed != 4 {
		t.Errorf("Expected 4 files processed, got %d", result.ProcessingStats.FilesProcessed)
	}
}

func TestReconciliationService_TripFileOrderIsStable(t *testing.T) {
	dir := t.TempDir()
	invoices := writeFile(t, dir, "invoices.csv", "source,total_amount,date,city\n")

	var files []string
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		files = append(files, writeFile(t, dir, name+".csv",
			"source,date,time,amount,origin,destination,city\n"+name+".pdf,2026-01-20,20:00,10,O,D,\n"))
	}

	config := DefaultConfig()
	config.MaxConcurrentFiles = 2
	service, err := NewReconciliationService(nil, nil, config)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}

	for run := 0; run < 5; run++ {
		result, err := service.ProcessReconciliation(context.Background(), &ReconciliationRequest{
			InvoiceFile: invoices,
			TripFiles:   files,
		})
		if err != nil {
			t.Fatalf("Reconciliation failed: %v", err)
		}
		if len(result.UnmatchedTripSheets) != 6 {
			t.Fatalf("Expected 6 leftover trip-sheets, got %d", len(result.UnmatchedTripSheets))
		}
		for i, name := range []string{"a", "b", "c", "d", "e", "f"} {
			if got := result.UnmatchedTripSheets[i].Source; got != name+".pdf" {
				t.Errorf("Run %d: position %d expected %s.pdf, got %s", run, i, name, got)
			}
		}
	}
}

func TestReconciliationService_ErrorHandling(t *testing.T) {
	request := createTestDataFiles(t)
	service := newTestService(t)

	tests := []struct {
		name     string
		request  *ReconciliationRequest
		category errors.ErrorCategory
	}{
		{
			name:     "nil request",
			request:  nil,
			category: errors.CategoryValidation,
		},
		{
			name:     "missing invoice file name",
			request:  &ReconciliationRequest{TripFiles: request.TripFiles},
			category: errors.CategoryValidation,
		},
		{
			name:     "no trip files",
			request:  &ReconciliationRequest{InvoiceFile: request.InvoiceFile},
			category: errors.CategoryValidation,
		},
		{
			name: "invoice file does not exist",
			request: &ReconciliationRequest{
				InvoiceFile: filepath.Join(t.TempDir(), "missing.csv"),
				TripFiles:   request.TripFiles,
			},
			category: errors.CategoryFile,
		},
		{
			name: "one of several trip files does not exist",
			request: &ReconciliationRequest{
				InvoiceFile: request.InvoiceFile,
				TripFiles:   []string{request.TripFiles[0], filepath.Join(t.TempDir(), "missing.csv")},
			},
			category: errors.CategoryFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := service.ProcessReconciliation(context.Background(), tt.request)
			if err == nil {
				t.Fatalf("Expected error, got result %+v", result)
			}
			if !errors.IsCategory(err, tt.category) {
				t.Errorf("Expected %s error, got %v", tt.category, err)
			}
		})
	}
}

func TestReconciliationService_Cancellation(t *testing.T) {
	request := createTestDataFiles(t)
	service := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := service.ProcessReconciliation(ctx, request)
	if err == nil {
		t.Fatal("Expected cancellation error")
	}
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Code != errors.CodeCancelled {
		t.Errorf("Expected cancelled error, got %v", err)
	}

	_, err = service.ReconcileRecords(ctx, nil, nil, nil)
	if rerr, ok := errors.AsReconcilerError(err); !ok || rerr.Code != errors.CodeCancelled {
		t.Errorf("Expected cancelled error from in-memory run, got %v", err)
	}
}

func TestReconciliationService_WithoutOvertimeFile(t *testing.T) {
	request := createTestDataFiles(t)
	request.OvertimeFile = ""
	service := newTestService(t)

	result, err := service.ProcessReconciliation(context.Background(), request)
	if err != nil {
		t.Fatalf("Reconciliation failed: %v", err)
	}

	if result.Summary.OvertimeDays != 0 {
		t.Errorf("Expected an empty calendar, got %d days", result.Summary.OvertimeDays)
	}
	if !result.Summary.JustifiedAmount.IsZero() {
		t.Errorf("Expected nothing justified, got %s", result.Summary.JustifiedAmount)
	}
	if got := result.CountBySeverity()[SeverityLow]; got != 4 {
		t.Errorf("Expected one low severity item per leg, got %d", got)
	}
}

func TestReconciliationService_ConfigurationValidation(t *testing.T) {
	negative := matcher.DefaultMatchingConfig()
	negative.Tolerance = decimal.RequireFromString("-0.01")
	if _, err := NewReconciliationService(negative, nil, nil); !errors.IsCategory(err, errors.CategoryConfiguration) {
		t.Errorf("Expected configuration error for negative tolerance, got %v", err)
	}

	for _, concurrency := range []int{0, -3} {
		config := DefaultConfig()
		config.MaxConcurrentFiles = concurrency
		if _, err := NewReconciliationService(nil, nil, config); !errors.IsCategory(err, errors.CategoryConfiguration) {
			t.Errorf("Expected configuration error for concurrency %d, got %v", concurrency, err)
		}
	}

	ledgerConfig := ledger.DefaultConfig()
	ledgerConfig.DailyLimit = decimal.NewFromInt(-5)
	if _, err := NewReconciliationService(nil, ledgerConfig, nil); !errors.IsCategory(err, errors.CategoryConfiguration) {
		t.Errorf("Expected configuration error for negative daily limit, got %v", err)
	}
}

func legOn(t *testing.T, s string) models.TripLeg {
	t.Helper()
	d, err := models.ParseCivilDate(s)
	if err != nil {
		t.Fatalf("bad date %s: %v", s, err)
	}
	return models.TripLeg{Date: d, Time: models.ClockTime{Hour: 21}, Origin: "Office", Destination: "Home"}
}

func sheetOf(t *testing.T, source, date, amount string) *models.TripSheetRecord {
	leg := legOn(t, date)
	leg.Amount = decimal.RequireFromString(amount)
	return models.NewTripSheetRecord(source, []models.TripLeg{leg}, "")
}

func TestReconciliationService_DiscrepancyAnalysis(t *testing.T) {
	ledgerConfig := ledger.DefaultConfig()
	ledgerConfig.DailyLimit = decimal.NewFromInt(100)

	service, err := NewReconciliationService(matcher.DefaultMatchingConfig(), ledgerConfig, DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}

	invoices := []*models.InvoiceRecord{
		models.NewInvoiceRecord("a.pdf", decimal.RequireFromString("10.00"), "2026-01-05", ""),
		models.NewInvoiceRecord("b.pdf", decimal.RequireFromString("20.00"), "2026-01-06", ""),
		models.NewInvoiceRecord("c.pdf", decimal.RequireFromString("150.00"), "2026-01-07", ""),
		models.NewInvoiceRecord("d.pdf", decimal.RequireFromString("500.00"), "2026-01-08", ""),
	}
	sheets := []*models.TripSheetRecord{
		sheetOf(t, "x.pdf", "2026-01-05", "10.30"),
		sheetOf(t, "y.pdf", "2026-01-06", "120.00"),
		sheetOf(t, "z.pdf", "2026-01-07", "150.00"),
	}
	calendar := models.NewOvertimeCalendar()
	for _, d := range []string{"2026-01-05", "2026-01-06", "2026-01-07"} {
		leg := legOn(t, d)
		calendar.Set(leg.Date, decimal.NewFromInt(2))
	}

	result, err := service.ReconcileRecords(context.Background(), invoices, sheets, calendar)
	if err != nil {
		t.Fatalf("Reconciliation failed: %v", err)
	}

	byType := make(map[DiscrepancyType][]*Discrepancy)
	for _, d := range result.Discrepancies {
		byType[d.Type] = append(byType[d.Type], d)
	}

	forced := byType[DiscrepancyForcedPair]
	if len(forced) != 1 {
		t.Fatalf("Expected 1 forced pair, got %d", len(forced))
	}
	if forced[0].InvoiceSource != "b.pdf" || forced[0].TripSheetSource != "y.pdf" {
		t.Errorf("Unexpected forced pair %s/%s", forced[0].InvoiceSource, forced[0].TripSheetSource)
	}
	if forced[0].Severity != SeverityHigh {
		t.Errorf("Expected high severity, got %s", forced[0].Severity)
	}

	unmatched := byType[DiscrepancyUnmatchedInvoice]
	if len(unmatched) != 1 || unmatched[0].InvoiceSource != "d.pdf" || unmatched[0].Severity != SeverityMedium {
		t.Errorf("Expected d.pdf as the medium severity leftover, got %+v", unmatched)
	}

	overLimit := byType[DiscrepancyOverDailyLimit]
	if len(overLimit) != 2 {
		t.Fatalf("Expected 2 workdays over the limit, got %d", len(overLimit))
	}
	if overLimit[0].Workday != "2026-01-06" || overLimit[1].Workday != "2026-01-07" {
		t.Errorf("Unexpected over-limit workdays %s, %s", overLimit[0].Workday, overLimit[1].Workday)
	}

	if len(byType[DiscrepancyNoOvertimeRecord]) != 0 {
		t.Errorf("Expected every leg to be justified")
	}
}

func TestForcedPairSeverity(t *testing.T) {
	tolerance := decimal.RequireFromString("0.50")

	tests := []struct {
		diff string
		want Severity
	}{
		{"0", SeverityInfo},
		{"0.30", SeverityMedium},
		{"0.50", SeverityMedium},
		{"0.51", SeverityHigh},
		{"120", SeverityHigh},
	}

	for _, tt := range tests {
		if got := forcedPairSeverity(decimal.RequireFromString(tt.diff), tolerance); got != tt.want {
			t.Errorf("forcedPairSeverity(%s) = %s, want %s", tt.diff, got, tt.want)
		}
	}
}

func TestReconciliationService_ValidatesInMemoryRecords(t *testing.T) {
	service := newTestService(t)

	invalid := []*models.InvoiceRecord{
		models.NewInvoiceRecord("", decimal.NewFromInt(10), "", ""),
	}
	_, err := service.ReconcileRecords(context.Background(), invalid, nil, nil)
	if !errors.IsCategory(err, errors.CategoryValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}

	empty := []*models.TripSheetRecord{models.NewTripSheetRecord("x.pdf", nil, "")}
	_, err = service.ReconcileRecords(context.Background(), nil, empty, nil)
	if !errors.IsCategory(err, errors.CategoryValidation) {
		t.Errorf("Expected validation error for a trip-sheet without legs, got %v", err)
	}

	badLeg := []*models.TripSheetRecord{models.NewTripSheetRecord("y.pdf", []models.TripLeg{
		{Date: time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), Time: models.ClockTime{Hour: 25}, Amount: decimal.NewFromInt(30)},
	}, "")}
	_, err = service.ReconcileRecords(context.Background(), nil, badLeg, nil)
	if !errors.IsCategory(err, errors.CategoryValidation) {
		t.Errorf("Expected validation error for a leg at 25:00, got %v", err)
	}
}

func TestReconciliationService_EmptyInputs(t *testing.T) {
	service := newTestService(t)

	result, err := service.ReconcileRecords(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("Reconciliation failed: %v", err)
	}
	if len(result.Matches) != 0 || len(result.UnmatchedInvoices) != 0 || len(result.UnmatchedTripSheets) != 0 {
		t.Error("Expected empty outputs for empty inputs")
	}
	if len(result.Discrepancies) != 0 {
		t.Errorf("Expected no discrepancies, got %d", len(result.Discrepancies))
	}
}

func TestReconciliationService_ProgressCallbacks(t *testing.T) {
	request := createTestDataFiles(t)
	service := newTestService(t)

	var steps []Step
	var last *ReconciliationProgress
	service.AddProgressCallback(func(p *ReconciliationProgress) {
		steps = append(steps, p.Step)
		last = p
	})

	if _, err := service.ProcessReconciliation(context.Background(), request); err != nil {
		t.Fatalf("Reconciliation failed: %v", err)
	}

	if len(steps) != len(stepOrder) {
		t.Fatalf("Expected %d progress updates, got %d: %v", len(stepOrder), len(steps), steps)
	}
	for i, s := range stepOrder {
		if steps[i] != s {
			t.Errorf("Step %d: expected %s, got %s", i, s, steps[i])
		}
	}
	if last.Percent() != 100 {
		t.Errorf("Expected 100%% at completion, got %.1f", last.Percent())
	}
}

func TestDataPreprocessor(t *testing.T) {
	dp := NewDataPreprocessor(nil)

	original := models.NewInvoiceRecord("  inv-1.pdf ", decimal.NewFromInt(30), "2026-01-20", " Shang   hai ")
	invoices := dp.PreprocessInvoices([]*models.InvoiceRecord{
		original,
		models.NewInvoiceRecord("inv-2.pdf", decimal.NewFromInt(30), "2026-01-20", ""),
		models.NewInvoiceRecord("inv-3.pdf", decimal.Zero, "2026-01-21", "Beijing"),
	})

	if invoices[0].Source != "inv-1.pdf" || invoices[0].City != "Shang hai" {
		t.Errorf("Expected normalized labels, got %q / %q", invoices[0].Source, invoices[0].City)
	}
	if original.Source != "  inv-1.pdf " {
		t.Error("Expected the original record to stay untouched")
	}

	duplicates := dp.FindDuplicateInvoices(invoices)
	if len(duplicates) != 1 || duplicates[0].InvoiceSource != "inv-2.pdf" {
		t.Fatalf("Expected inv-2.pdf flagged as duplicate, got %+v", duplicates)
	}

	sheets := dp.PreprocessTripSheets([]*models.TripSheetRecord{
		models.NewTripSheetRecord("trip.pdf", []models.TripLeg{{Origin: " Office", Destination: ""}}, ""),
	})
	if sheets[0].Legs[0].Origin != "Office" {
		t.Errorf("Expected trimmed origin, got %q", sheets[0].Legs[0].Origin)
	}

	stats := dp.GetStatistics()
	if stats.InvoicesProcessed != 3 || stats.TripSheetsProcessed != 1 || stats.LegsProcessed != 1 {
		t.Errorf("Unexpected counts %+v", stats)
	}
	if stats.ZeroAmountInvoices != 1 {
		t.Errorf("Expected 1 zero amount invoice, got %d", stats.ZeroAmountInvoices)
	}
	if stats.InvoicesWithoutCity != 1 || stats.SheetsWithoutCity != 1 {
		t.Errorf("Expected missing cities counted, got %+v", stats)
	}
	if stats.LegsWithoutLocation != 1 {
		t.Errorf("Expected 1 leg without location, got %d", stats.LegsWithoutLocation)
	}
	if stats.DuplicateInvoices != 1 {
		t.Errorf("Expected 1 duplicate, got %d", stats.DuplicateInvoices)
	}
}

func TestReconciliationService_GeneratedDataIsTraceable(t *testing.T) {
	for _, seed := range []int64{1, 7, 2026} {
		cfg := sampledata.DefaultConfig()
		cfg.Seed = seed
		cfg.TripSheets = 40
		cfg.ExtraInvoices = 3

		ds, err := sampledata.Generate(cfg)
		if err != nil {
			t.Fatalf("seed %d: generate failed: %v", seed, err)
		}

		result, err := newTestService(t).ReconcileRecords(context.Background(), ds.Invoices, ds.TripSheets, ds.Calendar())
		if err != nil {
			t.Fatalf("seed %d: reconciliation failed: %v", seed, err)
		}

		seenInvoices := make(map[string]int)
		seenSheets := make(map[string]int)
		matchedLegs := 0
		for _, m := range result.Matches {
			seenInvoices[m.Invoice.Source]++
			seenSheets[m.TripSheet.Source]++
			matchedLegs += len(m.Legs)
		}
		for _, inv := range result.UnmatchedInvoices {
			seenInvoices[inv.Source]++
		}
		for _, ts := range result.UnmatchedTripSheets {
			seenSheets[ts.Source]++
		}

		for _, inv := range ds.Invoices {
			if seenInvoices[inv.Source] != 1 {
				t.Errorf("seed %d: invoice %s appears %d times", seed, inv.Source, seenInvoices[inv.Source])
			}
		}
		for _, ts := range ds.TripSheets {
			if seenSheets[ts.Source] != 1 {
				t.Errorf("seed %d: trip-sheet %s appears %d times", seed, ts.Source, seenSheets[ts.Source])
			}
		}

		if len(result.Ledger.Rows) != matchedLegs {
			t.Errorf("seed %d: expected %d ledger rows, got %d", seed, matchedLegs, len(result.Ledger.Rows))
		}
		// forced pairing leaves at most one side with leftovers
		if len(result.UnmatchedInvoices) > 0 && len(result.UnmatchedTripSheets) > 0 {
			t.Errorf("seed %d: leftovers on both sides after forced pairing", seed)
		}
		if len(result.UnmatchedInvoices) != cfg.ExtraInvoices {
			t.Errorf("seed %d: expected %d unmatched invoices, got %d", seed, cfg.ExtraInvoices, len(result.UnmatchedInvoices))
		}
	}
}
