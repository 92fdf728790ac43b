package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"expense-reconciler/internal/ledger"
	"expense-reconciler/internal/matcher"
	"expense-reconciler/internal/models"
	"expense-reconciler/internal/parsers"
	"expense-reconciler/pkg/errors"
	"expense-reconciler/pkg/logger"
)

// runInputs is everything one run reconciles
type runInputs struct {
	invoices   []*models.InvoiceRecord
	tripSheets []*models.TripSheetRecord
	calendar   *models.OvertimeCalendar

	filesProcessed int
	parseErrors    int
	fileErrors     map[string]int
	parsingTime    time.Duration
}

func (in *runInputs) record(stats *parsers.ParseStats) {
	if stats == nil {
		return
	}
	in.filesProcessed++
	in.parseErrors += stats.ErrorCount
	if stats.ErrorCount > 0 {
		in.fileErrors[stats.FilePath] = stats.ErrorCount
	}
}

// loadInputs parses all files of a request
func (rs *ReconciliationService) loadInputs(ctx context.Context, request *ReconciliationRequest) (*runInputs, error) {
	start := time.Now()
	inputs := &runInputs{fileErrors: make(map[string]int)}

	rs.notify(StepParsingInvoices, start)
	invoices, stats, err := rs.parseInvoices(ctx, request)
	if err != nil {
		return nil, err
	}
	inputs.invoices = invoices
	inputs.record(stats)

	if err := checkCancelled(ctx, "parsing trip-sheets"); err != nil {
		return nil, err
	}

	rs.notify(StepParsingTripSheets, start)
	sheets, sheetStats, err := rs.parseTripSheets(ctx, request)
	if err != nil {
		return nil, err
	}
	inputs.tripSheets = sheets
	for _, s := range sheetStats {
		inputs.record(s)
	}

	if err := checkCancelled(ctx, "parsing overtime"); err != nil {
		return nil, err
	}

	rs.notify(StepParsingOvertime, start)
	calendar, calStats, err := rs.parseCalendar(ctx, request)
	if err != nil {
		return nil, err
	}
	inputs.calendar = calendar
	inputs.record(calStats)

	inputs.parsingTime = time.Since(start)
	return inputs, nil
}

func (rs *ReconciliationService) parseInvoices(ctx context.Context, request *ReconciliationRequest) ([]*models.InvoiceRecord, *parsers.ParseStats, error) {
	parser, err := parsers.NewInvoiceParser(request.InvoiceConfig)
	if err != nil {
		return nil, nil, err
	}
	return parser.ParseInvoicesWithContext(ctx, request.InvoiceFile)
}

// parseTripSheets parses all trip-leg files. Several files are parsed
// concurrently; the combined list keeps the order of the request.
func (rs *ReconciliationService) parseTripSheets(ctx context.Context, request *ReconciliationRequest) ([]*models.TripSheetRecord, []*parsers.ParseStats, error) {
	if len(request.TripFiles) == 1 {
		parser, err := parsers.NewTripSheetParser(request.TripConfig)
		if err != nil {
			return nil, nil, err
		}
		sheets, stats, err := parser.ParseTripSheetsWithContext(ctx, request.TripFiles[0])
		if err != nil {
			return nil, nil, err
		}
		return sheets, []*parsers.ParseStats{stats}, nil
	}

	return rs.parseMultipleTripFiles(ctx, request.TripFiles, request.TripConfig)
}

func (rs *ReconciliationService) parseMultipleTripFiles(
	ctx context.Context,
	filePaths []string,
	config *parsers.TripLegParserConfig,
) ([]*models.TripSheetRecord, []*parsers.ParseStats, error) {
	maxConcurrency := rs.config.MaxConcurrentFiles
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}

	type fileResult struct {
		sheets []*models.TripSheetRecord
		stats  *parsers.ParseStats
		err    error
	}

	results := make([]fileResult, len(filePaths))
	semaphore := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "trip_file_parsing",
		Total:     int64(len(filePaths)),
		Logger:    rs.logger,
	})

	for i, filePath := range filePaths {
		wg.Add(1)

		go func(i int, path string) {
			defer wg.Done()
			defer progress.Increment()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			parser, err := parsers.NewTripSheetParser(config)
			if err != nil {
				results[i] = fileResult{err: err}
				return
			}

			sheets, stats, err := parser.ParseTripSheetsWithContext(ctx, path)
			results[i] = fileResult{sheets: sheets, stats: stats, err: err}
		}(i, filePath)
	}

	wg.Wait()
	progress.Complete()

	var allSheets []*models.TripSheetRecord
	var allStats []*parsers.ParseStats
	var failures []*errors.ReconcilerError

	for i, r := range results {
		if r.err != nil {
			if rerr, ok := errors.AsReconcilerError(r.err); ok {
				if rerr.Code == errors.CodeCancelled {
					return nil, nil, rerr
				}
				failures = append(failures, rerr)
			} else {
				failures = append(failures, errors.FileError(errors.CodeFileCorrupted, filePaths[i], r.err))
			}
			continue
		}
		allSheets = append(allSheets, r.sheets...)
		allStats = append(allStats, r.stats)
	}

	switch len(failures) {
	case 0:
		return allSheets, allStats, nil
	case 1:
		return nil, nil, failures[0]
	default:
		return nil, nil, errors.NewErrorSummary(failures)
	}
}

// parseCalendar loads the attendance file. Without one, every leg ends up
// without an overtime record.
func (rs *ReconciliationService) parseCalendar(ctx context.Context, request *ReconciliationRequest) (*models.OvertimeCalendar, *parsers.ParseStats, error) {
	if request.OvertimeFile == "" {
		rs.logger.Warn("No overtime file given; all legs will be reported without an overtime record")
		return models.NewOvertimeCalendar(), nil, nil
	}

	parser, err := parsers.NewOvertimeParser(request.OvertimeConfig)
	if err != nil {
		return nil, nil, err
	}
	return parser.ParseCalendarWithContext(ctx, request.OvertimeFile)
}

// reconcile runs the pipeline from preprocessing to the final result
func (rs *ReconciliationService) reconcile(ctx context.Context, inputs *runInputs, startTime time.Time) (*ReconciliationResult, error) {
	if err := checkCancelled(ctx, "preprocessing"); err != nil {
		return nil, err
	}

	runID := newRunID()
	log := rs.logger.WithRun(runID)

	rs.notify(StepPreprocessing, startTime)
	preprocessor := NewDataPreprocessor(rs.config.Preprocessing)
	invoices := preprocessor.PreprocessInvoices(inputs.invoices)
	tripSheets := preprocessor.PreprocessTripSheets(inputs.tripSheets)
	duplicates := preprocessor.FindDuplicateInvoices(invoices)

	if err := checkCancelled(ctx, "matching"); err != nil {
		return nil, err
	}

	rs.notify(StepMatching, startTime)
	var matchResult *matcher.Result
	matchingTime, err := logger.TimedStage("matching", log, func() error {
		var err error
		matchResult, err = rs.engine.Reconcile(invoices, tripSheets)
		return err
	})
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryReconciliation, errors.CodeProcessingError, "matching failed")
	}

	if err := checkCancelled(ctx, "ledger construction"); err != nil {
		return nil, err
	}

	rs.notify(StepLedger, startTime)
	var l *ledger.Ledger
	ledgerTime, _ := logger.TimedStage("ledger", log, func() error {
		l = ledger.Build(matchResult.Matches, inputs.calendar, rs.ledgerConfig)
		return nil
	})

	rs.notify(StepAnalysis, startTime)
	discrepancies := rs.analyzeDiscrepancies(matchResult, l)
	discrepancies = append(discrepancies, duplicates...)

	result := &ReconciliationResult{
		RunID:               runID,
		Tolerance:           rs.Tolerance(),
		Matches:             matchResult.Matches,
		UnmatchedInvoices:   matchResult.LeftoverInvoices,
		UnmatchedTripSheets: matchResult.LeftoverTripSheets,
		Ledger:              l,
		Discrepancies:       discrepancies,
		Preprocessing:       preprocessor.GetStatistics(),
		ProcessedAt:         startTime,
	}
	if result.Matches == nil {
		result.Matches = make([]*matcher.MatchResult, 0)
	}
	if result.Discrepancies == nil {
		result.Discrepancies = make([]*Discrepancy, 0)
	}

	result.Summary = buildSummary(invoices, tripSheets, inputs.calendar, matchResult, l)
	result.Summary.ProcessingDuration = time.Since(startTime)

	if rs.config.IncludeStatistics {
		result.ProcessingStats = &ProcessingStats{
			FilesProcessed:      inputs.filesProcessed,
			ParseErrors:         inputs.parseErrors,
			FileErrors:          inputs.fileErrors,
			TotalProcessingTime: result.Summary.ProcessingDuration,
			ParsingTime:         inputs.parsingTime,
			MatchingTime:        matchingTime,
			LedgerTime:          ledgerTime,
		}
		if secs := result.Summary.ProcessingDuration.Seconds(); secs > 0 {
			records := float64(result.Summary.TotalInvoices + result.Summary.TotalLegs)
			result.ProcessingStats.RecordsPerSecond = records / secs
		}
	}

	rs.notify(StepCompleted, startTime)
	log.WithFields(logger.Fields{
		"tolerance_matches":     result.Summary.ToleranceMatches,
		"forced_matches":        result.Summary.ForcedMatches,
		"unmatched_invoices":    result.Summary.UnmatchedInvoices,
		"unmatched_trip_sheets": result.Summary.UnmatchedTripSheets,
		"ledger_rows":           result.Summary.LedgerRows,
		"discrepancies":         len(result.Discrepancies),
		"duration":              result.Summary.ProcessingDuration.String(),
	}).Info("Reconciliation completed")

	return result, nil
}

// analyzeDiscrepancies lists forced pairs, leftovers, legs without an
// overtime record and workdays over the daily limit
func (rs *ReconciliationService) analyzeDiscrepancies(result *matcher.Result, l *ledger.Ledger) []*Discrepancy {
	tolerance := rs.Tolerance()
	var discrepancies []*Discrepancy

	for _, m := range result.Matches {
		if m.IsForced() {
			discrepancies = append(discrepancies, &Discrepancy{
				Type:            DiscrepancyForcedPair,
				Severity:        forcedPairSeverity(m.AmountDiff, tolerance),
				InvoiceSource:   m.Invoice.Source,
				TripSheetSource: m.TripSheet.Source,
				Amount:          m.AmountDiff,
				Description: fmt.Sprintf("forced pairing: invoice %s vs trip-sheet %s, difference %s",
					m.Invoice.TotalAmount.StringFixed(2), m.TripSheet.TotalAmount().StringFixed(2), m.AmountDiff.StringFixed(2)),
			})
			continue
		}

		if !m.SameCity && m.Invoice.City != "" && m.TripSheet.City != "" {
			discrepancies = append(discrepancies, &Discrepancy{
				Type:            DiscrepancyCityMismatch,
				Severity:        SeverityInfo,
				InvoiceSource:   m.Invoice.Source,
				TripSheetSource: m.TripSheet.Source,
				Amount:          m.AmountDiff,
				Description:     fmt.Sprintf("matched across cities: %s vs %s", m.Invoice.City, m.TripSheet.City),
			})
		}
	}

	for _, inv := range result.LeftoverInvoices {
		discrepancies = append(discrepancies, &Discrepancy{
			Type:          DiscrepancyUnmatchedInvoice,
			Severity:      SeverityMedium,
			InvoiceSource: inv.Source,
			Amount:        inv.TotalAmount,
			Description:   fmt.Sprintf("no trip-sheet for invoice of %s", inv.TotalAmount.StringFixed(2)),
		})
	}

	for _, ts := range result.LeftoverTripSheets {
		discrepancies = append(discrepancies, &Discrepancy{
			Type:            DiscrepancyUnmatchedTripSheet,
			Severity:        SeverityMedium,
			TripSheetSource: ts.Source,
			Amount:          ts.TotalAmount(),
			Description:     fmt.Sprintf("no invoice for trip-sheet of %s (%d legs)", ts.TotalAmount().StringFixed(2), len(ts.Legs)),
		})
	}

	for _, row := range l.UnjustifiedRows() {
		description := fmt.Sprintf("no overtime record for workday %s", row.WorkdayString())
		if row.Note != "" {
			description = row.Note
		}
		discrepancies = append(discrepancies, &Discrepancy{
			Type:            DiscrepancyNoOvertimeRecord,
			Severity:        SeverityLow,
			InvoiceSource:   row.InvoiceSource,
			TripSheetSource: row.TripSheetSource,
			Workday:         row.WorkdayString(),
			RowNo:           row.No,
			Amount:          row.Amount,
			Description:     description,
		})
	}

	for _, g := range l.OverLimitGroups() {
		discrepancies = append(discrepancies, &Discrepancy{
			Type:        DiscrepancyOverDailyLimit,
			Severity:    SeverityMedium,
			Workday:     g.WorkdayString(),
			Amount:      g.Subtotal,
			Description: fmt.Sprintf("taxi total %s exceeds daily limit %s", g.Subtotal.StringFixed(2), rs.ledgerConfig.DailyLimit.StringFixed(2)),
		})
	}

	return discrepancies
}

// forcedPairSeverity grades a forced pair by how far apart the amounts are
func forcedPairSeverity(diff, tolerance decimal.Decimal) Severity {
	switch {
	case diff.GreaterThan(tolerance):
		return SeverityHigh
	case diff.IsZero():
		return SeverityInfo
	default:
		return SeverityMedium
	}
}

func buildSummary(
	invoices []*models.InvoiceRecord,
	tripSheets []*models.TripSheetRecord,
	calendar *models.OvertimeCalendar,
	result *matcher.Result,
	l *ledger.Ledger,
) *ResultSummary {
	s := &ResultSummary{
		TotalInvoices:        result.Summary.TotalInvoices,
		TotalTripSheets:      result.Summary.TotalTripSheets,
		ToleranceMatches:     result.Summary.ToleranceMatches,
		ForcedMatches:        result.Summary.ForcedMatches,
		UnmatchedInvoices:    result.Summary.UnmatchedInvoices,
		UnmatchedTripSheets:  result.Summary.UnmatchedTripSheets,
		MatchedAmount:        result.Summary.MatchedAmount,
		MaxForcedDiff:        result.Summary.MaxForcedDiff,
		TotalInvoiceAmount:   decimal.Zero,
		TotalTripSheetAmount: decimal.Zero,
		LedgerRows:           l.Totals.Rows,
		Workdays:             l.Totals.Workdays,
		OvertimeDays:         calendar.Len(),
		LedgerAmount:         l.Totals.Amount,
		JustifiedAmount:      l.Totals.JustifiedAmount,
		UnjustifiedAmount:    l.Totals.UnjustifiedAmount,
	}

	for _, inv := range invoices {
		s.TotalInvoiceAmount = s.TotalInvoiceAmount.Add(inv.TotalAmount)
	}
	for _, ts := range tripSheets {
		s.TotalTripSheetAmount = s.TotalTripSheetAmount.Add(ts.TotalAmount())
		s.TotalLegs += len(ts.Legs)
	}
	s.NetDiscrepancy = s.TotalInvoiceAmount.Sub(s.TotalTripSheetAmount)

	return s
}

func validateRecords(invoices []*models.InvoiceRecord, tripSheets []*models.TripSheetRecord) error {
	for i, inv := range invoices {
		if inv == nil {
			return errors.ValidationError(errors.CodeMissingField, "invoices", i, nil)
		}
		if err := inv.Validate(); err != nil {
			return errors.ValidationError(errors.CodeInvalidData, "invoice", inv.Source, err)
		}
	}
	for j, ts := range tripSheets {
		if ts == nil {
			return errors.ValidationError(errors.CodeMissingField, "trip_sheets", j, nil)
		}
		if err := ts.Validate(); err != nil {
			return errors.ValidationError(errors.CodeInvalidData, "trip_sheet", ts.Source, err)
		}
	}
	return nil
}

func checkCancelled(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return errors.ReconciliationError(errors.CodeCancelled, stage, err)
	}
	return nil
}
