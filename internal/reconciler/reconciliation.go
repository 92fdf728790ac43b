// Package reconciler runs a complete reconciliation: it loads the invoice,
// trip-leg and attendance files, pairs invoices with trip-sheets, builds the
// overtime ledger and lists everything a reviewer has to look at.
//
// Example usage:
//
//	service, err := reconciler.NewReconciliationService(
//		matcher.DefaultMatchingConfig(),
//		ledger.DefaultConfig(),
//		reconciler.DefaultConfig(),
//	)
//	result, err := service.ProcessReconciliation(ctx, &reconciler.ReconciliationRequest{
//		InvoiceFile:  "invoices.csv",
//		TripFiles:    []string{"trips-jan.csv", "trips-feb.csv"},
//		OvertimeFile: "attendance.csv",
//	})
package reconciler

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"expense-reconciler/internal/ledger"
	"expense-reconciler/internal/matcher"
	"expense-reconciler/internal/models"
	"expense-reconciler/internal/parsers"
	"expense-reconciler/pkg/errors"
	"expense-reconciler/pkg/logger"
)

// ReconciliationService orchestrates the complete reconciliation process
type ReconciliationService struct {
	engine       *matcher.Engine
	ledgerConfig *ledger.Config
	config       *Config
	logger       logger.Logger
	callbacks    []ProgressCallback
}

// Config holds configuration options for the reconciliation service
type Config struct {
	// MaxConcurrentFiles bounds how many trip-leg files are parsed at once
	MaxConcurrentFiles int `json:"max_concurrent_files"`

	// ValidateInputs re-checks in-memory records handed to ReconcileRecords
	ValidateInputs bool `json:"validate_inputs"`

	// IncludeStatistics fills ProcessingStats
	IncludeStatistics bool `json:"include_statistics"`

	Preprocessing *PreprocessingConfig `json:"preprocessing"`
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentFiles: 4,
		ValidateInputs:     true,
		IncludeStatistics:  true,
		Preprocessing:      DefaultPreprocessingConfig(),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxConcurrentFiles, validation.Required, validation.Min(1)),
	)
}

// ReconciliationRequest names the input files of one run
type ReconciliationRequest struct {
	InvoiceFile  string   `json:"invoice_file"`
	TripFiles    []string `json:"trip_files"`
	OvertimeFile string   `json:"overtime_file,omitempty"`

	InvoiceConfig  *parsers.InvoiceParserConfig  `json:"-"`
	TripConfig     *parsers.TripLegParserConfig  `json:"-"`
	OvertimeConfig *parsers.OvertimeParserConfig `json:"-"`
}

// Validate validates the reconciliation request
func (r *ReconciliationRequest) Validate() error {
	if r.InvoiceFile == "" {
		return errors.ValidationError(errors.CodeMissingField, "invoice_file", "", nil)
	}
	if len(r.TripFiles) == 0 {
		return errors.ValidationError(errors.CodeMissingField, "trip_files", "", nil)
	}
	for _, f := range r.TripFiles {
		if f == "" {
			return errors.ValidationError(errors.CodeMissingField, "trip_files", f, nil)
		}
	}
	return nil
}

// ReconciliationResult contains the complete results of reconciliation
type ReconciliationResult struct {
	RunID     string          `json:"run_id"`
	Tolerance decimal.Decimal `json:"tolerance"`

	Summary *ResultSummary `json:"summary"`

	// every input record appears in exactly one of these three
	Matches             []*matcher.MatchResult    `json:"matches"`
	UnmatchedInvoices   []*models.InvoiceRecord   `json:"unmatched_invoices"`
	UnmatchedTripSheets []*models.TripSheetRecord `json:"unmatched_trip_sheets"`

	Ledger        *ledger.Ledger `json:"ledger"`
	Discrepancies []*Discrepancy `json:"discrepancies"`

	ProcessingStats *ProcessingStats    `json:"processing_stats,omitempty"`
	Preprocessing   *PreprocessingStats `json:"preprocessing,omitempty"`

	ProcessedAt time.Time              `json:"processed_at"`
	Request     *ReconciliationRequest `json:"request,omitempty"`
}

// ResultSummary provides a high-level overview of reconciliation results
type ResultSummary struct {
	TotalInvoices   int `json:"total_invoices"`
	TotalTripSheets int `json:"total_trip_sheets"`
	TotalLegs       int `json:"total_legs"`

	ToleranceMatches    int `json:"tolerance_matches"`
	ForcedMatches       int `json:"forced_matches"`
	UnmatchedInvoices   int `json:"unmatched_invoices"`
	UnmatchedTripSheets int `json:"unmatched_trip_sheets"`

	TotalInvoiceAmount   decimal.Decimal `json:"total_invoice_amount"`
	TotalTripSheetAmount decimal.Decimal `json:"total_trip_sheet_amount"`
	NetDiscrepancy       decimal.Decimal `json:"net_discrepancy"`
	MatchedAmount        decimal.Decimal `json:"matched_amount"`
	MaxForcedDiff        decimal.Decimal `json:"max_forced_diff"`

	LedgerRows        int             `json:"ledger_rows"`
	Workdays          int             `json:"workdays"`
	OvertimeDays      int             `json:"overtime_days"`
	LedgerAmount      decimal.Decimal `json:"ledger_amount"`
	JustifiedAmount   decimal.Decimal `json:"justified_amount"`
	UnjustifiedAmount decimal.Decimal `json:"unjustified_amount"`

	ProcessingDuration time.Duration `json:"processing_duration"`
}

// TotalMatches returns the number of pairs from both phases
func (s *ResultSummary) TotalMatches() int {
	return s.ToleranceMatches + s.ForcedMatches
}

// ProcessingStats contains detailed processing statistics
type ProcessingStats struct {
	FilesProcessed   int            `json:"files_processed"`
	ParseErrors      int            `json:"parse_errors"`
	ValidationErrors int            `json:"validation_errors"`
	FileErrors       map[string]int `json:"file_errors,omitempty"`

	RecordsPerSecond    float64       `json:"records_per_second"`
	TotalProcessingTime time.Duration `json:"total_processing_time"`
	ParsingTime         time.Duration `json:"parsing_time"`
	MatchingTime        time.Duration `json:"matching_time"`
	LedgerTime          time.Duration `json:"ledger_time"`
}

// Discrepancy is one item a reviewer has to look at
type Discrepancy struct {
	Type            DiscrepancyType `json:"type"`
	Severity        Severity        `json:"severity"`
	InvoiceSource   string          `json:"invoice_source,omitempty"`
	TripSheetSource string          `json:"trip_sheet_source,omitempty"`
	Workday         string          `json:"workday,omitempty"`
	RowNo           int             `json:"row_no,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
}

// DiscrepancyType represents the type of discrepancy
type DiscrepancyType string

const (
	DiscrepancyForcedPair         DiscrepancyType = "forced_pair"
	DiscrepancyCityMismatch       DiscrepancyType = "city_mismatch"
	DiscrepancyUnmatchedInvoice   DiscrepancyType = "unmatched_invoice"
	DiscrepancyUnmatchedTripSheet DiscrepancyType = "unmatched_trip_sheet"
	DiscrepancyNoOvertimeRecord   DiscrepancyType = "no_overtime_record"
	DiscrepancyOverDailyLimit     DiscrepancyType = "over_daily_limit"
	DiscrepancyDuplicateInvoice   DiscrepancyType = "duplicate_invoice"
)

// Severity represents the severity level of a discrepancy
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
	SeverityInfo   Severity = "info"
)

// Severities lists all levels, most severe first
var Severities = []Severity{SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// CountBySeverity tallies discrepancies per severity
func (r *ReconciliationResult) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int, len(Severities))
	for _, d := range r.Discrepancies {
		counts[d.Severity]++
	}
	return counts
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(
	matchingConfig *matcher.MatchingConfig,
	ledgerConfig *ledger.Config,
	config *Config,
) (*ReconciliationService, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler_config", config.MaxConcurrentFiles, err)
	}
	if config.Preprocessing == nil {
		config.Preprocessing = DefaultPreprocessingConfig()
	}

	if ledgerConfig == nil {
		ledgerConfig = ledger.DefaultConfig()
	}
	if err := ledgerConfig.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ledger_config", ledgerConfig.DailyLimit.String(), err)
	}

	engine, err := matcher.NewEngine(matchingConfig)
	if err != nil {
		return nil, err
	}

	return &ReconciliationService{
		engine:       engine,
		ledgerConfig: ledgerConfig,
		config:       config,
		logger:       logger.GetGlobalLogger().WithComponent("reconciler"),
	}, nil
}

// ProcessReconciliation parses the request's files and reconciles them
func (rs *ReconciliationService) ProcessReconciliation(
	ctx context.Context,
	request *ReconciliationRequest,
) (*ReconciliationResult, error) {
	if request == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "request", nil, nil)
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}

	startTime := time.Now()
	rs.logger.WithFields(logger.Fields{
		"invoice_file":  request.InvoiceFile,
		"trip_files":    len(request.TripFiles),
		"overtime_file": request.OvertimeFile,
	}).Info("Starting reconciliation")

	inputs, err := rs.loadInputs(ctx, request)
	if err != nil {
		return nil, err
	}

	result, err := rs.reconcile(ctx, inputs, startTime)
	if err != nil {
		return nil, err
	}
	result.Request = request

	return result, nil
}

// ReconcileRecords reconciles records that are already in memory. The
// calendar may be nil.
func (rs *ReconciliationService) ReconcileRecords(
	ctx context.Context,
	invoices []*models.InvoiceRecord,
	tripSheets []*models.TripSheetRecord,
	calendar *models.OvertimeCalendar,
) (*ReconciliationResult, error) {
	startTime := time.Now()

	inputs := &runInputs{
		invoices:   invoices,
		tripSheets: tripSheets,
		calendar:   calendar,
		fileErrors: make(map[string]int),
	}

	if rs.config.ValidateInputs {
		if err := validateRecords(invoices, tripSheets); err != nil {
			return nil, err
		}
	}

	return rs.reconcile(ctx, inputs, startTime)
}

// Config returns the current configuration
func (rs *ReconciliationService) Config() *Config {
	return rs.config
}

// Tolerance returns the amount tolerance used by the matching engine
func (rs *ReconciliationService) Tolerance() decimal.Decimal {
	return rs.engine.Config().Tolerance
}

func newRunID() string {
	return uuid.NewString()
}
