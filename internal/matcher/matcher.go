package matcher

import (
	"sort"

	"github.com/shopspring/decimal"

	"expense-reconciler/internal/models"
	"expense-reconciler/pkg/errors"
	"expense-reconciler/pkg/logger"
)

// Engine is the invoice/trip-sheet matching engine. It holds no state
// between calls and is safe for concurrent use.
type Engine struct {
	config *MatchingConfig
	logger logger.Logger
}

// MatchResult pairs one invoice with one trip-sheet
type MatchResult struct {
	Invoice    *models.InvoiceRecord   `json:"invoice"`
	TripSheet  *models.TripSheetRecord `json:"trip_sheet"`
	Legs       []models.TripLeg        `json:"legs"`
	AmountDiff decimal.Decimal         `json:"amount_diff"`
	Phase      MatchPhase              `json:"phase"`
	SameCity   bool                    `json:"same_city"`

	// input positions, for tracing back to the source lists
	InvoiceIndex   int `json:"invoice_index"`
	TripSheetIndex int `json:"trip_sheet_index"`
}

// IsForced reports whether the pair came from the positional fallback
func (m *MatchResult) IsForced() bool {
	return m.Phase == PhaseForced
}

// Result is the complete outcome of one reconciliation
type Result struct {
	Matches            []*MatchResult            `json:"matches"`
	LeftoverInvoices   []*models.InvoiceRecord   `json:"leftover_invoices"`
	LeftoverTripSheets []*models.TripSheetRecord `json:"leftover_trip_sheets"`
	Summary            Summary                   `json:"summary"`
}

// Summary provides aggregate statistics about a reconciliation
type Summary struct {
	TotalInvoices       int             `json:"total_invoices"`
	TotalTripSheets     int             `json:"total_trip_sheets"`
	ToleranceMatches    int             `json:"tolerance_matches"`
	ForcedMatches       int             `json:"forced_matches"`
	UnmatchedInvoices   int             `json:"unmatched_invoices"`
	UnmatchedTripSheets int             `json:"unmatched_trip_sheets"`
	MatchedAmount       decimal.Decimal `json:"matched_amount"`
	UnmatchedAmount     decimal.Decimal `json:"unmatched_amount"`
	MaxForcedDiff       decimal.Decimal `json:"max_forced_diff"`
}

// TotalMatches returns the number of pairs from both phases
func (s Summary) TotalMatches() int {
	return s.ToleranceMatches + s.ForcedMatches
}

// NewEngine creates a matching engine with the given configuration
func NewEngine(config *MatchingConfig) (*Engine, error) {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		config: config.Clone(),
		logger: logger.GetGlobalLogger().WithComponent("matcher"),
	}, nil
}

// Config returns a copy of the engine configuration
func (e *Engine) Config() *MatchingConfig {
	return e.config.Clone()
}

// Reconcile pairs invoices with trip-sheets using the engine tolerance
func Reconcile(invoices []*models.InvoiceRecord, tripSheets []*models.TripSheetRecord, tolerance decimal.Decimal) (*Result, error) {
	config := DefaultMatchingConfig()
	config.Tolerance = tolerance

	engine, err := NewEngine(config)
	if err != nil {
		return nil, err
	}
	return engine.Reconcile(invoices, tripSheets)
}

// Reconcile runs both matching phases. Inputs are never modified; identical
// inputs always produce identical results.
func (e *Engine) Reconcile(invoices []*models.InvoiceRecord, tripSheets []*models.TripSheetRecord) (*Result, error) {
	if err := checkInputs(invoices, tripSheets); err != nil {
		return nil, err
	}

	invoiceUsed := make([]bool, len(invoices))
	sheetUsed := make([]bool, len(tripSheets))

	totals := make([]decimal.Decimal, len(tripSheets))
	for j, ts := range tripSheets {
		totals[j] = ts.TotalAmount()
	}

	matches := e.matchWithinTolerance(invoices, tripSheets, totals, invoiceUsed, sheetUsed)
	toleranceMatches := len(matches)

	if e.config.EnableForcedPairing {
		matches = append(matches, e.forcePairs(invoices, tripSheets, totals, invoiceUsed, sheetUsed)...)
	}

	result := &Result{
		Matches:            matches,
		LeftoverInvoices:   make([]*models.InvoiceRecord, 0),
		LeftoverTripSheets: make([]*models.TripSheetRecord, 0),
	}
	for i, inv := range invoices {
		if !invoiceUsed[i] {
			result.LeftoverInvoices = append(result.LeftoverInvoices, inv)
		}
	}
	for j, ts := range tripSheets {
		if !sheetUsed[j] {
			result.LeftoverTripSheets = append(result.LeftoverTripSheets, ts)
		}
	}

	result.Summary = summarize(invoices, tripSheets, result, toleranceMatches)

	e.logger.WithFields(logger.Fields{
		"invoices":              len(invoices),
		"trip_sheets":           len(tripSheets),
		"tolerance_matches":     result.Summary.ToleranceMatches,
		"forced_matches":        result.Summary.ForcedMatches,
		"unmatched_invoices":    result.Summary.UnmatchedInvoices,
		"unmatched_trip_sheets": result.Summary.UnmatchedTripSheets,
	}).Debug("Matching completed")

	return result, nil
}

// matchWithinTolerance is phase 1. Each invoice is tried exactly once, in
// amount-descending order with ties kept in input order.
func (e *Engine) matchWithinTolerance(
	invoices []*models.InvoiceRecord,
	tripSheets []*models.TripSheetRecord,
	totals []decimal.Decimal,
	invoiceUsed, sheetUsed []bool,
) []*MatchResult {
	order := make([]int, len(invoices))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return invoices[order[a]].TotalAmount.GreaterThan(invoices[order[b]].TotalAmount)
	})

	var matches []*MatchResult
	for _, i := range order {
		inv := invoices[i]
		invCity := e.config.cityKey(inv.City)

		best := -1
		bestSame := false
		var bestDiff decimal.Decimal

		for j := range tripSheets {
			if sheetUsed[j] {
				continue
			}
			diff := inv.TotalAmount.Sub(totals[j]).Abs()
			if diff.GreaterThan(e.config.Tolerance) {
				continue
			}

			same := invCity != "" && invCity == e.config.cityKey(tripSheets[j].City)
			if best == -1 || preferCandidate(same, diff, bestSame, bestDiff) {
				best, bestSame, bestDiff = j, same, diff
			}
		}

		if best == -1 {
			continue
		}

		invoiceUsed[i] = true
		sheetUsed[best] = true
		matches = append(matches, newMatch(inv, i, tripSheets[best], best, bestDiff, PhaseTolerance, bestSame))
	}

	return matches
}

// preferCandidate reports whether a candidate beats the current best. Same
// city wins first; the smaller difference wins second. Equal candidates do
// not displace the earlier one.
func preferCandidate(same bool, diff decimal.Decimal, bestSame bool, bestDiff decimal.Decimal) bool {
	if same != bestSame {
		return same
	}
	return diff.LessThan(bestDiff)
}

// forcePairs is phase 2. It runs only when both sides have leftovers.
func (e *Engine) forcePairs(
	invoices []*models.InvoiceRecord,
	tripSheets []*models.TripSheetRecord,
	totals []decimal.Decimal,
	invoiceUsed, sheetUsed []bool,
) []*MatchResult {
	var leftInvoices, leftSheets []int
	for i := range invoices {
		if !invoiceUsed[i] {
			leftInvoices = append(leftInvoices, i)
		}
	}
	for j := range tripSheets {
		if !sheetUsed[j] {
			leftSheets = append(leftSheets, j)
		}
	}
	if len(leftInvoices) == 0 || len(leftSheets) == 0 {
		return nil
	}

	sort.SliceStable(leftInvoices, func(a, b int) bool {
		return invoices[leftInvoices[a]].Source < invoices[leftInvoices[b]].Source
	})
	sort.SliceStable(leftSheets, func(a, b int) bool {
		return tripSheets[leftSheets[a]].Source < tripSheets[leftSheets[b]].Source
	})

	n := len(leftInvoices)
	if len(leftSheets) < n {
		n = len(leftSheets)
	}

	matches := make([]*MatchResult, 0, n)
	for k := 0; k < n; k++ {
		i, j := leftInvoices[k], leftSheets[k]
		inv, ts := invoices[i], tripSheets[j]

		invCity := e.config.cityKey(inv.City)
		same := invCity != "" && invCity == e.config.cityKey(ts.City)

		invoiceUsed[i] = true
		sheetUsed[j] = true
		matches = append(matches, newMatch(inv, i, ts, j, inv.TotalAmount.Sub(totals[j]).Abs(), PhaseForced, same))
	}

	e.logger.WithFields(logger.Fields{
		"forced_pairs":         n,
		"leftover_invoices":    len(leftInvoices) - n,
		"leftover_trip_sheets": len(leftSheets) - n,
	}).Debug("Forced positional pairing applied")

	return matches
}

func newMatch(inv *models.InvoiceRecord, i int, ts *models.TripSheetRecord, j int, diff decimal.Decimal, phase MatchPhase, same bool) *MatchResult {
	legs := make([]models.TripLeg, len(ts.Legs))
	copy(legs, ts.Legs)

	return &MatchResult{
		Invoice:        inv,
		TripSheet:      ts,
		Legs:           legs,
		AmountDiff:     diff,
		Phase:          phase,
		SameCity:       same,
		InvoiceIndex:   i,
		TripSheetIndex: j,
	}
}

func checkInputs(invoices []*models.InvoiceRecord, tripSheets []*models.TripSheetRecord) error {
	for i, inv := range invoices {
		if inv == nil {
			return errors.ValidationError(errors.CodeMissingField, "invoices", i, nil)
		}
	}
	for j, ts := range tripSheets {
		if ts == nil {
			return errors.ValidationError(errors.CodeMissingField, "trip_sheets", j, nil)
		}
	}
	return nil
}

func summarize(invoices []*models.InvoiceRecord, tripSheets []*models.TripSheetRecord, result *Result, toleranceMatches int) Summary {
	summary := Summary{
		TotalInvoices:       len(invoices),
		TotalTripSheets:     len(tripSheets),
		ToleranceMatches:    toleranceMatches,
		ForcedMatches:       len(result.Matches) - toleranceMatches,
		UnmatchedInvoices:   len(result.LeftoverInvoices),
		UnmatchedTripSheets: len(result.LeftoverTripSheets),
		MatchedAmount:       decimal.Zero,
		UnmatchedAmount:     decimal.Zero,
		MaxForcedDiff:       decimal.Zero,
	}

	for _, m := range result.Matches {
		summary.MatchedAmount = summary.MatchedAmount.Add(m.Invoice.TotalAmount)
		if m.IsForced() && m.AmountDiff.GreaterThan(summary.MaxForcedDiff) {
			summary.MaxForcedDiff = m.AmountDiff
		}
	}
	for _, inv := range result.LeftoverInvoices {
		summary.UnmatchedAmount = summary.UnmatchedAmount.Add(inv.TotalAmount)
	}

	return summary
}
