package reconciler

import (
	"fmt"
	"regexp"
	"strings"

	"expense-reconciler/internal/models"
)

// DataPreprocessor normalizes labels and collects data-quality statistics
// before matching. It never drops or merges records.
type DataPreprocessor struct {
	config *PreprocessingConfig
	stats  PreprocessingStats
}

// PreprocessingConfig contains configuration for data preprocessing
type PreprocessingConfig struct {
	// TrimWhitespace trims free-text fields and collapses inner runs of whitespace
	TrimWhitespace bool `json:"trim_whitespace"`

	// FlagDuplicates reports invoices from different documents with the same amount and date
	FlagDuplicates bool `json:"flag_duplicates"`
}

// DefaultPreprocessingConfig returns a default preprocessing configuration
func DefaultPreprocessingConfig() *PreprocessingConfig {
	return &PreprocessingConfig{
		TrimWhitespace: true,
		FlagDuplicates: true,
	}
}

// PreprocessingStats contains statistics about preprocessing operations
type PreprocessingStats struct {
	InvoicesProcessed   int `json:"invoices_processed"`
	TripSheetsProcessed int `json:"trip_sheets_processed"`
	LegsProcessed       int `json:"legs_processed"`
	FieldsNormalized    int `json:"fields_normalized"`
	ZeroAmountInvoices  int `json:"zero_amount_invoices"`
	InvoicesWithoutCity int `json:"invoices_without_city"`
	SheetsWithoutCity   int `json:"sheets_without_city"`
	LegsWithoutLocation int `json:"legs_without_location"`
	DuplicateInvoices   int `json:"duplicate_invoices"`
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// NewDataPreprocessor creates a new data preprocessor
func NewDataPreprocessor(config *PreprocessingConfig) *DataPreprocessor {
	if config == nil {
		config = DefaultPreprocessingConfig()
	}
	return &DataPreprocessor{config: config}
}

// PreprocessInvoices returns normalized copies of the invoices in input order
func (dp *DataPreprocessor) PreprocessInvoices(invoices []*models.InvoiceRecord) []*models.InvoiceRecord {
	processed := make([]*models.InvoiceRecord, 0, len(invoices))

	for _, inv := range invoices {
		dp.stats.InvoicesProcessed++

		copied := *inv
		copied.Source = dp.normalizeString(inv.Source)
		copied.City = dp.normalizeString(inv.City)
		copied.Date = dp.normalizeString(inv.Date)

		if copied.TotalAmount.IsZero() {
			dp.stats.ZeroAmountInvoices++
		}
		if copied.City == "" {
			dp.stats.InvoicesWithoutCity++
		}

		processed = append(processed, &copied)
	}

	return processed
}

// PreprocessTripSheets returns normalized copies of the trip-sheets in input order
func (dp *DataPreprocessor) PreprocessTripSheets(tripSheets []*models.TripSheetRecord) []*models.TripSheetRecord {
	processed := make([]*models.TripSheetRecord, 0, len(tripSheets))

	for _, ts := range tripSheets {
		dp.stats.TripSheetsProcessed++

		legs := make([]models.TripLeg, len(ts.Legs))
		for i, leg := range ts.Legs {
			dp.stats.LegsProcessed++
			leg.Origin = dp.normalizeString(leg.Origin)
			leg.Destination = dp.normalizeString(leg.Destination)
			if leg.Origin == "" || leg.Destination == "" {
				dp.stats.LegsWithoutLocation++
			}
			legs[i] = leg
		}

		copied := models.NewTripSheetRecord(dp.normalizeString(ts.Source), legs, dp.normalizeString(ts.City))
		if copied.City == "" {
			dp.stats.SheetsWithoutCity++
		}

		processed = append(processed, copied)
	}

	return processed
}

// FindDuplicateInvoices reports invoices from different documents carrying
// the same amount and date. Both records stay in the run.
func (dp *DataPreprocessor) FindDuplicateInvoices(invoices []*models.InvoiceRecord) []*Discrepancy {
	if !dp.config.FlagDuplicates {
		return nil
	}

	var discrepancies []*Discrepancy
	seen := make(map[string]*models.InvoiceRecord)

	for _, inv := range invoices {
		if inv.Date == "" {
			continue
		}
		key := fmt.Sprintf("%s_%s", inv.TotalAmount.StringFixed(2), inv.Date)

		existing, ok := seen[key]
		if !ok {
			seen[key] = inv
			continue
		}
		if existing.Source == inv.Source {
			continue
		}

		dp.stats.DuplicateInvoices++
		discrepancies = append(discrepancies, &Discrepancy{
			Type:          DiscrepancyDuplicateInvoice,
			Severity:      SeverityLow,
			InvoiceSource: inv.Source,
			Amount:        inv.TotalAmount,
			Description: fmt.Sprintf("possible duplicate of %s: same amount %s on %s",
				existing.Source, inv.TotalAmount.StringFixed(2), inv.Date),
		})
	}

	return discrepancies
}

// GetStatistics returns preprocessing statistics
func (dp *DataPreprocessor) GetStatistics() *PreprocessingStats {
	stats := dp.stats
	return &stats
}

func (dp *DataPreprocessor) normalizeString(s string) string {
	if !dp.config.TrimWhitespace {
		return s
	}
	normalized := whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
	if normalized != s {
		dp.stats.FieldsNormalized++
	}
	return normalized
}
