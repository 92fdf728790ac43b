package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"expense-reconciler/internal/ledger"
	"expense-reconciler/internal/matcher"
	"expense-reconciler/internal/overtime"
	"expense-reconciler/internal/parsers"
	"expense-reconciler/internal/reconciler"
	"expense-reconciler/internal/reporter"
	"expense-reconciler/pkg/errors"
)

// ParseColumnMappings turns "standard=actual" pairs into a column alias map
func ParseColumnMappings(pairs []string) (map[string]string, error) {
	aliases := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		standard, actual, ok := strings.Cut(pair, "=")
		standard = strings.TrimSpace(standard)
		actual = strings.TrimSpace(actual)
		if !ok || standard == "" || actual == "" {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "columns", pair,
				fmt.Errorf("expected standard=actual")).
				WithSuggestion("Map columns like --invoice-columns total_amount=Amount")
		}
		aliases[standard] = actual
	}

	return aliases, nil
}

// ParseAmount parses a non-negative decimal setting such as a tolerance
func ParseAmount(setting, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, errors.ConfigurationError(errors.CodeInvalidConfig, setting, value, err)
	}
	if d.IsNegative() {
		code := errors.CodeInvalidConfig
		if setting == "tolerance" {
			code = errors.CodeNegativeTolerance
		}
		return decimal.Zero, errors.ConfigurationError(code, setting, value, fmt.Errorf("must not be negative"))
	}
	return d, nil
}

// CreateInvoiceParserConfig creates an invoice parser configuration
func CreateInvoiceParserConfig(delimiter rune, aliases map[string]string) *parsers.InvoiceParserConfig {
	config := parsers.DefaultInvoiceParserConfig()
	config.Delimiter = delimiter
	for standard, actual := range aliases {
		config.ColumnAliases[standard] = actual
	}
	return config
}

// CreateTripParserConfig creates a trip-leg parser configuration
func CreateTripParserConfig(delimiter rune, aliases map[string]string) *parsers.TripLegParserConfig {
	config := parsers.DefaultTripLegParserConfig()
	config.Delimiter = delimiter
	for standard, actual := range aliases {
		config.ColumnAliases[standard] = actual
	}
	return config
}

// CreateOvertimeParserConfig creates an attendance parser configuration
func CreateOvertimeParserConfig(delimiter rune, minOvertimeHours decimal.Decimal, aliases map[string]string) *parsers.OvertimeParserConfig {
	config := parsers.DefaultOvertimeParserConfig()
	config.Delimiter = delimiter
	config.MinOvertimeHours = minOvertimeHours
	for standard, actual := range aliases {
		config.ColumnAliases[standard] = actual
	}
	return config
}

// CreateMatchingConfig creates a matching configuration with the given tolerance
func CreateMatchingConfig(tolerance decimal.Decimal, forcedPairing bool) (*matcher.MatchingConfig, error) {
	config := matcher.DefaultMatchingConfig()
	config.Tolerance = tolerance
	config.EnableForcedPairing = forcedPairing

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateLedgerConfig creates a ledger configuration. A zero daily limit
// disables the over-limit check. Empty placeholders keep blank leg labels blank.
func CreateLedgerConfig(earlyMorningHour int, dailyLimit decimal.Decimal, placeholderOrigin, placeholderDestination string) (*ledger.Config, error) {
	config := ledger.DefaultConfig()
	config.Overtime = overtime.Config{EarlyMorningBoundary: earlyMorningHour}
	config.DailyLimit = dailyLimit
	config.PlaceholderOrigin = strings.TrimSpace(placeholderOrigin)
	config.PlaceholderDestination = strings.TrimSpace(placeholderDestination)

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "early-morning-hour", earlyMorningHour, err).
			WithSuggestion("Use an hour between 0 and 24 and a non-negative daily limit")
	}
	return config, nil
}

// CreateReconcilerConfig creates a reconciler configuration
func CreateReconcilerConfig(maxConcurrentFiles int) *reconciler.Config {
	config := reconciler.DefaultConfig()
	if maxConcurrentFiles > 0 {
		config.MaxConcurrentFiles = maxConcurrentFiles
	}
	config.IncludeStatistics = true
	return config
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()

	switch reporter.OutputFormat(format) {
	case reporter.FormatConsole:
		config.Format = reporter.FormatConsole
		config.IncludeProcessingStats = false
	case reporter.FormatJSON:
		config.Format = reporter.FormatJSON
		config.IncludeProcessingStats = true
	case reporter.FormatCSV:
		config.Format = reporter.FormatCSV
		config.CSVHeaders = true
		config.CSVDelimiter = ','
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", format, nil).
			WithSuggestion("Valid formats: console, json, csv")
	}

	return config, nil
}

// ValidateConfig validates the parser and matching configurations together
func ValidateConfig(
	invoiceConfig *parsers.InvoiceParserConfig,
	tripConfig *parsers.TripLegParserConfig,
	overtimeConfig *parsers.OvertimeParserConfig,
	matchingConfig *matcher.MatchingConfig,
) error {
	if err := invoiceConfig.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "invoice_columns", nil, err)
	}
	if err := tripConfig.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "trip_columns", nil, err)
	}
	if err := overtimeConfig.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "attendance_columns", nil, err)
	}
	return matchingConfig.Validate()
}
