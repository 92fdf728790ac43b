package parsers

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// headerSynonyms lists alternative header spellings seen in exported
// spreadsheets, keyed by the standard column name.
var headerSynonyms = map[string][]string{
	"source":         {"file", "filename", "document", "文件名"},
	"total_amount":   {"amount", "total", "金额", "价税合计"},
	"amount":         {"fare", "金额", "金额(元)"},
	"date":           {"invoice_date", "trip_date", "日期", "开票日期", "乘车日期"},
	"time":           {"pickup_time", "上车时间", "时间"},
	"city":           {"城市"},
	"origin":         {"from", "起点"},
	"destination":    {"to", "终点"},
	"overtime_hours": {"overtime", "加班时长"},
	"standard_hours": {"standard", "标准工时"},
	"actual_hours":   {"actual", "实际工时"},
}

// InvoiceParserConfig holds configuration for parsing invoice CSV files
type InvoiceParserConfig struct {
	SourceColumn  string            `json:"source_column"`
	AmountColumn  string            `json:"amount_column"`
	DateColumn    string            `json:"date_column"`
	CityColumn    string            `json:"city_column"`
	HasHeader     bool              `json:"has_header"`
	Delimiter     rune              `json:"delimiter"`
	ColumnAliases map[string]string `json:"column_aliases,omitempty"`
}

// Validate checks if the invoice parser configuration is valid
func (c *InvoiceParserConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SourceColumn, validation.Required),
		validation.Field(&c.AmountColumn, validation.Required),
	)
}

// GetColumnName returns the actual column name, checking aliases first
func (c *InvoiceParserConfig) GetColumnName(standardName string) string {
	if alias, exists := c.ColumnAliases[standardName]; exists {
		return alias
	}

	switch standardName {
	case "source":
		return c.SourceColumn
	case "total_amount":
		return c.AmountColumn
	case "date":
		return c.DateColumn
	case "city":
		return c.CityColumn
	default:
		return standardName
	}
}

// DefaultInvoiceParserConfig returns a configuration with standard defaults
func DefaultInvoiceParserConfig() *InvoiceParserConfig {
	return &InvoiceParserConfig{
		SourceColumn:  "source",
		AmountColumn:  "total_amount",
		DateColumn:    "date",
		CityColumn:    "city",
		HasHeader:     true,
		Delimiter:     ',',
		ColumnAliases: make(map[string]string),
	}
}

// TripLegParserConfig holds configuration for parsing trip-leg CSV files.
// Each row is one leg; rows sharing a source value form one trip-sheet. When
// the file has no source column, the whole file is a single trip-sheet named
// after the file.
type TripLegParserConfig struct {
	SourceColumn      string            `json:"source_column"`
	DateColumn        string            `json:"date_column"`
	TimeColumn        string            `json:"time_column"`
	AmountColumn      string            `json:"amount_column"`
	OriginColumn      string            `json:"origin_column"`
	DestinationColumn string            `json:"destination_column"`
	CityColumn        string            `json:"city_column"`
	HasHeader         bool              `json:"has_header"`
	Delimiter         rune              `json:"delimiter"`
	ColumnAliases     map[string]string `json:"column_aliases,omitempty"`
}

// Validate checks if the trip-leg parser configuration is valid
func (c *TripLegParserConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DateColumn, validation.Required),
		validation.Field(&c.TimeColumn, validation.Required),
		validation.Field(&c.AmountColumn, validation.Required),
	)
}

// GetColumnName returns the actual column name, checking aliases first
func (c *TripLegParserConfig) GetColumnName(standardName string) string {
	if alias, exists := c.ColumnAliases[standardName]; exists {
		return alias
	}

	switch standardName {
	case "source":
		return c.SourceColumn
	case "date":
		return c.DateColumn
	case "time":
		return c.TimeColumn
	case "amount":
		return c.AmountColumn
	case "origin":
		return c.OriginColumn
	case "destination":
		return c.DestinationColumn
	case "city":
		return c.CityColumn
	default:
		return standardName
	}
}

// DefaultTripLegParserConfig returns a configuration with standard defaults
func DefaultTripLegParserConfig() *TripLegParserConfig {
	return &TripLegParserConfig{
		SourceColumn:      "source",
		DateColumn:        "date",
		TimeColumn:        "time",
		AmountColumn:      "amount",
		OriginColumn:      "origin",
		DestinationColumn: "destination",
		CityColumn:        "city",
		HasHeader:         true,
		Delimiter:         ',',
		ColumnAliases:     make(map[string]string),
	}
}

// OvertimeParserConfig holds configuration for parsing attendance CSV files
type OvertimeParserConfig struct {
	DateColumn           string            `json:"date_column"`
	OvertimeColumn       string            `json:"overtime_column"`
	StandardColumn       string            `json:"standard_column"`
	ActualColumn         string            `json:"actual_column"`
	DefaultStandardHours decimal.Decimal   `json:"default_standard_hours"`
	MinOvertimeHours     decimal.Decimal   `json:"min_overtime_hours"`
	HasHeader            bool              `json:"has_header"`
	Delimiter            rune              `json:"delimiter"`
	ColumnAliases        map[string]string `json:"column_aliases,omitempty"`
}

// Validate checks if the overtime parser configuration is valid
func (c *OvertimeParserConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DateColumn, validation.Required),
		validation.Field(&c.DefaultStandardHours, validation.By(func(value interface{}) error {
			if d, _ := value.(decimal.Decimal); !d.IsPositive() {
				return fmt.Errorf("must be positive")
			}
			return nil
		})),
		validation.Field(&c.MinOvertimeHours, validation.By(func(value interface{}) error {
			if d, _ := value.(decimal.Decimal); d.IsNegative() {
				return fmt.Errorf("must not be negative")
			}
			return nil
		})),
	)
}

// GetColumnName returns the actual column name, checking aliases first
func (c *OvertimeParserConfig) GetColumnName(standardName string) string {
	if alias, exists := c.ColumnAliases[standardName]; exists {
		return alias
	}

	switch standardName {
	case "date":
		return c.DateColumn
	case "overtime_hours":
		return c.OvertimeColumn
	case "standard_hours":
		return c.StandardColumn
	case "actual_hours":
		return c.ActualColumn
	default:
		return standardName
	}
}

// DefaultOvertimeParserConfig returns a configuration with standard defaults
func DefaultOvertimeParserConfig() *OvertimeParserConfig {
	return &OvertimeParserConfig{
		DateColumn:           "date",
		OvertimeColumn:       "overtime_hours",
		StandardColumn:       "standard_hours",
		ActualColumn:         "actual_hours",
		DefaultStandardHours: decimal.NewFromInt(8),
		MinOvertimeHours:     decimal.NewFromInt(1),
		HasHeader:            true,
		Delimiter:            ',',
		ColumnAliases:        make(map[string]string),
	}
}

// ParseDelimiter converts a user-supplied delimiter name into a rune
func ParseDelimiter(s string) (rune, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", ",", "comma":
		return ',', nil
	case ";", "semicolon":
		return ';', nil
	case "\\t", "tab":
		return '\t', nil
	case "|", "pipe":
		return '|', nil
	default:
		return 0, fmt.Errorf("unsupported delimiter %q", s)
	}
}
