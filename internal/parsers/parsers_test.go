package parsers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"expense-reconciler/internal/models"
	"expense-reconciler/pkg/errors"
)

// Helper function to create a CSV file in the test's temp dir
func createTempCSVFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

func mustDay(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		t.Fatalf("bad date %s: %v", s, err)
	}
	return d
}

func TestDefaultParseConfig(t *testing.T) {
	config := DefaultParseConfig()

	if !config.HasHeader {
		t.Error("Expected HasHeader to be true")
	}
	if config.Delimiter != ',' {
		t.Errorf("Expected delimiter to be ',', got %q", config.Delimiter)
	}
	if !config.SkipEmptyRows {
		t.Error("Expected SkipEmptyRows to be true")
	}
}

func TestParseDelimiter(t *testing.T) {
	tests := []struct {
		input     string
		expected  rune
		wantError bool
	}{
		{"", ',', false},
		{"comma", ',', false},
		{";", ';', false},
		{"tab", '\t', false},
		{"pipe", '|', false},
		{"colon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDelimiter(tt.input)
			if (err != nil) != tt.wantError {
				t.Fatalf("ParseDelimiter() error = %v, wantError %v", err, tt.wantError)
			}
			if got != tt.expected {
				t.Errorf("ParseDelimiter() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestInvoiceParser_ParseInvoices(t *testing.T) {
	content := `source,total_amount,date,city
inv-001.pdf,100.00,2026-01-20,Shanghai
inv-002.pdf,¥42.50,2026/01/21,

inv-003.pdf,not-a-number,2026-01-22,Beijing
inv-004.pdf,100.00,2026-01-20,Shanghai
`
	path := createTempCSVFile(t, "invoices.csv", content)

	parser, err := NewInvoiceParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	invoices, stats, err := parser.ParseInvoices(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(invoices) != 3 {
		t.Fatalf("Expected 3 invoices, got %d", len(invoices))
	}
	if stats.ErrorCount != 1 {
		t.Errorf("Expected 1 row error, got %d", stats.ErrorCount)
	}
	if stats.RecordsValid != 3 {
		t.Errorf("Expected 3 valid records, got %d", stats.RecordsValid)
	}

	// file order is preserved and identical rows are both retained
	if invoices[0].Source != "inv-001.pdf" || invoices[2].Source != "inv-004.pdf" {
		t.Errorf("Unexpected order: %s, %s", invoices[0].Source, invoices[2].Source)
	}
	if !invoices[1].TotalAmount.Equal(decimal.RequireFromString("42.5")) {
		t.Errorf("Expected 42.50, got %s", invoices[1].TotalAmount)
	}
	if invoices[1].Date != "2026-01-21" {
		t.Errorf("Expected normalised date, got %s", invoices[1].Date)
	}
}

func TestInvoiceParser_HeaderSynonymsAndBOM(t *testing.T) {
	content := "\ufeff文件名,金额,开票日期,城市\ninv-001.pdf,35.00,2026-01-20,上海\n"
	path := createTempCSVFile(t, "invoices.csv", content)

	parser, err := NewInvoiceParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	invoices, _, err := parser.ParseInvoices(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(invoices) != 1 || invoices[0].City != "上海" {
		t.Fatalf("Expected one invoice in 上海, got %v", invoices)
	}
}

func TestInvoiceParser_Errors(t *testing.T) {
	parser, err := NewInvoiceParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	t.Run("missing file", func(t *testing.T) {
		_, _, err := parser.ParseInvoices(filepath.Join(t.TempDir(), "nope.csv"))
		if !errors.IsCategory(err, errors.CategoryFile) {
			t.Errorf("Expected file error, got %v", err)
		}
	})

	t.Run("missing column", func(t *testing.T) {
		path := createTempCSVFile(t, "bad.csv", "source,city\ninv-001.pdf,Shanghai\n")
		_, _, err := parser.ParseInvoices(path)
		rerr, ok := errors.AsReconcilerError(err)
		if !ok || rerr.Code != errors.CodeMissingColumn {
			t.Errorf("Expected missing column error, got %v", err)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := createTempCSVFile(t, "empty.csv", "")
		_, _, err := parser.ParseInvoices(path)
		if !errors.IsCategory(err, errors.CategoryValidation) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewInvoiceParser(&InvoiceParserConfig{})
		if !errors.IsCategory(err, errors.CategoryConfiguration) {
			t.Errorf("Expected configuration error, got %v", err)
		}
	})
}

func TestInvoiceParser_Cancelled(t *testing.T) {
	path := createTempCSVFile(t, "invoices.csv", "source,total_amount\ninv-001.pdf,10\n")
	parser, err := NewInvoiceParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = parser.ParseInvoicesWithContext(ctx, path)
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Code != errors.CodeCancelled {
		t.Errorf("Expected cancellation error, got %v", err)
	}
}

func TestTripSheetParser_GroupsLegsBySource(t *testing.T) {
	content := `source,date,time,amount,origin,destination,city
trip-b.pdf,2026-01-20,00:40,35.20,Office,Home,Shanghai
trip-a.pdf,2026-01-21,22:15,48.80,Office,Home,
trip-b.pdf,2026-01-22,23:05,30.00,Office,Home,Shanghai
trip-a.pdf,2026-01-23,bad,10.00,Office,Home,Shanghai
trip-a.pdf,2026-01-24,01:10,20.00,Office,Home,Beijing
`
	path := createTempCSVFile(t, "legs.csv", content)

	parser, err := NewTripSheetParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	sheets, stats, err := parser.ParseTripSheets(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(sheets) != 2 {
		t.Fatalf("Expected 2 trip-sheets, got %d", len(sheets))
	}
	if stats.ErrorCount != 1 {
		t.Errorf("Expected 1 row error, got %d", stats.ErrorCount)
	}

	b, a := sheets[0], sheets[1]
	if b.Source != "trip-b.pdf" || a.Source != "trip-a.pdf" {
		t.Errorf("Expected first-seen order [trip-b trip-a], got [%s %s]", b.Source, a.Source)
	}
	if len(b.Legs) != 2 || !b.TotalAmount().Equal(decimal.RequireFromString("65.20")) {
		t.Errorf("Unexpected trip-b: %s", b)
	}
	if !b.Legs[0].Date.Equal(mustDay(t, "2026-01-20")) || b.Legs[0].Time != (models.ClockTime{Hour: 0, Minute: 40}) {
		t.Errorf("Expected legs in file order, got %s", b.Legs[0].String())
	}
	if a.City != "Beijing" {
		t.Errorf("Expected first non-empty city Beijing, got %q", a.City)
	}
}

func TestTripSheetParser_NoSourceColumn(t *testing.T) {
	content := `date,time,amount
2026-01-20,00:40,35.20
2026-01-21,21:00,40.00
`
	path := createTempCSVFile(t, "didi-2026-01.csv", content)

	parser, err := NewTripSheetParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	sheets, _, err := parser.ParseTripSheets(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(sheets) != 1 || sheets[0].Source != "didi-2026-01.csv" || len(sheets[0].Legs) != 2 {
		t.Fatalf("Expected a single sheet named after the file, got %v", sheets)
	}
}

func TestOvertimeParser_ParseCalendar(t *testing.T) {
	content := `date,standard_hours,actual_hours,overtime_hours
2026/01/19 星期一,8,11.5,
2026/01/20 星期二,,8.5,
2026/01/21 星期三,10,9,
2026/01/22 星期四,,,2
not a date,8,10,
`
	path := createTempCSVFile(t, "attendance.csv", content)

	parser, err := NewOvertimeParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	calendar, stats, err := parser.ParseCalendar(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if stats.ErrorCount != 1 {
		t.Errorf("Expected 1 row error, got %d", stats.ErrorCount)
	}

	tests := []struct {
		date     string
		expected string
		present  bool
	}{
		{"2026-01-19", "3.5", true},
		{"2026-01-20", "", false}, // 0.5h is below the 1h minimum
		{"2026-01-21", "", false},
		{"2026-01-22", "2", true},
	}

	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			hours, ok := calendar.Lookup(mustDay(t, tt.date))
			if ok != tt.present {
				t.Fatalf("Expected present=%v, got %v", tt.present, ok)
			}
			if ok && !hours.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("Expected %s hours, got %s", tt.expected, hours)
			}
		})
	}
}

func TestOvertimeParser_LaterRowWins(t *testing.T) {
	content := `date,overtime_hours
2026-01-19,3
2026-01-19,0.5
2026-01-20,0.5
2026-01-20,2
`
	path := createTempCSVFile(t, "attendance.csv", content)

	parser, err := NewOvertimeParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	calendar, _, err := parser.ParseCalendar(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if hours, ok := calendar.Lookup(mustDay(t, "2026-01-19")); ok {
		t.Errorf("Expected later 0.5h row to clear 2026-01-19, got %s", hours)
	}
	hours, ok := calendar.Lookup(mustDay(t, "2026-01-20"))
	if !ok || !hours.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Expected 2 hours on 2026-01-20, got %s (found %v)", hours, ok)
	}
}

func TestOvertimeParser_RequiresHoursColumn(t *testing.T) {
	path := createTempCSVFile(t, "attendance.csv", "date,notes\n2026-01-20,late\n")

	parser, err := NewOvertimeParser(nil)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}

	_, _, err = parser.ParseCalendar(path)
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Code != errors.CodeMissingColumn {
		t.Errorf("Expected missing column error, got %v", err)
	}
}

func TestOvertimeParserConfig_Validate(t *testing.T) {
	config := DefaultOvertimeParserConfig()
	config.MinOvertimeHours = decimal.NewFromInt(-1)
	if err := config.Validate(); err == nil {
		t.Error("Expected negative minimum to be rejected")
	}

	config = DefaultOvertimeParserConfig()
	config.DefaultStandardHours = decimal.Zero
	if err := config.Validate(); err == nil {
		t.Error("Expected zero standard hours to be rejected")
	}
}
