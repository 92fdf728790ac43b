package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// DateLayout is the canonical civil-date layout used across the reconciler
const DateLayout = "2006-01-02"

// InvoiceRecord represents one paid taxi receipt as emitted by the extraction step
type InvoiceRecord struct {
	Source      string          `json:"source" csv:"source"`
	TotalAmount decimal.Decimal `json:"total_amount" csv:"total_amount"`
	Date        string          `json:"date" csv:"date"`
	City        string          `json:"city" csv:"city"`
}

// NewInvoiceRecord creates a new InvoiceRecord instance
func NewInvoiceRecord(source string, amount decimal.Decimal, date, city string) *InvoiceRecord {
	return &InvoiceRecord{
		Source:      source,
		TotalAmount: amount,
		Date:        date,
		City:        city,
	}
}

// Validate performs boundary validation on the invoice
func (inv *InvoiceRecord) Validate() error {
	return validation.ValidateStruct(inv,
		validation.Field(&inv.Source, validation.Required),
		validation.Field(&inv.TotalAmount, validation.By(nonNegativeAmount)),
	)
}

// String returns a string representation of the InvoiceRecord
func (inv *InvoiceRecord) String() string {
	return fmt.Sprintf("Invoice{Source: %s, Amount: %s, Date: %s, City: %s}",
		inv.Source, inv.TotalAmount.StringFixed(2), inv.Date, inv.City)
}

// MarshalJSON renders the amount as a fixed two-decimal string
func (inv *InvoiceRecord) MarshalJSON() ([]byte, error) {
	type Alias InvoiceRecord
	return json.Marshal(&struct {
		TotalAmount string `json:"total_amount"`
		*Alias
	}{
		TotalAmount: inv.TotalAmount.StringFixed(2),
		Alias:       (*Alias)(inv),
	})
}

// ClockTime is a wall-clock pickup time without a date
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// String formats the clock time as HH:MM
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Before reports whether c is strictly earlier in the day than other
func (c ClockTime) Before(other ClockTime) bool {
	if c.Hour != other.Hour {
		return c.Hour < other.Hour
	}
	return c.Minute < other.Minute
}

// Validate checks that the clock time is within 00:00-23:59
func (c ClockTime) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Hour, validation.Min(0), validation.Max(23)),
		validation.Field(&c.Minute, validation.Min(0), validation.Max(59)),
	)
}

// TripLeg represents one ride segment inside a trip-sheet
type TripLeg struct {
	Date        time.Time       `json:"date"`
	Time        ClockTime       `json:"time"`
	Amount      decimal.Decimal `json:"amount"`
	Origin      string          `json:"origin"`
	Destination string          `json:"destination"`
}

// Validate performs boundary validation on the leg
func (l *TripLeg) Validate() error {
	return validation.ValidateStruct(l,
		validation.Field(&l.Date, validation.Required),
		validation.Field(&l.Time),
		validation.Field(&l.Amount, validation.By(nonNegativeAmount)),
	)
}

// String returns a string representation of the TripLeg
func (l *TripLeg) String() string {
	return fmt.Sprintf("Leg{%s %s, Amount: %s, %s -> %s}",
		l.Date.Format(DateLayout), l.Time, l.Amount.StringFixed(2), l.Origin, l.Destination)
}

// MarshalJSON renders the civil date and clock time in their text forms
func (l TripLeg) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		Date        string `json:"date"`
		Time        string `json:"time"`
		Amount      string `json:"amount"`
		Origin      string `json:"origin"`
		Destination string `json:"destination"`
	}{
		Date:        l.Date.Format(DateLayout),
		Time:        l.Time.String(),
		Amount:      l.Amount.StringFixed(2),
		Origin:      l.Origin,
		Destination: l.Destination,
	})
}

// TripSheetRecord represents one ride-detail document aggregating its legs
type TripSheetRecord struct {
	Source string    `json:"source"`
	Legs   []TripLeg `json:"legs"`
	City   string    `json:"city"`
}

// NewTripSheetRecord creates a trip-sheet owning a copy of the given legs
func NewTripSheetRecord(source string, legs []TripLeg, city string) *TripSheetRecord {
	owned := make([]TripLeg, len(legs))
	copy(owned, legs)
	return &TripSheetRecord{
		Source: source,
		Legs:   owned,
		City:   city,
	}
}

// TotalAmount returns the sum of the leg amounts
func (ts *TripSheetRecord) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, leg := range ts.Legs {
		total = total.Add(leg.Amount)
	}
	return total
}

// Validate performs boundary validation on the trip-sheet and each of its legs
func (ts *TripSheetRecord) Validate() error {
	return validation.ValidateStruct(ts,
		validation.Field(&ts.Source, validation.Required),
		validation.Field(&ts.Legs, validation.Required, validation.Each(validation.By(validLeg))),
	)
}

func validLeg(value interface{}) error {
	leg, ok := value.(TripLeg)
	if !ok {
		return validation.NewError("validation_trip_leg", "must be a trip leg")
	}
	return leg.Validate()
}

// String returns a string representation of the TripSheetRecord
func (ts *TripSheetRecord) String() string {
	return fmt.Sprintf("TripSheet{Source: %s, Legs: %d, Total: %s, City: %s}",
		ts.Source, len(ts.Legs), ts.TotalAmount().StringFixed(2), ts.City)
}

// MarshalJSON includes the computed total
func (ts *TripSheetRecord) MarshalJSON() ([]byte, error) {
	type Alias TripSheetRecord
	return json.Marshal(&struct {
		TotalAmount string `json:"total_amount"`
		*Alias
	}{
		TotalAmount: ts.TotalAmount().StringFixed(2),
		Alias:       (*Alias)(ts),
	})
}

// OvertimeCalendar maps workdays to approved overtime hours. Only positive
// hours are stored, so a lookup miss means "no overtime record".
type OvertimeCalendar struct {
	hours map[string]decimal.Decimal
}

// NewOvertimeCalendar creates an empty calendar
func NewOvertimeCalendar() *OvertimeCalendar {
	return &OvertimeCalendar{hours: make(map[string]decimal.Decimal)}
}

// Set records overtime hours for a workday. Non-positive hours are ignored.
func (c *OvertimeCalendar) Set(day time.Time, hours decimal.Decimal) {
	if !hours.IsPositive() {
		return
	}
	c.hours[day.Format(DateLayout)] = hours
}

// Delete removes any overtime record for day
func (c *OvertimeCalendar) Delete(day time.Time) {
	if c == nil {
		return
	}
	delete(c.hours, day.Format(DateLayout))
}

// Lookup returns the overtime hours recorded for day
func (c *OvertimeCalendar) Lookup(day time.Time) (decimal.Decimal, bool) {
	if c == nil {
		return decimal.Zero, false
	}
	h, ok := c.hours[day.Format(DateLayout)]
	return h, ok
}

// Len returns the number of workdays with overtime
func (c *OvertimeCalendar) Len() int {
	if c == nil {
		return 0
	}
	return len(c.hours)
}

// Dates returns the recorded workdays in ascending order
func (c *OvertimeCalendar) Dates() []string {
	if c == nil {
		return nil
	}
	dates := make([]string, 0, len(c.hours))
	for d := range c.hours {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// TotalHours sums all recorded overtime
func (c *OvertimeCalendar) TotalHours() decimal.Decimal {
	total := decimal.Zero
	if c == nil {
		return total
	}
	for _, h := range c.hours {
		total = total.Add(h)
	}
	return total
}

func nonNegativeAmount(value interface{}) error {
	amount, ok := value.(decimal.Decimal)
	if !ok {
		return fmt.Errorf("must be a decimal amount")
	}
	if amount.IsNegative() {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

// Utility functions for type conversion and validation

var weekdaySuffix = regexp.MustCompile(`\s+(星期.|周.|[A-Za-z]+\.?)$`)

// ParseDecimalFromString parses a decimal value from string with validation
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	// Remove currency symbols and thousand separators
	for _, sym := range []string{"¥", "￥", "$", "元", "RMB", "CNY", ","} {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseCivilDate parses a calendar date, tolerating a trailing weekday token
// such as "2026/01/20 星期二" or "2026-01-20 Tue".
func ParseCivilDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}
	s = weekdaySuffix.ReplaceAllString(s, "")

	formats := []string{
		DateLayout,
		"2006/01/02",
		"2006.01.02",
		"2006-1-2",
		"2006/1/2",
		"2006年01月02日",
		"2006年1月2日",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date '%s'", s)
}

// ParseClockTime parses a 24-hour HH:MM (or HH:MM:SS) pickup time
func ParseClockTime(s string) (ClockTime, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "：", ":"))
	if s == "" {
		return ClockTime{}, fmt.Errorf("time string cannot be empty")
	}

	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
		}
	}

	return ClockTime{}, fmt.Errorf("unable to parse clock time '%s'", s)
}

// CompareAmountsWithTolerance compares two decimal amounts with a tolerance
func CompareAmountsWithTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// CreateInvoiceFromCSV creates an InvoiceRecord from CSV field values
func CreateInvoiceFromCSV(source, amountStr, dateStr, city string) (*InvoiceRecord, error) {
	amount, err := ParseDecimalFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("invalid amount in CSV: %w", err)
	}

	// Invoice dates are informational; an unparseable one is kept verbatim.
	date := strings.TrimSpace(dateStr)
	if parsed, err := ParseCivilDate(date); err == nil {
		date = parsed.Format(DateLayout)
	}

	invoice := NewInvoiceRecord(strings.TrimSpace(source), amount, date, strings.TrimSpace(city))
	if err := invoice.Validate(); err != nil {
		return nil, fmt.Errorf("invalid invoice data: %w", err)
	}

	return invoice, nil
}

// CreateTripLegFromCSV creates a TripLeg from CSV field values
func CreateTripLegFromCSV(dateStr, timeStr, amountStr, origin, destination string) (*TripLeg, error) {
	date, err := ParseCivilDate(dateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid date in CSV: %w", err)
	}

	clock, err := ParseClockTime(timeStr)
	if err != nil {
		return nil, fmt.Errorf("invalid time in CSV: %w", err)
	}

	amount, err := ParseDecimalFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("invalid amount in CSV: %w", err)
	}

	leg := &TripLeg{
		Date:        date,
		Time:        clock,
		Amount:      amount,
		Origin:      strings.TrimSpace(origin),
		Destination: strings.TrimSpace(destination),
	}
	if err := leg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trip leg data: %w", err)
	}

	return leg, nil
}
