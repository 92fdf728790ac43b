// Package sampledata generates synthetic invoices, trip-sheets and attendance
// records for demos, load tests and invariant tests.
//
// Every generated trip-sheet has one invoice whose amount is close to the
// trip-sheet total unless it is picked as a mismatch. A share of the rides
// happen after midnight, and a share of workdays carry no overtime record.
package sampledata

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"expense-reconciler/internal/models"
)

// Config controls the generated dataset
type Config struct {
	// Seed makes generation reproducible. Zero picks a random seed.
	Seed int64 `json:"seed"`

	TripSheets int       `json:"trip_sheets"`
	MaxLegs    int       `json:"max_legs"`
	Start      time.Time `json:"start"`
	Days       int       `json:"days"`
	Cities     []string  `json:"cities"`

	// EarlyMorningShare is the probability that a ride starts after midnight
	EarlyMorningShare float64 `json:"early_morning_share"`

	// MismatchShare is the probability that an invoice amount is far from its trip-sheet
	MismatchShare float64 `json:"mismatch_share"`

	// MissingOvertimeShare is the probability that a workday has no overtime record
	MissingOvertimeShare float64 `json:"missing_overtime_share"`

	// ExtraInvoices adds invoices without any trip-sheet
	ExtraInvoices int `json:"extra_invoices"`
}

// DefaultConfig returns a small mixed dataset configuration
func DefaultConfig() *Config {
	return &Config{
		TripSheets:           20,
		MaxLegs:              3,
		Start:                time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		Days:                 28,
		Cities:               []string{"Shanghai", "Beijing", "Shenzhen"},
		EarlyMorningShare:    0.3,
		MismatchShare:        0.1,
		MissingOvertimeShare: 0.15,
		ExtraInvoices:        1,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	share := validation.By(func(value interface{}) error {
		if f, _ := value.(float64); f < 0 || f > 1 {
			return validation.NewError("validation_share", "must be between 0 and 1")
		}
		return nil
	})

	return validation.ValidateStruct(c,
		validation.Field(&c.TripSheets, validation.Min(0)),
		validation.Field(&c.MaxLegs, validation.Required, validation.Min(1)),
		validation.Field(&c.Days, validation.Required, validation.Min(1)),
		validation.Field(&c.Cities, validation.Required),
		validation.Field(&c.EarlyMorningShare, share),
		validation.Field(&c.MismatchShare, share),
		validation.Field(&c.MissingOvertimeShare, share),
		validation.Field(&c.ExtraInvoices, validation.Min(0)),
	)
}

// AttendanceRow is one day of the attendance export
type AttendanceRow struct {
	Date          time.Time
	OvertimeHours decimal.Decimal
}

// Dataset is a generated set of inputs
type Dataset struct {
	Invoices   []*models.InvoiceRecord
	TripSheets []*models.TripSheetRecord
	Attendance []AttendanceRow

	// Mismatched lists trip-sheet sources whose invoice is outside any sane tolerance
	Mismatched []string
}

// Files holds the paths written by WriteCSV
type Files struct {
	Invoices   string
	Trips      string
	Attendance string
}

// Generate creates a dataset from cfg
func Generate(cfg *Config) (*Dataset, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	faker := gofakeit.New(cfg.Seed)
	start := civil(cfg.Start)
	ds := &Dataset{}
	workdays := make(map[time.Time]bool)

	for i := 0; i < cfg.TripSheets; i++ {
		workday := start.AddDate(0, 0, faker.Number(0, cfg.Days-1))
		workdays[workday] = true
		city := cfg.Cities[faker.Number(0, len(cfg.Cities)-1)]

		legs := make([]models.TripLeg, 0, cfg.MaxLegs)
		for j := faker.Number(1, cfg.MaxLegs); j > 0; j-- {
			legs = append(legs, randomLeg(faker, workday, cfg.EarlyMorningShare))
		}
		sort.SliceStable(legs, func(a, b int) bool {
			if !legs[a].Date.Equal(legs[b].Date) {
				return legs[a].Date.Before(legs[b].Date)
			}
			return legs[a].Time.Before(legs[b].Time)
		})

		sheet := models.NewTripSheetRecord(fmt.Sprintf("trip-%04d.pdf", i+1), legs, city)
		ds.TripSheets = append(ds.TripSheets, sheet)

		amount := sheet.TotalAmount()
		if faker.Float64Range(0, 1) < cfg.MismatchShare {
			amount = amount.Add(decimal.NewFromInt(int64(faker.Number(5, 60))))
			ds.Mismatched = append(ds.Mismatched, sheet.Source)
		} else {
			// within the default tolerance of 0.50
			amount = amount.Add(decimal.New(int64(faker.Number(-30, 30)), -2))
		}
		if amount.IsNegative() {
			amount = decimal.Zero
		}

		last := legs[len(legs)-1]
		ds.Invoices = append(ds.Invoices, models.NewInvoiceRecord(
			fmt.Sprintf("invoice-%04d.pdf", i+1), amount, last.Date.Format(models.DateLayout), city))
	}

	for i := 0; i < cfg.ExtraInvoices; i++ {
		day := start.AddDate(0, 0, faker.Number(0, cfg.Days-1))
		ds.Invoices = append(ds.Invoices, models.NewInvoiceRecord(
			fmt.Sprintf("invoice-x%03d.pdf", i+1),
			decimal.NewFromFloat(faker.Price(200, 400)).Round(2),
			day.Format(models.DateLayout),
			cfg.Cities[faker.Number(0, len(cfg.Cities)-1)],
		))
	}

	// extraction output order is arbitrary
	faker.ShuffleAnySlice(ds.Invoices)

	days := make([]time.Time, 0, len(workdays))
	for day := range workdays {
		days = append(days, day)
	}
	sort.Slice(days, func(a, b int) bool { return days[a].Before(days[b]) })
	for _, day := range days {
		if faker.Float64Range(0, 1) < cfg.MissingOvertimeShare {
			continue
		}
		hours := decimal.New(int64(faker.Number(2, 10)), 0).Div(decimal.NewFromInt(2))
		ds.Attendance = append(ds.Attendance, AttendanceRow{Date: day, OvertimeHours: hours})
	}

	return ds, nil
}

func randomLeg(faker *gofakeit.Faker, workday time.Time, earlyMorningShare float64) models.TripLeg {
	leg := models.TripLeg{
		Amount:      decimal.NewFromFloat(faker.Price(12, 120)).Round(2),
		Origin:      faker.Street(),
		Destination: faker.Street(),
	}

	if faker.Float64Range(0, 1) < earlyMorningShare {
		leg.Date = workday.AddDate(0, 0, 1)
		leg.Time = models.ClockTime{Hour: faker.Number(0, 4), Minute: faker.Number(0, 59)}
	} else {
		leg.Date = workday
		leg.Time = models.ClockTime{Hour: faker.Number(19, 23), Minute: faker.Number(0, 59)}
	}
	return leg
}

// Calendar returns the attendance rows as an overtime calendar
func (ds *Dataset) Calendar() *models.OvertimeCalendar {
	calendar := models.NewOvertimeCalendar()
	for _, row := range ds.Attendance {
		calendar.Set(row.Date, row.OvertimeHours)
	}
	return calendar
}

// WriteCSV writes invoices.csv, trips.csv and attendance.csv into dir using
// the default column names
func (ds *Dataset) WriteCSV(dir string) (*Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	files := &Files{
		Invoices:   filepath.Join(dir, "invoices.csv"),
		Trips:      filepath.Join(dir, "trips.csv"),
		Attendance: filepath.Join(dir, "attendance.csv"),
	}

	invoices := [][]string{{"source", "total_amount", "date", "city"}}
	for _, inv := range ds.Invoices {
		invoices = append(invoices, []string{inv.Source, inv.TotalAmount.StringFixed(2), inv.Date, inv.City})
	}

	trips := [][]string{{"source", "date", "time", "amount", "origin", "destination", "city"}}
	for _, ts := range ds.TripSheets {
		for _, leg := range ts.Legs {
			trips = append(trips, []string{
				ts.Source,
				leg.Date.Format(models.DateLayout),
				leg.Time.String(),
				leg.Amount.StringFixed(2),
				leg.Origin,
				leg.Destination,
				ts.City,
			})
		}
	}

	attendance := [][]string{{"date", "overtime_hours"}}
	for _, row := range ds.Attendance {
		attendance = append(attendance, []string{row.Date.Format(models.DateLayout), row.OvertimeHours.String()})
	}

	for path, records := range map[string][][]string{
		files.Invoices:   invoices,
		files.Trips:      trips,
		files.Attendance: attendance,
	} {
		if err := writeCSV(path, records); err != nil {
			return nil, err
		}
	}

	return files, nil
}

func writeCSV(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
