// Package overtime attributes taxi legs to the workday whose overtime they
// reimburse.
//
// A ride at 00:40 is booked on the calendar day after the shift it ends, so
// legs inside the early-morning window are re-dated. The previous day wins
// when it has an overtime record; the leg's own date wins only when it has a
// record and the previous day does not; with no record at all the leg falls
// back to the previous day with zero hours. Legs at or after the boundary
// keep their date.
package overtime

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"expense-reconciler/internal/models"
)

// DefaultEarlyMorningBoundary is the first hour that no longer counts as early morning
const DefaultEarlyMorningBoundary = 6

// Notes attached to shifted legs
const (
	NoteSameDayOvertime = "same-day overtime into early morning"
	notePreviousDay     = "matched previous day %s"
	noteNoRecord        = "matched previous day %s (no overtime record)"
)

// Config holds the date-shift tunables
type Config struct {
	// EarlyMorningBoundary is the hour (0-24) below which a pickup counts
	// as part of the previous night's shift. Zero disables shifting.
	EarlyMorningBoundary int `json:"early_morning_boundary"`
}

// DefaultConfig returns the default date-shift configuration
func DefaultConfig() Config {
	return Config{EarlyMorningBoundary: DefaultEarlyMorningBoundary}
}

// Validate checks that the boundary is a valid hour
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.EarlyMorningBoundary, validation.Min(0), validation.Max(24)),
	)
}

// Attribution is the workday a leg is charged to
type Attribution struct {
	Workday       time.Time       `json:"workday"`
	OvertimeHours decimal.Decimal `json:"overtime_hours"`
	Note          string          `json:"note,omitempty"`
	Shifted       bool            `json:"shifted"`
}

// HasOvertime reports whether the workday has an overtime record
func (a Attribution) HasOvertime() bool {
	return a.OvertimeHours.IsPositive()
}

// IsEarlyMorning reports whether a pickup time falls inside the early-morning window
func (c Config) IsEarlyMorning(t models.ClockTime) bool {
	return t.Hour < c.EarlyMorningBoundary
}

// AttributeWorkday decides which workday a leg belongs to. It never fails:
// missing calendar data degrades to zero hours.
func AttributeWorkday(leg models.TripLeg, calendar *models.OvertimeCalendar, cfg Config) Attribution {
	legDate := civil(leg.Date)

	if !cfg.IsEarlyMorning(leg.Time) {
		hours, _ := calendar.Lookup(legDate)
		return Attribution{Workday: legDate, OvertimeHours: hours}
	}

	prev := legDate.AddDate(0, 0, -1)
	if hours, ok := calendar.Lookup(prev); ok {
		return Attribution{
			Workday:       prev,
			OvertimeHours: hours,
			Note:          fmt.Sprintf(notePreviousDay, prev.Format(models.DateLayout)),
			Shifted:       true,
		}
	}

	if hours, ok := calendar.Lookup(legDate); ok {
		return Attribution{
			Workday:       legDate,
			OvertimeHours: hours,
			Note:          NoteSameDayOvertime,
		}
	}

	return Attribution{
		Workday:       prev,
		OvertimeHours: decimal.Zero,
		Note:          fmt.Sprintf(noteNoRecord, prev.Format(models.DateLayout)),
		Shifted:       true,
	}
}

// civil drops any time-of-day component so calendar arithmetic stays on dates
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
