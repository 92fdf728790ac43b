// Package ledger turns matched trip-sheets into reimbursement rows grouped by
// overtime workday.
package ledger

import (
	"encoding/json"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"expense-reconciler/internal/matcher"
	"expense-reconciler/internal/models"
	"expense-reconciler/internal/overtime"
)

// Config controls ledger construction
type Config struct {
	Overtime overtime.Config `json:"overtime"`

	// DailyLimit flags workdays whose taxi subtotal exceeds it. Zero disables the check.
	DailyLimit decimal.Decimal `json:"daily_limit"`

	// Substituted for empty origin/destination labels. Empty keeps the raw label.
	PlaceholderOrigin      string `json:"placeholder_origin,omitempty"`
	PlaceholderDestination string `json:"placeholder_destination,omitempty"`
}

// DefaultConfig returns a ledger configuration with no daily limit and no placeholders
func DefaultConfig() *Config {
	return &Config{
		Overtime:   overtime.DefaultConfig(),
		DailyLimit: decimal.Zero,
	}
}

// Validate checks the ledger configuration
func (c *Config) Validate() error {
	if err := c.Overtime.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.DailyLimit, validation.By(func(value interface{}) error {
			if value.(decimal.Decimal).IsNegative() {
				return validation.NewError("validation_daily_limit_negative", "must not be negative")
			}
			return nil
		})),
	)
}

// Row is one reimbursable ride
type Row struct {
	No              int              `json:"no"`
	Workday         time.Time        `json:"-"`
	OvertimeHours   decimal.Decimal  `json:"overtime_hours"`
	Amount          decimal.Decimal  `json:"amount"`
	Origin          string           `json:"origin"`
	Destination     string           `json:"destination"`
	Note            string           `json:"note,omitempty"`
	TripDate        time.Time        `json:"-"`
	TripTime        models.ClockTime `json:"-"`
	InvoiceSource   string           `json:"invoice_source"`
	TripSheetSource string           `json:"trip_sheet_source"`
	Forced          bool             `json:"forced"`
	Justified       bool             `json:"justified"`
}

// WorkdayString returns the workday as YYYY-MM-DD
func (r *Row) WorkdayString() string {
	return r.Workday.Format(models.DateLayout)
}

// TripDateString returns the original ride date as YYYY-MM-DD
func (r *Row) TripDateString() string {
	return r.TripDate.Format(models.DateLayout)
}

// MarshalJSON renders dates and times as plain strings
func (r *Row) MarshalJSON() ([]byte, error) {
	type Alias Row
	return json.Marshal(&struct {
		*Alias
		Workday       string `json:"workday"`
		TripDate      string `json:"trip_date"`
		TripTime      string `json:"trip_time"`
		OvertimeHours string `json:"overtime_hours"`
		Amount        string `json:"amount"`
	}{
		Alias:         (*Alias)(r),
		Workday:       r.WorkdayString(),
		TripDate:      r.TripDateString(),
		TripTime:      r.TripTime.String(),
		OvertimeHours: r.OvertimeHours.String(),
		Amount:        r.Amount.StringFixed(2),
	})
}

// Group collects the rows of one workday
type Group struct {
	Workday       time.Time       `json:"-"`
	Rows          []*Row          `json:"-"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	OvertimeHours decimal.Decimal `json:"overtime_hours"`
	OverLimit     bool            `json:"over_limit"`
}

// WorkdayString returns the workday as YYYY-MM-DD
func (g *Group) WorkdayString() string {
	return g.Workday.Format(models.DateLayout)
}

// MarshalJSON lists the row numbers of the group instead of repeating the rows
func (g *Group) MarshalJSON() ([]byte, error) {
	rows := make([]int, len(g.Rows))
	for i, r := range g.Rows {
		rows[i] = r.No
	}
	type Alias Group
	return json.Marshal(&struct {
		*Alias
		Workday  string `json:"workday"`
		RowNos   []int  `json:"rows"`
		Subtotal string `json:"subtotal"`
	}{
		Alias:    (*Alias)(g),
		Workday:  g.WorkdayString(),
		RowNos:   rows,
		Subtotal: g.Subtotal.StringFixed(2),
	})
}

// Totals aggregates the whole ledger
type Totals struct {
	Rows              int             `json:"rows"`
	Workdays          int             `json:"workdays"`
	Amount            decimal.Decimal `json:"amount"`
	JustifiedAmount   decimal.Decimal `json:"justified_amount"`
	UnjustifiedAmount decimal.Decimal `json:"unjustified_amount"`
	OverLimitWorkdays int             `json:"over_limit_workdays"`
	ShiftedRows       int             `json:"shifted_rows"`
	ForcedRows        int             `json:"forced_rows"`
}

// Ledger is the reimbursement table
type Ledger struct {
	Rows   []*Row   `json:"rows"`
	Groups []*Group `json:"groups"`
	Totals Totals   `json:"totals"`
}

// Build produces one row per leg of every match, attributed to its workday
// and ordered by (workday, trip date, trip time). Rows without an overtime
// record are kept and marked unjustified.
func Build(matches []*matcher.MatchResult, calendar *models.OvertimeCalendar, cfg *Config) *Ledger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Ledger{
		Rows:   make([]*Row, 0),
		Groups: make([]*Group, 0),
	}

	shifted := 0
	for _, m := range matches {
		if m == nil {
			continue
		}
		for _, leg := range m.Legs {
			attr := overtime.AttributeWorkday(leg, calendar, cfg.Overtime)
			if attr.Shifted {
				shifted++
			}
			l.Rows = append(l.Rows, &Row{
				Workday:         attr.Workday,
				OvertimeHours:   attr.OvertimeHours,
				Amount:          leg.Amount,
				Origin:          label(leg.Origin, cfg.PlaceholderOrigin),
				Destination:     label(leg.Destination, cfg.PlaceholderDestination),
				Note:            attr.Note,
				TripDate:        leg.Date,
				TripTime:        leg.Time,
				InvoiceSource:   m.Invoice.Source,
				TripSheetSource: m.TripSheet.Source,
				Forced:          m.IsForced(),
				Justified:       attr.HasOvertime(),
			})
		}
	}

	sort.SliceStable(l.Rows, func(a, b int) bool {
		ra, rb := l.Rows[a], l.Rows[b]
		if !ra.Workday.Equal(rb.Workday) {
			return ra.Workday.Before(rb.Workday)
		}
		if !ra.TripDate.Equal(rb.TripDate) {
			return ra.TripDate.Before(rb.TripDate)
		}
		return ra.TripTime.Before(rb.TripTime)
	})

	l.Totals = Totals{
		Amount:            decimal.Zero,
		JustifiedAmount:   decimal.Zero,
		UnjustifiedAmount: decimal.Zero,
		ShiftedRows:       shifted,
	}

	var current *Group
	for i, row := range l.Rows {
		row.No = i + 1

		if current == nil || !current.Workday.Equal(row.Workday) {
			current = &Group{
				Workday:       row.Workday,
				Subtotal:      decimal.Zero,
				OvertimeHours: row.OvertimeHours,
			}
			l.Groups = append(l.Groups, current)
		}
		current.Rows = append(current.Rows, row)
		current.Subtotal = current.Subtotal.Add(row.Amount)

		l.Totals.Amount = l.Totals.Amount.Add(row.Amount)
		if row.Justified {
			l.Totals.JustifiedAmount = l.Totals.JustifiedAmount.Add(row.Amount)
		} else {
			l.Totals.UnjustifiedAmount = l.Totals.UnjustifiedAmount.Add(row.Amount)
		}
		if row.Forced {
			l.Totals.ForcedRows++
		}
	}

	for _, g := range l.Groups {
		if cfg.DailyLimit.IsPositive() && g.Subtotal.GreaterThan(cfg.DailyLimit) {
			g.OverLimit = true
			l.Totals.OverLimitWorkdays++
		}
	}

	l.Totals.Rows = len(l.Rows)
	l.Totals.Workdays = len(l.Groups)

	return l
}

// UnjustifiedRows returns the rows charged to a workday with no overtime record
func (l *Ledger) UnjustifiedRows() []*Row {
	var rows []*Row
	for _, r := range l.Rows {
		if !r.Justified {
			rows = append(rows, r)
		}
	}
	return rows
}

// OverLimitGroups returns the workdays whose subtotal exceeds the daily limit
func (l *Ledger) OverLimitGroups() []*Group {
	var groups []*Group
	for _, g := range l.Groups {
		if g.OverLimit {
			groups = append(groups, g)
		}
	}
	return groups
}

func label(raw, placeholder string) string {
	if raw == "" && placeholder != "" {
		return placeholder
	}
	return raw
}
