package parsers

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"expense-reconciler/internal/models"
	"expense-reconciler/pkg/errors"
	"expense-reconciler/pkg/logger"
)

// OvertimeParser folds attendance rows into an OvertimeCalendar
type OvertimeParser struct {
	*BaseParser
	config *OvertimeParserConfig
	logger logger.Logger
}

// NewOvertimeParser creates a new OvertimeParser with the given configuration
func NewOvertimeParser(config *OvertimeParserConfig) (*OvertimeParser, error) {
	if config == nil {
		config = DefaultOvertimeParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"overtime_parser_config",
			config,
			err,
		)
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader
	parseConfig.Delimiter = config.Delimiter

	return &OvertimeParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("overtime_parser"),
	}, nil
}

// ParseCalendar parses an attendance CSV file
func (op *OvertimeParser) ParseCalendar(filePath string) (*models.OvertimeCalendar, *ParseStats, error) {
	return op.ParseCalendarWithContext(context.Background(), filePath)
}

// ParseCalendarWithContext builds the calendar. Each row supplies either an
// explicit overtime value or standard and actual hours, from which overtime is
// max(0, actual - standard). Days below the minimum threshold are dropped. When
// a date repeats, the later row wins, including a later row below the threshold.
func (op *OvertimeParser) ParseCalendarWithContext(ctx context.Context, filePath string) (*models.OvertimeCalendar, *ParseStats, error) {
	op.logger.WithField("file_path", filePath).Info("Starting attendance parsing")

	file, reader, err := op.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx, filePath)
	stats := NewParseStats(filePath)

	if err := op.ReadHeaders(reader, parseCtx, []string{"date"}, op.config.GetColumnName); err != nil {
		return nil, stats, err
	}

	dateIdx := parseCtx.ResolveColumn("date", op.config.GetColumnName("date"))
	overtimeIdx := parseCtx.ResolveColumn("overtime_hours", op.config.GetColumnName("overtime_hours"))
	standardIdx := parseCtx.ResolveColumn("standard_hours", op.config.GetColumnName("standard_hours"))
	actualIdx := parseCtx.ResolveColumn("actual_hours", op.config.GetColumnName("actual_hours"))

	if overtimeIdx == -1 && actualIdx == -1 {
		return nil, stats, errors.ParseError(
			errors.CodeMissingColumn,
			filePath,
			parseCtx.LineNumber,
			fmt.Sprintf("%s or %s", op.config.GetColumnName("overtime_hours"), op.config.GetColumnName("actual_hours")),
			"",
			nil,
		)
	}

	calendar := models.NewOvertimeCalendar()
	skipped := 0

	err = op.EachRecord(reader, parseCtx, stats, func(record []string) {
		dateStr := FieldAt(record, dateIdx)
		date, err := models.ParseCivilDate(dateStr)
		if err != nil {
			op.rowError(stats, parseCtx, "date", dateStr, errors.ValidationError(errors.CodeInvalidDate, "date", dateStr, err))
			return
		}

		hours, err := op.overtimeHours(record, overtimeIdx, standardIdx, actualIdx)
		if err != nil {
			op.rowError(stats, parseCtx, "hours", dateStr, err)
			return
		}

		stats.RecordsValid++
		if hours.LessThan(op.config.MinOvertimeHours) || !hours.IsPositive() {
			calendar.Delete(date)
			skipped++
			return
		}
		calendar.Set(date, hours)
	})
	if err != nil {
		return nil, stats, err
	}

	op.finish(op.logger, stats, parseCtx, "Attendance")
	op.logger.WithFields(logger.Fields{
		"overtime_days":  calendar.Len(),
		"below_minimum":  skipped,
		"total_overtime": calendar.TotalHours().String(),
	}).Debug("Built overtime calendar")

	return calendar, stats, nil
}

func (op *OvertimeParser) overtimeHours(record []string, overtimeIdx, standardIdx, actualIdx int) (decimal.Decimal, error) {
	if raw := FieldAt(record, overtimeIdx); raw != "" {
		hours, err := models.ParseDecimalFromString(raw)
		if err != nil {
			return decimal.Zero, errors.ValidationError(errors.CodeInvalidData, "overtime_hours", raw, err)
		}
		return hours, nil
	}

	actualRaw := FieldAt(record, actualIdx)
	if actualRaw == "" {
		return decimal.Zero, nil
	}
	actual, err := models.ParseDecimalFromString(actualRaw)
	if err != nil {
		return decimal.Zero, errors.ValidationError(errors.CodeInvalidData, "actual_hours", actualRaw, err)
	}

	standard := op.config.DefaultStandardHours
	if standardRaw := FieldAt(record, standardIdx); standardRaw != "" {
		standard, err = models.ParseDecimalFromString(standardRaw)
		if err != nil {
			return decimal.Zero, errors.ValidationError(errors.CodeInvalidData, "standard_hours", standardRaw, err)
		}
	}

	overtime := actual.Sub(standard)
	if overtime.IsNegative() {
		return decimal.Zero, nil
	}
	return overtime, nil
}
