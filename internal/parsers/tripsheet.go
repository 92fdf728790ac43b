package parsers

import (
	"context"
	"path/filepath"

	"expense-reconciler/internal/models"
	"expense-reconciler/pkg/errors"
	"expense-reconciler/pkg/logger"
)

// TripSheetParser handles parsing of trip-leg CSV files into trip-sheets
type TripSheetParser struct {
	*BaseParser
	config *TripLegParserConfig
	logger logger.Logger
}

// NewTripSheetParser creates a new TripSheetParser with the given configuration
func NewTripSheetParser(config *TripLegParserConfig) (*TripSheetParser, error) {
	if config == nil {
		config = DefaultTripLegParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"trip_leg_parser_config",
			config,
			err,
		)
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader
	parseConfig.Delimiter = config.Delimiter

	return &TripSheetParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("tripsheet_parser"),
	}, nil
}

// ParseTripSheets parses a CSV file of trip legs
func (tp *TripSheetParser) ParseTripSheets(filePath string) ([]*models.TripSheetRecord, *ParseStats, error) {
	return tp.ParseTripSheetsWithContext(context.Background(), filePath)
}

// ParseTripSheetsWithContext parses legs and groups them into trip-sheets.
// Trip-sheets appear in order of first occurrence; legs keep file order. A
// sheet's city is the first non-empty city among its rows.
func (tp *TripSheetParser) ParseTripSheetsWithContext(ctx context.Context, filePath string) ([]*models.TripSheetRecord, *ParseStats, error) {
	tp.logger.WithField("file_path", filePath).Info("Starting trip-sheet parsing")

	file, reader, err := tp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx, filePath)
	stats := NewParseStats(filePath)

	required := []string{"date", "time", "amount"}
	if err := tp.ReadHeaders(reader, parseCtx, required, tp.config.GetColumnName); err != nil {
		return nil, stats, err
	}

	sourceIdx := parseCtx.ResolveColumn("source", tp.config.GetColumnName("source"))
	dateIdx := parseCtx.ResolveColumn("date", tp.config.GetColumnName("date"))
	timeIdx := parseCtx.ResolveColumn("time", tp.config.GetColumnName("time"))
	amountIdx := parseCtx.ResolveColumn("amount", tp.config.GetColumnName("amount"))
	originIdx := parseCtx.ResolveColumn("origin", tp.config.GetColumnName("origin"))
	destIdx := parseCtx.ResolveColumn("destination", tp.config.GetColumnName("destination"))
	cityIdx := parseCtx.ResolveColumn("city", tp.config.GetColumnName("city"))

	defaultSource := filepath.Base(filePath)

	type group struct {
		source string
		city   string
		legs   []models.TripLeg
	}
	var order []string
	groups := make(map[string]*group)

	err = tp.EachRecord(reader, parseCtx, stats, func(record []string) {
		source := FieldAt(record, sourceIdx)
		if source == "" {
			source = defaultSource
		}

		leg, err := models.CreateTripLegFromCSV(
			FieldAt(record, dateIdx),
			FieldAt(record, timeIdx),
			FieldAt(record, amountIdx),
			FieldAt(record, originIdx),
			FieldAt(record, destIdx),
		)
		if err != nil {
			tp.rowError(stats, parseCtx, "trip_leg", source, errors.ParseError(
				errors.CodeInvalidData, filePath, parseCtx.LineNumber, "trip_leg", source, err,
			))
			return
		}

		g, ok := groups[source]
		if !ok {
			g = &group{source: source}
			groups[source] = g
			order = append(order, source)
		}
		if g.city == "" {
			g.city = FieldAt(record, cityIdx)
		}
		g.legs = append(g.legs, *leg)
		stats.RecordsValid++
	})
	if err != nil {
		return nil, stats, err
	}

	sheets := make([]*models.TripSheetRecord, 0, len(order))
	for _, source := range order {
		g := groups[source]
		sheets = append(sheets, models.NewTripSheetRecord(g.source, g.legs, g.city))
	}

	tp.finish(tp.logger, stats, parseCtx, "Trip-sheet")
	tp.logger.WithFields(logger.Fields{
		"file_path":   filePath,
		"trip_sheets": len(sheets),
	}).Debug("Grouped legs into trip-sheets")

	return sheets, stats, nil
}
