package parsers

import (
	"context"

	"expense-reconciler/internal/models"
	"expense-reconciler/pkg/errors"
	"expense-reconciler/pkg/logger"
)

// InvoiceParser handles parsing of invoice CSV files
type InvoiceParser struct {
	*BaseParser
	config *InvoiceParserConfig
	logger logger.Logger
}

// NewInvoiceParser creates a new InvoiceParser with the given configuration
func NewInvoiceParser(config *InvoiceParserConfig) (*InvoiceParser, error) {
	if config == nil {
		config = DefaultInvoiceParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"invoice_parser_config",
			config,
			err,
		)
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader
	parseConfig.Delimiter = config.Delimiter

	return &InvoiceParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("invoice_parser"),
	}, nil
}

// ParseInvoices parses a CSV file containing invoices
func (ip *InvoiceParser) ParseInvoices(filePath string) ([]*models.InvoiceRecord, *ParseStats, error) {
	return ip.ParseInvoicesWithContext(context.Background(), filePath)
}

// ParseInvoicesWithContext parses invoices with cancellation support. Rows
// are returned in file order; that order is the tie-break order used when
// matching.
func (ip *InvoiceParser) ParseInvoicesWithContext(ctx context.Context, filePath string) ([]*models.InvoiceRecord, *ParseStats, error) {
	ip.logger.WithField("file_path", filePath).Info("Starting invoice parsing")

	file, reader, err := ip.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx, filePath)
	stats := NewParseStats(filePath)

	required := []string{"source", "total_amount"}
	if err := ip.ReadHeaders(reader, parseCtx, required, ip.config.GetColumnName); err != nil {
		return nil, stats, err
	}

	sourceIdx := parseCtx.ResolveColumn("source", ip.config.GetColumnName("source"))
	amountIdx := parseCtx.ResolveColumn("total_amount", ip.config.GetColumnName("total_amount"))
	dateIdx := parseCtx.ResolveColumn("date", ip.config.GetColumnName("date"))
	cityIdx := parseCtx.ResolveColumn("city", ip.config.GetColumnName("city"))

	var invoices []*models.InvoiceRecord
	err = ip.EachRecord(reader, parseCtx, stats, func(record []string) {
		source := FieldAt(record, sourceIdx)
		amount := FieldAt(record, amountIdx)

		invoice, err := models.CreateInvoiceFromCSV(source, amount, FieldAt(record, dateIdx), FieldAt(record, cityIdx))
		if err != nil {
			ip.rowError(stats, parseCtx, "invoice", source, errors.ParseError(
				errors.CodeInvalidData, filePath, parseCtx.LineNumber, "total_amount", amount, err,
			))
			return
		}

		invoices = append(invoices, invoice)
		stats.RecordsValid++
	})
	if err != nil {
		return nil, stats, err
	}

	ip.finish(ip.logger, stats, parseCtx, "Invoice")
	return invoices, stats, nil
}
