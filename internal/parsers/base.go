// Package parsers reads already-extracted expense records from CSV files.
//
// Extraction (OCR, PDF text) happens upstream; what arrives here are flat
// CSV exports. The parsers map headers (with aliases and common Chinese
// spellings), convert cells into typed models, validate each record once and
// collect row-level problems in ParseStats instead of aborting the file.
//
// Parser types:
//   - InvoiceParser: one invoice per row
//   - TripSheetParser: one leg per row, grouped into trip-sheets by source
//   - OvertimeParser: attendance rows folded into an OvertimeCalendar
//
// Example usage:
//
//	parser, err := NewInvoiceParser(DefaultInvoiceParserConfig())
//	invoices, stats, err := parser.ParseInvoicesWithContext(ctx, "invoices.csv")
package parsers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"expense-reconciler/pkg/errors"
	"expense-reconciler/pkg/logger"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseError represents an error that occurred during CSV parsing
type ParseError struct {
	Line    int
	Column  int
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error at line %d (%s='%s'): %s: %v",
			e.Line, e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("parse error at line %d (%s='%s'): %s",
		e.Line, e.Field, e.Value, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	HasHeader        bool
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		Delimiter:        ',',
		Comment:          0,
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     64 * 1024,
		ValidateEncoding: true,
	}
}

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}

	return &BaseParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("base_parser"),
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	FilePath   string
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int
	ctx        context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, filePath string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		FilePath:  filePath,
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// Err returns the cancellation cause, if any
func (pc *ParseContext) Err() error {
	return pc.ctx.Err()
}

// GetColumnIndex returns the index of a column by name, or -1 if not found
func (pc *ParseContext) GetColumnIndex(name string) int {
	if name == "" {
		return -1
	}
	if index, exists := pc.HeaderMap[name]; exists {
		return index
	}

	lowerName := strings.ToLower(name)
	for header, index := range pc.HeaderMap {
		if strings.ToLower(header) == lowerName {
			return index
		}
	}

	return -1
}

// ResolveColumn finds the configured column, falling back to the known
// synonyms of the standard name.
func (pc *ParseContext) ResolveColumn(standardName, configured string) int {
	if index := pc.GetColumnIndex(configured); index != -1 {
		return index
	}
	for _, synonym := range headerSynonyms[standardName] {
		if index := pc.GetColumnIndex(synonym); index != -1 {
			return index
		}
	}
	return -1
}

// OpenFile opens a CSV file and returns a csv.Reader
func (bp *BaseParser) OpenFile(filePath string) (*os.File, *csv.Reader, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	file, err := os.Open(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open CSV file")

		if os.IsNotExist(err) {
			return nil, nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		}
		if os.IsPermission(err) {
			return nil, nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return nil, nil, errors.FileError(errors.CodeDirectoryError, filePath, err)
	}

	if bp.config.ValidateEncoding {
		if err := bp.validateEncoding(file, filePath); err != nil {
			file.Close()
			return nil, nil, err
		}

		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
		}
	}

	reader := csv.NewReader(skipBOM(file))
	bp.configureReader(reader)

	return file, reader, nil
}

// skipBOM drops a leading UTF-8 byte order mark, as written by spreadsheet exports
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

func (bp *BaseParser) configureReader(reader *csv.Reader) {
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
}

// validateEncoding checks if the file contains valid UTF-8 text
func (bp *BaseParser) validateEncoding(file *os.File, filePath string) error {
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() && lineNum < 100 {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(
				errors.CodeEncodingError,
				filePath,
				lineNum,
				"encoding",
				"",
				fmt.Errorf("invalid UTF-8 encoding detected"),
			)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}

	return nil
}

// ReadHeaders reads the header row and checks that every required column
// can be resolved. Required entries are standard names; resolve maps them to
// the configured column name.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext, required []string, resolve func(string) string) error {
	if !bp.config.HasHeader {
		parseCtx.Headers = make([]string, len(required))
		for i, name := range required {
			parseCtx.Headers[i] = resolve(name)
		}
		bp.buildHeaderMap(parseCtx)
		return nil
	}

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return errors.ValidationError(
				errors.CodeMissingField,
				"file_content",
				"empty",
				nil,
			).WithSuggestion("ensure the file contains a header row and data rows").
				WithContext("file", parseCtx.FilePath)
		}

		return errors.ParseError(
			errors.CodeInvalidFormat,
			parseCtx.FilePath,
			1,
			"headers",
			"",
			err,
		)
	}

	parseCtx.LineNumber++
	parseCtx.Headers = bp.cleanHeaders(headers)
	bp.buildHeaderMap(parseCtx)

	bp.logger.WithFields(logger.Fields{
		"file_path": parseCtx.FilePath,
		"headers":   parseCtx.Headers,
	}).Debug("Read CSV headers")

	var missing []string
	for _, name := range required {
		if parseCtx.ResolveColumn(name, resolve(name)) == -1 {
			missing = append(missing, resolve(name))
		}
	}
	if len(missing) > 0 {
		bp.logger.WithFields(logger.Fields{
			"missing_headers":   missing,
			"available_headers": parseCtx.Headers,
		}).Error("Required headers are missing")

		return errors.ParseError(
			errors.CodeMissingColumn,
			parseCtx.FilePath,
			parseCtx.LineNumber,
			strings.Join(missing, ", "),
			"",
			nil,
		)
	}

	return nil
}

func (bp *BaseParser) cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		cleaned[i] = strings.TrimSpace(header)
	}
	return cleaned
}

func (bp *BaseParser) buildHeaderMap(parseCtx *ParseContext) {
	parseCtx.HeaderMap = make(map[string]int)
	for i, header := range parseCtx.Headers {
		if _, seen := parseCtx.HeaderMap[header]; !seen {
			parseCtx.HeaderMap[header] = i
		}
	}
}

// ReadRecord reads the next non-empty CSV record. io.EOF marks the end of input.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, errors.ReconciliationError(errors.CodeCancelled, "parsing", parseCtx.Err()).
				WithContext("file", parseCtx.FilePath)
		}

		record, err := reader.Read()
		if err != nil {
			if err != io.EOF {
				parseCtx.LineNumber++
			}
			return nil, err
		}

		parseCtx.LineNumber++

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					return nil, errors.ParseError(
						errors.CodeInvalidData,
						parseCtx.FilePath,
						parseCtx.LineNumber,
						fmt.Sprintf("field_%d", i),
						truncate(field, 50),
						fmt.Errorf("field exceeds maximum size of %d bytes", bp.config.MaxFieldSize),
					)
				}
			}
		}

		return record, nil
	}
}

// EachRecord reads records until EOF, handing each one to fn. Malformed CSV
// rows are recorded in stats and skipped; cancellation and I/O failures abort.
func (bp *BaseParser) EachRecord(reader *csv.Reader, parseCtx *ParseContext, stats *ParseStats, fn func(record []string)) error {
	for {
		record, err := bp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var csvErr *csv.ParseError
			if stderrors.As(err, &csvErr) {
				bp.rowError(stats, parseCtx, "record", "", err)
				continue
			}
			if rerr, ok := errors.AsReconcilerError(err); ok {
				if rerr.Code == errors.CodeCancelled {
					return err
				}
				bp.rowError(stats, parseCtx, "record", "", err)
				continue
			}
			return errors.FileError(errors.CodeFileCorrupted, parseCtx.FilePath, err)
		}

		stats.RecordsParsed++
		fn(record)
	}
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// FieldAt returns the trimmed value at index, or "" when the column is
// absent (index -1) or the row is short.
func FieldAt(record []string, index int) string {
	if index < 0 || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	FilePath      string
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	ErrorCount    int
	Errors        []*ParseError
}

// NewParseStats creates a new ParseStats instance
func NewParseStats(filePath string) *ParseStats {
	return &ParseStats{
		FilePath: filePath,
		Errors:   make([]*ParseError, 0),
	}
}

// AddError adds an error to the parsing statistics
func (ps *ParseStats) AddError(err *ParseError) {
	ps.Errors = append(ps.Errors, err)
	ps.ErrorCount++
}

// HasErrors returns true if there were any parsing errors
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.ErrorCount)
}

// GetSampleErrors returns a sample of the parsing errors for logging
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	if len(ps.Errors) == 0 {
		return nil
	}

	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, ps.Errors[i].Error())
	}
	return samples
}

// rowError records a row-level problem and logs it
func (bp *BaseParser) rowError(stats *ParseStats, parseCtx *ParseContext, field, value string, err error) {
	bp.logger.WithError(err).WithFields(logger.Fields{
		"file_path":   parseCtx.FilePath,
		"line_number": parseCtx.LineNumber,
		"field":       field,
	}).Warn("Skipping invalid row")

	stats.AddError(&ParseError{
		Line:    parseCtx.LineNumber,
		Field:   field,
		Value:   value,
		Message: "invalid row",
		Err:     err,
	})
}

// finish logs a parsing summary
func (bp *BaseParser) finish(log logger.Logger, stats *ParseStats, parseCtx *ParseContext, what string) {
	stats.TotalLines = parseCtx.LineNumber

	log.WithFields(logger.Fields{
		"file_path":      stats.FilePath,
		"total_lines":    stats.TotalLines,
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"error_count":    stats.ErrorCount,
	}).Infof("%s parsing completed", what)

	if stats.HasErrors() {
		log.WithField("sample_errors", stats.GetSampleErrors(3)).Warn("Encountered errors during parsing")
	}
}
