// Package errors defines the error taxonomy shared by the reconciler packages.
//
// Every failure that reaches the CLI is a *ReconcilerError carrying a category,
// a machine-readable code, a human message, an optional suggestion and a bag of
// context values. The category decides the process exit code.
//
// Note that "could not fully resolve" outcomes of a reconciliation run (leftover
// invoices, legs without an overtime record) are data, not errors, and never
// surface through this package.
package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups errors by the layer that produced them
type ErrorCategory string

const (
	CategoryFile           ErrorCategory = "file"
	CategoryParse          ErrorCategory = "parse"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryStorage        ErrorCategory = "storage"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode identifies a specific failure within a category
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileCorrupted  ErrorCode = "file_corrupted"
	CodeDirectoryError ErrorCode = "directory_error"

	// Parse errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeMissingColumn ErrorCode = "missing_column"
	CodeInvalidData   ErrorCode = "invalid_data"
	CodeEncodingError ErrorCode = "encoding_error"

	// Validation errors
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeInvalidTime   ErrorCode = "invalid_time"
	CodeMissingField  ErrorCode = "missing_field"
	CodeOutOfRange    ErrorCode = "out_of_range"

	// Configuration errors
	CodeInvalidConfig     ErrorCode = "invalid_config"
	CodeMissingConfig     ErrorCode = "missing_config"
	CodeConfigConflict    ErrorCode = "config_conflict"
	CodeNegativeTolerance ErrorCode = "negative_tolerance"

	// Reconciliation errors
	CodeProcessingError ErrorCode = "processing_error"
	CodeCancelled       ErrorCode = "cancelled"

	// Storage errors
	CodeStoreUnavailable ErrorCode = "store_unavailable"
	CodeRecordNotFound   ErrorCode = "record_not_found"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

var exitCodes = map[ErrorCategory]int{
	CategoryFile:           2,
	CategoryParse:          3,
	CategoryValidation:     3,
	CategoryConfiguration:  4,
	CategoryReconciliation: 5,
	CategoryInternal:       5,
	CategoryStorage:        6,
}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns the process exit code for the error's category
func (e *ReconcilerError) GetExitCode() int {
	if code, ok := exitCodes[e.Category]; ok {
		return code
	}
	return 1
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion sets a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// ContextKeys returns the context keys in sorted order, for stable output
func (e *ReconcilerError) ContextKeys() []string {
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// template is a message and suggestion pair. Placeholders such as {file}
// are filled from the error context.
type template struct {
	message    string
	suggestion string
}

var catalog = map[ErrorCategory]map[ErrorCode]template{
	CategoryFile: {
		CodeFileNotFound:   {"file not found: {file_path}", "check if the file path is correct and the file exists"},
		CodeFilePermission: {"permission denied accessing file: {file_path}", "check file permissions and ensure you have read access"},
		CodeFileCorrupted:  {"file appears to be corrupted: {file_path}", "re-export the file from the extraction step"},
		CodeDirectoryError: {"directory error: {file_path}", "ensure the directory exists and is accessible"},
	},
	CategoryParse: {
		CodeInvalidFormat: {"invalid format in file {file} at line {line}, column '{column}': '{value}'", "check the data format and ensure it matches the expected structure"},
		CodeMissingColumn: {"missing required column '{column}' in file {file}", "verify the file has all required columns with correct headers"},
		CodeInvalidData:   {"invalid data in file {file} at line {line}, column '{column}': '{value}'", "correct the value or remove the row"},
		CodeEncodingError: {"encoding error in file {file} at line {line}", "ensure the file is saved in UTF-8 encoding"},
	},
	CategoryValidation: {
		CodeInvalidAmount: {"invalid amount in field '{field}': {value}", "amounts must be non-negative decimals such as '42.50'"},
		CodeInvalidDate:   {"invalid date in field '{field}': {value}", "use date format YYYY-MM-DD or YYYY/MM/DD"},
		CodeInvalidTime:   {"invalid clock time in field '{field}': {value}", "use 24-hour clock time HH:MM"},
		CodeMissingField:  {"required field '{field}' is missing or empty", "provide a value for this required field"},
		CodeOutOfRange:    {"value out of range in field '{field}': {value}", "ensure the value is within the acceptable range"},
	},
	CategoryConfiguration: {
		CodeInvalidConfig:     {"invalid configuration for '{setting}': {value}", "check the configuration documentation for valid values"},
		CodeMissingConfig:     {"missing required configuration: {setting}", "provide this setting as a flag, environment variable or config file entry"},
		CodeConfigConflict:    {"configuration conflict with setting '{setting}': {value}", "resolve the conflicting settings or use default values"},
		CodeNegativeTolerance: {"amount tolerance must not be negative, got {value}", "pass --tolerance 0 or a positive monetary amount such as 0.50"},
	},
	CategoryReconciliation: {
		CodeCancelled: {"reconciliation cancelled during {stage}", "re-run the command; no partial results were written"},
	},
	CategoryStorage: {
		CodeStoreUnavailable: {"history store unavailable: {store}", "make sure no other reconciler process holds the database open"},
		CodeRecordNotFound:   {"run not found in history store: {store}", "list available runs with 'reconciler history'"},
	},
}

// fallbacks cover codes without a catalog entry in their category
var fallbacks = map[ErrorCategory]template{
	CategoryFile:           {"file error: {file_path}", "check the file and try again"},
	CategoryParse:          {"parse error in file {file} at line {line}", "check the file format and data integrity"},
	CategoryValidation:     {"validation error in field '{field}': {value}", "check the field value and format"},
	CategoryConfiguration:  {"configuration error: {setting}", "check your configuration and try again"},
	CategoryReconciliation: {"reconciliation failed during {stage}", "check the input files and run again with --verbose"},
	CategoryStorage:        {"history store error: {store}", "check the --history-db path"},
	CategoryInternal:       {"internal error during {operation}", "this is likely a bug, please report it with the --verbose output"},
}

// build renders the catalog entry for code against ctx and wraps err when given
func build(category ErrorCategory, code ErrorCode, err error, ctx Context) *ReconcilerError {
	tmpl, ok := catalog[category][code]
	if !ok {
		tmpl = fallbacks[category]
	}

	pairs := make([]string, 0, 2*len(ctx))
	for key, value := range ctx {
		pairs = append(pairs, "{"+key+"}", fmt.Sprint(value))
	}
	message := strings.NewReplacer(pairs...).Replace(tmpl.message)

	var e *ReconcilerError
	if err != nil {
		e = Wrap(err, category, code, message)
	} else {
		e = New(category, code, message)
	}
	e.Suggestion = tmpl.suggestion
	e.Context = ctx
	return e
}

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *ReconcilerError {
	return build(CategoryFile, code, err, Context{"file_path": path})
}

// ParseError creates a parsing-related error
func ParseError(code ErrorCode, file string, line int, column string, value string, err error) *ReconcilerError {
	return build(CategoryParse, code, err, Context{
		"file":   file,
		"line":   line,
		"column": column,
		"value":  value,
	})
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	return build(CategoryValidation, code, err, Context{"field": field, "value": value})
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	return build(CategoryConfiguration, code, err, Context{"setting": setting, "value": value})
}

// ReconciliationError creates an error raised by the matching pipeline itself
func ReconciliationError(code ErrorCode, stage string, err error) *ReconcilerError {
	return build(CategoryReconciliation, code, err, Context{"stage": stage})
}

// StorageError creates an error for the run-history store
func StorageError(code ErrorCode, path string, err error) *ReconcilerError {
	return build(CategoryStorage, code, err, Context{"store": path})
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	return build(CategoryInternal, code, err, Context{"operation": operation})
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*ReconcilerError    `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}
	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}
	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	categories := make([]string, 0, len(es.ByCategory))
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}
	sort.Strings(categories)

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// GetExitCode returns the highest exit code of all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}
	return maxCode
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// IsCategory reports whether err carries a ReconcilerError of the given category
func IsCategory(err error, category ErrorCategory) bool {
	rerr, ok := AsReconcilerError(err)
	return ok && rerr.Category == category
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}
	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return Wrap(err, category, code, message)
}
