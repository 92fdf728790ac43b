package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"expense-reconciler/internal/reconciler"
	"expense-reconciler/pkg/errors"
	"expense-reconciler/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with fallbacks for failed
// formats and unwritable destinations
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger

	// BackupDir receives the report when the requested file cannot be
	// created. Defaults to os.TempDir().
	BackupDir string
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryConfiguration, errors.CodeInvalidConfig, "invalid report configuration").
			WithSuggestion("Use one of the output formats: console, json, csv")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
		BackupDir:       os.TempDir(),
	}, nil
}

// GenerateReportSafely writes the report to writer, retrying as a console
// report when a structured format fails
func (srg *SafeReportGenerator) GenerateReportSafely(result *reconciler.ReconciliationResult, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Debug("Starting report generation")

	if err := srg.validateInputs(result, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed: input validation")
		return err
	}

	if err := srg.generateWithFallback(result, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed")
		return err
	}

	srg.logger.Debug("Report generation completed")
	return nil
}

// WriteReportFile writes the report to path and returns the path actually
// written. When path cannot be created the report goes to a backup file in
// BackupDir instead.
func (srg *SafeReportGenerator) WriteReportFile(result *reconciler.ReconciliationResult, path string) (string, error) {
	if err := srg.validateInputs(result, io.Discard); err != nil {
		return "", err
	}

	file, createErr := createReportFile(path)
	if createErr == nil {
		defer file.Close()
		if err := srg.GenerateReportSafely(result, file); err != nil {
			return "", err
		}
		return path, nil
	}

	backupPath := srg.generateBackupPath(path)
	srg.logger.WithFields(logger.Fields{
		"original_file": path,
		"backup_file":   backupPath,
	}).WithError(createErr).Warn("Cannot create report file, writing backup")

	backup, err := createReportFile(backupPath)
	if err != nil {
		return "", errors.FileError(errors.CodeFilePermission, path,
			fmt.Errorf("report file and backup both failed: primary=%v, backup=%v", createErr, err)).
			WithSuggestion("Check write permissions for the output location")
	}
	defer backup.Close()

	if err := srg.GenerateReportSafely(result, backup); err != nil {
		return "", err
	}

	srg.logger.WithField("backup_file", backupPath).Info("Report written to backup location")
	return backupPath, nil
}

func (srg *SafeReportGenerator) validateInputs(result *reconciler.ReconciliationResult, writer io.Writer) error {
	if result == nil {
		return errors.ValidationError(errors.CodeMissingField, "result", nil, nil).
			WithSuggestion("Provide a valid reconciliation result")
	}

	if result.Summary == nil {
		return errors.ValidationError(errors.CodeMissingField, "summary", nil, nil).
			WithSuggestion("Ensure the reconciliation result includes a summary")
	}

	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("Provide a valid output writer")
	}

	return nil
}

func (srg *SafeReportGenerator) generateWithFallback(result *reconciler.ReconciliationResult, writer io.Writer) error {
	err := srg.GenerateReport(result, writer)
	if err == nil {
		return nil
	}

	srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")

	if srg.config.Format == FormatConsole {
		return srg.wrapGenerationError(err)
	}
	return srg.generateWithFormatFallback(result, writer, err)
}

func (srg *SafeReportGenerator) generateWithFormatFallback(result *reconciler.ReconciliationResult, writer io.Writer, originalErr error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole

	srg.logger.WithField("fallback_format", FormatConsole).Info("Attempting format fallback")

	fallbackGenerator, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", originalErr)

	if err := fallbackGenerator.GenerateReport(result, writer); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err),
		)
	}

	srg.logger.Info("Report generated using format fallback")
	return nil
}

func (srg *SafeReportGenerator) generateBackupPath(originalPath string) string {
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]

	dir := srg.BackupDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	return errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeProcessingError, "report generation failed").
		WithSuggestion("Check the output destination and report format settings")
}

func createReportFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.Create(path)
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return "file:" + w.Name()
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}
