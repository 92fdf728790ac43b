package reconciler

import "time"

// Step names a stage of a reconciliation run
type Step string

const (
	StepParsingInvoices   Step = "parsing_invoices"
	StepParsingTripSheets Step = "parsing_trip_sheets"
	StepParsingOvertime   Step = "parsing_overtime"
	StepPreprocessing     Step = "preprocessing"
	StepMatching          Step = "matching"
	StepLedger            Step = "ledger"
	StepAnalysis          Step = "analysis"
	StepCompleted         Step = "completed"
)

var stepOrder = []Step{
	StepParsingInvoices,
	StepParsingTripSheets,
	StepParsingOvertime,
	StepPreprocessing,
	StepMatching,
	StepLedger,
	StepAnalysis,
	StepCompleted,
}

// ReconciliationProgress tracks the progress of a reconciliation run
type ReconciliationProgress struct {
	Step           Step          `json:"step"`
	CompletedSteps int           `json:"completed_steps"`
	TotalSteps     int           `json:"total_steps"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Percent returns the completed share of the run, 0-100
func (p *ReconciliationProgress) Percent() float64 {
	if p.TotalSteps == 0 {
		return 0
	}
	return float64(p.CompletedSteps) / float64(p.TotalSteps) * 100
}

// ProgressCallback is called at the start of every step
type ProgressCallback func(*ReconciliationProgress)

// AddProgressCallback registers a progress callback. Callbacks run
// synchronously on the reconciling goroutine.
func (rs *ReconciliationService) AddProgressCallback(callback ProgressCallback) {
	rs.callbacks = append(rs.callbacks, callback)
}

func (rs *ReconciliationService) notify(step Step, startTime time.Time) {
	if len(rs.callbacks) == 0 {
		return
	}

	completed := 0
	for i, s := range stepOrder {
		if s == step {
			completed = i
			break
		}
	}
	if step == StepCompleted {
		completed = len(stepOrder) - 1
	}

	progress := &ReconciliationProgress{
		Step:           step,
		CompletedSteps: completed,
		TotalSteps:     len(stepOrder) - 1,
		Elapsed:        time.Since(startTime),
	}
	for _, cb := range rs.callbacks {
		cb(progress)
	}
}
