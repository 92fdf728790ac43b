package logger

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ProgressConfig configures a ProgressTracker
type ProgressConfig struct {
	Operation   string
	Total       int64
	LogInterval time.Duration
	Logger      Logger
}

// ProgressTracker counts finished units of work across goroutines and logs a
// progress line at most once per interval
type ProgressTracker struct {
	logger   Logger
	total    int64
	interval time.Duration
	started  time.Time

	done atomic.Int64

	mu      sync.Mutex
	lastLog time.Time
}

// NewProgressTracker starts tracking an operation
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval <= 0 {
		config.LogInterval = 2 * time.Second
	}

	now := time.Now()
	p := &ProgressTracker{
		logger:   config.Logger.WithField("operation", config.Operation),
		total:    config.Total,
		interval: config.LogInterval,
		started:  now,
		lastLog:  now,
	}
	p.logger.WithField("total", p.total).Debug("Operation started")
	return p
}

// Increment marks one unit as finished
func (p *ProgressTracker) Increment() {
	n := p.done.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.lastLog) < p.interval {
		return
	}
	p.lastLog = time.Now()
	p.logger.WithFields(Fields{"processed": n, "total": p.total}).Info("Progress update")
}

// Current returns the number of finished units
func (p *ProgressTracker) Current() int64 {
	return p.done.Load()
}

// Complete logs the final count and elapsed time
func (p *ProgressTracker) Complete() {
	p.logger.WithFields(Fields{
		"processed": p.done.Load(),
		"total":     p.total,
		"duration":  time.Since(p.started).String(),
	}).Debug("Operation completed")
}

// TimedStage runs fn as a named pipeline stage, logs its outcome and returns
// how long it took. A failure is returned prefixed with the stage name.
func TimedStage(stage string, logger Logger, fn func() error) (time.Duration, error) {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	log := logger.WithField("stage", stage)
	log.Debug("Stage started")

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	if err != nil {
		log.WithError(err).WithField("duration", elapsed.String()).Error("Stage failed")
		return elapsed, fmt.Errorf("%s: %w", stage, err)
	}
	log.WithField("duration", elapsed.String()).Info("Stage completed")
	return elapsed, nil
}
