// Package logging provides category-scoped structured logging for the QMTool
// runtime. Every subsystem logs through a named child of one process-wide zap
// logger so boot, container, audit and licensing events can be filtered per
// category.
package logging

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names one logging subsystem.
type Category string

const (
	CategoryBoot         Category = "boot"
	CategoryContainer    Category = "container"
	CategoryFeature      Category = "feature"
	CategoryConfigurator Category = "configurator"
	CategoryLicensing    Category = "licensing"
	CategoryAudit        Category = "audit"
	CategoryStore        Category = "store"
	CategorySession      Category = "session"
)

var (
	rootLogger *zap.Logger
	loggers    = make(map[Category]*zap.Logger)
	mu         sync.RWMutex
)

// Initialize installs the process-wide root logger. Safe to call more than
// once; the latest logger wins and child loggers are rebuilt lazily.
func Initialize(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	rootLogger = l
	loggers = make(map[Category]*zap.Logger)
}

// NewProduction builds a zap production logger, optionally at debug level.
func NewProduction(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// Get returns the logger for a category. Before Initialize it returns a
// no-op logger so library code never has to nil-check.
func Get(category Category) *zap.Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	root := rootLogger
	mu.RUnlock()

	if root == nil {
		return zap.NewNop()
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := root.Named(string(category))
	loggers[category] = l
	return l
}

// Sync flushes the root logger. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if rootLogger != nil {
		_ = rootLogger.Sync()
	}
}

// Timer measures an operation and logs its duration at debug level on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("operation completed",
		zap.String("op", t.op),
		zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold warns when the duration exceeds the threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("slow operation",
			zap.String("op", t.op),
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", threshold))
		return elapsed
	}
	Get(t.category).Debug("operation completed",
		zap.String("op", t.op),
		zap.Duration("elapsed", elapsed))
	return elapsed
}
