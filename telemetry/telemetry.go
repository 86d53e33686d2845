// Package telemetry provides the structured-logging and metrics
// implementations wired into the request lifecycle, adapted from the
// teacher's per-pipeline-step hooks to per-request-stage hooks.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/glycin/core"
)

// Logger is an alias for core.Logger, kept so telemetry's exported API
// doesn't force callers to import core just to name the interface.
type Logger = core.Logger

// SlogLogger wraps a *slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger wraps l.
func NewSlogLogger(l *slog.Logger) *SlogLogger { return &SlogLogger{log: l} }

func (s *SlogLogger) Debug(msg string, fields ...interface{}) { s.log.Debug(msg, fields...) }
func (s *SlogLogger) Info(msg string, fields ...interface{})  { s.log.Info(msg, fields...) }
func (s *SlogLogger) Warn(msg string, fields ...interface{})  { s.log.Warn(msg, fields...) }
func (s *SlogLogger) Error(msg string, fields ...interface{}) { s.log.Error(msg, fields...) }

var _ core.Logger = (*SlogLogger)(nil)

// LoggingHook logs before/after every request-lifecycle stage (registry
// resolve, stream spawn, sniff, sandbox launch, rpc init/decode, ...).
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook wraps logger as a core.Hook.
func NewLoggingHook(logger core.Logger) *LoggingHook { return &LoggingHook{logger: logger} }

func (h *LoggingHook) BeforeStage(_ context.Context, stageName string, state *core.RequestState) {
	h.logger.Debug("glycin.stage.start", "stage", stageName, "media_type", state.MediaType)
}

func (h *LoggingHook) AfterStage(_ context.Context, stageName string, state *core.RequestState, d time.Duration, err error) {
	if err != nil {
		h.logger.Error("glycin.stage.error", "stage", stageName, "duration_ms", d.Milliseconds(), "error", err.Error())
		return
	}
	h.logger.Debug("glycin.stage.done", "stage", stageName, "duration_ms", d.Milliseconds())
}

var _ core.Hook = (*LoggingHook)(nil)

// InMemoryMetrics accumulates per-stage timing, byte, and error counts.
// Safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	stageDurationsMs map[string]int64
	stageCalls       map[string]int64
	stageErrors      map[string]int64

	totalFrameBytes int64
}

// NewInMemoryMetrics returns an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		stageDurationsMs: make(map[string]int64),
		stageCalls:       make(map[string]int64),
		stageErrors:      make(map[string]int64),
	}
}

func (m *InMemoryMetrics) RecordStageTime(stageName string, d time.Duration) {
	m.mu.Lock()
	m.stageDurationsMs[stageName] += d.Milliseconds()
	m.stageCalls[stageName]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordFrameBytes(bytes int64) {
	atomic.AddInt64(&m.totalFrameBytes, bytes)
}

func (m *InMemoryMetrics) RecordError(stageName string, tag string) {
	m.mu.Lock()
	m.stageErrors[stageName]++
	m.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the accumulated metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		StageDurationsMs: make(map[string]int64, len(m.stageDurationsMs)),
		StageCalls:       make(map[string]int64, len(m.stageCalls)),
		StageErrors:      make(map[string]int64, len(m.stageErrors)),
		TotalFrameBytes:  atomic.LoadInt64(&m.totalFrameBytes),
	}
	for k, v := range m.stageDurationsMs {
		snap.StageDurationsMs[k] = v
	}
	for k, v := range m.stageCalls {
		snap.StageCalls[k] = v
	}
	for k, v := range m.stageErrors {
		snap.StageErrors[k] = v
	}
	return snap
}

// MetricsSnapshot is an immutable copy of InMemoryMetrics's counters.
type MetricsSnapshot struct {
	StageDurationsMs map[string]int64
	StageCalls       map[string]int64
	StageErrors      map[string]int64
	TotalFrameBytes  int64
}

var _ core.MetricsCollector = (*InMemoryMetrics)(nil)

// MetricsHook feeds request-lifecycle events into a core.MetricsCollector.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook wraps collector as a core.Hook.
func NewMetricsHook(collector core.MetricsCollector) *MetricsHook {
	return &MetricsHook{collector: collector}
}

func (h *MetricsHook) BeforeStage(context.Context, string, *core.RequestState) {}

func (h *MetricsHook) AfterStage(_ context.Context, stageName string, _ *core.RequestState, d time.Duration, err error) {
	h.collector.RecordStageTime(stageName, d)
	if err != nil {
		h.collector.RecordError(stageName, "stage")
	}
}

var _ core.Hook = (*MetricsHook)(nil)
