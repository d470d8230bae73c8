package build

import (
	"sync"
	"time"

	"github.com/conneroisu/pagegraph/internal/errors"
)

// Metrics tracks compile and propagation activity.
type Metrics struct {
	TotalCompiles      int64
	SuccessfulCompiles int64
	FailedCompiles     int64
	FailuresByKind     map[string]int64
	AverageCompile     time.Duration
	TotalCompileTime   time.Duration

	Propagations        int64
	PagesRecompiled     int64
	PagesSaved          int64
	PropagationFailures int64
	LastPropagation     time.Duration

	mutex sync.RWMutex
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	TotalCompiles       int64            `json:"total_compiles"`
	SuccessfulCompiles  int64            `json:"successful_compiles"`
	FailedCompiles      int64            `json:"failed_compiles"`
	FailuresByKind      map[string]int64 `json:"failures_by_kind"`
	AverageCompileMS    float64          `json:"average_compile_ms"`
	Propagations        int64            `json:"propagations"`
	PagesRecompiled     int64            `json:"pages_recompiled"`
	PagesSaved          int64            `json:"pages_saved"`
	PropagationFailures int64            `json:"propagation_failures"`
	LastPropagationMS   float64          `json:"last_propagation_ms"`
	SuccessRate         float64          `json:"success_rate"`
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{FailuresByKind: make(map[string]int64)}
}

// RecordCompile records one compile attempt. cerr is nil on success.
func (m *Metrics) RecordCompile(duration time.Duration, cerr *errors.CompileError) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.TotalCompiles++
	m.TotalCompileTime += duration

	if cerr != nil {
		m.FailedCompiles++
		m.FailuresByKind[cerr.Kind.String()]++
	} else {
		m.SuccessfulCompiles++
	}

	m.AverageCompile = m.TotalCompileTime / time.Duration(m.TotalCompiles)
}

// RecordPropagation records a finished propagation pass.
func (m *Metrics) RecordPropagation(report *PropagationReport) {
	if report == nil {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.Propagations++
	m.PagesRecompiled += int64(len(report.Recompiled))
	m.PagesSaved += int64(len(report.Saved))
	m.PropagationFailures += int64(len(report.Failures))
	m.LastPropagation = report.Duration
}

// Snapshot returns a copy of the current metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	byKind := make(map[string]int64, len(m.FailuresByKind))
	for k, v := range m.FailuresByKind {
		byKind[k] = v
	}

	snap := MetricsSnapshot{
		TotalCompiles:       m.TotalCompiles,
		SuccessfulCompiles:  m.SuccessfulCompiles,
		FailedCompiles:      m.FailedCompiles,
		FailuresByKind:      byKind,
		AverageCompileMS:    float64(m.AverageCompile) / float64(time.Millisecond),
		Propagations:        m.Propagations,
		PagesRecompiled:     m.PagesRecompiled,
		PagesSaved:          m.PagesSaved,
		PropagationFailures: m.PropagationFailures,
		LastPropagationMS:   float64(m.LastPropagation) / float64(time.Millisecond),
	}
	if m.TotalCompiles > 0 {
		snap.SuccessRate = float64(m.SuccessfulCompiles) / float64(m.TotalCompiles) * 100
	}
	return snap
}

// Reset resets all metrics
func (m *Metrics) Reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.TotalCompiles = 0
	m.SuccessfulCompiles = 0
	m.FailedCompiles = 0
	m.FailuresByKind = make(map[string]int64)
	m.AverageCompile = 0
	m.TotalCompileTime = 0
	m.Propagations = 0
	m.PagesRecompiled = 0
	m.PagesSaved = 0
	m.PropagationFailures = 0
	m.LastPropagation = 0
}
