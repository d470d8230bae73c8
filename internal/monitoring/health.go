// Package monitoring runs health checks over the collaborators a pagegraph
// process depends on and reports them over HTTP.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/pagegraph/internal/logging"
	"github.com/conneroisu/pagegraph/internal/store"
	"github.com/conneroisu/pagegraph/internal/types"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck is the result of a single check.
type HealthCheck struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"duration"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Critical    bool                   `json:"critical"`
}

// HealthChecker defines the interface for health check functions
type HealthChecker interface {
	Check(ctx context.Context) HealthCheck
	Name() string
	IsCritical() bool
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc struct {
	name     string
	checkFn  func(ctx context.Context) HealthCheck
	critical bool
}

func (h *HealthCheckFunc) Check(ctx context.Context) HealthCheck { return h.checkFn(ctx) }
func (h *HealthCheckFunc) Name() string                          { return h.name }
func (h *HealthCheckFunc) IsCritical() bool                      { return h.critical }

// NewHealthCheckFunc creates a new health check function
func NewHealthCheckFunc(name string, critical bool, checkFn func(ctx context.Context) HealthCheck) *HealthCheckFunc {
	return &HealthCheckFunc{name: name, checkFn: checkFn, critical: critical}
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Site      types.SiteID           `json:"site,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    time.Duration          `json:"uptime"`
	Checks    map[string]HealthCheck `json:"checks"`
	Summary   HealthSummary          `json:"summary"`
}

// HealthSummary counts check results by status.
type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Degraded  int `json:"degraded"`
	Critical  int `json:"critical"`
}

// HealthMonitor runs registered checks on demand.
type HealthMonitor struct {
	checks  map[string]HealthChecker
	mutex   sync.RWMutex
	logger  logging.Logger
	timeout time.Duration
	site    types.SiteID
	started time.Time
}

// NewHealthMonitor creates a monitor reporting on site.
func NewHealthMonitor(site types.SiteID, logger logging.Logger) *HealthMonitor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HealthMonitor{
		checks:  make(map[string]HealthChecker),
		logger:  logger.WithComponent("health_monitor"),
		timeout: 5 * time.Second,
		site:    site,
		started: time.Now(),
	}
}

// RegisterCheck registers a health check, replacing one with the same name.
func (hm *HealthMonitor) RegisterCheck(checker HealthChecker) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()
	hm.checks[checker.Name()] = checker
}

// Checks returns the registered check names in order.
func (hm *HealthMonitor) Checks() []string {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every registered check concurrently and aggregates the results.
func (hm *HealthMonitor) Check(ctx context.Context) HealthResponse {
	hm.mutex.RLock()
	checkers := make([]HealthChecker, 0, len(hm.checks))
	for _, checker := range hm.checks {
		checkers = append(checkers, checker)
	}
	hm.mutex.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	results := make([]HealthCheck, len(checkers))
	var g errgroup.Group
	for i, checker := range checkers {
		g.Go(func() error {
			start := time.Now()
			result := checker.Check(ctx)
			result.Name = checker.Name()
			result.Critical = checker.IsCritical()
			result.Duration = time.Since(start)
			result.LastChecked = time.Now()
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	checks := make(map[string]HealthCheck, len(results))
	for _, result := range results {
		checks[result.Name] = result
		if result.Status != HealthStatusHealthy {
			hm.logger.Warn(ctx, nil, "Health check failed",
				"name", result.Name,
				"status", string(result.Status),
				"message", result.Message)
		}
	}

	return HealthResponse{
		Status:    overallStatus(checks),
		Site:      hm.site,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(hm.started),
		Checks:    checks,
		Summary:   summarize(checks),
	}
}

func summarize(checks map[string]HealthCheck) HealthSummary {
	summary := HealthSummary{Total: len(checks)}
	for _, check := range checks {
		switch check.Status {
		case HealthStatusHealthy:
			summary.Healthy++
		case HealthStatusUnhealthy:
			summary.Unhealthy++
		case HealthStatusDegraded:
			summary.Degraded++
		}
		if check.Critical {
			summary.Critical++
		}
	}
	return summary
}

// overallStatus is unhealthy when a critical check fails and degraded when
// any other check is not healthy.
func overallStatus(checks map[string]HealthCheck) HealthStatus {
	status := HealthStatusHealthy
	for _, check := range checks {
		switch {
		case check.Critical && check.Status == HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case check.Status != HealthStatusHealthy:
			status = HealthStatusDegraded
		}
	}
	return status
}

// ServeHTTP writes the health report, answering 503 when unhealthy.
func (hm *HealthMonitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := hm.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if health.Status == HealthStatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(health); err != nil {
		hm.logger.Error(r.Context(), err, "Failed to encode health response")
	}
}

// StoreHealthChecker checks that the repository answers for site.
func StoreHealthChecker(repo store.Repository, site types.SiteID) HealthChecker {
	return NewHealthCheckFunc("store", true, func(ctx context.Context) HealthCheck {
		if _, err := repo.GetSite(ctx, site); err != nil {
			return HealthCheck{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("Cannot load site %s: %v", site, err),
			}
		}
		pages, err := repo.ListPages(ctx, site)
		if err != nil {
			return HealthCheck{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("Cannot list pages: %v", err),
			}
		}
		return HealthCheck{
			Status:   HealthStatusHealthy,
			Message:  "Store is reachable",
			Metadata: map[string]interface{}{"pages": len(pages)},
		}
	})
}

// DirectoryHealthChecker checks that a template directory is readable.
func DirectoryHealthChecker(name, dir string) HealthChecker {
	return NewHealthCheckFunc(name, false, func(context.Context) HealthCheck {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: fmt.Sprintf("Cannot read %s: %v", dir, err),
			}
		}
		return HealthCheck{
			Status:   HealthStatusHealthy,
			Message:  dir + " is readable",
			Metadata: map[string]interface{}{"entries": len(entries)},
		}
	})
}

// GoroutineHealthChecker degrades when the goroutine count exceeds limit.
func GoroutineHealthChecker(limit int) HealthChecker {
	return NewHealthCheckFunc("goroutines", false, func(context.Context) HealthCheck {
		count := runtime.NumGoroutine()
		check := HealthCheck{
			Status:   HealthStatusHealthy,
			Message:  fmt.Sprintf("%d goroutines", count),
			Metadata: map[string]interface{}{"count": count, "limit": limit},
		}
		if count > limit {
			check.Status = HealthStatusDegraded
		}
		return check
	})
}
