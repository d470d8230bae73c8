package errors

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// PageFailure records a page that could not be compiled or saved during a
// batch operation such as a site sync.
type PageFailure struct {
	Site      string
	Fullpath  string
	Message   string
	Severity  ErrorSeverity
	Timestamp time.Time
}

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
	ErrorSeverityFatal
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	case ErrorSeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error implements the error interface
func (pf *PageFailure) Error() string {
	return fmt.Sprintf("%s/%s: %s: %s", pf.Site, pf.Fullpath, pf.Severity, pf.Message)
}

// ErrorCollector collects page failures and general errors
type ErrorCollector struct {
	failures []PageFailure
	errors   []error
	mutex    sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		failures: make([]PageFailure, 0),
		errors:   make([]error, 0),
	}
}

// Add adds a page failure to the collector
func (ec *ErrorCollector) Add(failure PageFailure) {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	failure.Timestamp = time.Now()
	ec.failures = append(ec.failures, failure)
}

// AddPage records err against a page.
func (ec *ErrorCollector) AddPage(site, fullpath string, err error) {
	if err == nil {
		return
	}
	ec.Add(PageFailure{
		Site:     site,
		Fullpath: fullpath,
		Message:  err.Error(),
		Severity: ErrorSeverityError,
	})
}

// AddError adds a general error to the collector
func (ec *ErrorCollector) AddError(err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = append(ec.errors, err)
}

// GetFailures returns all page failures ordered by fullpath
func (ec *ErrorCollector) GetFailures() []PageFailure {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]PageFailure, len(ec.failures))
	copy(result, ec.failures)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Fullpath < result[j].Fullpath
	})
	return result
}

// GetAllErrors returns all collected errors (page failures and general)
func (ec *ErrorCollector) GetAllErrors() []error {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	allErrors := make([]error, 0, len(ec.failures)+len(ec.errors))
	for i := range ec.failures {
		f := ec.failures[i]
		allErrors = append(allErrors, &f)
	}
	allErrors = append(allErrors, ec.errors...)

	return allErrors
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.failures) > 0 || len(ec.errors) > 0
}

// Len returns the number of collected errors.
func (ec *ErrorCollector) Len() int {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.failures) + len(ec.errors)
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.failures = ec.failures[:0]
	ec.errors = ec.errors[:0]
}

// GetFailuresBySite returns failures for a specific site
func (ec *ErrorCollector) GetFailuresBySite(site string) []PageFailure {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	var siteFailures []PageFailure
	for _, f := range ec.failures {
		if f.Site == site {
			siteFailures = append(siteFailures, f)
		}
	}
	return siteFailures
}

// Err combines everything collected into one error, or nil.
func (ec *ErrorCollector) Err() error {
	return CombineErrors(ec.GetAllErrors()...)
}
