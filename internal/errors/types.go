// Package errors provides the structured error types used across pagegraph:
// PagegraphError for infrastructure failures, CompileError for template
// compile results, and field validation errors that block a page save.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeCompile    ErrorType = "compile"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// PagegraphError is a structured error type with context.
type PagegraphError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Page        string
	Site        string
	Recoverable bool
}

// Error implements the error interface.
func (e *PagegraphError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Site != "" {
		parts = append(parts, "site:"+e.Site)
	}
	if e.Page != "" {
		parts = append(parts, "page:"+e.Page)
	}

	parts = append(parts, e.Message)
	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PagegraphError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *PagegraphError) Is(target error) bool {
	var t *PagegraphError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PagegraphError) WithContext(key string, value interface{}) *PagegraphError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPage adds page and site context.
func (e *PagegraphError) WithPage(site, page string) *PagegraphError {
	e.Site = site
	e.Page = page

	return e
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *PagegraphError {
	return &PagegraphError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewStorageError creates a storage error.
func NewStorageError(code, message string, cause error) *PagegraphError {
	return &PagegraphError{
		Type:        ErrorTypeStorage,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *PagegraphError {
	return &PagegraphError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PagegraphError {
	return &PagegraphError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PagegraphError {
	return &PagegraphError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var pe *PagegraphError
	if errors.As(err, &pe) {
		return pe.Recoverable
	}

	return false
}

// IsStorageError checks if an error is storage-related.
func IsStorageError(err error) bool {
	var pe *PagegraphError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypeStorage
	}

	return false
}

// IsValidationError checks if an error blocked a save through validation.
func IsValidationError(err error) bool {
	var vec *ValidationErrorCollection
	if errors.As(err, &vec) {
		return true
	}
	var pe *PagegraphError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypeValidation
	}

	return false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at a level matching its type.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var vec *ValidationErrorCollection
	if errors.As(err, &vec) {
		h.logger.Warn(ctx, err, "Validation failed", "fields", vec.Fields())
		return
	}

	var pe *PagegraphError
	if !errors.As(err, &pe) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch pe.Type {
	case ErrorTypeValidation, ErrorTypeCompile:
		h.logger.Warn(ctx, pe, "Recoverable error occurred",
			"type", pe.Type,
			"code", pe.Code,
			"page", pe.Page)
	default:
		h.logger.Error(ctx, pe, "Error occurred",
			"type", pe.Type,
			"code", pe.Code,
			"site", pe.Site,
			"page", pe.Page)
	}
}

// Common error codes.
const (
	ErrCodePageNotFound     = "ERR_PAGE_NOT_FOUND"
	ErrCodeSiteNotFound     = "ERR_SITE_NOT_FOUND"
	ErrCodeSnippetNotFound  = "ERR_SNIPPET_NOT_FOUND"
	ErrCodeStorageFailed    = "ERR_STORAGE_FAILED"
	ErrCodeQueryFailed      = "ERR_QUERY_FAILED"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeFileNotFound     = "ERR_FILE_NOT_FOUND"
	ErrCodeInternalError    = "ERR_INTERNAL"
	ErrCodeValidationFailed = "ERR_VALIDATION_FAILED"
	ErrCodePropagation      = "ERR_PROPAGATION_FAILED"
)

// ValidationError interface for field-specific validation errors.
type ValidationError interface {
	error
	Field() string
	Value() interface{}
}

// FieldValidationError implements ValidationError for specific field errors.
type FieldValidationError struct {
	FieldName    string
	FieldValue   interface{}
	ErrorMessage string
}

// Error implements the error interface.
func (fve *FieldValidationError) Error() string {
	return fmt.Sprintf("%s %s", fve.FieldName, fve.ErrorMessage)
}

// Field returns the field name that failed validation.
func (fve *FieldValidationError) Field() string {
	return fve.FieldName
}

// Value returns the invalid value.
func (fve *FieldValidationError) Value() interface{} {
	return fve.FieldValue
}

// Message returns the validation message without the field name.
func (fve *FieldValidationError) Message() string {
	return fve.ErrorMessage
}

// NewFieldValidationError creates a new field validation error.
func NewFieldValidationError(field string, value interface{}, message string) *FieldValidationError {
	return &FieldValidationError{
		FieldName:    field,
		FieldValue:   value,
		ErrorMessage: message,
	}
}

// ValidationErrorCollection represents a collection of validation errors.
type ValidationErrorCollection struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (vec *ValidationErrorCollection) Error() string {
	if len(vec.Errors) == 0 {
		return "no validation errors"
	}
	if len(vec.Errors) == 1 {
		return vec.Errors[0].Error()
	}

	messages := make([]string, 0, len(vec.Errors))
	for _, err := range vec.Errors {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(vec.Errors), strings.Join(messages, "; "))
}

// Add adds a validation error to the collection.
func (vec *ValidationErrorCollection) Add(err ValidationError) {
	vec.Errors = append(vec.Errors, err)
}

// AddField adds a field validation error to the collection.
func (vec *ValidationErrorCollection) AddField(field string, value interface{}, message string) {
	vec.Add(NewFieldValidationError(field, value, message))
}

// HasErrors returns true if there are any validation errors.
func (vec *ValidationErrorCollection) HasErrors() bool {
	return len(vec.Errors) > 0
}

// Fields groups the validation messages by field name.
func (vec *ValidationErrorCollection) Fields() map[string][]string {
	fields := make(map[string][]string)
	for _, err := range vec.Errors {
		msg := err.Error()
		if fve, ok := err.(*FieldValidationError); ok {
			msg = fve.Message()
		}
		fields[err.Field()] = append(fields[err.Field()], msg)
	}
	return fields
}

// ErrPageNotFound creates a page lookup error.
func ErrPageNotFound(site, ref string) *PagegraphError {
	return NewValidationError(ErrCodePageNotFound, "page not found: "+ref).WithPage(site, ref)
}
