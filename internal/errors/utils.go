package errors

import (
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context, creating a PagegraphError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *PagegraphError {
	if err == nil {
		return nil
	}

	// Keep page context and recoverability from an inner PagegraphError
	var pe *PagegraphError
	if errors.As(err, &pe) {
		return &PagegraphError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       pe,
			Context:     pe.Context,
			Site:        pe.Site,
			Page:        pe.Page,
			Recoverable: pe.Recoverable,
		}
	}

	return &PagegraphError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeCompile,
	}
}

// WrapWithContext wraps an error with context information
func WrapWithContext(err error, errType ErrorType, code, message string, context map[string]interface{}) *PagegraphError {
	wrapped := Wrap(err, errType, code, message)
	if wrapped != nil {
		wrapped.Context = context
	}
	return wrapped
}

// WrapStorage wraps an error as a storage error
func WrapStorage(err error, code, message string) *PagegraphError {
	wrapped := Wrap(err, ErrorTypeStorage, code, message)
	if wrapped != nil {
		wrapped.Recoverable = false
	}
	return wrapped
}

// WrapValidation wraps an error as a validation error
func WrapValidation(err error, code, message string) *PagegraphError {
	return Wrap(err, ErrorTypeValidation, code, message)
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *PagegraphError {
	wrapped := Wrap(err, ErrorTypeIO, code, message)
	if wrapped != nil {
		wrapped.Recoverable = false
	}
	return wrapped
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *PagegraphError {
	wrapped := Wrap(err, ErrorTypeConfig, code, message)
	if wrapped != nil {
		wrapped.Recoverable = false
	}
	return wrapped
}

// WrapInternal wraps an error as an internal error
func WrapInternal(err error, code, message string) *PagegraphError {
	wrapped := Wrap(err, ErrorTypeInternal, code, message)
	if wrapped != nil {
		wrapped.Recoverable = false
	}
	return wrapped
}

// NewTemplateValidationErrors turns compile errors into the validation
// errors that block a save. Each message is the error's token.
func NewTemplateValidationErrors(compileErrs []*CompileError) *ValidationErrorCollection {
	vec := &ValidationErrorCollection{}
	for _, ce := range compileErrs {
		vec.Add(&FieldValidationError{
			FieldName:    "template",
			FieldValue:   ce,
			ErrorMessage: ce.Token(),
		})
	}
	return vec
}

// FormatError formats an error for user display
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	var vec *ValidationErrorCollection
	if errors.As(err, &vec) {
		result := vec.Error()
		for _, ve := range vec.Errors {
			if ce, ok := ve.Value().(*CompileError); ok {
				result += fmt.Sprintf("\n  • %s", ce.Error())
			}
		}
		return result
	}

	return err.Error()
}

// GetErrorContext extracts context information from a PagegraphError
func GetErrorContext(err error) map[string]interface{} {
	var pe *PagegraphError
	if errors.As(err, &pe) {
		context := make(map[string]interface{})
		for k, v := range pe.Context {
			context[k] = v
		}
		if pe.Site != "" {
			context["site"] = pe.Site
		}
		if pe.Page != "" {
			context["page"] = pe.Page
		}
		context["type"] = string(pe.Type)
		context["code"] = pe.Code
		context["recoverable"] = pe.Recoverable
		return context
	}

	return map[string]interface{}{
		"message": err.Error(),
		"type":    "unknown",
	}
}

// ExtractCause extracts the root cause from a wrapped error
func ExtractCause(err error) error {
	for err != nil {
		var pe *PagegraphError
		if errors.As(err, &pe) {
			if pe.Cause == nil {
				return pe
			}
			err = pe.Cause
		} else {
			return err
		}
	}
	return nil
}

// CollectErrors helper for common error collection patterns
func CollectErrors(errs ...error) []error {
	var collected []error
	for _, err := range errs {
		if err != nil {
			collected = append(collected, err)
		}
	}
	return collected
}

// CombineErrors combines multiple errors into a single error with context
func CombineErrors(errs ...error) error {
	nonNilErrs := CollectErrors(errs...)
	if len(nonNilErrs) == 0 {
		return nil
	}
	if len(nonNilErrs) == 1 {
		return nonNilErrs[0]
	}

	messages := make([]string, 0, len(nonNilErrs))
	for _, err := range nonNilErrs {
		messages = append(messages, err.Error())
	}

	return &PagegraphError{
		Type:    ErrorTypeInternal,
		Code:    "ERR_MULTIPLE_ERRORS",
		Message: fmt.Sprintf("multiple errors occurred: %d errors", len(nonNilErrs)),
		Context: map[string]interface{}{
			"error_count": len(nonNilErrs),
			"errors":      messages,
		},
		Recoverable: false,
	}
}
