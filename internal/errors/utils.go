package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Wrap wraps an error with additional context, creating a SpindleError if
// the input is not already one.
func Wrap(err error, errType ErrorType, code, message string) *SpindleError {
	if err == nil {
		return nil
	}

	var se *SpindleError
	if errors.As(err, &se) {
		return &SpindleError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       se,
			Context:     se.Context,
			Component:   se.Component,
			FilePath:    se.FilePath,
			Recoverable: se.Recoverable,
		}
	}

	return &SpindleError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeBuild,
	}
}

// WrapBuild wraps an error as a build error for a script.
func WrapBuild(err error, code, message, script string) *SpindleError {
	se := Wrap(err, ErrorTypeBuild, code, message)
	if se != nil {
		se.FilePath = script
		se.Recoverable = true
	}
	return se
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *SpindleError {
	return Wrap(err, ErrorTypeIO, code, message)
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *SpindleError {
	se := Wrap(err, ErrorTypeConfig, code, message)
	if se != nil {
		se.Recoverable = false
	}
	return se
}

// GetErrorContext extracts context information from a SpindleError
func GetErrorContext(err error) map[string]interface{} {
	var se *SpindleError
	if errors.As(err, &se) {
		context := make(map[string]interface{}, len(se.Context)+5)
		for k, v := range se.Context {
			context[k] = v
		}
		if se.Component != "" {
			context["component"] = se.Component
		}
		if se.FilePath != "" {
			context["file"] = se.FilePath
		}
		context["type"] = string(se.Type)
		context["code"] = se.Code
		context["recoverable"] = se.Recoverable
		return context
	}

	return map[string]interface{}{
		"message": err.Error(),
		"type":    "unknown",
	}
}

// IsFatalError checks if an error should stop the running command.
func IsFatalError(err error) bool {
	var se *SpindleError
	if errors.As(err, &se) {
		return se.Type == ErrorTypeSecurity || se.Type == ErrorTypeInternal || se.Type == ErrorTypeDiscovery
	}
	return false
}

// ExtractCause returns the innermost error of a chain.
func ExtractCause(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
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

	return &SpindleError{
		Type:    ErrorTypeBuild,
		Code:    "ERR_MULTIPLE_ERRORS",
		Message: fmt.Sprintf("%d errors occurred:\n  %s", len(nonNilErrs), strings.Join(messages, "\n  ")),
		Context: map[string]interface{}{
			"error_count": len(nonNilErrs),
			"errors":      messages,
		},
		Recoverable: true,
	}
}
