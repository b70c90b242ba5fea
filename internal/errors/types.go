package errors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDiscovery  ErrorType = "discovery"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeBuild      ErrorType = "build"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeSecurity   ErrorType = "security"
	ErrorTypeInternal   ErrorType = "internal"
)

// SpindleError is a structured error type with context.
type SpindleError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	FilePath    string
	Recoverable bool
}

// Error implements the error interface.
func (e *SpindleError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *SpindleError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *SpindleError) Is(target error) bool {
	var t *SpindleError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *SpindleError) WithContext(key string, value interface{}) *SpindleError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithFile attaches the file the error is about.
func (e *SpindleError) WithFile(filePath string) *SpindleError {
	e.FilePath = filePath

	return e
}

// WithComponent adds component context.
func (e *SpindleError) WithComponent(component string) *SpindleError {
	e.Component = component

	return e
}

// Error creation functions

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *SpindleError {
	return &SpindleError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewDiscoveryError creates an error for a path that could not be found
// before anything was built. It is fatal to the invoking command.
func NewDiscoveryError(code, message string, cause error) *SpindleError {
	return &SpindleError{
		Type:        ErrorTypeDiscovery,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewSecurityError creates a security error.
func NewSecurityError(code, message string) *SpindleError {
	return &SpindleError{
		Type:        ErrorTypeSecurity,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewBuildError creates a build error.
func NewBuildError(code, message string, cause error) *SpindleError {
	return &SpindleError{
		Type:        ErrorTypeBuild,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *SpindleError {
	return &SpindleError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *SpindleError {
	return &SpindleError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error. Internal errors signal a
// programming or contract mistake rather than a runtime condition.
func NewInternalError(code, message string, cause error) *SpindleError {
	return &SpindleError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// Error recovery and handling utilities

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var se *SpindleError
	if errors.As(err, &se) {
		return se.Recoverable
	}

	return false
}

// IsBuildError checks if an error is build-related.
func IsBuildError(err error) bool {
	return hasType(err, ErrorTypeBuild)
}

// IsDiscoveryError checks if an error reports a missing input path.
func IsDiscoveryError(err error) bool {
	return hasType(err, ErrorTypeDiscovery)
}

// IsInternal checks if an error is a contract violation.
func IsInternal(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

// IsSecurityError checks if an error is security-related.
func IsSecurityError(err error) bool {
	return hasType(err, ErrorTypeSecurity)
}

func hasType(err error, t ErrorType) bool {
	var se *SpindleError
	if errors.As(err, &se) {
		return se.Type == t
	}

	return false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	var se *SpindleError
	if errors.As(err, &se) {
		return se.Code == code
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

// Handle processes an error with the logging level its type calls for. The
// error's context and innermost cause are logged as fields.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var se *SpindleError
	if !errors.As(err, &se) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	fields := contextFields(GetErrorContext(se))
	if se.Cause != nil {
		fields = append(fields, "cause", ExtractCause(se).Error())
	}

	if se.Recoverable {
		h.logger.Warn(ctx, se, "Recoverable error occurred", fields...)
		return
	}
	h.logger.Error(ctx, se, "Error occurred", fields...)
}

func contextFields(values map[string]interface{}) []interface{} {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]interface{}, 0, 2*len(keys))
	for _, k := range keys {
		fields = append(fields, k, values[k])
	}
	return fields
}

// Common error codes.
const (
	ErrCodeInvalidPath      = "ERR_INVALID_PATH"
	ErrCodePathTraversal    = "ERR_PATH_TRAVERSAL"
	ErrCodePathNotFound     = "ERR_PATH_NOT_FOUND"
	ErrCodeScriptFailed     = "ERR_SCRIPT_FAILED"
	ErrCodeTrackerDisabled  = "ERR_TRACKER_DISABLED"
	ErrCodeUnknownWatcher   = "ERR_UNKNOWN_WATCHER"
	ErrCodePortUnavailable  = "ERR_PORT_UNAVAILABLE"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeFileExists       = "ERR_FILE_EXISTS"
	ErrCodeInternalError    = "ERR_INTERNAL"
	ErrCodeValidationFailed = "ERR_VALIDATION_FAILED"
)

// Helper functions for common errors

// ErrInvalidPath creates a path validation error.
func ErrInvalidPath(path string) *SpindleError {
	return NewValidationError(ErrCodeInvalidPath, "invalid path: "+path)
}

// ErrPathTraversal creates a path traversal security error.
func ErrPathTraversal(path string) *SpindleError {
	return NewSecurityError(ErrCodePathTraversal, "path escapes output directory: "+path)
}

// ErrPathNotFound creates the discovery error raised before any watcher exists.
func ErrPathNotFound(path string, cause error) *SpindleError {
	return NewDiscoveryError(ErrCodePathNotFound, "path not found: "+path, cause).WithFile(path)
}

// ErrScriptFailed creates a build failure error for a build script.
func ErrScriptFailed(script string, cause error) *SpindleError {
	return NewBuildError(ErrCodeScriptFailed, "build script failed", cause).WithFile(script)
}

// ErrTrackerDisabled signals a Dump on a build context that is not tracking.
func ErrTrackerDisabled() *SpindleError {
	return NewInternalError(ErrCodeTrackerDisabled, "build context dumped while tracking is disabled", nil)
}

// ErrUnknownWatcher signals removal of a watcher the manager never held.
func ErrUnknownWatcher(root string) *SpindleError {
	return NewInternalError(ErrCodeUnknownWatcher, "watcher is not registered: "+root, nil)
}

// ErrPortUnavailable creates a resource error for a port that cannot be bound.
func ErrPortUnavailable(addr string, cause error) *SpindleError {
	return NewIOError(ErrCodePortUnavailable, "cannot listen on "+addr, cause)
}
