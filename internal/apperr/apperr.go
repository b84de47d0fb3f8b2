// Package apperr provides unified error handling for the aggregator.
// Every failure that crosses a package boundary is wrapped in an AppError
// carrying a stable code, so callers can branch on the kind of failure
// without string matching and log sites can attach structured context.
package apperr

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrorCode identifies the category of an error.
type ErrorCode string

const (
	ErrCodeConfig        ErrorCode = "CONFIG_ERROR"
	ErrCodeURLRejected   ErrorCode = "URL_REJECTED"
	ErrCodeRebinding     ErrorCode = "REBINDING_REJECTED"
	ErrCodeRedirect      ErrorCode = "REDIRECT_REJECTED"
	ErrCodeTooLarge      ErrorCode = "RESPONSE_TOO_LARGE"
	ErrCodeTimeout       ErrorCode = "TIMEOUT_ERROR"
	ErrCodeTransport     ErrorCode = "TRANSPORT_ERROR"
	ErrCodeRateLimit     ErrorCode = "RATE_LIMIT_ERROR"
	ErrCodeParse         ErrorCode = "PARSE_ERROR"
	ErrCodeCacheCorrupt  ErrorCode = "CACHE_CORRUPT"
	ErrCodeStatePersist  ErrorCode = "STATE_PERSIST_ERROR"
	ErrCodeWriteFailure  ErrorCode = "WRITE_FAILURE"
	ErrCodeUnknown       ErrorCode = "UNKNOWN_ERROR"
)

// AppError is an error with a code and optional structured context.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError with an arbitrary code.
func New(code ErrorCode, message string, cause error, context map[string]interface{}) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause, Context: context}
}

// ConfigError marks configuration that cannot be used. Fatal at startup.
func ConfigError(message string, cause error, context map[string]interface{}) *AppError {
	return &AppError{Code: ErrCodeConfig, Message: message, Cause: cause, Context: context}
}

// URLRejected marks a URL that failed validation before any connection.
func URLRejected(message string, context map[string]interface{}) *AppError {
	return &AppError{Code: ErrCodeURLRejected, Message: message, Context: context}
}

// RebindingRejected marks a connection whose peer address failed validation.
func RebindingRejected(message string, context map[string]interface{}) *AppError {
	return &AppError{Code: ErrCodeRebinding, Message: message, Context: context}
}

// RedirectRejected marks a redirect chain that was refused.
func RedirectRejected(message string, context map[string]interface{}) *AppError {
	return &AppError{Code: ErrCodeRedirect, Message: message, Context: context}
}

// ResponseTooLarge marks a response body exceeding the configured cap.
func ResponseTooLarge(message string, context map[string]interface{}) *AppError {
	return &AppError{Code: ErrCodeTooLarge, Message: message, Context: context}
}

// TimeoutError marks a deadline hit while talking to an upstream.
func TimeoutError(message string, cause error, context map[string]interface{}) *AppError {
	return &AppError{Code: ErrCodeTimeout, Message: message, Cause: cause, Context: context}
}

// TransportError marks a network level failure.
func TransportError(message string, cause error, context map[string]interface{}) *AppError {
	return &AppError{Code: ErrCodeTransport, Message: message, Cause: cause, Context: context}
}

// RateLimitError marks an aborted run due to an exhausted request budget.
func RateLimitError(message string, context map[string]interface{}) *AppError {
	return &AppError{Code: ErrCodeRateLimit, Message: message, Context: context}
}

// ParseError marks an upstream element that could not be decoded.
func ParseError(message string, cause error, context map[string]interface{}) *AppError {
	return &AppError{Code: ErrCodeParse, Message: message, Cause: cause, Context: context}
}

// CacheCorruptError marks an unreadable cache snapshot.
func CacheCorruptError(message string, cause error, context map[string]interface{}) *AppError {
	return &AppError{Code: ErrCodeCacheCorrupt, Message: message, Cause: cause, Context: context}
}

// StatePersistError marks a failed first-seen state write. Never fatal.
func StatePersistError(message string, cause error, context map[string]interface{}) *AppError {
	return &AppError{Code: ErrCodeStatePersist, Message: message, Cause: cause, Context: context}
}

// WriteFailure marks a failed write of the final feed document.
func WriteFailure(message string, cause error, context map[string]interface{}) *AppError {
	return &AppError{Code: ErrCodeWriteFailure, Message: message, Cause: cause, Context: context}
}

// CodeOf extracts the ErrorCode from err, or ErrCodeUnknown.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeUnknown
}

// HasCode reports whether any error in err's tree carries the given code.
// Unlike CodeOf it keeps searching past the first AppError, so a joined
// error from a multi-provider run still reveals every code it contains.
func HasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	if appErr, ok := err.(*AppError); ok && appErr.Code == code {
		return true
	}
	switch wrapped := err.(type) {
	case interface{ Unwrap() error }:
		return HasCode(wrapped.Unwrap(), code)
	case interface{ Unwrap() []error }:
		for _, inner := range wrapped.Unwrap() {
			if HasCode(inner, code) {
				return true
			}
		}
	}
	return false
}

// LogError logs err with its context flattened into slog attributes.
func LogError(logger *slog.Logger, err error, operation string) {
	if logger == nil || err == nil {
		return
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		args := []any{
			slog.String("operation", operation),
			slog.String("error_code", string(appErr.Code)),
			slog.String("error_message", appErr.Message),
		}
		if appErr.Cause != nil {
			args = append(args, slog.String("cause", appErr.Cause.Error()))
		}
		for k, v := range appErr.Context {
			args = append(args, slog.Any(k, v))
		}
		logger.Error("operation failed", args...)
		return
	}
	logger.Error("operation failed",
		slog.String("operation", operation),
		slog.String("error_code", string(ErrCodeUnknown)),
		slog.String("error_message", err.Error()),
	)
}
