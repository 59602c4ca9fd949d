package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the failure classes a page fetch can produce
type ErrorType string

const (
	// ErrorTypeTransient covers network failures, timeouts, 5xx and 429 responses
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeSchema means the payload parsed but required fields were absent
	ErrorTypeSchema ErrorType = "schema"
	// ErrorTypeFatal means retrying cannot help (bad JSON, 4xx, bad config)
	ErrorTypeFatal ErrorType = "fatal"
)

// Error represents a classified failure with optional HTTP status and cause
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Type, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient builds an ErrorTypeTransient error
func Transient(code int, message string, cause error) *Error {
	return &Error{Type: ErrorTypeTransient, Code: code, Message: message, Err: cause}
}

// Fatal builds an ErrorTypeFatal error
func Fatal(code int, message string, cause error) *Error {
	return &Error{Type: ErrorTypeFatal, Code: code, Message: message, Err: cause}
}

// Schema builds an ErrorTypeSchema error
func Schema(message string) *Error {
	return &Error{Type: ErrorTypeSchema, Message: message}
}

// SchemaError reports a record or page missing a field the schema requires.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("schema error: missing field %q", e.Field)
	}
	return fmt.Sprintf("schema error: field %q: %s", e.Field, e.Reason)
}

// FetchExhaustedError is returned once every page-level attempt has failed.
type FetchExhaustedError struct {
	Page     int
	Attempts int
	Last     error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("page %d: fetch failed after %d attempts: %v", e.Page, e.Attempts, e.Last)
}

func (e *FetchExhaustedError) Unwrap() error {
	return e.Last
}

// TypeOf returns the classification of err, or "" when it carries none
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	var se *SchemaError
	if errors.As(err, &se) {
		return ErrorTypeSchema
	}
	return ""
}

// IsTransient reports whether err is worth another attempt
func IsTransient(err error) bool {
	return TypeOf(err) == ErrorTypeTransient
}

// IsSchema reports whether err is a schema mismatch
func IsSchema(err error) bool {
	return TypeOf(err) == ErrorTypeSchema
}

// IsFatal reports whether err is classified as fatal
func IsFatal(err error) bool {
	return TypeOf(err) == ErrorTypeFatal
}

// IsExhausted reports whether err wraps a FetchExhaustedError
func IsExhausted(err error) bool {
	var e *FetchExhaustedError
	return errors.As(err, &e)
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	return errorType == ErrorTypeTransient
}

// IsRetryableStatusCode checks if an HTTP status code indicates a transient failure
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429:
		return true
	case 500, 502, 503, 504:
		return true
	default:
		return statusCode >= 500
	}
}

// ClassifyStatus maps a non-2xx HTTP status to a classified error
func ClassifyStatus(statusCode int, body string) *Error {
	msg := fmt.Sprintf("unexpected status %d", statusCode)
	if body != "" {
		msg = fmt.Sprintf("%s: %s", msg, body)
	}
	if IsRetryableStatusCode(statusCode) {
		return Transient(statusCode, msg, nil)
	}
	return Fatal(statusCode, msg, nil)
}
