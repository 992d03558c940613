package core

import (
	"errors"
	"fmt"
)

// ErrorCode classifies engine failures. Codes are stable strings so they
// survive serialization into run results and job payloads.
type ErrorCode string

const (
	CodeExpressionError    ErrorCode = "expression-error"
	CodeParseError         ErrorCode = "parse-error"
	CodeSyntaxError        ErrorCode = "syntax-error"
	CodeValidationError    ErrorCode = "validation-error"
	CodeInvalidKey         ErrorCode = "invalid-key"
	CodeMissingAttribution ErrorCode = "missing-explicit-attribution"
	CodeCycleDetected      ErrorCode = "cycle-detected"
	CodeUnknownError       ErrorCode = "unknown-error"
)

// Error is the engine-wide error envelope. Details carries structured
// context such as the offending field path.
type Error struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func NewError(code ErrorCode, msg string, details map[string]any) *Error {
	return &Error{Code: code, Message: msg, Details: details}
}

func WrapError(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the engine error code from err, walking the wrap chain.
// Errors outside the taxonomy map to CodeUnknownError.
func CodeOf(err error) ErrorCode {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return CodeUnknownError
}

// Issue is a field-level problem surfaced to callers so a configuration UI
// can highlight the offending field.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// IssueList aggregates field issues into a single error value.
type IssueList []Issue

func (l IssueList) Error() string {
	if len(l) == 0 {
		return "no issues"
	}
	return fmt.Sprintf("%d config issue(s), first at %s: %s", len(l), l[0].Path, l[0].Message)
}
