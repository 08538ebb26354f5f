package types

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorCode is a stable, machine-readable failure category carried in
// response envelopes.
type ErrorCode string

const (
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"         // CodeInvalidInput indicates a malformed envelope or operation input.
	CodeMissingConfiguration ErrorCode = "MISSING_CONFIGURATION" // CodeMissingConfiguration indicates a required runtime field resolved to nothing.
	CodeSessionError         ErrorCode = "SESSION_ERROR"         // CodeSessionError indicates a stale or unrecoverable session.
	CodeResourceExhausted    ErrorCode = "RESOURCE_EXHAUSTED"    // CodeResourceExhausted indicates the daemon ran out of ports.
	CodeTimeout              ErrorCode = "TIMEOUT"               // CodeTimeout indicates a bounded wait expired.
	CodeBrowserLaunchFailed  ErrorCode = "BROWSER_LAUNCH_FAILED" // CodeBrowserLaunchFailed indicates the engine could not start a browser.
	CodeNavigationFailed     ErrorCode = "NAVIGATION_FAILED"     // CodeNavigationFailed indicates a page load failed.
	CodeSelectorNotFound     ErrorCode = "SELECTOR_NOT_FOUND"    // CodeSelectorNotFound indicates no element matched a selector.
	CodeJSEvalFailed         ErrorCode = "JS_EVAL_FAILED"        // CodeJSEvalFailed indicates page script evaluation failed.
	CodeScreenshotFailed     ErrorCode = "SCREENSHOT_FAILED"     // CodeScreenshotFailed indicates a capture failed.
	CodeIOError              ErrorCode = "IO_ERROR"              // CodeIOError indicates a filesystem failure.
	CodeDaemonUnavailable    ErrorCode = "DAEMON_UNAVAILABLE"    // CodeDaemonUnavailable indicates the daemon socket could not be reached.
	CodeInternal             ErrorCode = "INTERNAL_ERROR"        // CodeInternal indicates an unexpected failure.
)

// Error is a classified failure. Details is optional structured context
// that is passed through to the response envelope untouched.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil && !strings.Contains(e.Message, e.Err.Error()) {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail attaches a detail entry and returns the same error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewError creates a classified error with a formatted message.
func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies err under code. A nil err yields nil.
func WrapError(code ErrorCode, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// CodeOf returns the code of a classified error, or CodeInternal.
func CodeOf(err error) ErrorCode {
	if typed, ok := AsError(err); ok {
		return typed.Code
	}
	return CodeInternal
}

// IsConnectionRefused reports whether err looks like a dropped or refused
// connection to a browser endpoint. Such errors trigger a single self-heal
// retry in the session broker.
func IsConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"connection refused", "econnrefused", "connection reset", "target closed", "browser has been closed"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
