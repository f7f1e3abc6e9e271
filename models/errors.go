package models

import (
	"fmt"
	"strings"
)

// Error codes reported in the error_type field of step results.
const (
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeSelectorMissing = "SELECTOR_NOT_FOUND"
	ErrCodeNavigation      = "NAVIGATION_FAILED"
	ErrCodeScript          = "SCRIPT_ERROR"
	ErrCodeCaptureInactive = "CAPTURE_NOT_ACTIVE"
	ErrCodeUnknownAction   = "UNKNOWN_ACTION"
	ErrCodeBrowserCrash    = "BROWSER_CRASH"
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// maxMessageLen caps error messages embedded in step results; browser engines
// can produce multi-kilobyte failure dumps.
const maxMessageLen = 500

// ErrorDetail is the structured error attached to a report when the session
// itself could not be created or maintained.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ActionError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ActionError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// NewActionError creates a new ActionError.
func NewActionError(code, message string, err error) *ActionError {
	return &ActionError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to a report-facing ErrorDetail.
func (e *ActionError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: TruncateMessage(e.Message)}
}

// TruncateMessage clips a message to the wire limit.
func TruncateMessage(msg string) string {
	if len(msg) > maxMessageLen {
		return msg[:maxMessageLen]
	}
	return msg
}

// SuggestionFor returns a remediation hint for a failed step, keyed off the
// error code and message content. The hints target the calling agent: they
// name concrete follow-up actions from this tool's own vocabulary.
func SuggestionFor(code, message, selector string) string {
	lower := strings.ToLower(message)

	switch {
	case code == ErrCodeSelectorMissing,
		strings.Contains(lower, "element not found"),
		strings.Contains(lower, "cannot find"):
		return fmt.Sprintf("Selector %q not found. Inspect the page with capture_snapshot, wait for it with wait_for_selector, or check whether the element sits inside an iframe.", selector)

	case code == ErrCodeTimeout, strings.Contains(lower, "timeout"),
		strings.Contains(lower, "deadline exceeded"):
		return "Operation timed out. Increase the timeout parameter, or use wait_for_selector before this action."

	case code == ErrCodeNavigation, strings.Contains(lower, "navigation"),
		strings.Contains(lower, "net::err"):
		return "Navigation failed. Verify the URL is correct and reachable."

	case strings.Contains(lower, "detached"):
		return "Element was removed from the page. The page may have reloaded or changed dynamically."

	case code == ErrCodeInvalidInput:
		return "Check the action's parameters against the supported set."

	default:
		return "Check the action parameters and the page state before this action."
	}
}
