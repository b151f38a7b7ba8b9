// Package ledgererr defines the structured error envelope shared by every
// ledger operation. An operation either succeeds or returns an *Error that
// carries a stable machine-readable code, a human message, and optional
// detail fields (computed totals, offending ids) so the caller can decide
// the remediation without re-querying state.
package ledgererr

import (
	"errors"
	"fmt"
)

// Stable error codes. These form the external contract; adapters match on
// Code, never on message text.
const (
	CodeNotBalanced          = "NOT_BALANCED"
	CodeAccountNotFound      = "ACCOUNT_NOT_FOUND"
	CodeAccountDisabled      = "ACCOUNT_DISABLED"
	CodeDimensionNotFound    = "DIMENSION_NOT_FOUND"
	CodeVoucherNotFound      = "VOUCHER_NOT_FOUND"
	CodeVoucherNotReviewed   = "VOUCHER_NOT_REVIEWED"
	CodeVoucherNotDraft      = "VOUCHER_NOT_DRAFT"
	CodePeriodClosed         = "PERIOD_CLOSED"
	CodePeriodAdjustmentOnly = "PERIOD_ADJUSTMENT_ONLY"
	CodePeriodNotFound       = "PERIOD_NOT_FOUND"
	CodeVoidConfirmed        = "VOID_CONFIRMED"
	CodeTemplateDisabled     = "TEMPLATE_DISABLED"
	CodeTemplateUnbalanced   = "TEMPLATE_UNBALANCED"
	CodeTemplateNotFound     = "TEMPLATE_NOT_FOUND"
	CodeTemplateInvalid      = "TEMPLATE_INVALID"
	CodeRateNotFound         = "RATE_NOT_FOUND"
	CodeCurrencyNotFound     = "CURRENCY_NOT_FOUND"
	CodeNegativeInventory    = "NEGATIVE_INVENTORY"
	CodeItemNotFound         = "ITEM_NOT_FOUND"
	CodeAssetNotFound        = "ASSET_NOT_FOUND"
	CodeIterationDiverged    = "ITERATION_DIVERGED"
	CodeReportNotBalanced    = "REPORT_NOT_BALANCED"
	CodeMappingInvalid       = "REPORT_MAPPING_INVALID"
	CodeRebuildMismatch      = "REBUILD_MISMATCH"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeStorage              = "STORAGE"
)

// Kind partitions errors by how the caller should treat them (spec-level
// taxonomy: validation, illegal state transition, consistency violation,
// storage/capacity fault, non-fatal convergence warning).
type Kind int

const (
	KindValidation Kind = iota
	KindState
	KindConsistency
	KindCapacity
	KindConvergence
)

// Error is the structured error returned by all ledger operations.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Is matches two errors by code so sentinel comparison works across wrapping.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// WithDetail attaches a named detail value and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause records the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// Envelope renders the error in the external {error, code, message, details}
// shape used on every adapter boundary.
func (e *Error) Envelope() map[string]any {
	out := map[string]any{
		"error":   true,
		"code":    e.Code,
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		out["details"] = e.Details
	}
	return out
}

// New creates an error with an explicit kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Newf creates a validation-kind error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

// State creates an illegal-transition error.
func State(code, message string) *Error {
	return New(KindState, code, message)
}

// Consistency creates a consistency-violation error; callers log these as
// corrupt-state indicators.
func Consistency(code, message string) *Error {
	return New(KindConsistency, code, message)
}

// Storage wraps a persistence failure. The enclosing transaction is rolled
// back by the storage layer before this surfaces.
func Storage(operation string, err error) *Error {
	return &Error{
		Kind:    KindCapacity,
		Code:    CodeStorage,
		Message: fmt.Sprintf("storage failure during %s", operation),
		cause:   err,
	}
}

// Convergence creates the non-fatal model-mode warning.
func Convergence(message string) *Error {
	return New(KindConvergence, CodeIterationDiverged, message)
}

// CodeOf extracts the stable code from any error, or CodeStorage for plain
// errors that escaped classification.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeStorage
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
