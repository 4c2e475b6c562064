package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes into the categories callers branch on.
type Kind string

const (
	KindValidation   Kind = "VALIDATION"
	KindConflict     Kind = "CONFLICT"
	KindNotFound     Kind = "NOT_FOUND"
	KindBusinessRule Kind = "BUSINESS_RULE"
	KindExternal     Kind = "EXTERNAL_DEPENDENCY"
	KindAuth         Kind = "AUTH"
	KindInternal     Kind = "INTERNAL"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Kind    Kind                   `json:"-"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches on the error code so cloned errors compare equal to their template.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Kind: kindForStatus(status)}
}

// NewKind creates an Error with an explicit kind.
func NewKind(kind Kind, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Kind: kind}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err, Kind: kindForStatus(status)}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = NewKind(KindAuth, "INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = NewKind(KindAuth, "ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = NewKind(KindAuth, "FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = NewKind(KindAuth, "UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")

	ErrInvalidAction      = NewKind(KindValidation, "INVALID_ACTION", http.StatusBadRequest, "unrecognised audit action")
	ErrAlreadyPaid        = NewKind(KindConflict, "ALREADY_PAID", http.StatusConflict, "fee already paid")
	ErrRolloverInProgress = NewKind(KindConflict, "ROLLOVER_IN_PROGRESS", http.StatusConflict, "academic year rollover already running")

	ErrFeeLocked        = NewKind(KindBusinessRule, "FEE_LOCKED", http.StatusUnprocessableEntity, "annual fee already edited this academic year")
	ErrExceedsTotal     = NewKind(KindBusinessRule, "EXCEEDS_TOTAL", http.StatusUnprocessableEntity, "payment exceeds total fee")
	ErrAlreadyFinal     = NewKind(KindBusinessRule, "ALREADY_FINAL", http.StatusUnprocessableEntity, "student already in final class")
	ErrInvalidClass     = NewKind(KindBusinessRule, "INVALID_CLASS", http.StatusUnprocessableEntity, "class is not part of the class sequence")
	ErrInvalidAmount    = NewKind(KindBusinessRule, "INVALID_AMOUNT", http.StatusUnprocessableEntity, "amount must be greater than zero")
	ErrNoActiveStudents = NewKind(KindBusinessRule, "NO_ACTIVE_STUDENTS", http.StatusUnprocessableEntity, "no active students found")
	ErrMissingFees      = NewKind(KindBusinessRule, "MISSING_FEES", http.StatusUnprocessableEntity, "class fee missing for promoted class")

	ErrReceiptFailed = NewKind(KindExternal, "RECEIPT_FAILED", http.StatusBadGateway, "receipt generation failed")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithDetails returns a copy of the error carrying structured details.
func WithDetails(err *Error, details map[string]interface{}) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Details = details
	return &clone
}

// KindOf reports the kind of any error, defaulting to internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}
	return KindInternal
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest:
		return KindValidation
	case http.StatusConflict:
		return KindConflict
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusUnprocessableEntity:
		return KindBusinessRule
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusBadGateway:
		return KindExternal
	default:
		return KindInternal
	}
}
