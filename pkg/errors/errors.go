package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrConflict
	ErrInvalidStateTransition
	ErrAlreadyClaimed
	ErrGracePeriodExpired
	ErrNotAssigned
	ErrStoreUnavailable
)

var codeNames = map[ErrorCode]string{
	ErrNotFound:               "NOT_FOUND",
	ErrBadRequest:             "BAD_REQUEST",
	ErrUnauthorized:           "UNAUTHORIZED",
	ErrForbidden:              "FORBIDDEN",
	ErrInternal:               "INTERNAL",
	ErrConflict:               "CONFLICT",
	ErrInvalidStateTransition: "INVALID_STATE_TRANSITION",
	ErrAlreadyClaimed:         "ALREADY_CLAIMED",
	ErrGracePeriodExpired:     "GRACE_PERIOD_EXPIRED",
	ErrNotAssigned:            "NOT_ASSIGNED",
	ErrStoreUnavailable:       "STORE_UNAVAILABLE",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_%d", int(c))
}

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: message,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Message: message,
	}
}

// InvalidStateTransition reports an operation attempted from the wrong state.
func InvalidStateTransition(resource, from, to string) *AppError {
	return &AppError{
		Code:    ErrInvalidStateTransition,
		Message: fmt.Sprintf("%s cannot move from %q to %q", resource, from, to),
	}
}

func AlreadyClaimed(id string) *AppError {
	return &AppError{
		Code:    ErrAlreadyClaimed,
		Message: fmt.Sprintf("assignment %s is already claimed", id),
	}
}

func GracePeriodExpired(id string) *AppError {
	return &AppError{
		Code:    ErrGracePeriodExpired,
		Message: fmt.Sprintf("unassign window for %s has closed", id),
	}
}

func NotAssigned(id string) *AppError {
	return &AppError{
		Code:    ErrNotAssigned,
		Message: fmt.Sprintf("assignment %s is not assigned", id),
	}
}

func StoreUnavailable(err error) *AppError {
	return &AppError{
		Code:    ErrStoreUnavailable,
		Message: "document store unavailable",
		Err:     err,
	}
}

// IsCode reports whether any AppError in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code, true
	}
	return 0, false
}
