package errors

import (
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	InvalidInput      ErrorCode = "invalid_input"
	InvalidAmount     ErrorCode = "invalid_amount"
	InsufficientFunds ErrorCode = "insufficient_funds"
	PasscodeNotFound  ErrorCode = "passcode_not_found"
	PasscodeExpired   ErrorCode = "passcode_expired"
	PasscodeInvalid   ErrorCode = "passcode_invalid"
	PasscodeLockedOut ErrorCode = "passcode_locked_out"
	RateLimited       ErrorCode = "rate_limited"
	AlreadyUnlocked   ErrorCode = "already_unlocked"
	MemberNotFound    ErrorCode = "member_not_found"
	Unauthorized      ErrorCode = "unauthorized"
	StoreConflict     ErrorCode = "store_conflict"
	StoreUnavailable  ErrorCode = "store_unavailable"
	InternalError     ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *AppError) WithDetails(details string) *AppError {
	return &AppError{Code: e.Code, Message: e.Message, Details: details}
}

// HTTPStatus maps an error code to the status the HTTP surface reports.
// Store errors abort an operation after validation has already passed; they
// surface as a generic server failure rather than a caller mistake.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case InvalidInput, InvalidAmount, InsufficientFunds,
		PasscodeNotFound, PasscodeExpired, PasscodeInvalid, PasscodeLockedOut:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case MemberNotFound:
		return http.StatusNotFound
	case AlreadyUnlocked:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	case StoreConflict, StoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code extracts the ErrorCode from err, or InternalError for non-AppErrors.
func Code(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return InternalError
}

// Predefined errors for common cases
var (
	ErrUnauthorized     = NewAppError(Unauthorized, "unauthorized")
	ErrInvalidAmount    = NewAppError(InvalidAmount, "amount must be positive")
	ErrAlreadyUnlocked  = NewAppError(AlreadyUnlocked, "promo already unlocked")
	ErrMemberNotFound   = NewAppError(MemberNotFound, "subject is not a member")
	ErrStoreConflict    = NewAppError(StoreConflict, "store version conflict")
	ErrStoreUnavailable = NewAppError(StoreUnavailable, "store unavailable")
	ErrRateLimited      = NewAppError(RateLimited, "too many passcode requests, try again later")
)

// NewInsufficientFunds reports a shortfall: the caller needs `need` minor
// units but holds only `have`.
func NewInsufficientFunds(need, have int64) *AppError {
	return NewAppErrorf(InsufficientFunds,
		"insufficient balance: need %d, have %d, short %d", need, have, need-have)
}
