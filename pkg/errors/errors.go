package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// AppError represents an application-level error with HTTP status code
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeValidation            = "validation_failed"
	ErrCodeNotFound              = "not_found"
	ErrCodeWalletNotFound        = "wallet_not_found"
	ErrCodeBalanceNotFound       = "balance_not_found"
	ErrCodeInsufficientAvailable = "insufficient_available"
	ErrCodeInsufficientLocked    = "insufficient_locked"
	ErrCodeWalletFrozen          = "wallet_frozen"
	ErrCodePolicyViolation       = "policy_violation"
	ErrCodeDailyLimitExceeded    = "daily_limit_exceeded"
	ErrCodeUnsupportedCurrency   = "unsupported_currency"
	ErrCodeInvalidMultisig       = "invalid_multisig_config"
	ErrCodeDerivationExhausted   = "derivation_exhausted"
	ErrCodeDuplicatePrimary      = "duplicate_primary"
	ErrCodeUnauthorized          = "unauthorized"
	ErrCodeRateLimited           = "rate_limited"
	ErrCodeInternalError         = "internal_error"
)

// Predefined errors
var (
	ErrUnauthorized = &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrNotFound = &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrInternalError = &AppError{
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrRateLimited = &AppError{
		Code:       ErrCodeRateLimited,
		Message:    "Too many requests",
		StatusCode: http.StatusTooManyRequests,
	}
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Validation creates a validation error rejected before any state mutation
func Validation(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeValidation,
		Message:    "Invalid request parameters",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// WalletNotFound creates a wallet not found error
func WalletNotFound(ref string) *AppError {
	return &AppError{
		Code:       ErrCodeWalletNotFound,
		Message:    "Wallet not found",
		Detail:     ref,
		StatusCode: http.StatusNotFound,
	}
}

// BalanceNotFound creates a balance not found error
func BalanceNotFound(userID string, currency string) *AppError {
	return &AppError{
		Code:       ErrCodeBalanceNotFound,
		Message:    "Balance not found",
		Detail:     fmt.Sprintf("user_id: %s, currency: %s", userID, currency),
		StatusCode: http.StatusNotFound,
	}
}

// InsufficientAvailable is returned when an available-balance guard fails.
// No partial mutation has happened when this surfaces.
func InsufficientAvailable(have, want decimal.Decimal) *AppError {
	return &AppError{
		Code:       ErrCodeInsufficientAvailable,
		Message:    "Insufficient available balance",
		Detail:     fmt.Sprintf("available: %s, requested: %s", have, want),
		StatusCode: http.StatusUnprocessableEntity,
	}
}

// InsufficientLocked is returned when a locked-balance guard fails
func InsufficientLocked(have, want decimal.Decimal) *AppError {
	return &AppError{
		Code:       ErrCodeInsufficientLocked,
		Message:    "Insufficient locked balance",
		Detail:     fmt.Sprintf("locked: %s, requested: %s", have, want),
		StatusCode: http.StatusUnprocessableEntity,
	}
}

// WalletIsFrozen creates a policy error for operations on a frozen wallet
func WalletIsFrozen(address string) *AppError {
	return &AppError{
		Code:       ErrCodeWalletFrozen,
		Message:    "Wallet is frozen",
		Detail:     fmt.Sprintf("address: %s", address),
		StatusCode: http.StatusForbidden,
	}
}

// PolicyViolation creates a policy violation error. The detail always names
// the specific limit that was exceeded so the caller can wait, escalate, or
// split the request.
func PolicyViolation(reason string) *AppError {
	return &AppError{
		Code:       ErrCodePolicyViolation,
		Message:    "Policy violation",
		Detail:     reason,
		StatusCode: http.StatusForbidden,
	}
}

// DailyLimitExceeded reports the tier's daily limit, the amount already used
// in the current window, and the requested amount.
func DailyLimitExceeded(limit, used, requested decimal.Decimal) *AppError {
	return &AppError{
		Code:       ErrCodeDailyLimitExceeded,
		Message:    "Daily withdrawal limit exceeded",
		Detail:     fmt.Sprintf("limit: %s, used: %s, requested: %s", limit, used, requested),
		StatusCode: http.StatusForbidden,
	}
}

// UnsupportedCurrency creates an unsupported currency error
func UnsupportedCurrency(currency string) *AppError {
	return &AppError{
		Code:       ErrCodeUnsupportedCurrency,
		Message:    "Unsupported currency",
		Detail:     currency,
		StatusCode: http.StatusBadRequest,
	}
}

// InvalidMultisigConfig rejects an m-of-n configuration where m < 1 or m > n
func InvalidMultisigConfig(threshold, signers int) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidMultisig,
		Message:    "Invalid multisig configuration",
		Detail:     fmt.Sprintf("threshold: %d, signers: %d", threshold, signers),
		StatusCode: http.StatusBadRequest,
	}
}

// DerivationExhausted is fatal for the currency's path and requires operator
// intervention to add a new derivation path.
func DerivationExhausted(path string) *AppError {
	return &AppError{
		Code:       ErrCodeDerivationExhausted,
		Message:    "Derivation index space exhausted",
		Detail:     fmt.Sprintf("path: %s", path),
		StatusCode: http.StatusConflict,
	}
}

// DuplicatePrimary indicates the primary-wallet invariant was violated.
// It should never surface when primary reassignment is applied atomically.
func DuplicatePrimary(userID string, currency string) *AppError {
	return &AppError{
		Code:       ErrCodeDuplicatePrimary,
		Message:    "Duplicate primary wallet",
		Detail:     fmt.Sprintf("user_id: %s, currency: %s", userID, currency),
		StatusCode: http.StatusConflict,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err is an AppError with the given code
func IsCode(err error, code string) bool {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}
