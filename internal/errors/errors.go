// Package errors defines the domain error taxonomy. User-visible failures
// surface as categorized errors with stable codes so the API layer can map
// them to status codes without inspecting internals.
package errors

import (
	"fmt"
	"net/http"

	"github.com/portfolio-engine/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategoryNotFound represents missing portfolio/snapshot errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategorySetup represents fatal setup errors (missing seed snapshot)
	CategorySetup ErrorCategory = "setup"
	// CategoryRisk represents risk-gate refusals
	CategoryRisk ErrorCategory = "risk"
	// CategoryExternalData represents missing external data (prices)
	CategoryExternalData ErrorCategory = "external_data"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategorySystem represents internal errors (5xx)
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewNotFoundError creates a not found error for a missing portfolio,
// snapshot or decision.
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewNoSeedError creates the fatal setup error returned when a snapshot is
// requested before the portfolio has its seed snapshot.
func NewNoSeedError(portfolioID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySetup,
		StatusCode: http.StatusConflict,
		Code:       "NO_SEED_SNAPSHOT",
		Message:    fmt.Sprintf("no initial snapshot found for portfolio %s; seed the portfolio first", portfolioID),
		Details: map[string]interface{}{
			"portfolioId": portfolioID,
		},
	}
}

// NewInsufficientHistoryError creates the error returned when performance
// metrics are requested with fewer than the required snapshots.
func NewInsufficientHistoryError(portfolioID string, have, need int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "INSUFFICIENT_HISTORY",
		Message:    fmt.Sprintf("need at least %d snapshots to calculate performance, have %d", need, have),
		Details: map[string]interface{}{
			"portfolioId": portfolioID,
			"snapshots":   have,
			"required":    need,
		},
	}
}

// NewOrderRejectedError creates a risk-gate refusal. Rejections are logged
// and the batch continues; this error form exists for callers that submit a
// single decision.
func NewOrderRejectedError(symbol string, reason types.RejectReason, detail string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRisk,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "ORDER_REJECTED",
		Message:    fmt.Sprintf("order for %s rejected: %s", symbol, detail),
		Details: map[string]interface{}{
			"symbol": symbol,
			"reason": string(reason),
		},
	}
}

// NewExternalDataUnavailableError creates the error recorded when a price is
// missing for a symbol. Callers fall back to cost basis or skip the order;
// this never propagates to API consumers as a failure.
func NewExternalDataUnavailableError(symbol string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryExternalData,
		StatusCode: http.StatusBadGateway,
		Code:       "NO_PRICE",
		Message:    fmt.Sprintf("no market price available for symbol %s", symbol),
		Details: map[string]interface{}{
			"symbol": symbol,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	if catErr, ok := err.(*CategorizedError); ok {
		return catErr
	}

	if svcErr, ok := err.(*types.ServiceError); ok {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	switch err.Code {
	case "NOT_FOUND", "PORTFOLIO_NOT_FOUND", "SNAPSHOT_NOT_FOUND", "DECISION_NOT_FOUND":
		return &CategorizedError{
			Category:   CategoryNotFound,
			StatusCode: http.StatusNotFound,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case "NO_SEED_SNAPSHOT":
		return &CategorizedError{
			Category:   CategorySetup,
			StatusCode: http.StatusConflict,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case "INSUFFICIENT_HISTORY", "ORDER_REJECTED", "INVALID_PARAMETER":
		return &CategorizedError{
			Category:   CategoryUserInput,
			StatusCode: http.StatusUnprocessableEntity,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	default:
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	}
}

// IsNotFound reports whether the error is a missing-resource error.
func IsNotFound(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryNotFound
}

// IsNoSeed reports whether the error is the missing-seed-snapshot error.
func IsNoSeed(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Code == "NO_SEED_SNAPSHOT"
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
