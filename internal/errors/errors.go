// Package errors defines the categorized error taxonomy shared by the API
// layer and the stores. Every error carries a category, a stable code and
// the HTTP status it maps to; the price-resolution and attribution failures
// of the core surface here as pricing-category errors.
package errors

import (
	"fmt"
	"net/http"

	"github.com/yield-scanner/internal/types"
)

// ErrorCategory groups errors by origin for logging and retry decisions.
type ErrorCategory string

const (
	CategoryUserInput  ErrorCategory = "user_input"
	CategorySystem     ErrorCategory = "system"
	CategoryProvider   ErrorCategory = "provider"
	CategoryDatabase   ErrorCategory = "database"
	CategoryCache      ErrorCategory = "cache"
	CategoryPricing    ErrorCategory = "pricing"
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"
	CategoryConflict   ErrorCategory = "conflict"
	CategoryRateLimit  ErrorCategory = "rate_limit"
)

// CategorizedError is an error with a category, a stable code and the HTTP
// status code it should surface as.
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError strips the transport-level fields for callers that speak
// types.ServiceError.
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

func newError(cat ErrorCategory, status int, code, message string) *CategorizedError {
	return &CategorizedError{
		Category:   cat,
		StatusCode: status,
		Code:       code,
		Message:    message,
	}
}

func (e *CategorizedError) withDetails(details map[string]interface{}) *CategorizedError {
	e.Details = details
	return e
}

func (e *CategorizedError) withCause(cause error) *CategorizedError {
	e.Cause = cause
	return e
}

// NewInvalidAddressError reports a malformed asset address.
func NewInvalidAddressError(address string) *CategorizedError {
	return newError(CategoryUserInput, http.StatusBadRequest, "INVALID_ADDRESS",
		fmt.Sprintf("invalid asset address format: %s", address)).
		withDetails(map[string]interface{}{"address": address})
}

// NewInvalidWindowError reports a non-positive attribution window.
func NewInvalidWindowError(days int) *CategorizedError {
	return newError(CategoryValidation, http.StatusBadRequest, "INVALID_WINDOW",
		fmt.Sprintf("attribution window must be a positive number of days, got %d", days)).
		withDetails(map[string]interface{}{"days": days})
}

// NewInvalidParameterError reports a request parameter that failed validation.
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return newError(CategoryValidation, http.StatusBadRequest, "INVALID_PARAMETER",
		fmt.Sprintf("invalid parameter '%s': %s", param, reason)).
		withDetails(map[string]interface{}{"parameter": param, "reason": reason})
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(resource string, id string) *CategorizedError {
	return newError(CategoryNotFound, http.StatusNotFound, "NOT_FOUND",
		fmt.Sprintf("%s not found: %s", resource, id)).
		withDetails(map[string]interface{}{"resource": resource, "id": id})
}

// NewNoUsablePriceError reports an asset with no price on any tier of the
// fallback chain (exact, forward-fill, live).
func NewNoUsablePriceError(asset string, date string) *CategorizedError {
	return newError(CategoryPricing, http.StatusUnprocessableEntity, "NO_USABLE_PRICE",
		fmt.Sprintf("no usable price for asset %s at %s", asset, date)).
		withDetails(map[string]interface{}{"asset": asset, "date": date})
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(message string, cause error) *CategorizedError {
	return newError(CategorySystem, http.StatusInternalServerError, "INTERNAL_ERROR", message).
		withCause(cause)
}

// NewDatabaseError wraps a store failure.
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return newError(CategoryDatabase, http.StatusInternalServerError, "DATABASE_ERROR",
		fmt.Sprintf("database error during %s", operation)).
		withDetails(map[string]interface{}{"operation": operation}).
		withCause(cause)
}

// NewCacheError wraps a Redis failure.
func NewCacheError(operation string, cause error) *CategorizedError {
	return newError(CategoryCache, http.StatusInternalServerError, "CACHE_ERROR",
		fmt.Sprintf("cache error during %s", operation)).
		withDetails(map[string]interface{}{"operation": operation}).
		withCause(cause)
}

// NewServiceUnavailableError reports a dependency that is down.
func NewServiceUnavailableError(service string) *CategorizedError {
	return newError(CategorySystem, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
		fmt.Sprintf("service unavailable: %s", service)).
		withDetails(map[string]interface{}{"service": service})
}

// NewProviderError wraps a failure from the RPC node or price oracle.
func NewProviderError(provider string, cause error) *CategorizedError {
	return newError(CategoryProvider, http.StatusBadGateway, "PROVIDER_ERROR",
		fmt.Sprintf("provider error: %s", provider)).
		withDetails(map[string]interface{}{"provider": provider}).
		withCause(cause)
}

// NewProviderTimeoutError reports an upstream timeout.
func NewProviderTimeoutError(provider string) *CategorizedError {
	return newError(CategoryProvider, http.StatusGatewayTimeout, "PROVIDER_TIMEOUT",
		fmt.Sprintf("provider timeout: %s", provider)).
		withDetails(map[string]interface{}{"provider": provider})
}

// serviceErrorClasses maps ServiceError codes emitted by the core and the
// handlers to their category and HTTP status. Codes not listed are treated
// as internal failures.
var serviceErrorClasses = map[string]struct {
	category ErrorCategory
	status   int
}{
	"INVALID_ADDRESS":    {CategoryUserInput, http.StatusBadRequest},
	"INVALID_WINDOW":     {CategoryUserInput, http.StatusBadRequest},
	"INVALID_PARAMETER":  {CategoryUserInput, http.StatusBadRequest},
	"INVALID_EVENT_KIND": {CategoryUserInput, http.StatusBadRequest},
	"INVALID_TIER":       {CategoryUserInput, http.StatusBadRequest},

	"USER_NOT_FOUND":     {CategoryNotFound, http.StatusNotFound},
	"POSITION_NOT_FOUND": {CategoryNotFound, http.StatusNotFound},
	"ASSET_NOT_FOUND":    {CategoryNotFound, http.StatusNotFound},

	"NO_USABLE_PRICE":   {CategoryPricing, http.StatusUnprocessableEntity},
	"POSITION_EXCLUDED": {CategoryPricing, http.StatusUnprocessableEntity},

	"TIER_LIMIT_EXCEEDED": {CategoryRateLimit, http.StatusForbidden},
	"DUPLICATE_EVENT":     {CategoryConflict, http.StatusConflict},
	"SERVICE_UNAVAILABLE": {CategorySystem, http.StatusServiceUnavailable},
}

// Categorize classifies any error. Already-categorized errors pass through;
// ServiceErrors are classified by code; everything else is internal.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}
	if catErr, ok := err.(*CategorizedError); ok {
		return catErr
	}
	if svcErr, ok := err.(*types.ServiceError); ok {
		class, known := serviceErrorClasses[svcErr.Code]
		if !known {
			class.category = CategorySystem
			class.status = http.StatusInternalServerError
		}
		return &CategorizedError{
			Category:   class.category,
			StatusCode: class.status,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}
	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status an error maps to.
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether retrying the operation can help. User input
// and pricing errors never clear on retry; transient dependency failures do.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	switch catErr.Category {
	case CategoryProvider, CategoryDatabase, CategoryCache:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsUserError reports whether the error maps to a 4xx status.
func IsUserError(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

// IsSystemError reports whether the error maps to a 5xx status.
func IsSystemError(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.StatusCode >= 500
}
