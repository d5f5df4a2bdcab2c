// Package errors provides categorized error types for the stake scanner.
package errors

import (
	"fmt"
	"net/http"

	"github.com/stake-scanner/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents query validation errors (4xx)
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryFetch represents external data source errors
	CategoryFetch ErrorCategory = "fetch"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
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

// ToServiceError converts to a ServiceError for API responses
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Query validation errors (4xx)

// NewInvalidFieldError creates an error for a field that is unknown or not
// queryable for the entity. The rejected name and the allowed set travel in
// the error details so the caller can see why the query was refused.
func NewInvalidFieldError(entity types.Entity, field string, allowed []string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_FIELD",
		Message:    fmt.Sprintf("field %q is not queryable for entity %q", field, entity),
		Details: map[string]interface{}{
			"entity":        string(entity),
			"field":         field,
			"allowedFields": allowed,
		},
	}
}

// NewMalformedAggregationError creates an error for an aggregation directive
// that requires a field but has none (every type except count).
func NewMalformedAggregationError(aggType string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "MALFORMED_AGGREGATION",
		Message:    fmt.Sprintf("aggregation type %q requires a field", aggType),
		Details: map[string]interface{}{
			"aggregationType": aggType,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewUnknownEntityError creates an error for an unregistered entity kind
func NewUnknownEntityError(entity string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "UNKNOWN_ENTITY",
		Message:    fmt.Sprintf("unknown entity: %s", entity),
		Details: map[string]interface{}{
			"entity": entity,
		},
	}
}

// System errors (5xx)

// NewDatabaseError creates a database error with operation context
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

// NewExecutionError wraps a query execution failure with the offending
// entity and operation, so it is never swallowed into an empty result.
func NewExecutionError(entity types.Entity, operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "QUERY_EXECUTION_ERROR",
		Message:    fmt.Sprintf("query execution failed for entity %q during %s", entity, operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"entity":    string(entity),
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// External source errors

// NewFetchError creates an error for a failed external fetch. Retryable
// fetch errors are retried with a bounded fixed-delay policy before they
// reach the importer.
func NewFetchError(source string, retryable bool, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryFetch,
		StatusCode: http.StatusBadGateway,
		Code:       "FETCH_FAILED",
		Message:    fmt.Sprintf("fetch from %s failed", source),
		Cause:      cause,
		Details: map[string]interface{}{
			"source":    source,
			"retryable": retryable,
		},
	}
}

// NewWriteError creates an error for a failed snapshot write. Write errors
// during an import run are counted, not raised.
func NewWriteError(entity types.Entity, identity string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "WRITE_FAILED",
		Message:    fmt.Sprintf("snapshot write failed for %s identity %s", entity, identity),
		Cause:      cause,
		Details: map[string]interface{}{
			"entity":   string(entity),
			"identity": identity,
		},
	}
}

// Categorize categorizes an existing error, defaulting to an internal error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	if catErr, ok := err.(*CategorizedError); ok {
		return catErr
	}

	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    "unexpected error",
		Cause:      err,
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryFetch:
		if retryable, ok := catErr.Details["retryable"].(bool); ok {
			return retryable
		}
		return true
	case CategoryDatabase, CategoryCache:
		return true
	default:
		return false
	}
}

// IsValidation determines if an error is a query validation error, which is
// surfaced to the caller synchronously before any execution
func IsValidation(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryValidation
}
