package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeSessionMismatch     ErrorType = "session_mismatch"
	ErrorTypeValidation          ErrorType = "validation_error"
	ErrorTypeServiceUnavailable  ErrorType = "service_unavailable"
	ErrorTypeUpstreamFetch       ErrorType = "upstream_fetch_error"
	ErrorTypeUnsupportedPlatform ErrorType = "unsupported_platform"
	ErrorTypeInstall             ErrorType = "install_error"
	ErrorTypeInternal            ErrorType = "internal_error"
	ErrorTypeNotFound            ErrorType = "not_found"
	ErrorTypeMethodNotAllowed    ErrorType = "method_not_allowed"
	ErrorTypeForbidden           ErrorType = "forbidden"
	ErrorTypeUpstream            ErrorType = "upstream_error"
)

// APIError represents a structured API error. Detail is either a string or,
// for validation failures, a map from field name to message.
type APIError struct {
	Type   ErrorType `json:"type"`
	Detail any       `json:"detail"`
	Code   int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	switch d := e.Detail.(type) {
	case string:
		return fmt.Sprintf("%s: %s", e.Type, d)
	case nil:
		return string(e.Type)
	default:
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Sprintf("%s: %v", e.Type, d)
		}
		return fmt.Sprintf("%s: %s", e.Type, data)
	}
}

// NewAPIError creates a new API error
func NewAPIError(errorType ErrorType, detail any, code int) *APIError {
	return &APIError{
		Type:   errorType,
		Detail: detail,
		Code:   code,
	}
}

func NewSessionMismatchError() *APIError {
	return NewAPIError(ErrorTypeSessionMismatch, "Session ID mismatch.", http.StatusForbidden)
}

// NewValidationError creates a field-addressed validation error.
func NewValidationError(fields map[string]string) *APIError {
	return NewAPIError(ErrorTypeValidation, fields, http.StatusUnprocessableEntity)
}

// NewFieldError is shorthand for a validation error on a single field.
func NewFieldError(field, message string) *APIError {
	return NewValidationError(map[string]string{field: message})
}

// NewServiceUnavailableError carries the last diagnostic observed before giving up.
func NewServiceUnavailableError(detail string) *APIError {
	return NewAPIError(ErrorTypeServiceUnavailable, detail, http.StatusServiceUnavailable)
}

func NewUpstreamFetchError(detail string) *APIError {
	return NewAPIError(ErrorTypeUpstreamFetch, detail, http.StatusBadGateway)
}

func NewUnsupportedPlatformError() *APIError {
	return NewAPIError(ErrorTypeUnsupportedPlatform, "Unsupported platform for node", http.StatusBadRequest)
}

func NewInstallError(detail string) *APIError {
	return NewAPIError(ErrorTypeInstall, detail, http.StatusInternalServerError)
}

func NewInternalError(detail string) *APIError {
	return NewAPIError(ErrorTypeInternal, detail, http.StatusInternalServerError)
}

func NewNotFoundError(path string) *APIError {
	return NewAPIError(ErrorTypeNotFound, fmt.Sprintf("Not found: %s", path), http.StatusNotFound)
}

func NewMethodNotAllowedError(method string) *APIError {
	return NewAPIError(ErrorTypeMethodNotAllowed, fmt.Sprintf("Method not allowed: %s", method), http.StatusMethodNotAllowed)
}

func NewForbiddenError(detail string) *APIError {
	return NewAPIError(ErrorTypeForbidden, detail, http.StatusForbidden)
}

// NewUpstreamError relays a non-2xx answer from a local upstream service,
// keeping its status code and detail untouched.
func NewUpstreamError(code int, detail any) *APIError {
	return NewAPIError(ErrorTypeUpstream, detail, code)
}

// From converts any error into an APIError. Wrapped APIErrors are unwrapped,
// anything else becomes an internal error.
func From(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}
	return NewInternalError(err.Error())
}

// IsType reports whether err is an APIError of the given type.
func IsType(err error, errorType ErrorType) bool {
	var apiErr *APIError
	return stderrors.As(err, &apiErr) && apiErr.Type == errorType
}

// WriteErrorResponse writes an error response to the HTTP response writer
func WriteErrorResponse(w http.ResponseWriter, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)

	if encodeErr := json.NewEncoder(w).Encode(err); encodeErr != nil {
		// Fallback to plain text if JSON encoding fails
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "Error: %s", err.Error())
	}
}

// WriteError writes any error using From.
func WriteError(w http.ResponseWriter, err error) {
	WriteErrorResponse(w, From(err))
}
