package app

import (
	"fmt"
	"net/http"
	"strings"
)

// DomainError is an error with a fixed HTTP status and a stable code the
// dashboard can switch on.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}

func validationError(field, message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, map[string]any{"field": field})
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return validationError(field, field+" is required")
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, candidate := range allowed {
		if value == candidate {
			return nil
		}
	}
	return validationError(field, fmt.Sprintf("%s must be one of %s", field, strings.Join(allowed, ", ")))
}

func notFound(what string) error {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func unavailable(code, message string) error {
	return domainError(http.StatusServiceUnavailable, code, message, nil)
}
