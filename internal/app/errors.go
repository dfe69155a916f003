package app

import (
	"errors"
	"fmt"
	"net/http"

	"docforge/api/internal/generate"
	"docforge/api/internal/keyring"
)

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
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

var errRateLimited = domainError(http.StatusTooManyRequests, "RATE_LIMITED", "Too many generation requests, slow down", nil)

// generationFailureCode names a failed generation for payloads that report it
// without failing the request. The bool is the retry hint.
func generationFailureCode(err error) (string, bool) {
	switch {
	case errors.Is(err, keyring.ErrEmptyPool):
		return "CONFIGURATION_ERROR", false
	case errors.Is(err, generate.ErrGenerationFailed):
		return "GENERATION_FAILED", true
	default:
		return "SERVER_ERROR", true
	}
}
