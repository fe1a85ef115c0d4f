package app

import (
	"fmt"
	"net/http"
)

// DomainError is a service-layer failure with enough shape for the HTTP
// layer to render it: an HTTP status, a stable machine-readable code, a
// human message, and optional structured details.
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

// validationError rejects input or an illegal state transition. Details,
// when present, tell the caller what would have been accepted.
func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

// forbiddenError rejects an action the account's role does not permit.
func forbiddenError(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}
