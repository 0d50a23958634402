package ingress

import (
	"fmt"
	"net/http"
)

// Rejection codes returned in webhook error responses.
const (
	CodeMissingSignature = "MISSING_SIGNATURE"
	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeInvalidEvent     = "INVALID_EVENT"
	CodeProcessingError  = "PROCESSING_ERROR"
	CodeRateLimited      = "RATE_LIMITED"
)

// AuthError is a synchronous rejection of a webhook request.
type AuthError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

func missingSignature() *AuthError {
	return &AuthError{Code: CodeMissingSignature, Message: "missing signature header", Status: http.StatusBadRequest}
}

func invalidSignature(err error) *AuthError {
	return &AuthError{Code: CodeInvalidSignature, Message: "signature verification failed", Status: http.StatusUnauthorized, Err: err}
}

func invalidEvent(msg string, err error) *AuthError {
	return &AuthError{Code: CodeInvalidEvent, Message: msg, Status: http.StatusBadRequest, Err: err}
}
