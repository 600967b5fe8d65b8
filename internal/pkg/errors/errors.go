// Package errors defines the JSON error body of the HTTP surface. Every
// error is built through New; the helpers below cover the saga core's
// actual failure modes and nothing else.
package errors

import "net/http"

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e APIError) Error() string {
	return e.Message
}

// Error codes of the saga-core API
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeInvalidAmount     = "INVALID_AMOUNT"
	CodeAccountNotFound   = "ACCOUNT_NOT_FOUND"
	CodeSagaNotFound      = "SAGA_NOT_FOUND"
	CodeEmptyParticipants = "EMPTY_PARTICIPANTS"
	CodeInternal          = "INTERNAL_SERVER_ERROR"
)

// New builds an APIError; prefer the specific helpers.
func New(status int, code, message string) APIError {
	return APIError{Code: code, Message: message, Status: status}
}

// Validation rejects a malformed or self-contradictory request.
func Validation(message string) APIError {
	return New(http.StatusBadRequest, CodeValidation, message)
}

// InvalidAmount rejects an amount that is not a positive decimal.
func InvalidAmount(message string) APIError {
	return New(http.StatusBadRequest, CodeInvalidAmount, message)
}

// EmptyParticipants rejects a saga with no postings at all.
func EmptyParticipants() APIError {
	return New(http.StatusBadRequest, CodeEmptyParticipants,
		"A saga requires at least one deposit or withdrawal")
}

// AccountNotFound reports a query for an account that was never created.
func AccountNotFound() APIError {
	return New(http.StatusNotFound, CodeAccountNotFound, "Account not found")
}

// SagaNotFound reports a query for a transaction id no saga was started
// under.
func SagaNotFound() APIError {
	return New(http.StatusNotFound, CodeSagaNotFound, "Saga not found")
}

// Internal hides the cause from the client; details go to the log.
func Internal() APIError {
	return New(http.StatusInternalServerError, CodeInternal, "Internal server error")
}
