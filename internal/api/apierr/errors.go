package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcoot/typerace/internal/model"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Error codes
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeGameNotFound   = "GAME_NOT_FOUND"
	CodeResultNotFound = "RESULT_NOT_FOUND"
	CodeUnavailable    = "UNAVAILABLE"
	CodeInternalError  = "INTERNAL_ERROR"
)

// statusError is an error that already knows its response
type statusError struct {
	status int
	body   APIError
}

func (e *statusError) Error() string {
	return e.body.Message
}

// domainErrors maps sentinel errors from the model onto responses; the
// first match wins
var domainErrors = []struct {
	target error
	resp   statusError
}{
	{model.ErrRoomNotFound, statusError{http.StatusNotFound, APIError{CodeGameNotFound, "Game not found"}}},
	{model.ErrResultNotFound, statusError{http.StatusNotFound, APIError{CodeResultNotFound, "No results for this game"}}},
	{model.ErrMalformedMessage, statusError{http.StatusBadRequest, APIError{CodeInvalidRequest, "Invalid request"}}},
}

var internalError = statusError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}

// WriteError writes the JSON error body for err
func WriteError(w http.ResponseWriter, err error) {
	resp := resolve(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: resp.body})
}

// Status returns the HTTP status err maps to
func Status(err error) int {
	return resolve(err).status
}

func resolve(err error) statusError {
	var se *statusError
	if errors.As(err, &se) {
		return *se
	}
	for _, d := range domainErrors {
		if errors.Is(err, d.target) {
			return d.resp
		}
	}
	return internalError
}

// NewInvalidRequestError rejects a request before it reaches a service
func NewInvalidRequestError(message string) error {
	return &statusError{http.StatusBadRequest, APIError{CodeInvalidRequest, message}}
}

// NewUnavailableError reports a failed dependency check
func NewUnavailableError(message string) error {
	return &statusError{http.StatusServiceUnavailable, APIError{CodeUnavailable, message}}
}

// NewInternalError hides the cause of a server fault from the client
func NewInternalError() error {
	e := internalError
	return &e
}
