// Package errors defines the JSON error envelope returned by the srcindex
// HTTP server and helpers to map Go errors onto it.
//
// Import it as apperrors to avoid shadowing the standard library package.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Error codes.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// HTTPErrorBody is the error object inside HTTPErrorResponse.
type HTTPErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse is the body of every non-2xx JSON response.
type HTTPErrorResponse struct {
	Error HTTPErrorBody `json:"error"`
}

// HTTPError is an error that knows its HTTP status and envelope code.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of e carrying details.
func (e *HTTPError) WithDetails(details map[string]any) *HTTPError {
	cp := *e
	cp.Details = details
	return &cp
}

func NewBadRequest(message string, err error) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message, Err: err}
}

func NewNotFound(message string) *HTTPError {
	return &HTTPError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

func NewMethodNotAllowed(method string) *HTTPError {
	return &HTTPError{
		Status:  http.StatusMethodNotAllowed,
		Code:    CodeMethodNotAllowed,
		Message: fmt.Sprintf("method %s not allowed", method),
	}
}

func NewServiceUnavailable(message string, err error) *HTTPError {
	return &HTTPError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message, Err: err}
}

func NewInternal(message string, err error) *HTTPError {
	return &HTTPError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: message, Err: err}
}

// RespondWithError writes err as a JSON envelope. Errors that are not an
// *HTTPError become INTERNAL_ERROR with a 500 status.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var herr *HTTPError
	if !stderrors.As(err, &herr) {
		herr = NewInternal("internal server error", err)
	}

	body := HTTPErrorBody{
		Code:    herr.Code,
		Message: herr.Message,
		Details: herr.Details,
	}
	if r != nil {
		body.RequestID = chimw.GetReqID(r.Context())
	}
	WriteError(w, herr.Status, body)
}

// WriteError writes body with the given status.
func WriteError(w http.ResponseWriter, status int, body HTTPErrorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: body})
}
