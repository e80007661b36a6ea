// Package transport contains the operational HTTP API: starting runs,
// polling run state, and the health and metrics endpoints.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/osoko/pressline/model"
)

// statusForClass maps StepError classes to HTTP status codes. Recoverable
// means the backing infrastructure is degraded, so callers get a 503 and
// may retry; terminal and boundary failures are the caller's problem.
var statusForClass = map[string]int{
	model.ErrRecoverable: http.StatusServiceUnavailable,
	model.ErrTerminal:    http.StatusUnprocessableEntity,
	model.ErrBoundary:    http.StatusUnprocessableEntity,
	model.ErrNotFound:    http.StatusNotFound,
	model.ErrConflict:    http.StatusConflict,
	model.ErrConsistency: http.StatusInternalServerError,
}

type errorBody struct {
	Class   string `json:"class"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes a StepError as a JSON response with the mapped HTTP
// status code. Errors without an envelope become a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	se, ok := err.(*model.StepError)
	if !ok {
		WriteJSON(w, http.StatusInternalServerError, errorResponse{
			Error: errorBody{Class: "INTERNAL", Message: "internal error"},
		})
		return
	}

	status := statusForClass[se.Class]
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, errorResponse{
		Error: errorBody{Class: se.Class, Message: se.Message},
	})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusBadRequest, errorResponse{
		Error: errorBody{Class: "BAD_REQUEST", Message: msg},
	})
}
