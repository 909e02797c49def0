package response

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// NoContent sends an empty response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error sends an error response carrying err's text
func Error(w http.ResponseWriter, status int, err error) {
	Message(w, status, err.Error())
}

// Message sends an error response with a fixed message, so internal
// failure details stay in the logs
func Message(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{
		Error:   errorType(status),
		Message: message,
	})
}

// Validation sends a 422 naming the offending field
func Validation(w http.ResponseWriter, field, message string) {
	JSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:   errorType(http.StatusUnprocessableEntity),
		Message: message,
		Errors:  map[string][]string{field: {message}},
	})
}

func errorType(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	case http.StatusInternalServerError:
		return "internal_server_error"
	}
	return "error"
}
