package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrorBody represents a consistent error payload returned by the API.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, map[string]any{
		"error": ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// DecodeJSON strictly decodes a single JSON object from the request body.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return BadRequest("body", "request body is required", nil)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return BadRequest("body", "request body is required", err)
		}
		return BadRequest("body", fmt.Sprintf("invalid JSON body: %v", err), err)
	}
	if dec.More() {
		return BadRequest("body", "body must contain a single JSON object", nil)
	}
	return nil
}
