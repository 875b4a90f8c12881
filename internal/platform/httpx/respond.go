// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

// ProblemDetail represents RFC7807 problem details plus the extension members
// the order flows report.
type ProblemDetail struct {
	Type          string             `json:"type,omitempty"`
	Title         string             `json:"title"`
	Status        int                `json:"status"`
	Detail        string             `json:"detail,omitempty"`
	CurrentStatus string             `json:"current_status,omitempty"`
	Action        string             `json:"action,omitempty"`
	Flow          string             `json:"flow,omitempty"`
	Step          string             `json:"step,omitempty"`
	Completed     []string           `json:"completed_steps,omitempty"`
	Items         []shared.ShortItem `json:"items,omitempty"`
	Fields        map[string]string  `json:"fields,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, ProblemDetail{Title: title, Status: status, Detail: detail})
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}

// Bind decodes the body into target and runs struct validation. It writes the
// problem response itself and reports false when the request is unusable.
func Bind(w http.ResponseWriter, r *http.Request, v *validator.Validate, target any) bool {
	if err := DecodeJSON(r, target); err != nil {
		Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return false
	}
	if err := v.Struct(target); err != nil {
		ValidationProblem(w, err)
		return false
	}
	return true
}
