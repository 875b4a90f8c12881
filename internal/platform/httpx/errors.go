// Package httpx provides HTTP response utilities.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

// StepFailure is implemented by orchestration errors that name the step that failed.
type StepFailure interface {
	error
	FlowName() string
	StepName() string
	CompletedSteps() []string
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	writeProblem(w, ProblemFor(err))
}

// ProblemFor builds the problem document for err.
func ProblemFor(err error) ProblemDetail {
	var p ProblemDetail
	var short *shared.InsufficientStockError
	var illegal *shared.IllegalTransitionError
	switch {
	case errors.Is(err, shared.ErrNotFound):
		p = ProblemDetail{Status: http.StatusNotFound, Title: "Not Found", Detail: err.Error()}
	case errors.Is(err, shared.ErrValidation):
		p = ProblemDetail{Status: http.StatusUnprocessableEntity, Title: "Validation Failed", Detail: err.Error()}
	case errors.Is(err, shared.ErrIllegalTransition):
		p = ProblemDetail{Status: http.StatusConflict, Title: "Illegal Transition", Detail: err.Error()}
		if errors.As(err, &illegal) {
			p.CurrentStatus = illegal.Status
			p.Action = illegal.Action
		}
	case errors.Is(err, shared.ErrConcurrentModification):
		p = ProblemDetail{Status: http.StatusConflict, Title: "Concurrent Modification", Detail: err.Error()}
	case errors.Is(err, shared.ErrStaleDocument):
		p = ProblemDetail{Status: http.StatusConflict, Title: "Stale Document", Detail: err.Error()}
	case errors.Is(err, shared.ErrIdempotencyConflict):
		p = ProblemDetail{Status: http.StatusConflict, Title: "Duplicate Request", Detail: err.Error()}
	case errors.Is(err, shared.ErrInsufficientStock):
		p = ProblemDetail{Status: http.StatusConflict, Title: "Insufficient Stock", Detail: err.Error()}
		if errors.As(err, &short) {
			p.Items = short.Items
		}
	default:
		p = ProblemDetail{Status: http.StatusInternalServerError, Title: "Internal Error"}
	}
	var step StepFailure
	if errors.As(err, &step) {
		p.Flow = step.FlowName()
		p.Step = step.StepName()
		p.Completed = step.CompletedSteps()
	}
	return p
}

// ValidationProblem converts validator errors into a 422 problem keyed by field.
func ValidationProblem(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		RespondError(w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		fields[fieldErr.Field()] = fieldErr.Tag()
	}
	writeProblem(w, ProblemDetail{
		Status: http.StatusUnprocessableEntity,
		Title:  "Validation Failed",
		Detail: fieldErrs.Error(),
		Fields: fields,
	})
}

func writeProblem(w http.ResponseWriter, p ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
