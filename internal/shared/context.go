package shared

import "context"

// Caller identifies the acting company and employee of a request.
type Caller struct {
	CompanyID  int64 `json:"company_id"`
	EmployeeID int64 `json:"employee_id"`
}

// Valid reports whether both identifiers are present.
func (c Caller) Valid() bool {
	return c.CompanyID > 0 && c.EmployeeID > 0
}

type callerContextKey struct{}

// ContextWithCaller stores the caller in context.
func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext extracts the caller from context.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerContextKey{}).(Caller)
	return caller, ok && caller.Valid()
}

// RequireCaller returns the caller or a validation error when none is present.
func RequireCaller(ctx context.Context) (Caller, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return Caller{}, Invalid("caller", "company and employee identity required")
	}
	return caller, nil
}
