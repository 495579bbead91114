package planner

import "fmt"

// ErrorCode classifies why a query spec could not be compiled.
type ErrorCode string

const (
	CodeSchemaLookupFailed  ErrorCode = "schema_lookup_failed"
	CodeJoinUnresolved      ErrorCode = "join_unresolved"
	CodeDerivedFieldStale   ErrorCode = "derived_field_stale"
	CodeUnsupportedOperator ErrorCode = "unsupported_operator"
	CodeInvalidFilterValue  ErrorCode = "invalid_filter_value"
	CodeInvalidFilter       ErrorCode = "invalid_filter"
	CodeEmptyProjection     ErrorCode = "empty_projection"
)

// CompileError is the single error kind the planner returns. Status is an
// HTTP-style code the transport layer can forward; Details carries structured
// context such as the unresolved-join list or the derived-field issue list.
type CompileError struct {
	Code    ErrorCode      `json:"code"`
	Status  int            `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("query compilation failed (%s): %s", e.Code, e.Message)
}

func newCompileError(code ErrorCode, status int, format string, args ...any) *CompileError {
	return &CompileError{Code: code, Status: status, Message: fmt.Sprintf(format, args...)}
}

func (e *CompileError) withDetail(key string, value any) *CompileError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func errSchemaLookup(entity string, cause error) *CompileError {
	return newCompileError(CodeSchemaLookupFailed, 400, "schema lookup for entity %q failed: %v", entity, cause).
		withDetail("entity", entity)
}

func errJoinUnresolved(unresolved []string) *CompileError {
	return newCompileError(CodeJoinUnresolved, 422, "%d join(s) could not be resolved", len(unresolved)).
		withDetail("unresolved", unresolved)
}

func errDerivedStale(issues any) *CompileError {
	return newCompileError(CodeDerivedFieldStale, 409, "one or more derived fields are stale for this query graph").
		withDetail("issues", issues)
}

func errUnsupportedOperator(kind, value string) *CompileError {
	return newCompileError(CodeUnsupportedOperator, 422, "unsupported %s %q", kind, value).
		withDetail(kind, value)
}

func errInvalidFilterValue(index int, reason string) *CompileError {
	return newCompileError(CodeInvalidFilterValue, 422, "filter %d: %s", index, reason).
		withDetail("filterIndex", index)
}

func errInvalidFilter(reason string) *CompileError {
	return newCompileError(CodeInvalidFilter, 400, "invalid raw filter: %s", reason)
}

func errEmptyProjection(reason string) *CompileError {
	return newCompileError(CodeEmptyProjection, 422, "%s", reason)
}
