package toolexecutor

import "fmt"

// Error codes carried in failure results.
const (
	CodeUnknownTool      = "unknown_tool"
	CodeValidationFailed = "validation_failed"
)

// ValidationError marks bad input detected inside a handler. Execute turns it
// into a validation_failed result instead of a server error.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Invalid builds a *ValidationError.
func Invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Failure builds a result with success false.
func Failure(code, message string) Result {
	return Result{
		"success": false,
		"error":   code,
		"message": message,
	}
}

// UnknownTool is the result for a tool name with no registration.
func UnknownTool(name string) Result {
	return Failure(CodeUnknownTool, fmt.Sprintf("Unknown tool: %s", name))
}

// ValidationFailed is the result for rejected arguments.
func ValidationFailed(message string) Result {
	return Failure(CodeValidationFailed, message)
}

// Failed reports whether the result carries success=false.
func (r Result) Failed() bool {
	ok, present := r["success"].(bool)
	return present && !ok
}
