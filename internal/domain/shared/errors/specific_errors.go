package errors

import "fmt"

// ToolNotFoundError indicates a tool was not found in the catalog
type ToolNotFoundError struct {
	Name string
}

// Error returns the error message
func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// InvalidArgumentsError indicates tool arguments failed schema validation
type InvalidArgumentsError struct {
	Name   string
	Reason string
}

// Error returns the error message
func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %s: %s", e.Name, e.Reason)
}

// ToolExecutionError indicates a tool execution failed
type ToolExecutionError struct {
	Name  string
	Cause error
}

// Error returns the error message
func (e *ToolExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tool execution failed: %v", e.Cause)
	}
	return "tool execution failed"
}

// Unwrap returns the underlying cause
func (e *ToolExecutionError) Unwrap() error {
	return e.Cause
}
