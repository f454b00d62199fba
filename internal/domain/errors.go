package domain

// ValidationError indicates that a setting or input failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns the field followed by what is wrong with it.
func (e *ValidationError) Error() string {
	return e.Field + " " + e.Message
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
