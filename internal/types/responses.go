package types

// WSCommandResult is the standard response for command execution.
type WSCommandResult struct {
	Type    string           `json:"type"`              // "<command>_result"
	Success bool             `json:"success"`           // true if command succeeded
	Message string           `json:"message,omitempty"` // Error message if failed
	Error   *ValidationError `json:"error,omitempty"`   // Validation errors if failed
	Data    any              `json:"data,omitempty"`    // Optional response data
}

// APIError is the JSON body of failed REST calls.
type APIError struct {
	Error  string           `json:"error"`
	Fields *ValidationError `json:"fields,omitempty"`
}
