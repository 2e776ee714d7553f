package output

import "errors"

// StructuredError is an error with machine-readable metadata, printed by
// the CLI when a command fails.
type StructuredError struct {
	Code      string                 `json:"code" yaml:"code"`
	Message   string                 `json:"message" yaml:"message"`
	Guidance  string                 `json:"guidance,omitempty" yaml:"guidance,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty" yaml:"context,omitempty"`
	RequestID string                 `json:"request_id,omitempty" yaml:"request_id,omitempty"`
}

// Error implements the error interface
func (e StructuredError) Error() string {
	return e.Message
}

// Error codes for CLI failures
const (
	ErrCodeConfigInvalid       = "CONFIG_INVALID"
	ErrCodeServerNotFound      = "SERVER_NOT_FOUND"
	ErrCodeInvalidOutputFormat = "INVALID_OUTPUT_FORMAT"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeToolCallFailed      = "TOOL_CALL_FAILED"
	ErrCodeOperationFailed     = "OPERATION_FAILED"
)

// NewStructuredError creates a StructuredError with the given code and message
func NewStructuredError(code, message string) StructuredError {
	return StructuredError{Code: code, Message: message}
}

// WithGuidance adds guidance to the error
func (e StructuredError) WithGuidance(guidance string) StructuredError {
	e.Guidance = guidance
	return e
}

// WithContext adds context data to the error
func (e StructuredError) WithContext(key string, value interface{}) StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRequestID adds the request id for log correlation
func (e StructuredError) WithRequestID(requestID string) StructuredError {
	e.RequestID = requestID
	return e
}

// FromError converts err to a StructuredError. A StructuredError anywhere in
// the chain is returned unchanged; otherwise code and err's message are used.
func FromError(err error, code string) StructuredError {
	var se StructuredError
	if errors.As(err, &se) {
		return se
	}
	return StructuredError{Code: code, Message: err.Error()}
}
