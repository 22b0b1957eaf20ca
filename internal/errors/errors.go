package errors

import "fmt"

// ErrorCode classifies an agent error.
type ErrorCode string

const (
	ErrStorage          ErrorCode = "STORAGE"           // 500: I/O, constraint, corruption
	ErrTransport        ErrorCode = "TRANSPORT"         // 502: HTTP/WS failures
	ErrLLMProtocol      ErrorCode = "LLM_PROTOCOL"      // 502: parse failure, deadline, empty response
	ErrValidation       ErrorCode = "VALIDATION"        // 422: schema or enum out of range
	ErrCapabilityDenied ErrorCode = "CAPABILITY_DENIED" // 403: tool blocked by active profile
	ErrConfigInvalid    ErrorCode = "CONFIG_INVALID"    // 400: unusable configuration
	ErrConcurrency      ErrorCode = "CONCURRENCY"       // 409: pause conflict, shutdown mid-op
	ErrNotFound         ErrorCode = "NOT_FOUND"         // 404
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"   // 400
)

// AgentError is a structured error with code, HTTP status, and details.
type AgentError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *AgentError) Unwrap() error {
	return e.Cause
}

// NewStorage wraps a database or filesystem failure.
func NewStorage(op string, err error) *AgentError {
	msg := op
	if err != nil {
		msg = fmt.Sprintf("%s: %v", op, err)
	}
	return &AgentError{Code: ErrStorage, Status: 500, Message: msg, Cause: err}
}

// NewTransport wraps an HTTP or WebSocket failure.
func NewTransport(op string, err error) *AgentError {
	msg := op
	if err != nil {
		msg = fmt.Sprintf("%s: %v", op, err)
	}
	return &AgentError{Code: ErrTransport, Status: 502, Message: msg, Cause: err}
}

// NewLLMProtocol reports an LLM response that could not be used:
// parse failure, deadline exceeded, or empty completion.
func NewLLMProtocol(msg string, err error) *AgentError {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &AgentError{Code: ErrLLMProtocol, Status: 502, Message: msg, Cause: err}
}

// NewValidation reports a value outside its allowed schema or enum range.
func NewValidation(msg string) *AgentError {
	return &AgentError{Code: ErrValidation, Status: 422, Message: msg}
}

// NewCapabilityDenied reports a tool invocation blocked by the active profile.
func NewCapabilityDenied(profile, tool string) *AgentError {
	return &AgentError{
		Code:    ErrCapabilityDenied,
		Status:  403,
		Message: fmt.Sprintf("tool %q is not permitted under profile %q", tool, profile),
		Details: map[string]any{"profile": profile, "tool": tool},
	}
}

// NewConfigInvalid reports unusable configuration.
func NewConfigInvalid(msg string) *AgentError {
	return &AgentError{Code: ErrConfigInvalid, Status: 400, Message: msg}
}

// NewConcurrency reports a pause conflict or an operation cut short by shutdown.
func NewConcurrency(msg string) *AgentError {
	return &AgentError{Code: ErrConcurrency, Status: 409, Message: msg}
}

// NewNotFound reports a missing entity.
func NewNotFound(kind, id string) *AgentError {
	return &AgentError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// NewInvalidRequest reports malformed request parameters.
func NewInvalidRequest(msg string) *AgentError {
	return &AgentError{Code: ErrInvalidRequest, Status: 400, Message: msg}
}

// Is reports whether err is an AgentError with the given code.
func Is(err error, code ErrorCode) bool {
	if aErr, ok := err.(*AgentError); ok {
		return aErr.Code == code
	}
	return false
}
