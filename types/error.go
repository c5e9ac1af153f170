package types

import "fmt"

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Pipeline error codes
const (
	ErrIntentAnalysis        ErrorCode = "INTENT_ANALYSIS"
	ErrRetrievalStrategy     ErrorCode = "RETRIEVAL_STRATEGY"
	ErrRerank                ErrorCode = "RERANK"
	ErrUpstreamTimeout       ErrorCode = "UPSTREAM_TIMEOUT"
	ErrContextOverflow       ErrorCode = "CONTEXT_OVERFLOW"
	ErrBatchSynthesisPartial ErrorCode = "BATCH_SYNTHESIS_PARTIAL"
)

// Configuration error codes. These are fatal and always propagate.
const (
	ErrModelNotFound ErrorCode = "MODEL_NOT_FOUND"
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrTokenizer     ErrorCode = "TOKENIZER_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Strategy  string    `json:"strategy,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithStrategy sets the retrieval strategy that produced the error.
func (e *Error) WithStrategy(strategy string) *Error {
	e.Strategy = strategy
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
