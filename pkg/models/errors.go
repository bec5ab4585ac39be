package models

// ErrorCode classifies failures across the system. Codes, not types: the
// same code may be carried by different error values or result records.
type ErrorCode string

// Error code constants.
const (
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeInvalidState      ErrorCode = "INVALID_STATE"
	CodeDisallowedCommand ErrorCode = "DISALLOWED_COMMAND"
	CodeLintFailed        ErrorCode = "LINT_FAILED"
	CodeTestFailed        ErrorCode = "TEST_FAILED"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeAIUnavailable     ErrorCode = "AI_UNAVAILABLE"
	CodeContainerError    ErrorCode = "CONTAINER_ERROR"
	CodeCancelled         ErrorCode = "CANCELLED"
)
