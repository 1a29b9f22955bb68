package flow

// Error codes surfaced to clients, in HTTP error bodies and in SSE
// error events alike.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeContentBlocked    = "CONTENT_BLOCKED"
	CodeContentTooShort   = "CONTENT_TOO_SHORT"
	CodeReferenceRequired = "REFERENCE_IMAGE_REQUIRED"
	CodeNotFound          = "NOT_FOUND"
	CodeConfigMissing     = "CONFIG_MISSING"
	CodeAIService         = "AI_SERVICE_ERROR"
	CodeTimeout           = "TIMEOUT"
	CodeParse             = "PARSE_ERROR"
	CodeInternal          = "INTERNAL_ERROR"
)

// CodedError pairs a client-facing error code with its message.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string {
	return e.Code + ": " + e.Message
}

func NewCodedError(code, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}
