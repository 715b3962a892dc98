package errors

const (
	HttpInternalError       = "internal_error"
	HttpInvalidJsonError    = "invalid_json"
	HttpValidationError     = "validation_failed"
	HttpUnknownFunnelError  = "unknown_funnel"
	HttpBodyTooLargeError   = "body_too_large"
	HttpUnknownProfileError = "unknown_profile"
)

// ErrorResponse is the error response body for collection errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
