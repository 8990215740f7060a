package types

import "net/http"

// ErrorResponse is the error body the proxy writes for failures it produces
// itself. It uses the Anthropic envelope, which every supported CLI tool
// renders readably:
//
//	{"type":"error","error":{"type":"upstream_timeout","message":"..."}}
type ErrorResponse struct {
	// Type is always "error".
	Type string `json:"type"`

	// Error contains the error details.
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Type categorizes the error.
	Type string `json:"type"`

	// Message is a human-readable error message.
	Message string `json:"message"`
}

// Error type constants.
const (
	// ErrorTypeInvalidRequest indicates a malformed client request (400).
	ErrorTypeInvalidRequest = "invalid_request_error"

	// ErrorTypeAuthentication indicates a wrong local protection key (401).
	ErrorTypeAuthentication = "authentication_error"

	// ErrorTypeRequestTooLarge indicates a body over the size limit (413).
	ErrorTypeRequestTooLarge = "request_too_large"

	// ErrorTypeAPI indicates an internal failure (500).
	ErrorTypeAPI = "api_error"

	// ErrorTypeUpstream indicates an upstream failure not otherwise
	// classified (502).
	ErrorTypeUpstream = "upstream_error"

	// ErrorTypeUpstreamUnreachable indicates a failed connect (502).
	ErrorTypeUpstreamUnreachable = "upstream_unreachable"

	// ErrorTypeUpstreamTLS indicates a failed TLS handshake (502).
	ErrorTypeUpstreamTLS = "upstream_tls_error"

	// ErrorTypeConfiguration indicates no usable upstream is configured (503).
	ErrorTypeConfiguration = "configuration_error"

	// ErrorTypeStoreUnavailable indicates the session database failed (503).
	ErrorTypeStoreUnavailable = "store_unavailable"

	// ErrorTypeUpstreamTimeout indicates an upstream timeout (504).
	ErrorTypeUpstreamTimeout = "upstream_timeout"
)

// NewErrorResponse creates a new error response with the given details.
func NewErrorResponse(errorType, message string) *ErrorResponse {
	return &ErrorResponse{
		Type: "error",
		Error: ErrorDetail{
			Type:    errorType,
			Message: message,
		},
	}
}

// NewInvalidRequestError creates an error response for malformed requests (400).
func NewInvalidRequestError(message string) *ErrorResponse {
	return NewErrorResponse(ErrorTypeInvalidRequest, message)
}

// NewAuthenticationError creates an error response for a rejected local key (401).
func NewAuthenticationError(message string) *ErrorResponse {
	return NewErrorResponse(ErrorTypeAuthentication, message)
}

// NewServerError creates an error response for internal errors (500).
func NewServerError(message string) *ErrorResponse {
	return NewErrorResponse(ErrorTypeAPI, message)
}

// NewConfigurationError creates an error response for routing
// misconfiguration (503).
func NewConfigurationError(message string) *ErrorResponse {
	return NewErrorResponse(ErrorTypeConfiguration, message)
}

// HTTPStatusCode returns the HTTP status code for the error type.
func (e *ErrorDetail) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrorTypeUpstream, ErrorTypeUpstreamUnreachable, ErrorTypeUpstreamTLS:
		return http.StatusBadGateway
	case ErrorTypeConfiguration, ErrorTypeStoreUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
