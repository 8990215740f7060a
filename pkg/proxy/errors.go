package proxy

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"duckcoding-hq/relay/pkg/proxy/types"
	"duckcoding-hq/relay/pkg/route"
	"duckcoding-hq/relay/pkg/session"
)

// Upstream error kinds.
const (
	KindTimeout      = "timeout"
	KindConnect      = "connect"
	KindTLS          = "tls"
	KindProxy        = "proxy"
	KindReset        = "reset"
	KindClientClosed = "client_closed"
	KindOther        = "other"
)

// UpstreamError is a failed exchange with the upstream.
type UpstreamError struct {
	// Kind classifies the failure.
	Kind string

	// Host is the upstream host.
	Host string

	// Cause is the underlying transport error.
	Cause error
}

// Error implements error.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s failed (%s): %v", e.Host, e.Kind, e.Cause)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// NewUpstreamError classifies a transport error.
func NewUpstreamError(host string, err error) *UpstreamError {
	return &UpstreamError{Kind: classify(err), Host: host, Cause: err}
}

func classify(err error) string {
	if errors.Is(err, context.Canceled) {
		return KindClientClosed
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var (
		recordErr  tls.RecordHeaderError
		certErr    *tls.CertificateVerificationError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)
	if errors.As(err, &recordErr) || errors.As(err, &certErr) || errors.As(err, &unknownCA) ||
		errors.As(err, &hostErr) || errors.As(err, &invalidErr) {
		return KindTLS
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return KindReset
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "proxyconnect" || opErr.Op == "socks connect" {
			return KindProxy
		}
		if opErr.Op == "dial" {
			return KindConnect
		}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnect
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnect
	}

	return KindOther
}

// RequestError is a malformed client request.
type RequestError struct {
	Message  string
	TooLarge bool
}

// Error implements error.
func (e *RequestError) Error() string {
	return e.Message
}

// HandleError converts an error produced while handling a request into the
// error body written to the client.
func HandleError(err error) *types.ErrorResponse {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		if reqErr.TooLarge {
			return types.NewErrorResponse(types.ErrorTypeRequestTooLarge, reqErr.Message)
		}
		return types.NewInvalidRequestError(reqErr.Message)
	}

	if errors.Is(err, route.ErrNoRoute) || errors.Is(err, route.ErrInvalidRoute) {
		return types.NewConfigurationError(err.Error())
	}

	if errors.Is(err, session.ErrStoreUnavailable) {
		return types.NewErrorResponse(types.ErrorTypeStoreUnavailable,
			"session store unavailable, retry shortly")
	}

	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return handleUpstreamError(upErr)
	}

	return types.NewServerError("An internal error occurred. Please try again later.")
}

func handleUpstreamError(err *UpstreamError) *types.ErrorResponse {
	switch err.Kind {
	case KindTimeout:
		return types.NewErrorResponse(types.ErrorTypeUpstreamTimeout,
			fmt.Sprintf("upstream %s timed out", err.Host))
	case KindTLS:
		return types.NewErrorResponse(types.ErrorTypeUpstreamTLS,
			fmt.Sprintf("TLS handshake with %s failed: %v", err.Host, err.Cause))
	case KindConnect:
		return types.NewErrorResponse(types.ErrorTypeUpstreamUnreachable,
			fmt.Sprintf("cannot connect to %s: %v", err.Host, err.Cause))
	case KindProxy:
		return types.NewErrorResponse(types.ErrorTypeUpstreamUnreachable,
			fmt.Sprintf("network proxy failed reaching %s: %v", err.Host, err.Cause))
	default:
		return types.NewErrorResponse(types.ErrorTypeUpstream,
			fmt.Sprintf("request to %s failed: %v", err.Host, err.Cause))
	}
}
