// Package types defines the error bodies the proxy writes on its own behalf.
//
// Upstream responses, including upstream error bodies, are relayed unchanged.
// Only failures the proxy itself detects (a wrong local key, a missing
// upstream, an unreachable upstream) produce an ErrorResponse, and the
// ErrorDetail type selects the HTTP status via HTTPStatusCode.
package types
