// Package middleware provides HTTP middleware shared by the tool listeners
// and the management API.
//
// # Middleware Chain
//
//	handler = RecoveryMiddleware(logger)(RequestIDMiddleware(LoggingMiddleware(logger)(handler)))
//
//   - RequestIDMiddleware: assign or reuse X-Request-ID, store it in the context
//     and echo it (management API)
//   - ContextRequestIDMiddleware: same id in the context only, headers left as
//     they are (tool listeners, which must not alter proxied traffic)
//   - LoggingMiddleware: log method, path, status and latency per request
//   - RecoveryMiddleware: turn panics into a 500 error body
//
// The response writer wrappers implement Flush and Unwrap, so streamed
// (text/event-stream) responses pass through unbuffered.
package middleware
