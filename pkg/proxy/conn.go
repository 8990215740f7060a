package proxy

import (
	"context"
	"net"

	"github.com/google/uuid"
)

type connIDKey struct{}

// ConnContext is an http.Server ConnContext hook that tags every accepted
// connection with a fresh nonce. Requests that carry no session token are
// grouped by this nonce.
func ConnContext(ctx context.Context, _ net.Conn) context.Context {
	return WithConnID(ctx, uuid.NewString())
}

// WithConnID returns a context carrying a connection nonce.
func WithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey{}, id)
}

// ConnIDFromContext returns the connection nonce, or "".
func ConnIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(connIDKey{}).(string)
	return id
}
