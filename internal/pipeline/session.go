package pipeline

import "context"

type sessionKey struct{}

// WithSessionID returns a context carrying the connection's session id
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the session id of the connection a sample arrived on,
// or "" outside a Driver
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
