package lbclient

import (
	"context"

	"github.com/little-brother/lbclient/transport"
)

type requestIDContextKey struct{}

// WithRequestID attaches a request id to ctx. Requests issued with it carry
// the id in the X-Request-ID header instead of a generated one.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

// withoutInterception marks ctx so the pipeline attaches credentials but does
// not run the refresh protocol.
func withoutInterception(ctx context.Context) context.Context {
	return transport.Bypass(ctx)
}
