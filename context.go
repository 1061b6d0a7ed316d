package authcore

import (
	"context"

	"github.com/authcore-io/authcore/internal"
	"github.com/authcore-io/authcore/refresh"
)

type clientIPContextKey struct{}
type userAgentContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine records
// it on issued refresh credentials and in audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx. It is stored as
// session metadata and classified into a coarse device class.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func deviceInfoFromContext(ctx context.Context) refresh.DeviceInfo {
	ua := userAgentFromContext(ctx)
	return refresh.DeviceInfo{
		UserAgent: ua,
		IP:        clientIPFromContext(ctx),
		Class:     refresh.DeviceClass(internal.ClassifyUserAgent(ua)),
	}
}
