package audit

import (
	"context"

	"rental-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

type clientCtxKey struct{}

// WithClientContext stores the caller's origin for records made under ctx.
func WithClientContext(ctx context.Context, cc ClientContext) context.Context {
	return context.WithValue(ctx, clientCtxKey{}, cc)
}

// ClientContextFrom returns the stored origin, or the zero value.
func ClientContextFrom(ctx context.Context) ClientContext {
	if ctx == nil {
		return ClientContext{}
	}
	if v, ok := ctx.Value(clientCtxKey{}).(ClientContext); ok {
		return v
	}
	return ClientContext{}
}

// CaptureClientContext records client IP, user agent and request id on the
// request context. Mount it after logger.Middleware so the request id exists.
// Client IP resolution follows gin's trusted proxy settings.
func CaptureClientContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		cc := ClientContext{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			RequestID: logger.RequestID(c),
		}
		c.Request = c.Request.WithContext(WithClientContext(c.Request.Context(), cc))
		c.Next()
	}
}
