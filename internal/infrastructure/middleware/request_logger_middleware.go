package middleware

import (
	"context"
	"time"

	"localmedia/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	RequestIDKey    = "request_id"
	RequestIDHeader = "X-Request-ID"
)

// RequestLoggerMiddleware assigns a request id (reusing the caller's
// X-Request-ID when present) and logs every request once it completes.
func RequestLoggerMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.RequestIDKey, id))

		c.Next()

		ctx := c.Request.Context()
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			ctx = context.WithValue(ctx, logger.TraceIDKey, sc.TraceID().String())
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		cl.LogRequest(ctx, c.Request.Method, path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
