package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogMiddleware emits one structured access log line per request.
func RequestLogMiddleware(log *zap.Logger) gin.HandlerFunc {
	accessLog := log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.Last().Error()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			accessLog.Error("http.request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			accessLog.Warn("http.request", fields...)
		default:
			accessLog.Info("http.request", fields...)
		}
	}
}

// FeedbackIngestRateLimit throttles feedback writes per user and for the
// endpoint overall. Limiter failures fail open: feedback loss hurts more
// than a burst.
func (s *Server) FeedbackIngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.feedbackLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		allowed, retryAfter, err := s.feedbackLimiter.AllowEndpoint(ctx)
		if err == nil && allowed {
			userID := c.GetHeader("X-User-ID")
			allowed, retryAfter, err = s.feedbackLimiter.AllowUser(ctx, userID)
		}
		if err != nil {
			c.Next()
			return
		}
		if !allowed {
			if retryAfter > 0 {
				c.Header("Retry-After", retryAfter.Round(time.Second).String())
			}
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}
