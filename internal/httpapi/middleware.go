package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		if m := s.deps.Metrics; m != nil && route != "/metrics" {
			m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
			m.HTTPLatency.WithLabelValues(route).Observe(elapsed.Seconds())
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
			zap.String("client_ip", c.ClientIP()),
		}
		for _, e := range c.Errors {
			s.logger.Error("request error", append(fields, zap.Error(e.Err))...)
		}
		switch {
		case status >= 500:
			s.logger.Error("request completed", fields...)
		case status >= 400:
			s.logger.Warn("request completed", fields...)
		default:
			s.logger.Debug("request completed", fields...)
		}
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		s.logger.Error("panic in handler", zap.Any("panic", rec), zap.String("path", c.Request.URL.Path))
		if s.deps.Metrics != nil {
			s.deps.Metrics.Errors.WithLabelValues("http").Inc()
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(msgInternal))
	})
}
