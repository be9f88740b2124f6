package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"AIWeb3-Agents/internal/auth"
	xerrors "AIWeb3-Agents/internal/errors"
	"AIWeb3-Agents/internal/observability/metrics"
)

const requestIDHeader = "X-Request-ID"

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		duration := time.Since(start)
		status := c.Writer.Status()
		metrics.ObserveHTTPRequest(route, c.Request.Method, status, duration)
		s.log.Debug("HTTP 请求",
			slog.String("request_id", c.GetString("request_id")),
			slog.String("subject", c.GetString("subject")),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", duration),
		)
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(c, xerrors.New(xerrors.CodeRateLimited, "请求过于频繁，请稍后重试"))
			return
		}
		c.Next()
	}
}

func bodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

func (s *Server) authorize(perms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.auth == nil {
			c.Next()
			return
		}
		subject, err := s.auth.AuthenticateRequest(c.GetHeader("Authorization"), c.GetHeader("X-API-Key"))
		if err == nil {
			err = subject.Authorize(perms...)
		}
		if err != nil {
			code := xerrors.CodeUnauthenticated
			if errors.Is(err, auth.ErrPermissionDenied) {
				code = xerrors.CodePermissionDenied
			}
			apiErr := xerrors.Wrap(code, err, "")
			s.auth.AuditDenied(c.Request.Method, c.Request.URL.Path, StatusFor(apiErr), err)
			writeError(c, apiErr)
			return
		}
		c.Set("subject", subject.Name)
		c.Request = c.Request.WithContext(auth.WithSubject(c.Request.Context(), subject))
		c.Next()
	}
}
