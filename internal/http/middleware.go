package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fluent-auth/internal/auth"
)

const (
	requestIDHeader = "X-Request-ID"

	loggerKey    = "logger"
	subjectIDKey = "subjectId"
)

type subjectIDCtxKey struct{}

// SubjectIDFromContext returns the sequence id resolved by the session gate.
func SubjectIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(subjectIDCtxKey{}).(int64)
	return id, ok
}

// requireSession rejects requests without a valid session cookie. Dead
// tokens are cleared so the client stops resending them.
func (h *Handler) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := h.cookies.Read(c.Request)
		if !ok {
			h.metrics.ObserveSessionRejection(reasonMissingToken)
			h.abortUnauthorized(c, "Authorization required", reasonMissingToken)
			return
		}

		subjectID, err := h.tokens.Verify(token)
		if err != nil {
			reason := reasonInvalidToken
			if errors.Is(err, auth.ErrExpiredToken) {
				reason = reasonExpiredToken
			}
			h.loggerFor(c).WithError(err).WithField("reason", reason).Debug("session rejected")
			h.metrics.ObserveSessionRejection(reason)
			h.cookies.Clear(c.Writer)
			h.abortUnauthorized(c, "Invalid or expired token", reason)
			return
		}

		c.Set(subjectIDKey, subjectID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), subjectIDCtxKey{}, subjectID))
		c.Next()
	}
}

// requestLogger tags every request with an id and logs its outcome.
func requestLogger(base logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)

		entry := base.WithFields(logrus.Fields{
			"request_id": reqID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
		})
		c.Set(loggerKey, entry)

		c.Next()

		status := c.Writer.Status()
		entry = entry.WithFields(logrus.Fields{
			"status":    status,
			"latency":   time.Since(start).String(),
			"client_ip": c.ClientIP(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Info("request completed")
		}
	}
}

func (h *Handler) loggerFor(c *gin.Context) logrus.FieldLogger {
	if v, ok := c.Get(loggerKey); ok {
		if entry, ok := v.(logrus.FieldLogger); ok {
			return entry
		}
	}
	return h.logger
}

func corsMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && origin == allowedOrigin {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
			c.Writer.Header().Set("Access-Control-Expose-Headers", requestIDHeader)
		}
		c.Writer.Header().Add("Vary", "Origin")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
