package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fluent-auth/internal/metrics"
	"fluent-auth/internal/service"
)

// Reason codes returned in the error field of gate rejections.
const (
	reasonMissingToken = "missing_token"
	reasonInvalidToken = "invalid_token"
	reasonExpiredToken = "expired_token"
)

type errorResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Error   string   `json:"error,omitempty"`
	Details []string `json:"details,omitempty"`
}

// respondError maps service errors onto the envelope. fallback is the
// message used for unexpected failures.
func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, errorResponse{Message: verr.Message, Details: verr.Details})
	case errors.Is(err, service.ErrUserAlreadyExists):
		c.JSON(http.StatusConflict, errorResponse{Message: "User already exists"})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, errorResponse{Message: "Invalid credentials"})
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Message: "User not found"})
	default:
		h.loggerFor(c).WithError(err).Error(fallback)
		resp := errorResponse{Message: fallback}
		if !h.production {
			resp.Error = err.Error()
		}
		c.JSON(http.StatusInternalServerError, resp)
	}
}

func (h *Handler) abortUnauthorized(c *gin.Context, message, reason string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Message: message, Error: reason})
}

// outcome turns a service error into a metrics result label.
func outcome(err error) string {
	var verr *service.ValidationError
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.As(err, &verr), errors.Is(err, service.ErrInvalidCredentials):
		return metrics.ResultInvalid
	case errors.Is(err, service.ErrUserAlreadyExists):
		return metrics.ResultConflict
	default:
		return metrics.ResultUnavailable
	}
}
