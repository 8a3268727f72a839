package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/EternisAI/wg-provisioner/internal/clients"
	"github.com/EternisAI/wg-provisioner/internal/lifecycle"
	"github.com/gin-gonic/gin"
)

// statusFor maps lifecycle error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrDuplicateIdentity), errors.Is(err, lifecycle.ErrKeyCollision):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, clients.ErrUnknownPlan),
		errors.Is(err, clients.ErrInvalidDuration),
		errors.Is(err, clients.ErrInvalidIdentity):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrPoolExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, lifecycle.ErrKeyGenerationFailed),
		errors.Is(err, lifecycle.ErrPeerRegistrationFailed),
		errors.Is(err, lifecycle.ErrInterfaceUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "operation", op, "status", status, "error", err)
	} else {
		slog.Debug("Request rejected", "operation", op, "status", status, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
