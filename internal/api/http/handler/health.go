package handler

import (
	"net/http"

	"github.com/EternisAI/wg-provisioner/internal/api/http/dto"
	"github.com/EternisAI/wg-provisioner/internal/lifecycle"
	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	manager *lifecycle.Manager
}

// NewHealthHandler reports liveness only when manager is nil; otherwise the
// registry must be readable for the service to count as healthy.
func NewHealthHandler(manager *lifecycle.Manager) *HealthHandler {
	return &HealthHandler{manager: manager}
}

func (h *HealthHandler) Check(c *gin.Context) {
	if h.manager == nil {
		c.JSON(http.StatusOK, dto.HealthResponse{Status: "ok"})
		return
	}

	st, err := h.manager.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, dto.HealthResponse{Status: "degraded", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:        "ok",
		Clients:       st.Active,
		PoolAvailable: st.PoolAvailable,
	})
}
