package handler

import (
	"net/http"

	"github.com/EternisAI/wg-provisioner/internal/api/http/dto"
	"github.com/EternisAI/wg-provisioner/internal/lifecycle"
	"github.com/gin-gonic/gin"
)

// AdminHandler serves registry-wide views and the manual sweep trigger.
type AdminHandler struct {
	manager *lifecycle.Manager
}

func NewAdminHandler(manager *lifecycle.Manager) *AdminHandler {
	return &AdminHandler{manager: manager}
}

func (h *AdminHandler) Stats(c *gin.Context) {
	st, err := h.manager.Stats(c.Request.Context())
	if err != nil {
		abortWithError(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, dto.StatsResponse{
		Count:         st.Count,
		Active:        st.Active,
		Expired:       st.Expired,
		PerPlan:       st.PerPlan,
		PoolSize:      st.PoolSize,
		PoolAvailable: st.PoolAvailable,
	})
}

func (h *AdminHandler) Plans(c *gin.Context) {
	plans := h.manager.Plans()
	resp := dto.ListPlansResponse{Plans: make([]dto.PlanResponse, len(plans))}
	for i, p := range plans {
		resp.Plans[i] = dto.PlanResponse{Name: p.Name, Days: p.Days, Hours: p.Hours, Prices: p.Prices}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) Sweep(c *gin.Context) {
	res, err := h.manager.Sweep(c.Request.Context())
	if err != nil {
		abortWithError(c, "sweep", err)
		return
	}
	resp := dto.SweepResponse{
		Warnings: res.Warnings,
		Expired:  res.Expired,
		Removed:  res.Removed,
		Events:   make([]dto.EventResponse, len(res.Events)),
	}
	for i, ev := range res.Events {
		resp.Events[i] = dto.EventResponse{
			Kind:           string(ev.Kind),
			Identity:       ev.Identity,
			Threshold:      ev.Threshold,
			HoursRemaining: ev.HoursRemaining,
		}
	}
	c.JSON(http.StatusOK, resp)
}
