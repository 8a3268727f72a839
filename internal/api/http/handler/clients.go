package handler

import (
	"net/http"

	"github.com/EternisAI/wg-provisioner/internal/api/http/dto"
	"github.com/EternisAI/wg-provisioner/internal/clients"
	"github.com/EternisAI/wg-provisioner/internal/lifecycle"
	"github.com/gin-gonic/gin"
)

type ClientHandler struct {
	manager *lifecycle.Manager
}

func NewClientHandler(manager *lifecycle.Manager) *ClientHandler {
	return &ClientHandler{manager: manager}
}

func (h *ClientHandler) Provision(c *gin.Context) {
	var req dto.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.manager.Provision(c.Request.Context(), lifecycle.ProvisionRequest{
		Identity: req.Identity,
		Plan:     req.Plan,
		Duration: clients.Duration{Days: req.Days, Hours: req.Hours},
	})
	if err != nil {
		abortWithError(c, "provision", err)
		return
	}

	c.JSON(http.StatusCreated, dto.ProvisionResponse{
		Client: dto.NewClientResponse(res.Record),
		Config: res.Config,
		QRPNG:  res.QR,
	})
}

func (h *ClientHandler) List(c *gin.Context) {
	records, err := h.manager.List(c.Request.Context())
	if err != nil {
		abortWithError(c, "list", err)
		return
	}

	resp := dto.ListClientsResponse{
		Clients: make([]dto.ClientResponse, len(records)),
		Count:   len(records),
	}
	for i, rec := range records {
		resp.Clients[i] = dto.NewClientResponse(rec)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ClientHandler) Get(c *gin.Context) {
	rec, err := h.manager.Get(c.Request.Context(), c.Param("identity"))
	if err != nil {
		abortWithError(c, "get", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewClientResponse(rec))
}

func (h *ClientHandler) Decommission(c *gin.Context) {
	if err := h.manager.Decommission(c.Request.Context(), c.Param("identity")); err != nil {
		abortWithError(c, "decommission", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ClientHandler) Config(c *gin.Context) {
	identity := c.Param("identity")
	data, err := h.manager.Config(c.Request.Context(), identity)
	if err != nil {
		abortWithError(c, "config", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+identity+`.conf"`)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

func (h *ClientHandler) QR(c *gin.Context) {
	data, err := h.manager.QR(c.Request.Context(), c.Param("identity"))
	if err != nil {
		abortWithError(c, "qr", err)
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}
