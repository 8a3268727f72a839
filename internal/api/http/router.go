package http

import (
	"github.com/EternisAI/wg-provisioner/internal/api/http/handler"
	"github.com/EternisAI/wg-provisioner/internal/api/http/middleware"
	"github.com/EternisAI/wg-provisioner/internal/lifecycle"
	"github.com/gin-gonic/gin"
)

type Services struct {
	Manager *lifecycle.Manager
}

func SetupRoute(engine *gin.Engine, srvs *Services, cfg Config) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler(srvs.Manager)
	engine.GET("/health", healthHandler.Check)

	if srvs.Manager == nil {
		return
	}

	clientHandler := handler.NewClientHandler(srvs.Manager)
	adminHandler := handler.NewAdminHandler(srvs.Manager)

	api := engine.Group("/api/v1")
	api.Use(middleware.OperatorAuth(cfg.AdminAPIKey, cfg.JWT))
	{
		api.POST("/clients", clientHandler.Provision)
		api.GET("/clients", clientHandler.List)
		api.GET("/clients/:identity", clientHandler.Get)
		api.DELETE("/clients/:identity", clientHandler.Decommission)
		api.GET("/clients/:identity/config", clientHandler.Config)
		api.GET("/clients/:identity/qr", clientHandler.QR)

		api.GET("/stats", adminHandler.Stats)
		api.GET("/plans", adminHandler.Plans)
		api.POST("/sweep", adminHandler.Sweep)
	}
}
