package http

import (
	"net/http"

	"github.com/EternisAI/cookie-jar/internal/api/http/handler"
	"github.com/EternisAI/cookie-jar/internal/api/http/middleware"
	"github.com/EternisAI/cookie-jar/internal/auth"
	"github.com/EternisAI/cookie-jar/internal/pool"
	"github.com/gin-gonic/gin"
)

type Services struct {
	Pool        *pool.Pool
	Tokens      *auth.Service
	JWTSecret   string
	AdminAPIKey string
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler(srvs.Pool)
	engine.GET("/health", healthHandler.Check)

	if srvs.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(srvs.Metrics))
	}

	leaseHandler := handler.NewLeaseHandler(srvs.Pool)
	statsHandler := handler.NewStatsHandler(srvs.Pool)

	api := engine.Group("/api/v1")
	workers := api.Group("", middleware.JWTAuth(srvs.JWTSecret), middleware.RequireRole(auth.RoleWorker, auth.RoleAdmin))
	{
		workers.POST("/leases", leaseHandler.Acquire)
		workers.DELETE("/leases/:id", leaseHandler.Release)
		workers.GET("/stats", statsHandler.All)
		workers.GET("/sites/:site/stats", statsHandler.Site)
	}

	adminHandler := handler.NewAdminHandler(srvs.Pool, srvs.Tokens)
	admin := api.Group("/admin", middleware.APIKeyAuth(srvs.AdminAPIKey))
	{
		admin.POST("/sweep", adminHandler.Sweep)
		admin.POST("/purge", adminHandler.Purge)
		admin.POST("/sites/:site/warm", adminHandler.Warm)
		admin.POST("/tokens", adminHandler.CreateToken)
	}
}
