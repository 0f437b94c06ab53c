package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/transcribe/internal/middleware"
)

// routerDeps are the middleware collaborators of the router
type routerDeps struct {
	auth         *middleware.Auth
	limiter      *middleware.RateLimiter
	counter      middleware.WindowCounter
	submitLimit  int64
	submitWindow time.Duration
}

func setupRouter(api *API, deps routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(api.logger))

	router.GET("/health", api.healthCheck)

	v1 := router.Group("/api/v1")
	v1.GET("/plans", api.listPlans)

	authed := v1.Group("", deps.auth.JWTAuth(), middleware.RateLimit(deps.limiter))
	{
		authed.POST("/users", middleware.RequireRole(middleware.RoleService, middleware.RoleAdmin), api.registerUser)

		users := authed.Group("/users/:id", middleware.AuthorizeUser("id"))
		users.GET("/quota", api.getQuota)
		users.GET("/settings", api.getSettings)
		users.PATCH("/settings", api.updateSettings)
		users.GET("/usage", api.getUsage)
		users.GET("/referrals", api.getReferrals)
		users.POST("/transcriptions",
			middleware.SubmissionLimit(deps.counter, deps.submitLimit, deps.submitWindow, userIDParam),
			api.submitTranscription)

		authed.GET("/transcriptions/:id", api.getTranscription)

		authed.POST("/payments", api.requestPayment)
		authed.POST("/payments/:id/verify", middleware.RequireRole(middleware.RoleAdmin), api.verifyPayment)

		authed.GET("/admin/stats", middleware.RequireRole(middleware.RoleAdmin), api.getStats)
	}

	return router
}
