package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"council/internal/config"
	"council/internal/database"
	"council/internal/handlers"
	"council/internal/metrics"
	"council/internal/middleware"
	"council/pkg/auth"
)

// Routes wires the full HTTP surface.
func Routes(r *gin.Engine, cfg config.Config, store *database.Store, jwtMgr *auth.JWTManager, rdb *redis.Client,
	authH *handlers.AuthHandler, userH *handlers.UserHandler, roomH *handlers.RoomHandler,
	proposalH *handlers.ProposalHandler, actionH *handlers.ActionHandler) {

	r.Use(middleware.CORS(cfg.Env))
	r.Use(metrics.GinMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authGroup := r.Group("/auth")
	authGroup.Use(middleware.RateLimit(rate.Limit(5), 10))
	{
		authGroup.POST("/register", authH.Register)
		authGroup.POST("/login", authH.Login)
		authGroup.POST("/logout", authH.Logout)
	}

	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(jwtMgr, rdb, store))
	api.Use(middleware.RateLimit(rate.Limit(20), 40))
	{
		api.GET("/me", userH.GetMe)
		api.GET("/rooms", userH.ListMyRooms)
		api.POST("/rooms", roomH.CreateRoom)
		api.GET("/rooms/:id", roomH.GetRoom)
		api.PATCH("/rooms/:id", roomH.UpdateRoom)
		api.DELETE("/rooms/:id", roomH.DeleteRoom)
		api.POST("/rooms/:id/join", roomH.JoinRoom)
		api.POST("/rooms/:id/leave", roomH.LeaveRoom)
		api.POST("/rooms/:id/messages", roomH.PostMessage)
		api.POST("/rooms/:id/actions", actionH.Dispatch)

		api.GET("/rooms/:id/proposals", proposalH.List)
		api.POST("/rooms/:id/proposals", proposalH.Create)
		api.POST("/rooms/:id/proposals/:pid/votes", proposalH.Vote)
		api.POST("/rooms/:id/proposals/:pid/close", proposalH.Close)
		api.GET("/rooms/:id/proposals/:pid/results", proposalH.Results)

		api.GET("/resolve/:alias", roomH.Resolve)
	}
}
