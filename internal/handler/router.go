package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mailshare/internal/middleware"
	"github.com/xxxsen/mailshare/internal/pkg/response"
)

type RouterDeps struct {
	Shares    *ShareHandler
	Public    *PublicHandler
	JWTSecret []byte
	// PublicLimit guards every anonymous route. Nil disables it.
	PublicLimit gin.HandlerFunc
	Metrics     http.Handler
}

// RegisterRoutes mounts the API. Static public paths are registered before
// the owner's /share/:id routes so gin can tell them apart.
func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/healthz", func(c *gin.Context) {
		response.Success(c, gin.H{"ok": true})
	})
	if deps.Metrics != nil {
		api.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	public := api.Group("/share")
	if deps.PublicLimit != nil {
		public.Use(deps.PublicLimit)
	}
	public.GET("/info/:token", deps.Public.Info)
	public.GET("/emails/:token", deps.Public.Emails)
	public.POST("/captcha/:token", deps.Public.Captcha)

	owner := api.Group("/share")
	owner.Use(middleware.JWTAuth(deps.JWTSecret))
	owner.POST("/create", deps.Shares.Create)
	owner.GET("/list", deps.Shares.List)
	owner.POST("/batch", deps.Shares.Batch)
	owner.GET("/:id", deps.Shares.Get)
	owner.DELETE("/:id", deps.Shares.Delete)
	owner.POST("/:id/refresh-token", deps.Shares.RefreshToken)
	owner.PATCH("/:id/:field", deps.Shares.UpdateField)
	owner.GET("/:id/stats", deps.Shares.Stats)
	owner.GET("/:id/logs", deps.Shares.Logs)
}
