package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-crm/internal/handler"
	"github.com/ashwinyue/next-crm/internal/middleware"
	"github.com/ashwinyue/next-crm/internal/pkg/logger"
	"github.com/ashwinyue/next-crm/internal/service"
)

// Pinger 健康检查依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// SetupRouter 设置路由
func SetupRouter(h *handler.Handlers, svc *service.Services, db Pinger, log *logger.Logger) *gin.Engine {
	if log == nil {
		log = logger.Nop()
	}
	r := gin.New()

	// 中间件
	r.Use(middleware.RecoveryMiddleware(log))
	r.Use(middleware.LoggingMiddleware(log))
	r.Use(middleware.CORSMiddleware(svc.Config.Server.AllowOrigins))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "active_replies": svc.Streams.Len()})
	})

	// API v1
	v1 := r.Group("/api/v1")
	{
		// 认证（登录与刷新不需要令牌）
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", h.Auth.Login)
			authGroup.POST("/refresh", h.Auth.Refresh)
			authGroup.POST("/logout", h.Auth.Logout)
			authGroup.GET("/me", middleware.RequireAuth(svc.Auth), h.Auth.Me)
		}

		protected := v1.Group("", middleware.RequireAuth(svc.Auth))

		// 会话与话题
		sessions := protected.Group("/sessions")
		{
			sessions.POST("", h.Session.CreateSession)
			sessions.GET("", h.Session.ListSessions)
			sessions.GET("/:id", h.Session.GetSession)
			sessions.PUT("/:id", h.Session.UpdateSession)
			sessions.DELETE("/:id", h.Session.DeleteSession)
			sessions.POST("/:id/topics", h.Session.CreateTopic)
			sessions.GET("/:id/topics", h.Session.ListTopics)
		}

		// 消息
		messages := protected.Group("/messages")
		{
			messages.GET("", h.Message.ListMessages)
			messages.POST("", h.Message.CreateMessage)
			messages.POST("/reply", h.Message.Reply)
			messages.DELETE("/:id", h.Message.DeleteMessage)
			messages.POST("/:id/stop", h.Message.StopReply)
		}

		// 助手配置
		agents := protected.Group("/agents")
		{
			agents.POST("", h.Agent.CreateAgent)
			agents.GET("", h.Agent.ListAgents)
			agents.GET("/:id", h.Agent.GetAgent)
			agents.PUT("/:id", h.Agent.UpdateAgent)
		}
	}

	return r
}
