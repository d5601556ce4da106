package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Sonket19/AI-Pitch-Lens/config"
	"github.com/Sonket19/AI-Pitch-Lens/middleware"
)

// Handlers groups everything RegisterRoutes mounts
type Handlers struct {
	Auth      *AuthHandler
	Deals     *DealHandler
	Pipeline  *PipelineHandler
	Analyze   *AnalyzeHandler
	Workspace *WorkspaceHandler
	Chat      *ChatHandler
}

// RegisterRoutes mounts the health check, the public pipeline endpoints and
// the authenticated API. limit, when set, runs on both API groups: ahead of
// the public routes it counts per client IP, behind AuthMiddleware it counts
// per investor.
func RegisterRoutes(router *gin.Engine, h Handlers, auth *config.AuthConfig, limit gin.HandlerFunc) {
	var limited []gin.HandlerFunc
	if limit != nil {
		limited = append(limited, limit)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Public routes
	api := router.Group("/api", limited...)
	{
		api.POST("/auth/login", h.Auth.Login)
		api.POST("/queueAnalysis", h.Pipeline.QueueAnalysis)
		api.POST("/mineru/callback", h.Pipeline.MineruCallback)
	}

	// Protected routes
	protected := router.Group("/api", middleware.AuthMiddleware(auth))
	protected.Use(limited...)
	{
		protected.GET("/auth/me", h.Auth.GetCurrentUser)
		protected.POST("/auth/logout", h.Auth.Logout)

		protected.POST("/deals/upload", h.Deals.Upload)
		protected.GET("/deals", h.Deals.List)
		protected.GET("/deals/:id", h.Deals.Get)
		protected.GET("/deals/:id/status", h.Deals.GetStatus)
		protected.GET("/deals/:id/watch", h.Deals.Watch)
		protected.DELETE("/deals/:id", h.Deals.Delete)

		protected.POST("/analyze", h.Analyze.Analyze)

		protected.GET("/workspace", h.Workspace.Get)
		protected.POST("/workspace/persona", h.Workspace.SetPersona)
		protected.POST("/workspace/tab", h.Workspace.SelectTab)
		protected.POST("/workspace/founder-responses", h.Workspace.AddFounderResponse)
		protected.POST("/workspace/new", h.Workspace.NewAnalysis)
		protected.GET("/workspace/history", h.Workspace.History)
		protected.POST("/workspace/history/:id/open", h.Workspace.OpenHistory)

		protected.POST("/chat", h.Chat.Chat)
		protected.GET("/chat", h.Chat.Transcript)
		protected.POST("/memo", h.Chat.Memo)
		protected.POST("/questions", h.Chat.Questions)
	}
}
