package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yadra-ai/workspace-gateway/internal/config"
	"github.com/yadra-ai/workspace-gateway/internal/logger"
	"github.com/yadra-ai/workspace-gateway/internal/metrics"
	"github.com/yadra-ai/workspace-gateway/internal/workspace"
)

// NewRouter builds the gin engine with all gateway routes.
func NewRouter(cfg *config.Config, log *logger.Logger, service *workspace.Service) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.RequestLoggingMiddleware(log))
	router.Use(corsMiddleware(cfg.CORSAllowedOrigins))

	handler := NewHandler(log, service)

	router.GET("/health", handler.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	{
		research := api.Group("/research")
		{
			research.POST("/ask", handler.AskResearch)
			research.POST("/:urlParam/feedback", handler.SubmitFeedback)
			research.POST("/:urlParam/stop", handler.StopResearch)
			research.POST("/:urlParam/reask", handler.Reask)
		}
		api.GET("/workspace/:urlParam", handler.GetWorkspace)
	}

	router.GET("/ws/workspace/:urlParam", handler.WorkspaceSocket)

	return router
}

// corsMiddleware applies the allowed-origins policy. An empty or "*"
// configuration allows everything.
func corsMiddleware(allowedOrigins string) gin.HandlerFunc {
	allowAll := allowedOrigins == "" || allowedOrigins == "*"
	var origins []string
	if !allowAll {
		for _, o := range strings.Split(allowedOrigins, ",") {
			origins = append(origins, strings.TrimSpace(o))
		}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case originAllowed(origins, origin):
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, x-request-id")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func originAllowed(origins []string, origin string) bool {
	for _, o := range origins {
		if o == origin {
			return true
		}
	}
	return false
}
