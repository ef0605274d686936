package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat-server/internal/config"
)

// NewServer builds the ops/API HTTP server: registration and login for
// clients about to open a chat connection, group administration, presence
// inspection, health, metrics, and the WebSocket bridge into the chat
// protocol.
func NewServer(cfg *config.Config, api *APIHandlers, ws *WSHandler, registry *prometheus.Registry, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(LoggerMiddleware(logger), gin.Recovery())

	engine.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	engine.POST("/api/register", api.Register)
	engine.POST("/api/login", api.Login)
	engine.GET("/api/online", api.Online)
	engine.POST("/api/groups", api.CreateGroup)
	engine.POST("/api/groups/:id/members", api.AddGroupMember)

	engine.GET("/ws", ws.Handle)

	return &stdhttp.Server{
		Addr:    cfg.HTTPAddr,
		Handler: engine,
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
