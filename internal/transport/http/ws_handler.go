package http

import (
	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat-server/internal/auth"
	"github.com/vovakirdan/relaychat-server/internal/core"
	"github.com/vovakirdan/relaychat-server/internal/metrics"
	"github.com/vovakirdan/relaychat-server/internal/transport/tcp"
)

// WSHandler upgrades HTTP connections and bridges them into the same
// newline-delimited session protocol the raw listener speaks: the WebSocket
// is adapted to a net.Conn and handed to an ordinary session.
type WSHandler struct {
	router  *core.Router
	auth    *auth.Service
	opts    tcp.Options
	metrics *metrics.Metrics
	log     *zerolog.Logger
}

// NewWSHandler builds the WebSocket bridge.
func NewWSHandler(router *core.Router, authService *auth.Service, opts tcp.Options, m *metrics.Metrics, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		router:  router,
		auth:    authService,
		opts:    opts,
		metrics: m,
		log:     logger,
	}
}

// Handle serves GET /ws.
func (h *WSHandler) Handle(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("ws accept error")
		return
	}

	ctx := c.Request.Context()
	netConn := websocket.NetConn(ctx, conn, websocket.MessageText)

	sess := tcp.NewSession(netConn, h.router, h.auth, h.opts, h.metrics, h.log)
	sess.Run(ctx)
}
