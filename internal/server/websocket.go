package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yadra-ai/workspace-gateway/internal/logger"
	"github.com/yadra-ai/workspace-gateway/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the CORS layer
	},
}

const wsWriteTimeout = 10 * time.Second

// clientCommand is a UI-state mutation sent by a connected client.
type clientCommand struct {
	Action     string `json:"action"` // open_research | close_research | set_panel
	ResearchID string `json:"research_id,omitempty"`
	Panel      string `json:"panel,omitempty"` // activity | artifact
	Open       bool   `json:"open,omitempty"`
}

// WorkspaceSocket handles GET /ws/workspace/:urlParam. It pushes a full
// workspace view on every store version change (coalesced through the
// store's watch channel) and accepts UI-state commands from the client.
func (h *Handler) WorkspaceSocket(c *gin.Context) {
	urlParam := c.Param("urlParam")
	log := h.logger.WithContext(c.Request.Context())

	threadID, ok := h.service.Store().ThreadIDByURLParam(urlParam)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "workspace not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	metrics.ConnectedClients.Inc()
	defer metrics.ConnectedClients.Dec()

	log.Info("workspace client connected",
		slog.String("url_param", urlParam),
		slog.String("thread_id", threadID))

	// Detached from the request context so the socket outlives handler
	// timeouts; cancellation unregisters the store watcher.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Read pump: applies client UI commands and detects disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var cmd clientCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn("websocket read error", slog.String("error", err.Error()))
				}
				return
			}
			h.applyClientCommand(threadID, cmd)
		}
	}()

	watch := h.service.Store().Watch(ctx)

	// Initial snapshot so the client renders without waiting for a
	// mutation.
	if !h.pushView(ctx, conn, urlParam, log) {
		return
	}

	for {
		select {
		case <-done:
			log.Info("workspace client disconnected", slog.String("url_param", urlParam))
			return
		case _, ok := <-watch:
			if !ok {
				return
			}
			if !h.pushView(ctx, conn, urlParam, log) {
				return
			}
		}
	}
}

func (h *Handler) pushView(ctx context.Context, conn *websocket.Conn, urlParam string, log *logger.Logger) bool {
	view, ok := h.service.ViewByURLParam(ctx, urlParam)
	if !ok {
		return true // mapping vanished; keep the socket open, it may return
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(view); err != nil {
		log.Warn("failed to push workspace view", slog.String("error", err.Error()))
		return false
	}
	return true
}

func (h *Handler) applyClientCommand(threadID string, cmd clientCommand) {
	st := h.service.Store()
	switch cmd.Action {
	case "open_research":
		st.OpenResearch(threadID, cmd.ResearchID)
	case "close_research":
		st.CloseResearch(threadID)
	case "set_panel":
		switch cmd.Panel {
		case "activity":
			st.SetActivityPanelOpen(threadID, cmd.Open)
		case "artifact":
			st.SetArtifactPanelOpen(threadID, cmd.Open)
		}
	default:
		h.logger.Warn("unknown client command", slog.String("action", cmd.Action))
	}
}
