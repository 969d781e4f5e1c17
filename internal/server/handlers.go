package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yadra-ai/workspace-gateway/internal/logger"
	"github.com/yadra-ai/workspace-gateway/internal/workspace"
)

// Handler exposes the research workspace over HTTP.
type Handler struct {
	logger  *logger.Logger
	service *workspace.Service
}

// NewHandler creates the HTTP handler set.
func NewHandler(log *logger.Logger, service *workspace.Service) *Handler {
	return &Handler{
		logger:  log.WithComponent("server"),
		service: service,
	}
}

// AskResearch handles POST /api/research/ask.
func (h *Handler) AskResearch(c *gin.Context) {
	var req workspace.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resp, err := h.service.AskResearch(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, workspace.ErrEmptyQuestion), errors.Is(err, workspace.ErrQuestionTooLong):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.WithContext(c.Request.Context()).Error("ask research failed",
				slog.String("error", err.Error()))
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to start research"})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

type feedbackRequest struct {
	Option     string `json:"option" binding:"required"`
	OptionText string `json:"option_text"`
}

// SubmitFeedback handles POST /api/research/:urlParam/feedback.
func (h *Handler) SubmitFeedback(c *gin.Context) {
	urlParam := c.Param("urlParam")

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "option is required"})
		return
	}

	err := h.service.SubmitFeedback(c.Request.Context(), urlParam, req.Option, req.OptionText)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "submitted"})
	case errors.Is(err, workspace.ErrUnknownWorkspace):
		c.JSON(http.StatusNotFound, gin.H{"error": "workspace not found"})
	case errors.Is(err, workspace.ErrNoPendingInterrupt):
		c.JSON(http.StatusConflict, gin.H{"error": "no pending interrupt"})
	default:
		h.logger.WithContext(c.Request.Context()).Error("feedback failed",
			slog.String("url_param", urlParam),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit feedback"})
	}
}

type stopRequest struct {
	StoppedBy string `json:"stopped_by"`
}

// StopResearch handles POST /api/research/:urlParam/stop.
func (h *Handler) StopResearch(c *gin.Context) {
	urlParam := c.Param("urlParam")

	threadID, ok := h.service.Store().ThreadIDByURLParam(urlParam)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "workspace not found"})
		return
	}

	var req stopRequest
	_ = c.ShouldBindJSON(&req) // stopped_by is optional

	err := h.service.StopResearch(c.Request.Context(), threadID, req.StoppedBy)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "stopped"})
	case errors.Is(err, workspace.ErrNoActiveStream):
		c.JSON(http.StatusConflict, gin.H{"error": "no active research to stop"})
	default:
		h.logger.WithContext(c.Request.Context()).Error("stop failed",
			slog.String("url_param", urlParam),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stop research"})
	}
}

// Reask handles POST /api/research/:urlParam/reask.
func (h *Handler) Reask(c *gin.Context) {
	urlParam := c.Param("urlParam")

	err := h.service.Reask(c.Request.Context(), urlParam)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "reasked"})
	case errors.Is(err, workspace.ErrUnknownWorkspace):
		c.JSON(http.StatusNotFound, gin.H{"error": "workspace not found"})
	case errors.Is(err, workspace.ErrNothingToReask):
		c.JSON(http.StatusConflict, gin.H{"error": "no original input to re-ask"})
	default:
		h.logger.WithContext(c.Request.Context()).Error("reask failed",
			slog.String("url_param", urlParam),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to re-ask"})
	}
}

// GetWorkspace handles GET /api/workspace/:urlParam. An unknown url-param
// is a 404, never an error page: the identity mapping may not have
// arrived yet and the client will retry.
func (h *Handler) GetWorkspace(c *gin.Context) {
	urlParam := c.Param("urlParam")

	view, ok := h.service.ViewByURLParam(c.Request.Context(), urlParam)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{})
		return
	}

	c.JSON(http.StatusOK, view)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"active_sessions": h.service.Sessions().ActiveCount(),
	})
}
