package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/storyforge-backend/internal/http/response"
	"github.com/yungbote/storyforge-backend/internal/modules/generation"
	"github.com/yungbote/storyforge-backend/internal/platform/apierr"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
	"github.com/yungbote/storyforge-backend/internal/realtime"
)

type GenerationHandler struct {
	log       *logger.Logger
	svc       *generation.Service
	events    realtime.Source
	keepAlive time.Duration
}

func NewGenerationHandler(log *logger.Logger, svc *generation.Service, events realtime.Source, keepAlive time.Duration) *GenerationHandler {
	return &GenerationHandler{
		log:       log.With("handler", "GenerationHandler"),
		svc:       svc,
		events:    events,
		keepAlive: keepAlive,
	}
}

// POST /api/generation/start
func (h *GenerationHandler) Start(c *gin.Context) {
	var in generation.StartInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_request", err.Error()), "invalid_request")
		return
	}
	task, err := h.svc.Start(c.Request.Context(), in)
	if err != nil {
		response.RespondErr(c, err, "start_generation_failed")
		return
	}
	response.RespondOK(c, gin.H{"task": task})
}

// GET /api/generation/progress/:project_id
func (h *GenerationHandler) Progress(c *gin.Context) {
	tasks, err := h.svc.Progress(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		response.RespondErr(c, err, "progress_failed")
		return
	}
	response.RespondOK(c, gin.H{"list": tasks})
}

// POST /api/generation/retry/:task_id
func (h *GenerationHandler) Retry(c *gin.Context) {
	task, err := h.svc.Retry(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		response.RespondErr(c, err, "retry_failed")
		return
	}
	response.RespondOK(c, gin.H{"task": task})
}

// POST /api/generation/skip/:task_id
func (h *GenerationHandler) Skip(c *gin.Context) {
	task, err := h.svc.Skip(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		response.RespondErr(c, err, "skip_failed")
		return
	}
	response.RespondOK(c, gin.H{"task": task})
}

// GET /api/generation/stream/:project_id
func (h *GenerationHandler) Stream(c *gin.Context) {
	projectID := c.Param("project_id")
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.RespondError(c, http.StatusInternalServerError, "streaming_unsupported", nil)
		return
	}
	realtime.SetStreamHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	flusher.Flush()

	err := realtime.ServeStream(c.Request.Context(), c.Writer, flusher.Flush, h.events, projectID, realtime.StreamOptions{KeepAlive: h.keepAlive})
	if err != nil && c.Request.Context().Err() == nil {
		h.log.Warn("Event stream ended with error", "project_id", projectID, "error", err)
	}
}

// GET /api/image-models
func (h *GenerationHandler) ImageModels(c *gin.Context) {
	models := h.svc.ImageModels()
	response.RespondOK(c, gin.H{"list": models.IDs(), "default": models.DefaultID()})
}
