package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/storyforge-backend/internal/http/response"
	"github.com/yungbote/storyforge-backend/internal/modules/images"
	"github.com/yungbote/storyforge-backend/internal/platform/apierr"
)

type ImageHandler struct {
	images *images.Service
}

func NewImageHandler(svc *images.Service) *ImageHandler {
	return &ImageHandler{images: svc}
}

// POST /api/images/:image_id/regenerate
func (h *ImageHandler) Regenerate(c *gin.Context) {
	var in images.RegenerateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_request", err.Error()), "invalid_request")
		return
	}
	img, err := h.images.Regenerate(c.Request.Context(), c.Param("image_id"), in)
	if err != nil {
		response.RespondErr(c, err, "image_regenerate_failed")
		return
	}
	response.RespondOK(c, gin.H{"image": img})
}

// POST /api/images/:image_id/feedback
func (h *ImageHandler) Feedback(c *gin.Context) {
	var req struct {
		Feedback string `json:"feedback"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_request", err.Error()), "invalid_request")
		return
	}
	prompt, err := h.images.Feedback(c.Request.Context(), c.Param("image_id"), req.Feedback)
	if err != nil {
		response.RespondErr(c, err, "image_feedback_failed")
		return
	}
	response.RespondOK(c, gin.H{"rewritten_prompt": prompt})
}

// POST /api/images/:image_id/adopt
func (h *ImageHandler) Adopt(c *gin.Context) {
	img, err := h.images.Adopt(c.Request.Context(), c.Param("image_id"))
	if err != nil {
		response.RespondErr(c, err, "image_adopt_failed")
		return
	}
	response.RespondOK(c, gin.H{"image": img})
}

// POST /api/packages/:id/storyboard/:shot_id/images
func (h *ImageHandler) Storyboard(c *gin.Context) {
	var in images.StoryboardInput
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			response.RespondErr(c, apierr.BadRequest("invalid_request", err.Error()), "invalid_request")
			return
		}
	}
	img, err := h.images.GenerateStoryboard(c.Request.Context(), c.Param("id"), c.Param("shot_id"), in)
	if err != nil {
		response.RespondErr(c, err, "storyboard_image_failed")
		return
	}
	response.RespondOK(c, gin.H{"image": img})
}
