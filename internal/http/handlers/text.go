package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/storyforge-backend/internal/http/response"
	"github.com/yungbote/storyforge-backend/internal/modules/candidates"
	"github.com/yungbote/storyforge-backend/internal/platform/apierr"
)

type TextHandler struct {
	candidates *candidates.Service
}

func NewTextHandler(svc *candidates.Service) *TextHandler {
	return &TextHandler{candidates: svc}
}

type feedbackRequest struct {
	MaterialPackageID string `json:"material_package_id"`
	Feedback          string `json:"feedback"`
}

// Feedback handles POST /api/text/<field>/feedback. idParam names the path
// parameter holding the subject, scene or shot id; empty for package-level
// fields.
func (h *TextHandler) Feedback(target candidates.Target, idParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req feedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondErr(c, apierr.BadRequest("invalid_request", err.Error()), "invalid_request")
			return
		}
		ref := candidates.FieldRef{Target: target}
		if idParam != "" {
			ref.ID = c.Param(idParam)
		}
		cand, err := h.candidates.Propose(c.Request.Context(), req.MaterialPackageID, ref, req.Feedback)
		if err != nil {
			response.RespondErr(c, err, "text_feedback_failed")
			return
		}
		response.RespondOK(c, gin.H{"candidate": cand, "material_package_id": req.MaterialPackageID})
	}
}

type adoptRequest struct {
	MaterialPackageID string `json:"material_package_id"`
	TargetType        string `json:"target_type"`
	CandidateID       string `json:"candidate_id"`
	SubjectID         string `json:"subject_id"`
	SceneID           string `json:"scene_id"`
	ShotID            string `json:"shot_id"`
}

// POST /api/text/adopt
func (h *TextHandler) Adopt(c *gin.Context) {
	var req adoptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_request", err.Error()), "invalid_request")
		return
	}
	target, err := candidates.ParseTarget(req.TargetType)
	if err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_target_type", err.Error()), "invalid_request")
		return
	}
	ref := candidates.FieldRef{Target: target}
	switch target {
	case candidates.TargetSubject:
		ref.ID = req.SubjectID
	case candidates.TargetScene:
		ref.ID = req.SceneID
	case candidates.TargetStoryboard:
		ref.ID = req.ShotID
	}
	cand, err := h.candidates.Adopt(c.Request.Context(), req.MaterialPackageID, ref, req.CandidateID)
	if err != nil {
		response.RespondErr(c, err, "text_adopt_failed")
		return
	}
	response.RespondOK(c, gin.H{"candidate": cand, "material_package_id": req.MaterialPackageID})
}
