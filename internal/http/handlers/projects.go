package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/storyforge-backend/internal/http/response"
	"github.com/yungbote/storyforge-backend/internal/modules/library"
	"github.com/yungbote/storyforge-backend/internal/platform/apierr"
)

type ProjectHandler struct {
	library library.Usecases
}

func NewProjectHandler(uc library.Usecases) *ProjectHandler {
	return &ProjectHandler{library: uc}
}

// POST /api/projects
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var in library.CreateProjectInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_request", err.Error()), "invalid_request")
		return
	}
	p, err := h.library.CreateProject(c.Request.Context(), in)
	if err != nil {
		response.RespondErr(c, err, "create_project_failed")
		return
	}
	response.RespondCreated(c, gin.H{"project": p})
}

// GET /api/projects/:id
func (h *ProjectHandler) GetProject(c *gin.Context) {
	p, err := h.library.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondErr(c, err, "get_project_failed")
		return
	}
	response.RespondOK(c, gin.H{"project": p})
}

// GET /api/projects/:id/packages
func (h *ProjectHandler) ListPackages(c *gin.Context) {
	list, err := h.library.ListPackages(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondErr(c, err, "list_packages_failed")
		return
	}
	response.RespondOK(c, gin.H{"list": list})
}

// GET /api/packages/:id
func (h *ProjectHandler) GetPackage(c *gin.Context) {
	view, err := h.library.GetPackage(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondErr(c, err, "get_package_failed")
		return
	}
	response.RespondOK(c, gin.H{"material_package": view})
}
