package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/storyforge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/storyforge-backend/internal/http/middleware"
	"github.com/yungbote/storyforge-backend/internal/modules/candidates"
	"github.com/yungbote/storyforge-backend/internal/observability"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	CORSOrigins []string
	ServiceName string

	ProjectHandler    *httpH.ProjectHandler
	GenerationHandler *httpH.GenerationHandler
	TextHandler       *httpH.TextHandler
	ImageHandler      *httpH.ImageHandler
	HealthHandler     *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.CORS(cfg.CORSOrigins))
	r.Use(httpMW.Metrics(cfg.Metrics))
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")

	if h := cfg.ProjectHandler; h != nil {
		api.POST("/projects", h.CreateProject)
		api.GET("/projects/:id", h.GetProject)
		api.GET("/projects/:id/packages", h.ListPackages)
		api.GET("/packages/:id", h.GetPackage)
	}

	if h := cfg.GenerationHandler; h != nil {
		gen := api.Group("/generation")
		gen.POST("/start", h.Start)
		gen.GET("/progress/:project_id", h.Progress)
		gen.POST("/retry/:task_id", h.Retry)
		gen.POST("/skip/:task_id", h.Skip)
		gen.GET("/stream/:project_id", h.Stream)
		api.GET("/image-models", h.ImageModels)
	}

	if h := cfg.TextHandler; h != nil {
		text := api.Group("/text")
		text.POST("/art-style/feedback", h.Feedback(candidates.TargetArtStyle, ""))
		text.POST("/summary/feedback", h.Feedback(candidates.TargetSummary, ""))
		text.POST("/subjects/:subject_id/feedback", h.Feedback(candidates.TargetSubject, "subject_id"))
		text.POST("/scenes/:scene_id/feedback", h.Feedback(candidates.TargetScene, "scene_id"))
		text.POST("/storyboard/:shot_id/feedback", h.Feedback(candidates.TargetStoryboard, "shot_id"))
		text.POST("/adopt", h.Adopt)
	}

	if h := cfg.ImageHandler; h != nil {
		api.POST("/images/:image_id/regenerate", h.Regenerate)
		api.POST("/images/:image_id/feedback", h.Feedback)
		api.POST("/images/:image_id/adopt", h.Adopt)
		api.POST("/packages/:id/storyboard/:shot_id/images", h.Storyboard)
	}

	return r
}
