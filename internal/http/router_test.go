package http

import (
	"bytes"
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/storyforge-backend/internal/data/repos"
	"github.com/yungbote/storyforge-backend/internal/data/repos/testutil"
	httpH "github.com/yungbote/storyforge-backend/internal/http/handlers"
	"github.com/yungbote/storyforge-backend/internal/modules/candidates"
	"github.com/yungbote/storyforge-backend/internal/modules/generation"
	"github.com/yungbote/storyforge-backend/internal/modules/images"
	"github.com/yungbote/storyforge-backend/internal/modules/library"
	"github.com/yungbote/storyforge-backend/internal/modules/prompts"
	"github.com/yungbote/storyforge-backend/internal/platform/openai/openaitest"
	"github.com/yungbote/storyforge-backend/internal/realtime"
)

type testAPI struct {
	engine *gin.Engine
	repos  repos.Repos
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.DB(t)
	log := testutil.Logger(t)
	set, err := prompts.Default()
	if err != nil {
		t.Fatalf("prompts: %v", err)
	}
	r := repos.New(db, log)
	hub := realtime.NewHub(log, realtime.HubConfig{})
	fake := &openaitest.Fake{}
	models := generation.ParseImageModels([]string{"default=gpt-image-1", "fast=gpt-image-1-mini"})
	gen := generation.NewService(log, r, hub, nil, nil, generation.NewRunRegistry(), models)

	engine := NewRouter(RouterConfig{
		ProjectHandler: httpH.NewProjectHandler(library.New(library.UsecasesDeps{
			Log: log, Projects: r.Projects, Packages: r.Packages, Images: r.Images,
		})),
		GenerationHandler: httpH.NewGenerationHandler(log, gen, hub, 0),
		TextHandler:       httpH.NewTextHandler(candidates.NewService(log, r.Packages, fake, set)),
		ImageHandler:      httpH.NewImageHandler(images.NewService(log, r.Packages, r.Images, fake, set)),
		HealthHandler:     httpH.NewHealthHandler(nil),
	})
	return &testAPI{engine: engine, repos: r}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	env, _ := decode(t, rec)["error"].(map[string]any)
	code, _ := env["code"].(string)
	return code
}

func (a *testAPI) createProject(t *testing.T) string {
	t.Helper()
	rec := a.do(t, nethttp.MethodPost, "/api/projects", map[string]any{"name": "Lighthouse", "description": "a keeper befriends a storm"})
	if rec.Code != nethttp.StatusCreated {
		t.Fatalf("create project: %d %s", rec.Code, rec.Body.String())
	}
	project, _ := decode(t, rec)["project"].(map[string]any)
	id, _ := project["id"].(string)
	if id == "" {
		t.Fatalf("project id missing: %s", rec.Body.String())
	}
	return id
}

func TestHealthcheck(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, nethttp.MethodGet, "/healthcheck", nil)
	if rec.Code != nethttp.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthcheck: %d %q", rec.Code, rec.Body.String())
	}
}

func TestProjectRoutes(t *testing.T) {
	a := newTestAPI(t)
	id := a.createProject(t)

	if rec := a.do(t, nethttp.MethodGet, "/api/projects/"+id, nil); rec.Code != nethttp.StatusOK {
		t.Fatalf("get project: %d", rec.Code)
	}
	rec := a.do(t, nethttp.MethodGet, "/api/projects/00000000-0000-0000-0000-000000000001", nil)
	if rec.Code != nethttp.StatusNotFound || errorCode(t, rec) != "project_not_found" {
		t.Fatalf("unknown project: %d %s", rec.Code, rec.Body.String())
	}
	rec = a.do(t, nethttp.MethodGet, "/api/projects/"+id+"/packages", nil)
	list, ok := decode(t, rec)["list"].([]any)
	if rec.Code != nethttp.StatusOK || !ok || len(list) != 0 {
		t.Fatalf("packages: %d %s", rec.Code, rec.Body.String())
	}
}

func TestGenerationStartConflictAndProgress(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, nethttp.MethodPost, "/api/generation/start", map[string]any{})
	if rec.Code != nethttp.StatusBadRequest {
		t.Fatalf("missing project_id: %d %s", rec.Code, rec.Body.String())
	}

	id := a.createProject(t)
	rec = a.do(t, nethttp.MethodPost, "/api/generation/start", map[string]any{"project_id": id, "image_model_id": "nope"})
	if rec.Code != nethttp.StatusBadRequest || errorCode(t, rec) != "invalid_image_model" {
		t.Fatalf("bad model: %d %s", rec.Code, rec.Body.String())
	}

	rec = a.do(t, nethttp.MethodPost, "/api/generation/start", map[string]any{"project_id": id, "image_model_id": "fast"})
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	task, _ := decode(t, rec)["task"].(map[string]any)
	if task["status"] != "pending" {
		t.Fatalf("task: %+v", task)
	}

	rec = a.do(t, nethttp.MethodPost, "/api/generation/start", map[string]any{"project_id": id})
	if rec.Code != nethttp.StatusConflict || errorCode(t, rec) != "generation_in_progress" {
		t.Fatalf("second start: %d %s", rec.Code, rec.Body.String())
	}

	rec = a.do(t, nethttp.MethodGet, "/api/generation/progress/"+id, nil)
	if list, _ := decode(t, rec)["list"].([]any); rec.Code != nethttp.StatusOK || len(list) != 1 {
		t.Fatalf("progress: %d %s", rec.Code, rec.Body.String())
	}

	rec = a.do(t, nethttp.MethodPost, "/api/generation/retry/"+task["id"].(string), nil)
	if rec.Code != nethttp.StatusConflict {
		t.Fatalf("retry of pending task: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSkipThenStreamReplaysErrorAndCloses(t *testing.T) {
	a := newTestAPI(t)
	id := a.createProject(t)
	rec := a.do(t, nethttp.MethodPost, "/api/generation/start", map[string]any{"project_id": id})
	task, _ := decode(t, rec)["task"].(map[string]any)
	taskID, _ := task["id"].(string)

	rec = a.do(t, nethttp.MethodPost, "/api/generation/skip/"+taskID, nil)
	skipped, _ := decode(t, rec)["task"].(map[string]any)
	if rec.Code != nethttp.StatusOK || skipped["status"] != "failed" {
		t.Fatalf("skip: %d %s", rec.Code, rec.Body.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(nethttp.MethodGet, "/api/generation/stream/"+id, nil).WithContext(ctx)
	stream := httptest.NewRecorder()
	a.engine.ServeHTTP(stream, req)

	if got := stream.Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("Cache-Control: %q", got)
	}
	if got := stream.Header().Get("X-Accel-Buffering"); got != "no" {
		t.Fatalf("X-Accel-Buffering: %q", got)
	}
	body := stream.Body.String()
	if strings.Count(body, `"generation.error"`) != 1 {
		t.Fatalf("stream body: %s", body)
	}

	rec = a.do(t, nethttp.MethodPost, "/api/generation/retry/"+taskID, nil)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("retry after skip: %d %s", rec.Code, rec.Body.String())
	}
}

func TestImageModelsAndValidation(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, nethttp.MethodGet, "/api/image-models", nil)
	out := decode(t, rec)
	if out["default"] != "default" || len(out["list"].([]any)) != 2 {
		t.Fatalf("image models: %s", rec.Body.String())
	}

	rec = a.do(t, nethttp.MethodPost, "/api/text/summary/feedback", map[string]any{"feedback": "darker"})
	if rec.Code != nethttp.StatusBadRequest || errorCode(t, rec) != "material_package_id_required" {
		t.Fatalf("feedback without package: %d %s", rec.Code, rec.Body.String())
	}
	rec = a.do(t, nethttp.MethodPost, "/api/text/adopt", map[string]any{"target_type": "soundtrack"})
	if rec.Code != nethttp.StatusBadRequest || errorCode(t, rec) != "invalid_target_type" {
		t.Fatalf("bad target: %d %s", rec.Code, rec.Body.String())
	}
	rec = a.do(t, nethttp.MethodPost, "/api/images/not-a-uuid/adopt", nil)
	if rec.Code != nethttp.StatusBadRequest && rec.Code != nethttp.StatusNotFound {
		t.Fatalf("bad image id: %d %s", rec.Code, rec.Body.String())
	}
}
