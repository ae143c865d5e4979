package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"gorm.io/datatypes"

	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/storyforge-backend/internal/platform/apierr"
)

type recordingDispatcher struct {
	tasks []*domain.GenerationTask
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, task *domain.GenerationTask) error {
	d.tasks = append(d.tasks, task)
	return d.err
}

func wantStatus(t *testing.T, err error, status int) {
	t.Helper()
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != status {
		t.Fatalf("want %d, got %v", status, err)
	}
}

func TestStartValidatesAndRejectsConcurrentRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	disp := &recordingDispatcher{}
	h.svc.dispatcher = disp

	_, err := h.svc.Start(ctx, StartInput{})
	wantStatus(t, err, http.StatusBadRequest)
	_, err = h.svc.Start(ctx, StartInput{ProjectID: "5d3f5e4c-0c53-4b9c-9a4c-3b8f0f1c1a11"})
	wantStatus(t, err, http.StatusNotFound)

	project, err := h.repos.Projects.Create(dbctx.Context{Ctx: ctx}, &domain.Project{Name: "Harbor", Description: "fog over a harbor town", Status: "draft"})
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	_, err = h.svc.Start(ctx, StartInput{ProjectID: project.ID.String(), ImageModelID: "nope"})
	wantStatus(t, err, http.StatusBadRequest)

	task, err := h.svc.Start(ctx, StartInput{
		ProjectID:   project.ID.String(),
		Mode:        "PRO",
		InputConfig: map[string]any{"aspect_ratio": "16:9"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if task.Status != domain.TaskPending || task.Prompt != "fog over a harbor town" || task.Mode != "pro" {
		t.Fatalf("task: %+v", task)
	}
	if len(disp.tasks) != 1 || disp.tasks[0].ID != task.ID {
		t.Fatalf("dispatch: %+v", disp.tasks)
	}
	proj, _ := h.repos.Projects.GetByID(dbctx.Context{Ctx: ctx}, project.ID)
	var cfg map[string]any
	_ = json.Unmarshal(proj.InputConfig, &cfg)
	if cfg["aspect_ratio"] != "16:9" {
		t.Fatalf("input_config not saved: %s", proj.InputConfig)
	}

	_, err = h.svc.Start(ctx, StartInput{ProjectID: project.ID.String(), Prompt: "again"})
	wantStatus(t, err, http.StatusConflict)
	if len(disp.tasks) != 1 {
		t.Fatalf("rejected start must not dispatch")
	}
}

func TestStartProModeUsesProjectAttachments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	project, err := h.repos.Projects.Create(dbctx.Context{Ctx: ctx}, &domain.Project{
		Name:     "Docs",
		Status:   "draft",
		Metadata: datatypes.JSON([]byte(`{"attachments":[{"name":"brief.txt","text":"a brief"}]}`)),
	})
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	task, err := h.svc.Start(ctx, StartInput{ProjectID: project.ID.String(), Prompt: "p", Mode: "pro"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	var docs []map[string]any
	if err := json.Unmarshal(task.Documents, &docs); err != nil || len(docs) != 1 || docs[0]["name"] != "brief.txt" {
		t.Fatalf("documents: %s %v", task.Documents, err)
	}
}

func TestRetryOnlyFailedTasks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, task := h.claimed(t)

	_, err := h.svc.Retry(ctx, task.ID.String())
	wantStatus(t, err, http.StatusConflict)

	if _, err := h.svc.Skip(ctx, task.ID.String()); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	retry, err := h.svc.Retry(ctx, task.ID.String())
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retry.ID == task.ID || retry.RetryOf == nil || *retry.RetryOf != task.ID || retry.Status != domain.TaskPending {
		t.Fatalf("retry task: %+v", retry)
	}
	if retry.Prompt != task.Prompt {
		t.Fatalf("retry should reuse stored inputs")
	}
	old := h.task(t, task.ID)
	if old.Status != domain.TaskFailed {
		t.Fatalf("failed task must stay failed, got %s", old.Status)
	}

	list, err := h.svc.Progress(ctx, task.ProjectID.String())
	if err != nil || len(list) != 2 {
		t.Fatalf("Progress: %d %v", len(list), err)
	}
}
