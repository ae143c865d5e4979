package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/storyforge-backend/internal/data/repos"
	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/jobs/runlock"
	"github.com/yungbote/storyforge-backend/internal/pkg/ctxutil"
	"github.com/yungbote/storyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/storyforge-backend/internal/platform/apierr"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
	"github.com/yungbote/storyforge-backend/internal/realtime"
)

// Dispatcher hands a pending task to whatever executes runs.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *domain.GenerationTask) error
}

type StartInput struct {
	ProjectID    string           `json:"project_id"`
	Prompt       string           `json:"prompt"`
	Mode         string           `json:"mode"`
	Documents    []map[string]any `json:"documents"`
	InputConfig  map[string]any   `json:"input_config"`
	ImageModelID string           `json:"image_model_id"`
}

type Service struct {
	log        *logger.Logger
	repos      repos.Repos
	events     realtime.Publisher
	locker     runlock.Locker
	dispatcher Dispatcher
	runs       *RunRegistry
	models     ImageModels
}

func NewService(
	baseLog *logger.Logger,
	r repos.Repos,
	events realtime.Publisher,
	locker runlock.Locker,
	dispatcher Dispatcher,
	runs *RunRegistry,
	models ImageModels,
) *Service {
	if locker == nil {
		locker = runlock.NewLocal()
	}
	return &Service{
		log:        baseLog.With("service", "GenerationService"),
		repos:      r,
		events:     events,
		locker:     locker,
		dispatcher: dispatcher,
		runs:       runs,
		models:     models,
	}
}

// SetDispatcher must be called before the service handles requests.
func (s *Service) SetDispatcher(d Dispatcher) { s.dispatcher = d }

// ImageModels exposes the registry for listing.
func (s *Service) ImageModels() ImageModels { return s.models }

func (s *Service) Start(ctx context.Context, in StartInput) (*domain.GenerationTask, error) {
	projectID, err := parseID(in.ProjectID, "project_id")
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	project, err := s.repos.Projects.GetByID(dbc, projectID)
	if err != nil {
		return nil, notFoundOr(err, "project_not_found", "project not found")
	}

	prompt := firstNonEmpty(in.Prompt, project.Description, project.Name)
	if prompt == "" {
		return nil, apierr.BadRequest("prompt_required", "prompt is required")
	}
	mode := NormalizeMode(in.Mode)
	docs := in.Documents
	if mode == "pro" && len(docs) == 0 {
		docs = projectAttachments(project.Metadata)
	}
	inputConfig := in.InputConfig
	if inputConfig == nil {
		inputConfig = map[string]any{}
	}
	modelID := strings.TrimSpace(in.ImageModelID)
	if modelID == "" {
		if v, ok := inputConfig["image_model_id"].(string); ok {
			modelID = strings.TrimSpace(v)
		}
	}
	if _, ok := s.models.Resolve(modelID); !ok {
		return nil, apierr.BadRequest("invalid_image_model", fmt.Sprintf("unknown image_model_id %q", modelID))
	}

	rawConfig, err := json.Marshal(inputConfig)
	if err != nil {
		return nil, apierr.BadRequest("invalid_input_config", err.Error())
	}
	rawDocs, err := json.Marshal(nonNilDocs(docs))
	if err != nil {
		return nil, apierr.BadRequest("invalid_documents", err.Error())
	}

	task := &domain.GenerationTask{
		ProjectID:    projectID,
		Status:       domain.TaskPending,
		Prompt:       prompt,
		Mode:         mode,
		Documents:    datatypes.JSON(rawDocs),
		InputConfig:  datatypes.JSON(rawConfig),
		ImageModelID: modelID,
		TraceID:      ctxutil.TraceID(ctx),
	}
	created, err := s.createExclusive(ctx, task, func() error {
		return s.repos.Projects.UpdateFields(dbc, projectID, map[string]interface{}{"input_config": datatypes.JSON(rawConfig)})
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, created)
	return created, nil
}

// createExclusive inserts task unless the project already has an open one.
// The check and insert run under the project's run lock.
func (s *Service) createExclusive(ctx context.Context, task *domain.GenerationTask, before func() error) (*domain.GenerationTask, error) {
	unlock, err := s.locker.Lock(ctx, task.ProjectID.String())
	if err != nil {
		return nil, apierr.New(http.StatusConflict, "generation_in_progress", err)
	}
	defer unlock()

	dbc := dbctx.Context{Ctx: ctx}
	active, err := s.repos.Tasks.FindActiveForProject(dbc, task.ProjectID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apierr.New(http.StatusConflict, "generation_in_progress",
			fmt.Errorf("task %s is already %s", active.ID, active.Status))
	}
	if before != nil {
		if err := before(); err != nil {
			return nil, err
		}
	}
	s.events.Reset(ctx, task.ProjectID.String())
	created, err := s.repos.Tasks.Create(dbc, task)
	if err != nil {
		return nil, err
	}
	s.log.Info("Generation task created", "task_id", created.ID.String(), "project_id", created.ProjectID.String(), "mode", created.Mode)
	return created, nil
}

// A failed dispatch leaves the task pending; the in-process pool picks it up
// on its next poll when it is not in sweep-only mode.
func (s *Service) dispatch(ctx context.Context, task *domain.GenerationTask) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(context.WithoutCancel(ctx), task); err != nil {
		s.log.Warn("Task dispatch failed; leaving pending", "task_id", task.ID.String(), "error", err)
	}
}

// Progress lists the project's tasks, oldest first.
func (s *Service) Progress(ctx context.Context, projectID string) ([]*domain.GenerationTask, error) {
	id, err := parseID(projectID, "project_id")
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.repos.Projects.GetByID(dbc, id); err != nil {
		return nil, notFoundOr(err, "project_not_found", "project not found")
	}
	return s.repos.Tasks.ListByProject(dbc, id)
}

// Retry starts a fresh run with a failed task's stored inputs.
func (s *Service) Retry(ctx context.Context, taskID string) (*domain.GenerationTask, error) {
	id, err := parseID(taskID, "task_id")
	if err != nil {
		return nil, err
	}
	prev, err := s.repos.Tasks.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, notFoundOr(err, "task_not_found", "task not found")
	}
	if prev.Status != domain.TaskFailed {
		return nil, apierr.Conflict("task_not_failed", fmt.Sprintf("task is %s; only failed tasks can be retried", prev.Status))
	}
	task := &domain.GenerationTask{
		ProjectID:    prev.ProjectID,
		Status:       domain.TaskPending,
		Prompt:       prev.Prompt,
		Mode:         prev.Mode,
		Documents:    prev.Documents,
		InputConfig:  prev.InputConfig,
		ImageModelID: prev.ImageModelID,
		TraceID:      ctxutil.TraceID(ctx),
		RetryOf:      &prev.ID,
	}
	created, err := s.createExclusive(ctx, task, nil)
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, created)
	return created, nil
}

// Skip fails a task without waiting for its run to stop. Exactly one error
// event results: the live run publishes it when this process holds the run,
// otherwise Skip does.
func (s *Service) Skip(ctx context.Context, taskID string) (*domain.GenerationTask, error) {
	id, err := parseID(taskID, "task_id")
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	task, err := s.repos.Tasks.GetByID(dbc, id)
	if err != nil {
		return nil, notFoundOr(err, "task_not_found", "task not found")
	}
	if domain.TaskTerminal(task.Status) {
		return task, nil
	}

	step := firstNonEmpty(task.Stage, StepSummary)
	live := s.runs != nil && s.runs.Mark(id)
	flipped, err := s.repos.Tasks.UpdateFieldsUnlessStatus(dbc, id, terminalStatuses, map[string]interface{}{
		"status":      domain.TaskFailed,
		"progress":    0,
		"failed_step": step,
		"error":       "skipped",
	})
	if err != nil {
		return nil, err
	}
	if flipped {
		if live {
			s.runs.Cancel(id)
		} else {
			ev := realtime.GenerationError(step, FailureMessage)
			ev.TraceID = task.TraceID
			s.events.Publish(ctx, task.ProjectID.String(), ev)
		}
		s.log.Info("Generation task skipped", "task_id", id.String(), "step", step, "live", live)
	}
	return s.repos.Tasks.GetByID(dbc, id)
}

// FailStale fails running tasks whose heartbeat stopped before cutoff and
// publishes the error event for each task it moved.
func (s *Service) FailStale(ctx context.Context, cutoff time.Time) (int, error) {
	dbc := dbctx.Context{Ctx: ctx}
	stale, err := s.repos.Tasks.ListStale(dbc, cutoff)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range stale {
		step := firstNonEmpty(t.Stage, StepSummary)
		flipped, err := s.repos.Tasks.UpdateFieldsUnlessStatus(dbc, t.ID, terminalStatuses, map[string]interface{}{
			"status":      domain.TaskFailed,
			"progress":    0,
			"failed_step": step,
			"error":       "heartbeat lost",
		})
		if err != nil {
			s.log.Warn("Stale task update failed", "task_id", t.ID.String(), "error", err)
			continue
		}
		if !flipped {
			continue
		}
		n++
		ev := realtime.GenerationError(step, FailureMessage)
		ev.TraceID = t.TraceID
		s.events.Publish(ctx, t.ProjectID.String(), ev)
		if err := s.repos.Projects.UpdateFields(dbc, t.ProjectID, map[string]interface{}{"status": "failed", "stage": step}); err != nil {
			s.log.Warn("Project status update failed", "project_id", t.ProjectID.String(), "error", err)
		}
		s.log.Warn("Failed stale generation task", "task_id", t.ID.String(), "step", step)
	}
	return n, nil
}

func parseID(raw, field string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, apierr.BadRequest(field+"_required", field+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apierr.BadRequest("invalid_"+field, "invalid "+field)
	}
	return id, nil
}

func notFoundOr(err error, code, msg string) error {
	if errors.Is(err, repos.ErrNotFound) {
		return apierr.NotFound(code, msg)
	}
	return err
}

// projectAttachments reads metadata.attachments as a document list.
func projectAttachments(raw datatypes.JSON) []map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var md struct {
		Attachments []map[string]any `json:"attachments"`
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil
	}
	return md.Attachments
}

func nonNilDocs(docs []map[string]any) []map[string]any {
	if docs == nil {
		return []map[string]any{}
	}
	return docs
}
