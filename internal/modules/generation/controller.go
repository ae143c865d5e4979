package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"

	"github.com/yungbote/storyforge-backend/internal/data/repos"
	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/modules/prompts"
	"github.com/yungbote/storyforge-backend/internal/observability"
	"github.com/yungbote/storyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
	"github.com/yungbote/storyforge-backend/internal/platform/openai"
	"github.com/yungbote/storyforge-backend/internal/realtime"
)

// FailureMessage is the only message a client sees for a failed run.
const FailureMessage = "Generation failed"

var terminalStatuses = []string{domain.TaskCompleted, domain.TaskFailed}

var (
	errTaskClosed     = errors.New("task is no longer running")
	errCharacterImage = errors.New("character image generation failed")
)

type ControllerConfig struct {
	DefaultImageSize string
	HeartbeatEvery   time.Duration
}

// Controller executes claimed generation tasks.
type Controller struct {
	log     *logger.Logger
	repos   repos.Repos
	model   openai.Client
	events  realtime.Publisher
	prompts *prompts.Set
	models  ImageModels
	runs    *RunRegistry
	cfg     ControllerConfig
	now     func() time.Time
}

func NewController(
	baseLog *logger.Logger,
	r repos.Repos,
	model openai.Client,
	events realtime.Publisher,
	p *prompts.Set,
	models ImageModels,
	runs *RunRegistry,
	cfg ControllerConfig,
) *Controller {
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = 10 * time.Second
	}
	if runs == nil {
		runs = NewRunRegistry()
	}
	return &Controller{
		log:     baseLog.With("service", "GenerationController"),
		repos:   r,
		model:   model,
		events:  events,
		prompts: p,
		models:  models,
		runs:    runs,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (c *Controller) Runs() *RunRegistry { return c.runs }

// pipelineRun is the state of one task execution.
type pipelineRun struct {
	c       *Controller
	ctx     context.Context
	task    *domain.GenerationTask
	handle  *runHandle
	subject string
	log     *logger.Logger

	mode        string
	documents   []map[string]any
	inputConfig map[string]any
	imageModel  string

	step   string
	failed atomic.Bool
}

// Run executes a task that has already been claimed as running. Failures are
// recorded on the task and published; the returned error is for the caller's
// logs only.
func (c *Controller) Run(ctx context.Context, task *domain.GenerationTask) error {
	if task == nil {
		return errors.New("nil task")
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	handle := c.runs.register(task.ID, cancel)
	defer c.runs.release(task.ID, handle)

	r := &pipelineRun{
		c:       c,
		ctx:     runCtx,
		task:    task,
		handle:  handle,
		subject: task.ProjectID.String(),
		log:     c.log.With("task_id", task.ID.String(), "project_id", task.ProjectID.String(), "trace_id", task.TraceID),
		mode:    NormalizeMode(task.Mode),
	}
	go c.heartbeat(runCtx, task.ID, cancel)

	started := c.now()
	err := r.executeRecovered()
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	observability.Current().IncRun(outcome)
	r.log.Info("Generation run finished", "outcome", outcome, "duration_ms", c.now().Sub(started).Milliseconds())
	return err
}

// executeRecovered turns a panic inside a stage into a failed task.
func (r *pipelineRun) executeRecovered() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Generation run panic", "panic", rec)
			err = r.fail(firstNonEmpty(r.step, StepSummary), fmt.Errorf("panic: %v", rec))
		}
	}()
	return r.execute()
}

// heartbeat keeps the task fresh for the stale sweeper and stops the run when
// the task was failed from elsewhere.
func (c *Controller) heartbeat(ctx context.Context, taskID uuid.UUID, cancel context.CancelFunc) {
	ticker := time.NewTicker(c.cfg.HeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dbc := dbctx.Context{Ctx: ctx}
			if err := c.repos.Tasks.Heartbeat(dbc, taskID); err != nil && ctx.Err() == nil {
				c.log.Warn("Task heartbeat failed", "task_id", taskID.String(), "error", err)
			}
			t, err := c.repos.Tasks.GetByID(dbc, taskID)
			if err == nil && domain.TaskTerminal(t.Status) {
				cancel()
				return
			}
		}
	}
}

func (r *pipelineRun) execute() error {
	r.c.events.Reset(r.ctx, r.subject)
	if err := r.decodeInputs(); err != nil {
		return r.fail(StepSummary, err)
	}
	r.updateProject(map[string]interface{}{"status": "generating", "stage": StepSummary, "progress": 0})

	r.publish(realtime.AssistantMessage(r.c.prompts.AssistantMessage))
	r.publish(realtime.TodoList(r.todoItems()))

	var out stageOutputs

	if err := r.stage(StepSummary, nil, &out.Summary); err != nil {
		return r.fail(StepSummary, err)
	}
	r.finishStage(StepSummary, out.Summary.Summary)

	prior := map[string]any{"summary": out.Summary.Summary, "keywords": cleanList(out.Summary.Keywords)}
	if err := r.stage(StepArtStyle, prior, &out.ArtStyle); err != nil {
		return r.fail(StepArtStyle, err)
	}
	r.finishStage(StepArtStyle, out.ArtStyle)

	prior["art_style"] = out.ArtStyle
	var name PackageNameResult
	if err := r.stage(StepPackageName, prior, &name); err != nil {
		return r.fail(StepPackageName, err)
	}
	out.PackageName = strings.TrimSpace(name.PackageName)
	r.publish(realtime.ContentUpdate(StepPackageName, out.PackageName))

	var chars CharactersResult
	if err := r.stage(StepCharacters, prior, &chars); err != nil {
		return r.fail(StepCharacters, err)
	}
	out.Characters = chars.Subjects
	r.finishStage(StepCharacters, out.Characters)

	prior["subjects"] = withIDs("char", out.Characters)
	var scenes ScenesResult
	if err := r.stage(StepScenes, prior, &scenes); err != nil {
		return r.fail(StepScenes, err)
	}
	out.Scenes = scenes.Scenes
	r.finishStage(StepScenes, out.Scenes)

	prior["scenes"] = withIDs("scene", out.Scenes)
	var board StoryboardResult
	if err := r.stage(StepStoryboard, prior, &board); err != nil {
		return r.fail(StepStoryboard, err)
	}
	out.Storyboard = board.Storyboard
	r.finishStage(StepStoryboard, out.Storyboard)

	bp := BuildBlueprint(r.c.prompts, out, r.task.Prompt, r.c.now())
	size := ResolveImageSize(r.inputConfig, r.c.cfg.DefaultImageSize)

	images, err := r.characterImages(bp, size)
	if err != nil {
		return r.fail(StepCharImages, err)
	}
	images = append(images, r.sceneImages(bp, size)...)

	pkg, err := r.persist(bp, out.PackageName, size, images)
	if err != nil {
		return r.fail(StepPersist, err)
	}

	ok, err := r.c.repos.Tasks.UpdateFieldsUnlessStatus(r.dbc(), r.task.ID, terminalStatuses, map[string]interface{}{
		"status":              domain.TaskCompleted,
		"progress":            stepProgress[StepDone],
		"stage":               StepDone,
		"material_package_id": pkg.ID,
	})
	if err != nil {
		return r.fail(StepDone, err)
	}
	if !ok {
		return r.fail(StepDone, errTaskClosed)
	}
	r.updateProject(map[string]interface{}{"status": "ready", "stage": StepDone, "progress": stepProgress[StepDone]})
	r.publish(realtime.Done(pkg.ID.String()))
	return nil
}

func (r *pipelineRun) decodeInputs() error {
	r.inputConfig = map[string]any{}
	if len(r.task.InputConfig) > 0 && string(r.task.InputConfig) != "null" {
		if err := json.Unmarshal(r.task.InputConfig, &r.inputConfig); err != nil {
			return fmt.Errorf("decode input_config: %w", err)
		}
	}
	if len(r.task.Documents) > 0 && string(r.task.Documents) != "null" {
		if err := json.Unmarshal(r.task.Documents, &r.documents); err != nil {
			return fmt.Errorf("decode documents: %w", err)
		}
	}
	model, ok := r.c.models.Resolve(r.task.ImageModelID)
	if !ok {
		return fmt.Errorf("unknown image model %q", r.task.ImageModelID)
	}
	r.imageModel = model
	return nil
}

func (r *pipelineRun) todoItems() []realtime.TodoItem {
	items := make([]realtime.TodoItem, 0, len(r.c.prompts.Todo))
	for _, t := range r.c.prompts.Todo {
		items = append(items, realtime.TodoItem{ID: t.ID, Label: t.Label, Status: "pending"})
	}
	return items
}

// stage runs one text stage and decodes its typed result into out.
func (r *pipelineRun) stage(step string, prior map[string]any, out any) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	r.step = step
	r.publish(realtime.Step(step, "started", nil))

	ctx, span := observability.Tracer("generation").Start(r.ctx, "generation."+step)
	span.SetAttributes(attribute.String("task_id", r.task.ID.String()), attribute.String("mode", r.mode))
	defer span.End()

	def := r.c.prompts.Stage(step)
	sink := newProgressSink(streamNotifyEvery, func(content, reasoning int) {
		r.publish(realtime.Step(step, "streaming", map[string]any{
			"content_chars":   content,
			"reasoning_chars": reasoning,
		}))
	})
	req := openai.TextRequest{
		System:    def.System,
		Stage:     step,
		Mode:      r.mode,
		Input:     r.task.Prompt,
		Prior:     r.withInputConfig(prior),
		Documents: r.documents,
		Required:  def.Required,
		Sink:      sink.Sink(),
	}

	started := r.c.now()
	err := r.c.model.GenerateJSON(ctx, req, out)
	if err == nil {
		err = checkShape(step, out)
	}
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	observability.Current().ObserveStage(step, status, r.c.now().Sub(started))
	return err
}

// withInputConfig snapshots prior for one request; later stages keep adding
// keys to the shared map.
func (r *pipelineRun) withInputConfig(prior map[string]any) map[string]any {
	if prior == nil && len(r.inputConfig) == 0 {
		return nil
	}
	out := make(map[string]any, len(prior)+1)
	for k, v := range prior {
		out[k] = v
	}
	if len(r.inputConfig) > 0 {
		out["input_config"] = r.inputConfig
	}
	return out
}

// finishStage publishes a stage's content and advances the task to the
// stage's progress checkpoint.
func (r *pipelineRun) finishStage(step string, content any) {
	r.publish(realtime.TodoUpdate(step, "done"))
	r.publish(realtime.ContentUpdate(step, content))
	progress := stepProgress[step]
	r.publish(realtime.Step(step, "completed", map[string]any{"progress": progress}))
	r.advance(step, progress)
}

func (r *pipelineRun) advance(step string, progress int) {
	ok, err := r.c.repos.Tasks.UpdateFieldsUnlessStatus(r.dbc(), r.task.ID, terminalStatuses, map[string]interface{}{
		"progress": progress,
		"stage":    step,
	})
	if err != nil {
		r.log.Warn("Task progress update failed", "step", step, "error", err)
		return
	}
	if !ok {
		// failed from elsewhere; the next stage sees the cancelled context
		r.c.runs.Cancel(r.task.ID)
	}
	r.updateProject(map[string]interface{}{"stage": step, "progress": progress})
}

func (r *pipelineRun) characterImages(bp domain.Blueprint, size string) ([]*domain.ImageAsset, error) {
	r.step = StepCharImages
	r.publish(realtime.Step(StepCharImages, "started", map[string]any{"total": len(bp.Subjects)}))
	out := make([]*domain.ImageAsset, 0, len(bp.Subjects))
	for _, s := range bp.Subjects {
		if err := r.ctx.Err(); err != nil {
			return nil, err
		}
		prompt := CharacterSheetPrompt(r.c.prompts, bp, s)
		res, err := r.image(StepCharImages, prompt, size)
		if err != nil || strings.TrimSpace(res.URL) == "" {
			r.log.Error("Character image failed", "subject_id", s.ID, "error", err)
			return nil, fmt.Errorf("%w: %s", errCharacterImage, s.ID)
		}
		img := r.newImage(domain.ImageCharacterSheet, prompt, res, CharacterPromptParts(r.c.prompts, bp, s, prompt))
		img.SubjectID = s.ID
		img.SubjectName = s.Name
		img.GroupKey = domain.GroupKey(img)
		out = append(out, img)
	}
	r.publish(realtime.Step(StepCharImages, "completed", map[string]any{"count": len(out)}))
	return out, nil
}

// sceneImages skips scenes whose image fails; the package keeps the rest.
func (r *pipelineRun) sceneImages(bp domain.Blueprint, size string) []*domain.ImageAsset {
	r.publish(realtime.Step(StepSceneImages, "started", map[string]any{"total": len(bp.Scenes)}))
	out := make([]*domain.ImageAsset, 0, len(bp.Scenes))
	for _, sc := range bp.Scenes {
		if r.ctx.Err() != nil {
			break
		}
		prompt := ScenePrompt(r.c.prompts, bp, sc)
		res, err := r.image(StepSceneImages, prompt, size)
		if err != nil || strings.TrimSpace(res.URL) == "" {
			r.log.Warn("Scene image failed; continuing", "scene_id", sc.ID, "error", err)
			continue
		}
		img := r.newImage(domain.ImageScene, prompt, res, ScenePromptParts(r.c.prompts, bp, sc))
		img.SceneID = sc.ID
		img.GroupKey = domain.GroupKey(img)
		out = append(out, img)
	}
	r.publish(realtime.Step(StepSceneImages, "completed", map[string]any{"count": len(out)}))
	return out
}

func (r *pipelineRun) image(step, prompt, size string) (openai.ImageResult, error) {
	ctx, span := observability.Tracer("generation").Start(r.ctx, "generation."+step+".image")
	defer span.End()
	started := r.c.now()
	res, err := r.c.model.GenerateImage(ctx, openai.ImageRequest{Prompt: prompt, Size: size, Model: r.imageModel})
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	observability.Current().ObserveStage(step, status, r.c.now().Sub(started))
	return res, err
}

func (r *pipelineRun) newImage(kind, prompt string, res openai.ImageResult, parts PromptParts) *domain.ImageAsset {
	rawParts, _ := json.Marshal(parts)
	return &domain.ImageAsset{
		ID:           uuid.New(),
		Type:         kind,
		URL:          res.URL,
		Prompt:       prompt,
		PromptParts:  datatypes.JSON(rawParts),
		PromptSource: "generated",
		Provider:     res.Provider,
		Model:        res.Model,
		ModelID:      r.task.ImageModelID,
		Size:         res.Size,
		IsActive:     true,
	}
}

func (r *pipelineRun) persist(bp domain.Blueprint, name, size string, images []*domain.ImageAsset) (*domain.MaterialPackage, error) {
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	r.publish(realtime.Step(StepPersist, "started", nil))

	planPrompt := bp.Summary.Synopsis
	if len(bp.Scenes) > 0 && bp.Scenes[0].PromptHint != "" {
		planPrompt = bp.Scenes[0].PromptHint
	}
	aspect, _ := r.inputConfig["aspect_ratio"].(string)
	md := domain.PackageMetadata{
		Summary:     bp.Summary.Logline,
		Keywords:    bp.Summary.Keywords,
		PackageName: name,
		ImageSize:   size,
		ImagePlan: domain.ImagePlan{
			Prompt:      planPrompt,
			AspectRatio: firstNonEmpty(aspect, defaultAspectRatio),
			Size:        size,
		},
		UserPrompt:     r.task.Prompt,
		GenerationMode: r.mode,
		ImageModelID:   r.task.ImageModelID,
		InputConfig:    r.inputConfig,
		InputDocuments: r.documents,
		ArtStyle: domain.ArtStyleSummary{
			StyleName:   bp.ArtStyle.StyleName,
			Description: bp.ArtStyle.StylePrompt,
		},
	}
	if md.InputDocuments == nil {
		md.InputDocuments = []map[string]any{}
	}
	rawBP, err := json.Marshal(bp)
	if err != nil {
		return nil, err
	}
	rawMD, err := json.Marshal(md)
	if err != nil {
		return nil, err
	}
	rawTC, err := json.Marshal(domain.NewTextCandidates())
	if err != nil {
		return nil, err
	}
	pkg := &domain.MaterialPackage{
		ProjectID:      r.task.ProjectID,
		Name:           firstNonEmpty(name, bp.Summary.Logline),
		Status:         domain.TaskCompleted,
		Blueprint:      datatypes.JSON(rawBP),
		TextCandidates: datatypes.JSON(rawTC),
		Metadata:       datatypes.JSON(rawMD),
	}
	created, err := r.c.repos.Packages.CreateVersion(r.dbc(), pkg, images)
	if err != nil {
		return nil, err
	}
	r.log.Info("Material package persisted", "package_id", created.ID.String(), "version", created.Version, "images", len(images))
	return created, nil
}

// fail records the failure and publishes the run's single error event. The
// event is published only when this call moved the task to failed, or when a
// skip handled in this process left the publishing to the run. Otherwise a
// skip elsewhere or the stale sweeper already published it.
func (r *pipelineRun) fail(step string, cause error) error {
	if !r.failed.CompareAndSwap(false, true) {
		return cause
	}
	r.log.Error("Generation step failed", "step", step, "error", cause)

	dbc := dbctx.Context{Ctx: context.WithoutCancel(r.ctx)}
	flipped, err := r.c.repos.Tasks.UpdateFieldsUnlessStatus(dbc, r.task.ID, terminalStatuses, map[string]interface{}{
		"status":      domain.TaskFailed,
		"progress":    0,
		"stage":       step,
		"failed_step": step,
		"error":       truncate(cause.Error(), 2000),
	})
	if err != nil {
		r.log.Error("Failed to mark task failed", "error", err)
	}
	if flipped || r.c.runs.wasSkipped(r.handle) {
		r.publish(realtime.GenerationError(step, FailureMessage))
	}
	if err := r.c.repos.Projects.UpdateFields(dbc, r.task.ProjectID, map[string]interface{}{"status": "failed", "stage": step}); err != nil {
		r.log.Warn("Project status update failed", "error", err)
	}
	return cause
}

func (r *pipelineRun) publish(ev realtime.Event) {
	ev.TraceID = r.task.TraceID
	r.c.events.Publish(context.WithoutCancel(r.ctx), r.subject, ev)
}

func (r *pipelineRun) updateProject(updates map[string]interface{}) {
	if err := r.c.repos.Projects.UpdateFields(r.dbc(), r.task.ProjectID, updates); err != nil && r.ctx.Err() == nil {
		r.log.Warn("Project update failed", "error", err)
	}
}

func (r *pipelineRun) dbc() dbctx.Context { return dbctx.Context{Ctx: r.ctx} }

// withIDs gives stage drafts the ids the blueprint will assign so later
// stages can refer to them.
func withIDs[T any](prefix string, items []T) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		m["id"] = fmt.Sprintf("%s_%d", prefix, i+1)
		out = append(out, m)
	}
	return out
}

// NormalizeMode maps any mode other than pro to general.
func NormalizeMode(mode string) string {
	if strings.EqualFold(strings.TrimSpace(mode), "pro") {
		return "pro"
	}
	return "general"
}

// truncate caps s at n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
