package genrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/yungbote/storyforge-backend/internal/data/repos"
	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

type Runner interface {
	Run(ctx context.Context, task *domain.GenerationTask) error
}

type Activities struct {
	Log    *logger.Logger
	Tasks  repos.TaskRepo
	Runner Runner
}

// RunGenerationTask claims the task and runs it. A task that is no longer
// pending was claimed or skipped elsewhere and is reported unclaimed.
func (a *Activities) RunGenerationTask(ctx context.Context, taskID string) (RunResult, error) {
	res := RunResult{TaskID: strings.TrimSpace(taskID)}
	if a == nil || a.Tasks == nil || a.Runner == nil {
		return res, fmt.Errorf("genrun: activity not configured")
	}
	id, err := uuid.Parse(res.TaskID)
	if err != nil || id == uuid.Nil {
		return res, fmt.Errorf("genrun: invalid task_id %q", taskID)
	}
	dbc := dbctx.Context{Ctx: ctx}

	claimed, err := a.Tasks.ClaimByID(dbc, id)
	if err != nil {
		return res, fmt.Errorf("genrun: claim: %w", err)
	}
	task, err := a.Tasks.GetByID(dbc, id)
	if err != nil {
		return res, fmt.Errorf("genrun: load task: %w", err)
	}
	if !claimed {
		res.Status, res.Stage = task.Status, task.Stage
		return res, nil
	}
	res.Claimed = true

	stop := heartbeat(ctx)
	if runErr := a.Runner.Run(ctx, task); runErr != nil {
		a.Log.Warn("Generation task failed", "task_id", id.String(), "error", runErr)
	}
	stop()

	final, err := a.Tasks.GetByID(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, id)
	if err != nil {
		return res, fmt.Errorf("genrun: reload task: %w", err)
	}
	res.Status, res.Stage = final.Status, final.Stage
	return res, nil
}

func heartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
