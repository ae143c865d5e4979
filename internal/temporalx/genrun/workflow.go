package genrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
)

// Workflow runs one generation task exactly once. Retrying is a user action
// that creates a new task, so the activity never retries.
func Workflow(ctx workflow.Context, taskID string) error {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return fmt.Errorf("genrun: missing task_id")
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	var out RunResult
	if err := workflow.ExecuteActivity(ctx, ActivityRunTask, taskID).Get(ctx, &out); err != nil {
		return err
	}
	if out.Claimed && out.Status == domain.TaskFailed {
		return fmt.Errorf("generation task failed (stage=%s)", out.Stage)
	}
	workflow.GetLogger(ctx).Info("Generation workflow finished", "task_id", taskID, "claimed", out.Claimed, "status", out.Status)
	return nil
}
