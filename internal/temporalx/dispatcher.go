package temporalx

import (
	"context"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	temporalsdkclient "go.temporal.io/sdk/client"

	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
	"github.com/yungbote/storyforge-backend/internal/temporalx/genrun"
)

// Dispatcher starts one generation workflow per task.
type Dispatcher struct {
	log       *logger.Logger
	client    temporalsdkclient.Client
	taskQueue string
}

func NewDispatcher(log *logger.Logger, c temporalsdkclient.Client, cfg Config) *Dispatcher {
	return &Dispatcher{log: log.With("component", "TemporalDispatcher"), client: c, taskQueue: cfg.TaskQueue}
}

func (d *Dispatcher) Dispatch(ctx context.Context, task *domain.GenerationTask) error {
	if task == nil {
		return fmt.Errorf("nil task")
	}
	id := task.ID.String()
	run, err := d.client.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:                    genrun.WorkflowID(id),
		TaskQueue:             d.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, genrun.WorkflowName, id)
	if err != nil {
		return fmt.Errorf("start generation workflow: %w", err)
	}
	d.log.Info("Generation workflow started", "task_id", id, "workflow_id", run.GetID(), "run_id", run.GetRunID())
	return nil
}
