package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/storyforge-backend/internal/data/repos"
	"github.com/yungbote/storyforge-backend/internal/platform/envutil"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
	"github.com/yungbote/storyforge-backend/internal/temporalx"
	"github.com/yungbote/storyforge-backend/internal/temporalx/genrun"
)

// Runner hosts the generation workflow and activity on the task queue.
type Runner struct {
	log    *logger.Logger
	tc     temporalsdkclient.Client
	cfg    temporalx.Config
	tasks  repos.TaskRepo
	runner genrun.Runner
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, cfg temporalx.Config, tasks repos.TaskRepo, runner genrun.Runner) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if tasks == nil || runner == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	return &Runner{log: log.With("component", "TemporalWorker"), tc: tc, cfg: cfg, tasks: tasks, runner: runner}, nil
}

// Run starts the worker, retrying while the cluster comes up, and stops it
// when ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("Starting Temporal worker", "address", r.cfg.Address, "namespace", r.cfg.Namespace, "task_queue", r.cfg.TaskQueue)
	maxWait := envutil.Seconds("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", time.Minute)
	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil
		}
		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			r.log.Info("Temporal worker started", "task_queue", r.cfg.TaskQueue, "attempts", attempt)
			<-ctx.Done()
			w.Stop()
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		notFound := errors.As(startErr, &nfe)
		if notFound && r.cfg.AutoNamespace {
			if err := temporalx.EnsureNamespace(ctx, r.log, r.cfg); err != nil {
				r.log.Warn("Temporal namespace ensure failed", "namespace", r.cfg.Namespace, "error", err)
			}
		}
		if maxWait <= 0 || time.Now().After(deadline) {
			if notFound {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", r.cfg.Namespace, startErr)
			}
			return startErr
		}
		r.log.Warn("Temporal worker failed to start; retrying", "attempt", attempt, "error", startErr)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(temporalx.Backoff(250*time.Millisecond, 5*time.Second, attempt)):
		}
	}
}

func (r *Runner) newWorker() worker.Worker {
	concurrency := envutil.Int("WORKER_CONCURRENCY", 2)
	if concurrency < 1 {
		concurrency = 1
	}
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})
	acts := &genrun.Activities{Log: r.log, Tasks: r.tasks, Runner: r.runner}
	w.RegisterWorkflowWithOptions(genrun.Workflow, workflow.RegisterOptions{Name: genrun.WorkflowName})
	w.RegisterActivityWithOptions(acts.RunGenerationTask, activity.RegisterOptions{Name: genrun.ActivityRunTask})
	return w
}
