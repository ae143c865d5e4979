package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/storyforge-backend/internal/data/repos"
	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/storyforge-backend/internal/platform/envutil"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

// Runner executes a task that is already claimed as running.
type Runner interface {
	Run(ctx context.Context, task *domain.GenerationTask) error
}

// Sweeper fails running tasks that stopped heartbeating before cutoff.
type Sweeper interface {
	FailStale(ctx context.Context, cutoff time.Time) (int, error)
}

type Config struct {
	Concurrency int
	PollEvery   time.Duration
	StaleAfter  time.Duration
	SweepEvery  time.Duration
	// SweepOnly disables claiming; runs are executed elsewhere.
	SweepOnly bool
}

func ConfigFromEnv() Config {
	return Config{
		Concurrency: envutil.Int("WORKER_CONCURRENCY", 2),
		PollEvery:   envutil.Millis("WORKER_POLL_MS", time.Second),
		StaleAfter:  envutil.Seconds("TASK_STALE_SECONDS", 15*time.Minute),
		SweepEvery:  envutil.Seconds("TASK_SWEEP_SECONDS", time.Minute),
	}
}

// Pool claims pending generation tasks and runs them. It also implements
// the dispatcher the generation service notifies on every new task.
type Pool struct {
	log     *logger.Logger
	tasks   repos.TaskRepo
	runner  Runner
	sweeper Sweeper
	cfg     Config
	wake    chan struct{}
	now     func() time.Time
}

func NewPool(baseLog *logger.Logger, tasks repos.TaskRepo, runner Runner, sweeper Sweeper, cfg Config) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = time.Minute
	}
	return &Pool{
		log:     baseLog.With("component", "GenerationWorker"),
		tasks:   tasks,
		runner:  runner,
		sweeper: sweeper,
		cfg:     cfg,
		wake:    make(chan struct{}, cfg.Concurrency),
		now:     time.Now,
	}
}

// Dispatch wakes an idle loop. The task stays pending until a loop claims it.
func (p *Pool) Dispatch(ctx context.Context, task *domain.GenerationTask) error {
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run blocks until ctx is done and every in-flight run has returned.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("Starting generation worker", "concurrency", p.cfg.Concurrency, "sweep_only", p.cfg.SweepOnly)
	var wg sync.WaitGroup
	if !p.cfg.SweepOnly && p.runner != nil {
		for i := 0; i < p.cfg.Concurrency; i++ {
			wg.Add(1)
			go func(workerID int) {
				defer wg.Done()
				p.runLoop(ctx, workerID)
			}(i + 1)
		}
	}
	if p.sweeper != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.sweepLoop(ctx)
		}()
	}
	wg.Wait()
	p.log.Info("Generation worker stopped")
	return nil
}

func (p *Pool) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(p.cfg.PollEvery)
	defer ticker.Stop()
	for {
		// drain everything claimable before sleeping again
		for p.claimAndRun(ctx, workerID) {
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

// claimAndRun reports whether a task was claimed.
func (p *Pool) claimAndRun(ctx context.Context, workerID int) bool {
	if ctx.Err() != nil {
		return false
	}
	task, err := p.tasks.ClaimNextPending(dbctx.Context{Ctx: ctx})
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("ClaimNextPending failed", "worker_id", workerID, "error", err)
		}
		return false
	}
	if task == nil {
		return false
	}
	p.execute(ctx, workerID, task)
	return true
}

func (p *Pool) execute(ctx context.Context, workerID int, task *domain.GenerationTask) {
	log := p.log.With("worker_id", workerID, "task_id", task.ID.String(), "project_id", task.ProjectID.String())
	defer func() {
		if r := recover(); r != nil {
			log.Error("Generation runner panic", "panic", r)
			p.failClaimed(task, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := p.runner.Run(ctx, task); err != nil {
		log.Warn("Generation task failed", "error", err)
	}
}

// failClaimed is the fallback for a runner that died before recording its
// own failure. Such tasks keep no heartbeat, so the sweeper publishes their
// error event; here the row only has to stop counting as running.
func (p *Pool) failClaimed(task *domain.GenerationTask, cause error) {
	dbc := dbctx.Context{Ctx: context.Background()}
	current, err := p.tasks.GetByID(dbc, task.ID)
	if err != nil || domain.TaskTerminal(current.Status) {
		return
	}
	if err := p.tasks.UpdateFields(dbc, task.ID, map[string]interface{}{"heartbeat_at": time.Time{}}); err != nil {
		p.log.Warn("Failed to expire task heartbeat", "task_id", task.ID.String(), "error", err, "cause", cause)
		return
	}
	if p.sweeper != nil {
		p.sweep(context.Background())
	}
}

func (p *Pool) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepEvery)
	defer ticker.Stop()
	p.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Pool) sweep(ctx context.Context) {
	n, err := p.sweeper.FailStale(ctx, p.now().Add(-p.cfg.StaleAfter))
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("Stale task sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		p.log.Warn("Failed stale generation tasks", "count", n)
	}
}
