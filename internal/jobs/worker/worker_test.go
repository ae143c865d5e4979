package worker

import (
	"context"
	"testing"
	"time"

	"github.com/yungbote/storyforge-backend/internal/data/repos"
	"github.com/yungbote/storyforge-backend/internal/data/repos/testutil"
	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/modules/generation"
	"github.com/yungbote/storyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/storyforge-backend/internal/realtime"
)

type runnerFunc func(ctx context.Context, task *domain.GenerationTask) error

func (f runnerFunc) Run(ctx context.Context, task *domain.GenerationTask) error { return f(ctx, task) }

type sweeperFunc func(ctx context.Context, cutoff time.Time) (int, error)

func (f sweeperFunc) FailStale(ctx context.Context, cutoff time.Time) (int, error) {
	return f(ctx, cutoff)
}

func startPool(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("pool did not stop")
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPoolRunsDispatchedTask(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	r := repos.New(db, log)
	ctx := context.Background()

	got := make(chan *domain.GenerationTask, 1)
	runner := runnerFunc(func(ctx context.Context, task *domain.GenerationTask) error {
		got <- task
		return nil
	})
	pool := NewPool(log, r.Tasks, runner, nil, Config{Concurrency: 2, PollEvery: time.Hour})
	startPool(t, pool)

	project := testutil.SeedProject(t, ctx, db, "harbor")
	task := testutil.SeedTask(t, ctx, db, project.ID, domain.TaskPending, time.Now())
	if err := pool.Dispatch(ctx, task); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	select {
	case claimed := <-got:
		if claimed.ID != task.ID || claimed.Status != domain.TaskRunning {
			t.Fatalf("claimed task: %+v", claimed)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("task was not run")
	}
}

func TestPoolPanicFailsTaskWithOneError(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	r := repos.New(db, log)
	hub := realtime.NewHub(log, realtime.HubConfig{})
	svc := generation.NewService(log, r, hub, nil, nil, generation.NewRunRegistry(), generation.ParseImageModels(nil))
	ctx := context.Background()

	runner := runnerFunc(func(ctx context.Context, task *domain.GenerationTask) error {
		panic("runner crashed")
	})
	pool := NewPool(log, r.Tasks, runner, svc, Config{Concurrency: 1, PollEvery: 20 * time.Millisecond, SweepEvery: time.Hour})

	project := testutil.SeedProject(t, ctx, db, "harbor")
	task := testutil.SeedTask(t, ctx, db, project.ID, domain.TaskPending, time.Now())
	startPool(t, pool)

	waitFor(t, "failed task", func() bool {
		cur, err := r.Tasks.GetByID(dbctx.Context{Ctx: ctx}, task.ID)
		return err == nil && cur.Status == domain.TaskFailed
	})
	errs := 0
	for _, ev := range hub.History(project.ID.String()) {
		if ev.Type == realtime.EventError {
			errs++
		}
	}
	if errs != 1 {
		t.Fatalf("error events: want=1 got=%d", errs)
	}
}

func TestPoolSweepOnlyLeavesTasksPending(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	r := repos.New(db, log)
	ctx := context.Background()

	ran := make(chan struct{}, 1)
	runner := runnerFunc(func(ctx context.Context, task *domain.GenerationTask) error {
		ran <- struct{}{}
		return nil
	})
	cutoffs := make(chan time.Time, 4)
	sweeper := sweeperFunc(func(ctx context.Context, cutoff time.Time) (int, error) {
		cutoffs <- cutoff
		return 0, nil
	})

	project := testutil.SeedProject(t, ctx, db, "harbor")
	task := testutil.SeedTask(t, ctx, db, project.ID, domain.TaskPending, time.Now())

	pool := NewPool(log, r.Tasks, runner, sweeper, Config{SweepOnly: true, StaleAfter: 10 * time.Minute, SweepEvery: time.Hour})
	before := time.Now()
	startPool(t, pool)
	_ = pool.Dispatch(ctx, task)

	select {
	case cutoff := <-cutoffs:
		if d := before.Sub(cutoff); d < 9*time.Minute || d > 11*time.Minute {
			t.Fatalf("cutoff offset: %v", d)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("sweeper was not called")
	}
	select {
	case <-ran:
		t.Fatalf("sweep-only pool ran a task")
	default:
	}
	cur, err := r.Tasks.GetByID(dbctx.Context{Ctx: ctx}, task.ID)
	if err != nil || cur.Status != domain.TaskPending {
		t.Fatalf("task: %+v %v", cur, err)
	}
}
