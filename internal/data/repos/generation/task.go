package generation

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

type TaskRepo interface {
	Create(dbc dbctx.Context, task *types.GenerationTask) (*types.GenerationTask, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationTask, error)
	ListByProject(dbc dbctx.Context, projectID uuid.UUID) ([]*types.GenerationTask, error)
	// FindActiveForProject returns the project's pending or running task, or nil.
	FindActiveForProject(dbc dbctx.Context, projectID uuid.UUID) (*types.GenerationTask, error)
	// ClaimNextPending moves the oldest pending task to running, or returns nil.
	ClaimNextPending(dbc dbctx.Context) (*types.GenerationTask, error)
	// ClaimByID moves one pending task to running; false when it was not pending.
	ClaimByID(dbc dbctx.Context, id uuid.UUID) (bool, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	// ListStale returns running tasks whose last heartbeat is older than cutoff.
	ListStale(dbc dbctx.Context, cutoff time.Time) ([]*types.GenerationTask, error)
}

type taskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRepo(db *gorm.DB, baseLog *logger.Logger) TaskRepo {
	return &taskRepo{db: db, log: baseLog.With("repo", "TaskRepo")}
}

func (r *taskRepo) Create(dbc dbctx.Context, task *types.GenerationTask) (*types.GenerationTask, error) {
	if task.Status == "" {
		task.Status = types.TaskPending
	}
	if err := dbc.DB(r.db).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

func (r *taskRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationTask, error) {
	if id == uuid.Nil {
		return nil, ErrNotFound
	}
	var task types.GenerationTask
	if err := dbc.DB(r.db).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

func (r *taskRepo) ListByProject(dbc dbctx.Context, projectID uuid.UUID) ([]*types.GenerationTask, error) {
	var out []*types.GenerationTask
	if projectID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taskRepo) FindActiveForProject(dbc dbctx.Context, projectID uuid.UUID) (*types.GenerationTask, error) {
	if projectID == uuid.Nil {
		return nil, nil
	}
	var task types.GenerationTask
	err := dbc.DB(r.db).
		Where("project_id = ? AND status IN ?", projectID, []string{types.TaskPending, types.TaskRunning}).
		Order("created_at DESC").
		Limit(1).
		Find(&task).Error
	if err != nil {
		return nil, err
	}
	if task.ID == uuid.Nil {
		return nil, nil
	}
	return &task, nil
}

func (r *taskRepo) ClaimNextPending(dbc dbctx.Context) (*types.GenerationTask, error) {
	var claimed *types.GenerationTask
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		var task types.GenerationTask
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", types.TaskPending).
			Order("created_at ASC").
			First(&task).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		now := time.Now().UTC()
		res := txx.Model(&types.GenerationTask{}).
			Where("id = ? AND status = ?", task.ID, types.TaskPending).
			Updates(map[string]interface{}{
				"status":       types.TaskRunning,
				"progress":     0,
				"heartbeat_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		task.Status = types.TaskRunning
		task.Progress = 0
		task.HeartbeatAt = &now
		task.UpdatedAt = now
		claimed = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *taskRepo) ClaimByID(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now().UTC()
	res := dbc.DB(r.db).
		Model(&types.GenerationTask{}).
		Where("id = ? AND status = ?", id, types.TaskPending).
		Updates(map[string]interface{}{
			"status":       types.TaskRunning,
			"progress":     0,
			"heartbeat_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *taskRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.GenerationTask{}).
		Where("id = ?", id).
		Updates(stampUpdated(updates)).Error
}

func (r *taskRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	q := dbc.DB(r.db).
		Model(&types.GenerationTask{}).
		Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(stampUpdated(updates))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *taskRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now().UTC()
	return dbc.DB(r.db).
		Model(&types.GenerationTask{}).
		Where("id = ? AND status = ?", id, types.TaskRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *taskRepo) ListStale(dbc dbctx.Context, cutoff time.Time) ([]*types.GenerationTask, error) {
	var out []*types.GenerationTask
	if err := dbc.DB(r.db).
		Where("status = ? AND (heartbeat_at < ? OR (heartbeat_at IS NULL AND updated_at < ?))",
			types.TaskRunning, cutoff, cutoff).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
