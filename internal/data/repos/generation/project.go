package generation

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

type ProjectRepo interface {
	Create(dbc dbctx.Context, p *types.Project) (*types.Project, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Project, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type projectRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProjectRepo(db *gorm.DB, baseLog *logger.Logger) ProjectRepo {
	return &projectRepo{db: db, log: baseLog.With("repo", "ProjectRepo")}
}

func (r *projectRepo) Create(dbc dbctx.Context, p *types.Project) (*types.Project, error) {
	if p.Status == "" {
		p.Status = "draft"
	}
	if err := dbc.DB(r.db).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

func (r *projectRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Project, error) {
	if id == uuid.Nil {
		return nil, ErrNotFound
	}
	var p types.Project
	if err := dbc.DB(r.db).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *projectRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.Project{}).
		Where("id = ?", id).
		Updates(stampUpdated(updates)).Error
}
