package generation

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

type PackageRepo interface {
	// CreateVersion inserts pkg as the project's newest active version together
	// with its images and points the project at it, all in one transaction.
	CreateVersion(dbc dbctx.Context, pkg *types.MaterialPackage, images []*types.ImageAsset) (*types.MaterialPackage, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.MaterialPackage, error)
	ListByProject(dbc dbctx.Context, projectID uuid.UUID) ([]*types.MaterialPackage, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// WithLockedPackage runs fn in a transaction holding the package row lock.
	WithLockedPackage(dbc dbctx.Context, id uuid.UUID, fn func(tx *gorm.DB, pkg *types.MaterialPackage) error) error
}

type packageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPackageRepo(db *gorm.DB, baseLog *logger.Logger) PackageRepo {
	return &packageRepo{db: db, log: baseLog.With("repo", "PackageRepo")}
}

// NextVersion is max(version)+1. Rows that predate versioning all carry 0, in
// which case the count of existing rows decides.
func NextVersion(existing []int) int {
	max := 0
	for _, v := range existing {
		if v > max {
			max = v
		}
	}
	if max == 0 && len(existing) > 0 {
		return len(existing) + 1
	}
	return max + 1
}

func (r *packageRepo) CreateVersion(dbc dbctx.Context, pkg *types.MaterialPackage, images []*types.ImageAsset) (*types.MaterialPackage, error) {
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		var project types.Project
		if err := txx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", pkg.ProjectID).
			First(&project).Error; err != nil {
			return notFound(err)
		}

		var versions []int
		if err := txx.Model(&types.MaterialPackage{}).
			Where("project_id = ?", pkg.ProjectID).
			Pluck("version", &versions).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := txx.Model(&types.MaterialPackage{}).
			Where("project_id = ? AND is_active = ?", pkg.ProjectID, true).
			Updates(map[string]interface{}{"is_active": false, "updated_at": now}).Error; err != nil {
			return err
		}

		pkg.Version = NextVersion(versions)
		pkg.IsActive = true
		if err := txx.Create(pkg).Error; err != nil {
			return err
		}

		for i, img := range images {
			img.PackageID = pkg.ID
			if img.Seq == 0 {
				img.Seq = now.UnixNano() + int64(i)
			}
		}
		if len(images) > 0 {
			if err := txx.Create(&images).Error; err != nil {
				return err
			}
		}

		return txx.Model(&types.Project{}).
			Where("id = ?", pkg.ProjectID).
			Updates(map[string]interface{}{
				"last_material_package_id": pkg.ID,
				"updated_at":               now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

func (r *packageRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.MaterialPackage, error) {
	if id == uuid.Nil {
		return nil, ErrNotFound
	}
	var pkg types.MaterialPackage
	if err := dbc.DB(r.db).Where("id = ?", id).First(&pkg).Error; err != nil {
		return nil, notFound(err)
	}
	return &pkg, nil
}

func (r *packageRepo) ListByProject(dbc dbctx.Context, projectID uuid.UUID) ([]*types.MaterialPackage, error) {
	var out []*types.MaterialPackage
	if projectID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("project_id = ?", projectID).
		Order("version DESC").
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *packageRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if _, ok := updates["blueprint"]; ok {
		delete(updates, "blueprint")
		r.log.Warn("ignoring blueprint update; blueprints are write-once", "package_id", id)
	}
	return dbc.DB(r.db).
		Model(&types.MaterialPackage{}).
		Where("id = ?", id).
		Updates(stampUpdated(updates)).Error
}

func (r *packageRepo) WithLockedPackage(dbc dbctx.Context, id uuid.UUID, fn func(tx *gorm.DB, pkg *types.MaterialPackage) error) error {
	if id == uuid.Nil {
		return ErrNotFound
	}
	return dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		var pkg types.MaterialPackage
		if err := txx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&pkg).Error; err != nil {
			return notFound(err)
		}
		return fn(txx, &pkg)
	})
}
