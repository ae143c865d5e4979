package generation

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

type ImageRepo interface {
	Create(dbc dbctx.Context, img *types.ImageAsset) (*types.ImageAsset, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ImageAsset, error)
	ListByPackage(dbc dbctx.Context, packageID uuid.UUID) ([]*types.ImageAsset, error)
	HasActive(dbc dbctx.Context, packageID uuid.UUID, groupKey string) (bool, error)
	// Activate makes img the only active member of its group.
	Activate(dbc dbctx.Context, img *types.ImageAsset) error
}

type imageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewImageRepo(db *gorm.DB, baseLog *logger.Logger) ImageRepo {
	return &imageRepo{db: db, log: baseLog.With("repo", "ImageRepo")}
}

func (r *imageRepo) Create(dbc dbctx.Context, img *types.ImageAsset) (*types.ImageAsset, error) {
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}
	if err := dbc.DB(r.db).Create(img).Error; err != nil {
		return nil, err
	}
	return img, nil
}

func (r *imageRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ImageAsset, error) {
	if id == uuid.Nil {
		return nil, ErrNotFound
	}
	var img types.ImageAsset
	if err := dbc.DB(r.db).Where("id = ?", id).First(&img).Error; err != nil {
		return nil, notFound(err)
	}
	return &img, nil
}

// ListByPackage returns images in insertion order.
func (r *imageRepo) ListByPackage(dbc dbctx.Context, packageID uuid.UUID) ([]*types.ImageAsset, error) {
	var out []*types.ImageAsset
	if packageID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("package_id = ?", packageID).
		Order("seq ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *imageRepo) HasActive(dbc dbctx.Context, packageID uuid.UUID, groupKey string) (bool, error) {
	var n int64
	err := dbc.DB(r.db).Model(&types.ImageAsset{}).
		Where("package_id = ? AND group_key = ? AND is_active = ?", packageID, groupKey, true).
		Count(&n).Error
	return n > 0, err
}

func (r *imageRepo) Activate(dbc dbctx.Context, img *types.ImageAsset) error {
	return dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		if err := txx.Model(&types.ImageAsset{}).
			Where("package_id = ? AND group_key = ? AND id <> ?", img.PackageID, img.GroupKey, img.ID).
			Update("is_active", false).Error; err != nil {
			return err
		}
		res := txx.Model(&types.ImageAsset{}).
			Where("id = ?", img.ID).
			Update("is_active", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
