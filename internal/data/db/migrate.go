package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/storyforge-backend/internal/domain/generation"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(generation.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return EnsureIndexes(db)
}

// EnsureIndexes adds the partial indexes gorm tags cannot express.
func EnsureIndexes(db *gorm.DB) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_generation_task_project_open
		 ON generation_task(project_id, created_at)
		 WHERE status IN ('pending', 'running');`,
		`CREATE INDEX IF NOT EXISTS idx_material_package_project_version
		 ON material_package(project_id, version);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_material_package_project_active
		 ON material_package(project_id)
		 WHERE is_active;`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_image_asset_group_active
		 ON image_asset(package_id, group_key)
		 WHERE is_active;`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("ensure index: %w", err)
		}
	}
	return nil
}
