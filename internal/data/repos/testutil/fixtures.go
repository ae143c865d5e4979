package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/storyforge-backend/internal/domain/generation"
)

func SeedProject(tb testing.TB, ctx context.Context, tx *gorm.DB, name string) *types.Project {
	tb.Helper()
	p := &types.Project{
		ID:          uuid.New(),
		Name:        name,
		Description: "a lighthouse keeper befriends a storm",
		Status:      "draft",
		InputConfig: datatypes.JSON([]byte("{}")),
		Metadata:    datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed project: %v", err)
	}
	return p
}

func SeedTask(tb testing.TB, ctx context.Context, tx *gorm.DB, projectID uuid.UUID, status string, createdAt time.Time) *types.GenerationTask {
	tb.Helper()
	task := &types.GenerationTask{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Status:      status,
		Prompt:      "prompt",
		Mode:        "general",
		Documents:   datatypes.JSON([]byte("[]")),
		InputConfig: datatypes.JSON([]byte("{}")),
		TraceID:     uuid.NewString(),
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	if err := tx.WithContext(ctx).Create(task).Error; err != nil {
		tb.Fatalf("seed task: %v", err)
	}
	return task
}

func SeedPackage(tb testing.TB, ctx context.Context, tx *gorm.DB, projectID uuid.UUID, version int, blueprint []byte) *types.MaterialPackage {
	tb.Helper()
	if blueprint == nil {
		blueprint = []byte("{}")
	}
	pkg := &types.MaterialPackage{
		ID:             uuid.New(),
		ProjectID:      projectID,
		Name:           "package",
		Status:         "completed",
		Version:        version,
		Blueprint:      datatypes.JSON(blueprint),
		TextCandidates: datatypes.JSON([]byte("{}")),
		Metadata:       datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(pkg).Error; err != nil {
		tb.Fatalf("seed package: %v", err)
	}
	return pkg
}

func SeedImage(tb testing.TB, ctx context.Context, tx *gorm.DB, img *types.ImageAsset) *types.ImageAsset {
	tb.Helper()
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}
	if err := tx.WithContext(ctx).Create(img).Error; err != nil {
		tb.Fatalf("seed image: %v", err)
	}
	return img
}
