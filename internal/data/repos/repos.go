package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/storyforge-backend/internal/data/repos/generation"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

type ProjectRepo = generation.ProjectRepo
type PackageRepo = generation.PackageRepo
type ImageRepo = generation.ImageRepo
type TaskRepo = generation.TaskRepo

var ErrNotFound = generation.ErrNotFound

type Repos struct {
	Projects ProjectRepo
	Packages PackageRepo
	Images   ImageRepo
	Tasks    TaskRepo
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Projects: generation.NewProjectRepo(db, log),
		Packages: generation.NewPackageRepo(db, log),
		Images:   generation.NewImageRepo(db, log),
		Tasks:    generation.NewTaskRepo(db, log),
	}
}
