package generation

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IDs and timestamps are assigned in Go so the same models migrate on
// Postgres and SQLite.

const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// TaskTerminal reports whether status is absorbing.
func TaskTerminal(status string) bool {
	return status == TaskCompleted || status == TaskFailed
}

type Project struct {
	ID                    uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name                  string         `gorm:"column:name;not null" json:"name"`
	Description           string         `gorm:"column:description;type:text" json:"description"`
	Status                string         `gorm:"column:status;not null;index" json:"status"`
	Stage                 string         `gorm:"column:stage" json:"stage"`
	Progress              int            `gorm:"column:progress;not null;default:0" json:"progress"`
	InputConfig           datatypes.JSON `gorm:"column:input_config;type:jsonb" json:"input_config"`
	Metadata              datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	LastMaterialPackageID *uuid.UUID     `gorm:"type:uuid;column:last_material_package_id" json:"last_material_package_id,omitempty"`
	CreatedAt             time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"not null" json:"updated_at"`
}

func (Project) TableName() string { return "project" }

func (p *Project) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// MaterialPackage is one generated version for a project. Blueprint is
// written once at creation and never updated.
type MaterialPackage struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"project_id"`
	Name           string         `gorm:"column:name" json:"name"`
	Status         string         `gorm:"column:status;not null" json:"status"`
	Version        int            `gorm:"column:version;not null;default:0" json:"version"`
	IsActive       bool           `gorm:"column:is_active;not null;default:false;index" json:"is_active"`
	Blueprint      datatypes.JSON `gorm:"column:blueprint;type:jsonb" json:"blueprint"`
	TextCandidates datatypes.JSON `gorm:"column:text_candidates;type:jsonb" json:"text_candidates"`
	Metadata       datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt      time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (MaterialPackage) TableName() string { return "material_package" }

func (p *MaterialPackage) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

const (
	ImageCharacterSheet = "character_sheet"
	ImageCharacterView  = "character_view"
	ImageScene          = "scene"
	ImageStoryboard     = "storyboard"
)

// ImageAsset is one generated image. Variants of the same logical image share
// a GroupKey and at most one of them is active.
type ImageAsset struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PackageID       uuid.UUID      `gorm:"type:uuid;not null;index:idx_image_asset_pkg_group,priority:1" json:"package_id"`
	Type            string         `gorm:"column:type;not null" json:"type"`
	GroupKey        string         `gorm:"column:group_key;not null;index:idx_image_asset_pkg_group,priority:2" json:"group_key"`
	SubjectID       string         `gorm:"column:subject_id" json:"subject_id,omitempty"`
	SubjectName     string         `gorm:"column:subject_name" json:"subject_name,omitempty"`
	SceneID         string         `gorm:"column:scene_id" json:"scene_id,omitempty"`
	ShotID          string         `gorm:"column:shot_id" json:"shot_id,omitempty"`
	View            string         `gorm:"column:view" json:"view,omitempty"`
	URL             string         `gorm:"column:url;type:text;not null" json:"url"`
	Prompt          string         `gorm:"column:prompt;type:text" json:"prompt"`
	PromptParts     datatypes.JSON `gorm:"column:prompt_parts;type:jsonb" json:"prompt_parts,omitempty"`
	PromptSource    string         `gorm:"column:prompt_source" json:"prompt_source,omitempty"`
	RegeneratedFrom *uuid.UUID     `gorm:"type:uuid;column:regenerated_from" json:"regenerated_from,omitempty"`
	Provider        string         `gorm:"column:provider" json:"provider,omitempty"`
	Model           string         `gorm:"column:model" json:"model,omitempty"`
	ModelID         string         `gorm:"column:model_id" json:"model_id,omitempty"`
	Size            string         `gorm:"column:size" json:"size,omitempty"`
	IsActive        bool           `gorm:"column:is_active;not null;default:false" json:"is_active"`
	// Seq keeps insertion order stable when CreatedAt ties.
	Seq       int64     `gorm:"column:seq;not null;default:0" json:"-"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (ImageAsset) TableName() string { return "image_asset" }

func (a *ImageAsset) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Seq == 0 {
		a.Seq = time.Now().UnixNano()
	}
	return nil
}

// GenerationTask tracks one pipeline run. Completed and failed are terminal.
type GenerationTask struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"project_id"`
	Status            string         `gorm:"column:status;not null;index" json:"status"`
	Progress          int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Stage             string         `gorm:"column:stage" json:"stage"`
	FailedStep        string         `gorm:"column:failed_step" json:"failed_step,omitempty"`
	Error             string         `gorm:"column:error;type:text" json:"error,omitempty"`
	Prompt            string         `gorm:"column:prompt;type:text" json:"prompt"`
	Mode              string         `gorm:"column:mode;not null" json:"mode"`
	Documents         datatypes.JSON `gorm:"column:documents;type:jsonb" json:"documents,omitempty"`
	InputConfig       datatypes.JSON `gorm:"column:input_config;type:jsonb" json:"input_config,omitempty"`
	ImageModelID      string         `gorm:"column:image_model_id" json:"image_model_id,omitempty"`
	TraceID           string         `gorm:"column:trace_id" json:"trace_id"`
	MaterialPackageID *uuid.UUID     `gorm:"type:uuid;column:material_package_id" json:"material_package_id,omitempty"`
	RetryOf           *uuid.UUID     `gorm:"type:uuid;column:retry_of" json:"retry_of,omitempty"`
	HeartbeatAt       *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	CreatedAt         time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null" json:"updated_at"`
}

func (GenerationTask) TableName() string { return "generation_task" }

func (t *GenerationTask) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&Project{}, &MaterialPackage{}, &ImageAsset{}, &GenerationTask{}}
}
