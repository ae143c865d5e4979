package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/yungbote/storyforge-backend/internal/platform/openai"
)

const (
	StepSummary     = "summary"
	StepArtStyle    = "art_style"
	StepPackageName = "package_name"
	StepCharacters  = "characters"
	StepScenes      = "scenes"
	StepStoryboard  = "storyboard"
	StepCharImages  = "character_images"
	StepSceneImages = "scene_images"
	StepPersist     = "persist"
	StepDone        = "done"
)

// Progress checkpoints reached after each stage completes.
var stepProgress = map[string]int{
	StepSummary:    20,
	StepArtStyle:   40,
	StepCharacters: 60,
	StepScenes:     80,
	StepStoryboard: 90,
	StepDone:       100,
}

// StringList accepts a JSON array of scalars or a comma separated string.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := []string{}
	switch v := raw.(type) {
	case nil:
	case string:
		for _, part := range strings.Split(v, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range v {
			if item == nil {
				continue
			}
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
	default:
		return fmt.Errorf("expected list or string, got %T", raw)
	}
	*l = out
	return nil
}

type SummaryResult struct {
	Summary  string     `json:"summary" validate:"required"`
	Keywords StringList `json:"keywords"`
}

type ArtStyleResult struct {
	StyleName   string     `json:"style_name" validate:"required"`
	StylePrompt string     `json:"style_prompt" validate:"required"`
	Palette     StringList `json:"palette"`
}

type PackageNameResult struct {
	PackageName string `json:"package_name" validate:"required,max=200"`
}

type CharacterDraft struct {
	Name         string     `json:"name" validate:"max=200"`
	Role         string     `json:"role"`
	Description  string     `json:"description"`
	VisualTraits StringList `json:"visual_traits"`
	ImagePrompt  string     `json:"image_prompt"`
}

type CharactersResult struct {
	Subjects []CharacterDraft `json:"subjects" validate:"max=24,dive"`
}

type SceneDraft struct {
	Name        string `json:"name" validate:"max=200"`
	Description string `json:"description"`
	Mood        string `json:"mood"`
	Purpose     string `json:"purpose"`
	ImagePrompt string `json:"image_prompt"`
}

type ScenesResult struct {
	Scenes []SceneDraft `json:"scenes" validate:"max=24,dive"`
}

type ShotDraft struct {
	SceneID      string     `json:"scene_id"`
	Description  string     `json:"description" validate:"required"`
	Camera       string     `json:"camera"`
	DurationSec  *float64   `json:"duration_sec" validate:"omitempty,gt=0"`
	SubjectIDs   StringList `json:"subject_ids"`
	SubjectNames StringList `json:"subject_names"`
}

type StoryboardResult struct {
	Storyboard []ShotDraft `json:"storyboard" validate:"max=64,dive"`
}

var validate = validator.New()

// checkShape applies struct tags and reports failures as a validation error
// so the run fails without another model attempt.
func checkShape(stage string, out any) error {
	if err := validate.Struct(out); err != nil {
		return &openai.ValidationError{Stage: stage, Detail: err.Error()}
	}
	return nil
}
