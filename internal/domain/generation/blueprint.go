package generation

import (
	"encoding/json"
	"fmt"
	"time"
)

// Blueprint is the immutable narrative snapshot produced by one run.
type Blueprint struct {
	Version    string          `json:"version"`
	Summary    BlueprintText   `json:"summary"`
	ArtStyle   ArtStyle        `json:"art_style"`
	Subjects   []Subject       `json:"subjects"`
	Scenes     []Scene         `json:"scenes"`
	Storyboard []Shot          `json:"storyboard"`
	Generation GenerationStamp `json:"generation"`
}

type BlueprintText struct {
	Logline  string   `json:"logline"`
	Synopsis string   `json:"synopsis"`
	Keywords []string `json:"keywords"`
}

type ArtStyle struct {
	StyleName   string   `json:"style_name"`
	StylePrompt string   `json:"style_prompt"`
	Palette     []string `json:"palette"`
	Reference   *string  `json:"reference"`
}

type Subject struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Role         string            `json:"role"`
	Description  string            `json:"description"`
	VisualTraits []string          `json:"visual_traits"`
	Views        []string          `json:"views"`
	ViewPrompts  map[string]string `json:"view_prompts,omitempty"`
	PromptHint   string            `json:"prompt_hint"`
	ImagePrompt  string            `json:"image_prompt,omitempty"`
}

type Scene struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Mood        string `json:"mood"`
	Purpose     string `json:"purpose"`
	PromptHint  string `json:"prompt_hint"`
	ImagePrompt string `json:"image_prompt,omitempty"`
}

type Shot struct {
	ID           string   `json:"id"`
	ShotNumber   int      `json:"shot_number"`
	SceneID      string   `json:"scene_id"`
	Description  string   `json:"description"`
	DurationSec  float64  `json:"duration_sec"`
	Camera       string   `json:"camera"`
	PromptHint   string   `json:"prompt_hint"`
	Prompt       string   `json:"prompt,omitempty"`
	SubjectIDs   []string `json:"subject_ids,omitempty"`
	SubjectNames []string `json:"subject_names,omitempty"`
}

type GenerationStamp struct {
	AspectRatio  string    `json:"aspect_ratio"`
	Seed         *int64    `json:"seed"`
	CreatedAt    time.Time `json:"created_at"`
	SourcePrompt string    `json:"source_prompt"`
}

func (b *Blueprint) Subject(id string) (Subject, bool) {
	for _, s := range b.Subjects {
		if s.ID == id {
			return s, true
		}
	}
	return Subject{}, false
}

func (b *Blueprint) Scene(id string) (Scene, bool) {
	for _, s := range b.Scenes {
		if s.ID == id {
			return s, true
		}
	}
	return Scene{}, false
}

// Shot returns the shot and its index in the storyboard.
func (b *Blueprint) Shot(id string) (Shot, int, bool) {
	for i, s := range b.Storyboard {
		if s.ID == id {
			return s, i, true
		}
	}
	return Shot{}, -1, false
}

// DecodeBlueprint reads a stored blueprint column. An empty column decodes to
// the zero Blueprint.
func DecodeBlueprint(raw []byte) (Blueprint, error) {
	var bp Blueprint
	if len(raw) == 0 || string(raw) == "null" {
		return bp, nil
	}
	if err := json.Unmarshal(raw, &bp); err != nil {
		return Blueprint{}, fmt.Errorf("decode blueprint: %w", err)
	}
	return bp, nil
}
