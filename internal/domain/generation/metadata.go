package generation

import (
	"encoding/json"
	"fmt"
)

type ImagePlan struct {
	Prompt      string  `json:"prompt"`
	Style       *string `json:"style"`
	AspectRatio string  `json:"aspect_ratio"`
	Size        string  `json:"size"`
	Seed        *int64  `json:"seed"`
}

type ArtStyleSummary struct {
	StyleName   string `json:"style_name"`
	Description string `json:"description"`
}

// PackageMetadata is the metadata column of a material package.
type PackageMetadata struct {
	Summary         string           `json:"summary"`
	Keywords        []string         `json:"keywords"`
	PackageName     string           `json:"package_name"`
	ImageSize       string           `json:"image_size"`
	ImagePlan       ImagePlan        `json:"image_plan"`
	UserPrompt      string           `json:"user_prompt"`
	GenerationMode  string           `json:"generation_mode"`
	ImageModelID    string           `json:"image_model_id,omitempty"`
	InputConfig     map[string]any   `json:"input_config"`
	InputDocuments  []map[string]any `json:"input_documents"`
	ParentPackageID *string          `json:"parent_package_id"`
	ArtStyle        ArtStyleSummary  `json:"art_style"`
}

func DecodePackageMetadata(raw []byte) (PackageMetadata, error) {
	var md PackageMetadata
	if len(raw) == 0 || string(raw) == "null" {
		return md, nil
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return PackageMetadata{}, fmt.Errorf("decode package metadata: %w", err)
	}
	return md, nil
}
