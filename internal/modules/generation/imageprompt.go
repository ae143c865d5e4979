package generation

import (
	"fmt"
	"strings"

	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/modules/prompts"
)

// PromptParts is stored with each image so edits can keep style and
// constraints separate from the content line.
type PromptParts struct {
	Content     string `json:"content"`
	Style       string `json:"style"`
	Constraints string `json:"constraints"`
}

var aspectSizes = map[string]string{
	"16:9":   "1280x720",
	"4:3":    "1024x768",
	"2.35:1": "1280x544",
	"19:16":  "1140x960",
	"3:4":    "960x1280",
}

// ResolveImageSize prefers an explicit image_size, then a known aspect ratio.
func ResolveImageSize(inputConfig map[string]any, fallback string) string {
	if s, ok := inputConfig["image_size"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	if r, ok := inputConfig["aspect_ratio"].(string); ok {
		if size, ok := aspectSizes[strings.TrimSpace(r)]; ok {
			return size
		}
	}
	if strings.TrimSpace(fallback) != "" {
		return strings.TrimSpace(fallback)
	}
	return "960x1280"
}

// StyleLine is the style prompt followed by a Palette line when a palette exists.
func StyleLine(style domain.ArtStyle) string {
	out := strings.TrimSpace(style.StylePrompt)
	palette := cleanList(style.Palette)
	if len(palette) == 0 {
		return out
	}
	line := "Palette: " + strings.Join(palette, ", ")
	if out == "" {
		return line
	}
	return out + "\n" + line
}

// ComposeImagePrompt appends Style and Constraints sections unless the base
// prompt already carries them. A style or constraints value that already
// starts with its header is appended as is.
func ComposeImagePrompt(base, style, constraints string) string {
	base = strings.TrimSpace(base)
	var sections []string
	if base != "" {
		sections = append(sections, base)
	}
	if s := section("Style:", "风格", base, style); s != "" {
		sections = append(sections, s)
	}
	if s := section("Constraints:", "约束", base, constraints); s != "" {
		sections = append(sections, s)
	}
	return strings.TrimSpace(strings.Join(sections, "\n\n"))
}

func section(header, cjk, base, body string) string {
	body = strings.TrimSpace(body)
	if body == "" || hasMarker(base, header, cjk) {
		return ""
	}
	if startsWithMarker(body, header, cjk) {
		return body
	}
	return header + "\n" + body
}

func hasMarker(text, header, cjk string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(header)) || strings.Contains(text, cjk)
}

func startsWithMarker(text, header, cjk string) bool {
	return strings.HasPrefix(strings.ToLower(text), strings.ToLower(header)) || strings.HasPrefix(text, cjk)
}

// CharacterSheetPrompt is the prompt for a subject's turnaround sheet.
func CharacterSheetPrompt(p *prompts.Set, bp domain.Blueprint, s domain.Subject) string {
	style := StyleLine(bp.ArtStyle)
	if s.ImagePrompt != "" {
		return ComposeImagePrompt(s.ImagePrompt, style, p.Constraint("character"))
	}
	sheet := p.Render("character_sheet", map[string]string{
		"character_name":        firstNonEmpty(s.Name, "Character"),
		"character_description": s.Description,
		"visual_traits":         strings.Join(cleanList(s.VisualTraits), ", "),
		"style":                 style,
	})
	return firstNonEmpty(sheet, bp.Summary.Logline)
}

// ScenePrompt is the prompt for a scene's establishing image.
func ScenePrompt(p *prompts.Set, bp domain.Blueprint, sc domain.Scene) string {
	if sc.ImagePrompt != "" {
		return ComposeImagePrompt(sc.ImagePrompt, StyleLine(bp.ArtStyle), p.Constraint("scene"))
	}
	return firstNonEmpty(sc.PromptHint, sc.Description, bp.Summary.Logline)
}

func CharacterPromptParts(p *prompts.Set, bp domain.Blueprint, s domain.Subject, sheetPrompt string) PromptParts {
	lines := []string{
		"Character: " + firstNonEmpty(s.Name, "Character"),
		"Description: " + s.Description,
		"Turnaround: front / side / back in one canvas",
		"Front: face and torso details; Side: profile and silhouette; Back: hair and back details",
	}
	if traits := cleanList(s.VisualTraits); len(traits) > 0 {
		lines = append(lines, "Visual traits: "+strings.Join(traits, ", "))
	}
	if sheetPrompt != "" {
		lines = append(lines, "Prompt: "+sheetPrompt)
	}
	return PromptParts{
		Content:     strings.Join(lines, "\n"),
		Style:       StyleLine(bp.ArtStyle),
		Constraints: p.Constraint("character"),
	}
}

func ScenePromptParts(p *prompts.Set, bp domain.Blueprint, sc domain.Scene) PromptParts {
	lines := []string{
		"Scene summary: " + firstNonEmpty(sc.Description, bp.Summary.Synopsis),
		"Mood: " + firstNonEmpty(sc.Mood, "neutral"),
	}
	if kw := cleanList(bp.Summary.Keywords); len(kw) > 0 {
		lines = append(lines, "Keywords: "+strings.Join(kw, ", "))
	}
	return PromptParts{
		Content:     strings.Join(lines, "\n"),
		Style:       StyleLine(bp.ArtStyle),
		Constraints: p.Constraint("scene"),
	}
}

// StoryboardPrompt builds a shot prompt from the shot, its scene and the
// subjects that appear in it.
func StoryboardPrompt(bp domain.Blueprint, shot domain.Shot, subjects []domain.Subject) string {
	lines := []string{fmt.Sprintf("Storyboard shot %d: %s", shot.ShotNumber, firstNonEmpty(shot.Prompt, shot.Description, shot.PromptHint))}
	if shot.Camera != "" {
		lines = append(lines, "Camera: "+shot.Camera)
	}
	if sc, ok := bp.Scene(shot.SceneID); ok {
		lines = append(lines, "Scene: "+firstNonEmpty(sc.Description, sc.Name))
	}
	for _, s := range subjects {
		lines = append(lines, fmt.Sprintf("Character %s: %s", s.Name, s.Description))
	}
	return ComposeImagePrompt(strings.Join(lines, "\n"), StyleLine(bp.ArtStyle), "")
}
