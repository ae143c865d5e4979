package generation

import (
	"fmt"
	"strings"
	"time"

	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/modules/prompts"
)

const (
	defaultStyleName   = "general illustration"
	defaultStylePrompt = "clean, consistent illustration, cohesive palette, soft contrast"
	defaultAspectRatio = "3:4"
	defaultShotSeconds = 3
)

var characterViews = []string{"front", "side", "back"}

// stageOutputs collects the typed results of the text stages.
type stageOutputs struct {
	Summary     SummaryResult
	ArtStyle    ArtStyleResult
	PackageName string
	Characters  []CharacterDraft
	Scenes      []SceneDraft
	Storyboard  []ShotDraft
}

// BuildBlueprint assigns stable ids and fills defaults so every downstream
// consumer can rely on non-empty names, moods and prompt hints.
func BuildBlueprint(p *prompts.Set, out stageOutputs, sourcePrompt string, now time.Time) domain.Blueprint {
	summary := strings.TrimSpace(out.Summary.Summary)
	keywords := cleanList(out.Summary.Keywords)
	logline := firstNonEmpty(summary, sourcePrompt, "Untitled concept")
	synopsis := firstNonEmpty(summary, logline)

	style := domain.ArtStyle{
		StyleName:   firstNonEmpty(out.ArtStyle.StyleName, defaultStyleName),
		StylePrompt: firstNonEmpty(out.ArtStyle.StylePrompt, defaultStylePrompt),
		Palette:     cleanList(out.ArtStyle.Palette),
	}

	defaultMood := "neutral"
	if len(keywords) > 0 {
		defaultMood = keywords[0]
	}

	scenesIn := out.Scenes
	if len(scenesIn) == 0 {
		scenesIn = []SceneDraft{{Name: "Main Scene", Description: synopsis, Mood: defaultMood}}
	}
	scenes := make([]domain.Scene, 0, len(scenesIn))
	for i, s := range scenesIn {
		idx := i + 1
		sc := domain.Scene{
			ID:          fmt.Sprintf("scene_%d", idx),
			Name:        firstNonEmpty(s.Name, fmt.Sprintf("Scene %d", idx)),
			Description: firstNonEmpty(s.Description, synopsis),
			Mood:        firstNonEmpty(s.Mood, defaultMood),
			Purpose:     strings.TrimSpace(s.Purpose),
			ImagePrompt: strings.TrimSpace(s.ImagePrompt),
		}
		sc.PromptHint = p.Render("scene", map[string]string{
			"scene_summary": sc.Description,
			"mood":          sc.Mood,
			"keywords":      strings.Join(keywords, ", "),
			"style":         style.StylePrompt,
		})
		scenes = append(scenes, sc)
	}

	subjects := make([]domain.Subject, 0, len(out.Characters))
	for i, c := range out.Characters {
		idx := i + 1
		name := firstNonEmpty(c.Name, fmt.Sprintf("Character %d", idx))
		desc := strings.TrimSpace(c.Description)
		traits := cleanList(c.VisualTraits)
		views := map[string]string{}
		for _, v := range characterViews {
			views[v] = p.Render("character_view", map[string]string{
				"character_name":        name,
				"character_description": desc,
				"visual_traits":         strings.Join(traits, ", "),
				"style":                 style.StylePrompt,
				"view":                  v,
			})
		}
		subjects = append(subjects, domain.Subject{
			ID:           fmt.Sprintf("char_%d", idx),
			Name:         name,
			Role:         strings.TrimSpace(c.Role),
			Description:  desc,
			VisualTraits: traits,
			Views:        append([]string(nil), characterViews...),
			ViewPrompts:  views,
			PromptHint:   strings.TrimSpace(name + ". " + desc),
			ImagePrompt:  strings.TrimSpace(c.ImagePrompt),
		})
	}

	shots := make([]domain.Shot, 0, len(out.Storyboard))
	for i, s := range out.Storyboard {
		idx := i + 1
		duration := float64(defaultShotSeconds)
		if s.DurationSec != nil && *s.DurationSec > 0 {
			duration = *s.DurationSec
		}
		desc := strings.TrimSpace(s.Description)
		shots = append(shots, domain.Shot{
			ID:           fmt.Sprintf("shot_%d", idx),
			ShotNumber:   idx,
			SceneID:      strings.TrimSpace(s.SceneID),
			Description:  desc,
			DurationSec:  duration,
			Camera:       strings.TrimSpace(s.Camera),
			PromptHint:   desc,
			SubjectIDs:   cleanList(s.SubjectIDs),
			SubjectNames: cleanList(s.SubjectNames),
		})
	}

	return domain.Blueprint{
		Version:    "v1",
		Summary:    domain.BlueprintText{Logline: logline, Synopsis: synopsis, Keywords: keywords},
		ArtStyle:   style,
		Subjects:   subjects,
		Scenes:     scenes,
		Storyboard: shots,
		Generation: domain.GenerationStamp{
			AspectRatio:  defaultAspectRatio,
			CreatedAt:    now.UTC(),
			SourcePrompt: strings.TrimSpace(sourcePrompt),
		},
	}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
