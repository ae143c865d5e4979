package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultPromptsAreComplete(t *testing.T) {
	set, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if got := set.Stage("summary").Required; len(got) != 2 || got[0] != "summary" || got[1] != "keywords" {
		t.Fatalf("summary required keys: %v", got)
	}
	if len(set.Todo) != 5 || set.Todo[0].ID != "summary" || set.Todo[4].ID != "storyboard" {
		t.Fatalf("todo list: %+v", set.Todo)
	}
	if !strings.Contains(set.Constraint("scene"), "empty environment") {
		t.Fatalf("scene constraints: %q", set.Constraint("scene"))
	}
	for _, target := range []string{"image_prompt", "summary", "art_style", "subject", "scene", "storyboard_description"} {
		if set.RewriteSystem(target) == "" {
			t.Fatalf("rewrite prompt %s missing", target)
		}
	}
}

func TestRenderFillsPlaceholders(t *testing.T) {
	set, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	out := set.Render("scene", map[string]string{
		"scene_summary": "a quiet harbor at dawn",
		"mood":          "calm",
		"keywords":      "sea, fog",
		"style":         "watercolor",
	})
	for _, want := range []string{"Scene summary: a quiet harbor at dawn", "Mood: calm", "Keywords: sea, fog", "Style: watercolor"} {
		if !strings.Contains(out, want) {
			t.Fatalf("rendered scene prompt missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "{{") {
		t.Fatalf("unfilled placeholder:\n%s", out)
	}
}

func TestLoadFallsBackOnBrokenOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("stages: {}\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(overrideEnv, path)
	set := Load(nil)
	if set.Stage("storyboard").System == "" {
		t.Fatalf("expected embedded prompts after invalid override")
	}
}

func TestParseRejectsMissingStage(t *testing.T) {
	if _, err := Parse([]byte("stages:\n  summary:\n    required: [summary]\n    system: hi\n")); err == nil {
		t.Fatalf("expected error for incomplete stage set")
	}
}
