package prompts

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

const overrideEnv = "GENERATION_PROMPTS_YAML"

//go:embed prompts.yaml
var promptsFS embed.FS

type TodoItem struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

type Stage struct {
	Required []string `yaml:"required"`
	System   string   `yaml:"system"`
}

// Set is every prompt text the generation, overlay, and image services use.
type Set struct {
	Version          int               `yaml:"version"`
	AssistantMessage string            `yaml:"assistant_message"`
	Todo             []TodoItem        `yaml:"todo"`
	Stages           map[string]Stage  `yaml:"stages"`
	Rewrite          map[string]string `yaml:"rewrite"`
	Templates        map[string]string `yaml:"templates"`
	Constraints      map[string]string `yaml:"constraints"`
}

var requiredStages = []string{"summary", "art_style", "package_name", "characters", "scenes", "storyboard"}

// Load reads the override file named by GENERATION_PROMPTS_YAML, falling back
// to the embedded set when the override is missing or invalid.
func Load(log *logger.Logger) *Set {
	if path := strings.TrimSpace(os.Getenv(overrideEnv)); path != "" {
		set, err := loadFile(path)
		if err == nil {
			return set
		}
		if log != nil {
			log.Warn("prompt override load failed; using embedded prompts", "path", path, "error", err)
		}
	}
	set, err := Default()
	if err != nil {
		// embedded prompts are compiled in; failing here is a build defect
		panic(err)
	}
	return set
}

// Default parses the embedded prompt set.
func Default() (*Set, error) {
	raw, err := promptsFS.ReadFile("prompts.yaml")
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func loadFile(path string) (*Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	if err := set.validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

func (s *Set) validate() error {
	if len(s.Stages) == 0 {
		return errors.New("prompts: no stages defined")
	}
	for _, name := range requiredStages {
		st, ok := s.Stages[name]
		if !ok || strings.TrimSpace(st.System) == "" {
			return fmt.Errorf("prompts: stage %s missing system prompt", name)
		}
		if len(st.Required) == 0 {
			return fmt.Errorf("prompts: stage %s has no required keys", name)
		}
	}
	for _, name := range []string{"scene", "character"} {
		if strings.TrimSpace(s.Constraints[name]) == "" {
			return fmt.Errorf("prompts: constraints %s missing", name)
		}
	}
	return nil
}

func (s *Set) Stage(name string) Stage { return s.Stages[name] }

func (s *Set) RewriteSystem(target string) string {
	return strings.TrimSpace(s.Rewrite[target])
}

func (s *Set) Constraint(name string) string {
	return strings.TrimSpace(s.Constraints[name])
}

// Render fills {{key}} placeholders in the named template.
func (s *Set) Render(template string, vars map[string]string) string {
	return Render(s.Templates[template], vars)
}

func Render(template string, vars map[string]string) string {
	out := template
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return strings.TrimSpace(out)
}
