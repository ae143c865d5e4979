package generation

import (
	"sort"
	"strings"

	"github.com/yungbote/storyforge-backend/internal/platform/envutil"
)

// ImageModels maps the image model ids clients may request to provider model names.
type ImageModels struct {
	byID      map[string]string
	defaultID string
}

// ParseImageModels reads "id=model" pairs. A bare entry uses the same string
// for id and model. The first entry is the default.
func ParseImageModels(entries []string) ImageModels {
	m := ImageModels{byID: map[string]string{}}
	for _, e := range entries {
		id, model, ok := strings.Cut(e, "=")
		id = strings.TrimSpace(id)
		if !ok {
			model = id
		}
		model = strings.TrimSpace(model)
		if id == "" || model == "" {
			continue
		}
		if m.defaultID == "" {
			m.defaultID = id
		}
		m.byID[id] = model
	}
	return m
}

// ImageModelsFromEnv reads IMAGE_MODELS, falling back to a single default
// entry for the configured image model.
func ImageModelsFromEnv(defaultModel string) ImageModels {
	entries := envutil.CSV("IMAGE_MODELS")
	if len(entries) == 0 && strings.TrimSpace(defaultModel) != "" {
		entries = []string{"default=" + defaultModel}
	}
	return ParseImageModels(entries)
}

// Resolve returns the provider model for id. An empty id yields "" so the
// client falls back to its configured model.
func (m ImageModels) Resolve(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", true
	}
	model, ok := m.byID[id]
	return model, ok
}

func (m ImageModels) IDs() []string {
	out := make([]string, 0, len(m.byID))
	for id := range m.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m ImageModels) DefaultID() string { return m.defaultID }
