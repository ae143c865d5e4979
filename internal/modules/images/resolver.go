package images

import (
	"net/url"
	"strings"

	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
)

// ReferenceLimit caps the reference list sent with one image call.
const ReferenceLimit = 10

var sheetViews = []string{"front", "side", "back"}

// canonical picks the active image among those matching, else the first.
func canonical(images []*domain.ImageAsset, match func(*domain.ImageAsset) bool) *domain.ImageAsset {
	var first *domain.ImageAsset
	for _, img := range images {
		if strings.TrimSpace(img.URL) == "" || !match(img) {
			continue
		}
		if img.IsActive {
			return img
		}
		if first == nil {
			first = img
		}
	}
	return first
}

// SceneReference is the canonical establishing image of a scene.
func SceneReference(images []*domain.ImageAsset, sceneID string) string {
	if sceneID == "" {
		return ""
	}
	img := canonical(images, func(a *domain.ImageAsset) bool {
		return a.Type == domain.ImageScene && a.SceneID == sceneID
	})
	if img == nil {
		return ""
	}
	return img.URL
}

// SubjectReferences returns the subject's canonical character sheet, else its
// front, side and back views, else any image of the subject.
func SubjectReferences(images []*domain.ImageAsset, subjectID string) []string {
	if subjectID == "" {
		return nil
	}
	var all []*domain.ImageAsset
	for _, img := range images {
		if img.SubjectID == subjectID && strings.TrimSpace(img.URL) != "" &&
			(img.Type == domain.ImageCharacterSheet || img.Type == domain.ImageCharacterView) {
			all = append(all, img)
		}
	}
	if len(all) == 0 {
		return nil
	}
	pool := make([]*domain.ImageAsset, 0, len(all))
	for _, img := range all {
		if img.IsActive {
			pool = append(pool, img)
		}
	}
	if len(pool) == 0 {
		pool = all
	}
	for _, img := range pool {
		if img.Type == domain.ImageCharacterSheet {
			return []string{img.URL}
		}
	}
	var views []string
	for _, v := range sheetViews {
		for _, img := range pool {
			if img.View == v {
				views = append(views, img.URL)
				break
			}
		}
	}
	if len(views) > 0 {
		return views
	}
	return []string{pool[0].URL}
}

// ShotSubjectIDs finds the subjects a shot mentions: explicit ids first, then
// exact name matches, then names appearing in the shot text.
func ShotSubjectIDs(shot domain.Shot, subjects []domain.Subject) []string {
	if ids := dedupe(shot.SubjectIDs); len(ids) > 0 {
		return ids
	}
	if len(shot.SubjectNames) > 0 {
		names := map[string]bool{}
		for _, n := range shot.SubjectNames {
			if n = strings.TrimSpace(n); n != "" {
				names[n] = true
			}
		}
		var matched []string
		for _, s := range subjects {
			if s.ID != "" && names[strings.TrimSpace(s.Name)] {
				matched = append(matched, s.ID)
			}
		}
		if len(matched) > 0 {
			return dedupe(matched)
		}
	}
	text := strings.Join([]string{shot.Description, shot.PromptHint, shot.Prompt}, " ")
	var matched []string
	for _, s := range subjects {
		name := strings.TrimSpace(s.Name)
		if s.ID != "" && name != "" && strings.Contains(text, name) {
			matched = append(matched, s.ID)
		}
	}
	return dedupe(matched)
}

// StoryboardReferences orders the scene image, the mentioned subjects' sheets
// and the previous shot's image into one capped, deduplicated list.
func StoryboardReferences(bp domain.Blueprint, images []*domain.ImageAsset, shotID, fallbackSceneID string) []string {
	shot, idx, ok := bp.Shot(shotID)
	if !ok {
		return FinalizeReferences([]string{SceneReference(images, fallbackSceneID)})
	}
	sceneID := firstNonEmpty(shot.SceneID, fallbackSceneID)
	refs := []string{SceneReference(images, sceneID)}
	for _, id := range ShotSubjectIDs(shot, bp.Subjects) {
		refs = append(refs, SubjectReferences(images, id)...)
	}
	if idx > 0 {
		prev := bp.Storyboard[idx-1].ID
		if img := canonical(images, func(a *domain.ImageAsset) bool {
			return a.Type == domain.ImageStoryboard && a.ShotID == prev
		}); img != nil {
			refs = append(refs, img.URL)
		}
	}
	return FinalizeReferences(refs)
}

// FinalizeReferences keeps http(s) URLs only, drops repeats keeping the
// first, and caps the list.
func FinalizeReferences(urls []string) []string {
	out := make([]string, 0, len(urls))
	seen := map[string]bool{}
	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		if u == "" || seen[u] || !isHTTP(u) {
			continue
		}
		seen[u] = true
		out = append(out, u)
		if len(out) == ReferenceLimit {
			break
		}
	}
	return out
}

func isHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func dedupe(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
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
