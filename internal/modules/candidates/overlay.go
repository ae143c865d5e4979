package candidates

import (
	"encoding/json"
	"fmt"
	"strings"

	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
)

// Target names an editable blueprint field kind.
type Target string

const (
	TargetSummary    Target = "summary"
	TargetArtStyle   Target = "art_style"
	TargetSubject    Target = "subject"
	TargetScene      Target = "scene"
	TargetStoryboard Target = "storyboard_description"
)

// ParseTarget accepts the target names used by the adopt endpoint.
func ParseTarget(raw string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "summary":
		return TargetSummary, nil
	case "art_style":
		return TargetArtStyle, nil
	case "subject", "subjects":
		return TargetSubject, nil
	case "scene", "scenes":
		return TargetScene, nil
	case "storyboard", "storyboard_description":
		return TargetStoryboard, nil
	default:
		return "", fmt.Errorf("invalid target_type %q", raw)
	}
}

// FieldRef addresses one field. ID is the subject, scene or shot id and is
// empty for summary and art_style.
type FieldRef struct {
	Target Target
	ID     string
}

func (r FieldRef) String() string {
	if r.ID == "" {
		return string(r.Target)
	}
	return fmt.Sprintf("%s[%s]", r.Target, r.ID)
}

func (r FieldRef) keyed() bool {
	return r.Target == TargetSubject || r.Target == TargetScene || r.Target == TargetStoryboard
}

// Group returns the field's candidate group. With create, a missing keyed
// group is added to tc.
func Group(tc *domain.TextCandidates, ref FieldRef, create bool) *domain.CandidateGroup {
	var m map[string]*domain.CandidateGroup
	switch ref.Target {
	case TargetSummary:
		return tc.Summary
	case TargetArtStyle:
		return tc.ArtStyle
	case TargetSubject:
		m = tc.Subjects
	case TargetScene:
		m = tc.Scenes
	case TargetStoryboard:
		m = tc.Storyboard
	default:
		return nil
	}
	g, ok := m[ref.ID]
	if !ok && create {
		g = &domain.CandidateGroup{Candidates: []domain.Candidate{}}
		m[ref.ID] = g
	}
	return g
}

// Exists reports whether the blueprint has the field ref points at.
func Exists(bp domain.Blueprint, ref FieldRef) bool {
	switch ref.Target {
	case TargetSummary, TargetArtStyle:
		return true
	case TargetSubject:
		_, ok := bp.Subject(ref.ID)
		return ok
	case TargetScene:
		_, ok := bp.Scene(ref.ID)
		return ok
	case TargetStoryboard:
		_, _, ok := bp.Shot(ref.ID)
		return ok
	}
	return false
}

func active(tc *domain.TextCandidates, ref FieldRef) (json.RawMessage, bool) {
	if tc == nil {
		return nil, false
	}
	c, ok := Group(tc, ref, false).Active()
	if !ok || len(c.Value) == 0 || string(c.Value) == "null" {
		return nil, false
	}
	return c.Value, true
}

// ResolveSummary returns the active candidate's summary, else the logline.
func ResolveSummary(bp domain.Blueprint, tc *domain.TextCandidates) string {
	base := firstNonEmpty(bp.Summary.Logline, bp.Summary.Synopsis)
	raw, ok := active(tc, FieldRef{Target: TargetSummary})
	if !ok {
		return base
	}
	var v struct {
		Summary string `json:"summary"`
	}
	if json.Unmarshal(raw, &v) != nil {
		return base
	}
	return firstNonEmpty(v.Summary, base)
}

func ResolveArtStyle(bp domain.Blueprint, tc *domain.TextCandidates) domain.ArtStyle {
	raw, ok := active(tc, FieldRef{Target: TargetArtStyle})
	if !ok {
		return bp.ArtStyle
	}
	var v domain.ArtStyle
	if json.Unmarshal(raw, &v) != nil {
		return bp.ArtStyle
	}
	return v
}

// ResolveSubject overlays the active candidate onto the blueprint subject.
// The id always stays the blueprint's.
func ResolveSubject(bp domain.Blueprint, tc *domain.TextCandidates, id string) (domain.Subject, bool) {
	base, ok := bp.Subject(id)
	if !ok {
		return domain.Subject{}, false
	}
	raw, has := active(tc, FieldRef{Target: TargetSubject, ID: id})
	if !has {
		return base, true
	}
	out := base
	if json.Unmarshal(raw, &out) != nil {
		return base, true
	}
	out.ID = base.ID
	return out, true
}

func ResolveScene(bp domain.Blueprint, tc *domain.TextCandidates, id string) (domain.Scene, bool) {
	base, ok := bp.Scene(id)
	if !ok {
		return domain.Scene{}, false
	}
	raw, has := active(tc, FieldRef{Target: TargetScene, ID: id})
	if !has {
		return base, true
	}
	out := base
	if json.Unmarshal(raw, &out) != nil {
		return base, true
	}
	out.ID = base.ID
	return out, true
}

func ResolveShotDescription(bp domain.Blueprint, tc *domain.TextCandidates, id string) (string, bool) {
	shot, _, ok := bp.Shot(id)
	if !ok {
		return "", false
	}
	raw, has := active(tc, FieldRef{Target: TargetStoryboard, ID: id})
	if !has {
		return shot.Description, true
	}
	var v struct {
		Description string `json:"description"`
	}
	if json.Unmarshal(raw, &v) != nil {
		return shot.Description, true
	}
	return firstNonEmpty(v.Description, shot.Description), true
}

// Resolved is the blueprint as the user currently sees it.
type Resolved struct {
	Summary    string           `json:"summary"`
	ArtStyle   domain.ArtStyle  `json:"art_style"`
	Subjects   []domain.Subject `json:"subjects"`
	Scenes     []domain.Scene   `json:"scenes"`
	Storyboard []domain.Shot    `json:"storyboard"`
}

// Resolve applies every active candidate. bp is not modified.
func Resolve(bp domain.Blueprint, tc *domain.TextCandidates) Resolved {
	out := Resolved{
		Summary:    ResolveSummary(bp, tc),
		ArtStyle:   ResolveArtStyle(bp, tc),
		Subjects:   make([]domain.Subject, 0, len(bp.Subjects)),
		Scenes:     make([]domain.Scene, 0, len(bp.Scenes)),
		Storyboard: make([]domain.Shot, 0, len(bp.Storyboard)),
	}
	for _, s := range bp.Subjects {
		r, _ := ResolveSubject(bp, tc, s.ID)
		out.Subjects = append(out.Subjects, r)
	}
	for _, s := range bp.Scenes {
		r, _ := ResolveScene(bp, tc, s.ID)
		out.Scenes = append(out.Scenes, r)
	}
	for _, s := range bp.Storyboard {
		shot := s
		shot.Description, _ = ResolveShotDescription(bp, tc, s.ID)
		out.Storyboard = append(out.Storyboard, shot)
	}
	return out
}

// Apply returns a copy of bp with every active candidate applied, for
// consumers that need blueprint-shaped input.
func (r Resolved) Apply(bp domain.Blueprint) domain.Blueprint {
	out := bp
	out.Summary.Logline = r.Summary
	out.ArtStyle = r.ArtStyle
	out.Subjects = r.Subjects
	out.Scenes = r.Scenes
	out.Storyboard = r.Storyboard
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
