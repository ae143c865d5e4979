package generation

import (
	"encoding/json"
	"fmt"
	"time"
)

const CandidatesVersion = "v1"

// Candidate is one user-driven revision of a blueprint field.
type Candidate struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"`
	Feedback  string          `json:"feedback"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
}

// CandidateGroup holds every candidate for one field. ActiveID, when set,
// names a member of Candidates.
type CandidateGroup struct {
	ActiveID   *string     `json:"active_id"`
	Candidates []Candidate `json:"candidates"`
}

// TextCandidates is the overlay stored beside a package's blueprint.
type TextCandidates struct {
	Version    string                     `json:"version"`
	Summary    *CandidateGroup            `json:"summary"`
	ArtStyle   *CandidateGroup            `json:"art_style"`
	Subjects   map[string]*CandidateGroup `json:"subjects"`
	Scenes     map[string]*CandidateGroup `json:"scenes"`
	Storyboard map[string]*CandidateGroup `json:"storyboard"`
}

// NewTextCandidates returns an empty, fully initialised overlay.
func NewTextCandidates() *TextCandidates {
	tc := &TextCandidates{}
	tc.normalize()
	return tc
}

func (tc *TextCandidates) normalize() {
	tc.Version = CandidatesVersion
	if tc.Summary == nil {
		tc.Summary = &CandidateGroup{Candidates: []Candidate{}}
	}
	if tc.ArtStyle == nil {
		tc.ArtStyle = &CandidateGroup{Candidates: []Candidate{}}
	}
	if tc.Subjects == nil {
		tc.Subjects = map[string]*CandidateGroup{}
	}
	if tc.Scenes == nil {
		tc.Scenes = map[string]*CandidateGroup{}
	}
	if tc.Storyboard == nil {
		tc.Storyboard = map[string]*CandidateGroup{}
	}
}

// DecodeTextCandidates reads a stored overlay column, filling missing groups.
func DecodeTextCandidates(raw []byte) (*TextCandidates, error) {
	tc := &TextCandidates{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, tc); err != nil {
			return nil, fmt.Errorf("decode text candidates: %w", err)
		}
	}
	tc.normalize()
	return tc, nil
}

// Find returns the candidate with id, if present.
func (g *CandidateGroup) Find(id string) (Candidate, bool) {
	if g == nil {
		return Candidate{}, false
	}
	for _, c := range g.Candidates {
		if c.ID == id {
			return c, true
		}
	}
	return Candidate{}, false
}

// Active returns the active candidate, if any.
func (g *CandidateGroup) Active() (Candidate, bool) {
	if g == nil || g.ActiveID == nil {
		return Candidate{}, false
	}
	return g.Find(*g.ActiveID)
}

// Append adds c and makes it active.
func (g *CandidateGroup) Append(c Candidate) {
	g.Candidates = append(g.Candidates, c)
	id := c.ID
	g.ActiveID = &id
}
