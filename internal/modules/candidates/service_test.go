package candidates

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/yungbote/storyforge-backend/internal/data/repos"
	"github.com/yungbote/storyforge-backend/internal/data/repos/testutil"
	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/modules/prompts"
	"github.com/yungbote/storyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/storyforge-backend/internal/platform/apierr"
	"github.com/yungbote/storyforge-backend/internal/platform/openai"
	"github.com/yungbote/storyforge-backend/internal/platform/openai/openaitest"
)

func testBlueprint() domain.Blueprint {
	return domain.Blueprint{
		Version: "v1",
		Summary: domain.BlueprintText{Logline: "a lighthouse keeper's last night", Synopsis: "the keeper waits"},
		ArtStyle: domain.ArtStyle{
			StyleName:   "ink wash",
			StylePrompt: "soft ink wash",
		},
		Subjects: []domain.Subject{{ID: "char_1", Name: "Mara", Description: "the keeper"}},
		Scenes: []domain.Scene{
			{ID: "scene_1", Name: "Lamp room", Description: "glass and brass", Mood: "quiet"},
		},
		Storyboard: []domain.Shot{{ID: "shot_1", ShotNumber: 1, SceneID: "scene_1", Description: "Mara lights the lamp"}},
	}
}

type fixture struct {
	svc   *Service
	fake  *openaitest.Fake
	repos repos.Repos
	pkg   *domain.MaterialPackage
	bp    []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()
	project := testutil.SeedProject(t, ctx, db, "lighthouse")
	raw, err := json.Marshal(testBlueprint())
	if err != nil {
		t.Fatalf("marshal blueprint: %v", err)
	}
	pkg := testutil.SeedPackage(t, ctx, db, project.ID, 1, raw)
	set, err := prompts.Default()
	if err != nil {
		t.Fatalf("prompts: %v", err)
	}
	r := repos.New(db, log)
	fake := &openaitest.Fake{}
	return &fixture{svc: NewService(log, r.Packages, fake, set), fake: fake, repos: r, pkg: pkg, bp: raw}
}

func (f *fixture) reload(t *testing.T) (*domain.MaterialPackage, *domain.TextCandidates) {
	t.Helper()
	pkg, err := f.repos.Packages.GetByID(dbctx.Context{Ctx: context.Background()}, f.pkg.ID)
	if err != nil {
		t.Fatalf("reload package: %v", err)
	}
	tc, err := domain.DecodeTextCandidates(pkg.TextCandidates)
	if err != nil {
		t.Fatalf("decode candidates: %v", err)
	}
	return pkg, tc
}

func TestTwoSceneFeedbacksStackWithoutTouchingBlueprint(t *testing.T) {
	f := newFixture(t)
	var inputs []string
	f.fake.JSON = func(req openai.TextRequest) (string, error) {
		inputs = append(inputs, req.Input)
		var cur domain.Scene
		if err := json.Unmarshal([]byte(req.Input), &cur); err != nil {
			t.Fatalf("rewrite input is not a scene: %v", err)
		}
		cur.Description = cur.Description + " + " + req.Feedback
		out, _ := json.Marshal(cur)
		return string(out), nil
	}
	ref := FieldRef{Target: TargetScene, ID: "scene_1"}
	ctx := context.Background()

	a, err := f.svc.Propose(ctx, f.pkg.ID.String(), ref, "add fog")
	if err != nil {
		t.Fatalf("Propose A: %v", err)
	}
	b, err := f.svc.Propose(ctx, f.pkg.ID.String(), ref, "make it night")
	if err != nil {
		t.Fatalf("Propose B: %v", err)
	}
	if !strings.Contains(inputs[1], "add fog") {
		t.Fatalf("second rewrite should start from the edited value, got %s", inputs[1])
	}

	pkg, tc := f.reload(t)
	g := tc.Scenes["scene_1"]
	if g == nil || len(g.Candidates) != 2 {
		t.Fatalf("scene group: %+v", g)
	}
	if g.ActiveID == nil || *g.ActiveID != b.ID {
		t.Fatalf("active id: want=%s got=%v", b.ID, g.ActiveID)
	}
	if g.Candidates[0].ID != a.ID {
		t.Fatalf("first candidate should be A")
	}
	if string(pkg.Blueprint) != string(f.bp) {
		t.Fatalf("blueprint changed:\nwant %s\ngot  %s", f.bp, pkg.Blueprint)
	}
	bp, _ := domain.DecodeBlueprint(pkg.Blueprint)
	sc, _ := ResolveScene(bp, tc, "scene_1")
	if sc.Description != "glass and brass + add fog + make it night" {
		t.Fatalf("resolved scene: %q", sc.Description)
	}
	if sc.ID != "scene_1" {
		t.Fatalf("resolved scene id: %q", sc.ID)
	}
}

func TestAdoptSwitchesActiveCandidate(t *testing.T) {
	f := newFixture(t)
	n := 0
	f.fake.JSON = func(req openai.TextRequest) (string, error) {
		n++
		return `{"summary":"version ` + string(rune('0'+n)) + `"}`, nil
	}
	ctx := context.Background()
	ref := FieldRef{Target: TargetSummary}
	first, err := f.svc.Propose(ctx, f.pkg.ID.String(), ref, "shorter")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := f.svc.Propose(ctx, f.pkg.ID.String(), ref, "darker"); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := f.svc.Adopt(ctx, f.pkg.ID.String(), ref, first.ID); err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	pkg, tc := f.reload(t)
	bp, _ := domain.DecodeBlueprint(pkg.Blueprint)
	if got := ResolveSummary(bp, tc); got != "version 1" {
		t.Fatalf("resolved summary: %q", got)
	}
	if len(tc.Summary.Candidates) != 2 {
		t.Fatalf("adopt must not discard candidates")
	}
}

func TestAdoptUnknownCandidateIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Adopt(context.Background(), f.pkg.ID.String(), FieldRef{Target: TargetArtStyle}, "missing")
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != http.StatusNotFound {
		t.Fatalf("want 404, got %v", err)
	}
	_, err = f.svc.Adopt(context.Background(), f.pkg.ID.String(), FieldRef{Target: TargetScene, ID: "scene_1"}, "missing")
	if !errors.As(err, &ae) || ae.Status != http.StatusNotFound {
		t.Fatalf("want 404 for missing group, got %v", err)
	}
}

func TestProposeUnknownFieldIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Propose(context.Background(), f.pkg.ID.String(), FieldRef{Target: TargetSubject, ID: "char_9"}, "taller")
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != http.StatusNotFound {
		t.Fatalf("want 404, got %v", err)
	}
	if len(f.fake.TextCalls()) != 0 {
		t.Fatalf("no model call expected for an unknown field")
	}
}

func TestProposeKeepsCurrentValueOnInvalidRewrite(t *testing.T) {
	f := newFixture(t)
	f.fake.JSON = func(openai.TextRequest) (string, error) { return `{"other":"x"}`, nil }
	c, err := f.svc.Propose(context.Background(), f.pkg.ID.String(), FieldRef{Target: TargetStoryboard, ID: "shot_1"}, "closer")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if !strings.Contains(string(c.Value), "Mara lights the lamp") {
		t.Fatalf("candidate should keep current description, got %s", c.Value)
	}
}

func TestProposeProviderFailureIsBadGateway(t *testing.T) {
	f := newFixture(t)
	f.fake.JSON = func(openai.TextRequest) (string, error) {
		return "", &openai.ProviderError{Kind: openai.KindRateLimited, StatusCode: 429}
	}
	_, err := f.svc.Propose(context.Background(), f.pkg.ID.String(), FieldRef{Target: TargetArtStyle}, "warmer")
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != http.StatusBadGateway {
		t.Fatalf("want 502, got %v", err)
	}
	_, tc := f.reload(t)
	if len(tc.ArtStyle.Candidates) != 0 {
		t.Fatalf("failed rewrite must not append a candidate")
	}
}

func TestParseTarget(t *testing.T) {
	cases := map[string]Target{
		"summary":                TargetSummary,
		"ART_STYLE":              TargetArtStyle,
		"subject":                TargetSubject,
		"scene":                  TargetScene,
		"storyboard_description": TargetStoryboard,
		"storyboard":             TargetStoryboard,
	}
	for in, want := range cases {
		got, err := ParseTarget(in)
		if err != nil || got != want {
			t.Fatalf("ParseTarget(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseTarget("video"); err == nil {
		t.Fatalf("expected error for unknown target")
	}
}
