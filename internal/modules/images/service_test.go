package images

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/storyforge-backend/internal/data/repos"
	"github.com/yungbote/storyforge-backend/internal/data/repos/testutil"
	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/modules/prompts"
	"github.com/yungbote/storyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/storyforge-backend/internal/platform/apierr"
	"github.com/yungbote/storyforge-backend/internal/platform/openai"
	"github.com/yungbote/storyforge-backend/internal/platform/openai/openaitest"
)

type fixture struct {
	svc   *Service
	fake  *openaitest.Fake
	repos repos.Repos
	pkg   *domain.MaterialPackage
	scene *domain.ImageAsset
	sheet *domain.ImageAsset
	shot  *domain.ImageAsset
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()
	project := testutil.SeedProject(t, ctx, db, "lighthouse")
	raw, err := json.Marshal(storyBlueprint())
	if err != nil {
		t.Fatalf("marshal blueprint: %v", err)
	}
	pkg := testutil.SeedPackage(t, ctx, db, project.ID, 1, raw)
	seed := func(a *domain.ImageAsset) *domain.ImageAsset {
		a.PackageID = pkg.ID
		a.Prompt = "original prompt"
		return testutil.SeedImage(t, ctx, db, a)
	}
	f := &fixture{pkg: pkg}
	f.scene = seed(img(domain.ImageScene, "https://cdn.test/scene.png", true, func(a *domain.ImageAsset) { a.SceneID = "scene_1" }))
	f.sheet = seed(img(domain.ImageCharacterSheet, "https://cdn.test/mara.png", true, func(a *domain.ImageAsset) { a.SubjectID = "char_1"; a.SubjectName = "Mara" }))
	f.shot = seed(img(domain.ImageStoryboard, "https://cdn.test/shot2.png", true, func(a *domain.ImageAsset) {
		a.ShotID = "shot_2"
		a.SceneID = "scene_1"
		a.PromptParts = datatypes.JSON([]byte(`{"content":"original prompt"}`))
	}))

	set, err := prompts.Default()
	if err != nil {
		t.Fatalf("prompts: %v", err)
	}
	f.repos = repos.New(db, log)
	f.fake = &openaitest.Fake{}
	f.svc = NewService(log, f.repos.Packages, f.repos.Images, f.fake, set)
	return f
}

func okImage(req openai.ImageRequest) (openai.ImageResult, error) {
	return openai.ImageResult{URL: "https://cdn.test/new.png", Provider: "openai", Model: "gpt-image-1", Size: req.Size}, nil
}

func TestRegenerateStoryboardAddsInactiveVariantWithReferences(t *testing.T) {
	f := newFixture(t)
	f.fake.Image = okImage
	ctx := context.Background()

	out, err := f.svc.Regenerate(ctx, f.shot.ID.String(), RegenerateInput{Prompt: "closer on Mara", Size: "1024x768"})
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if out.IsActive {
		t.Fatalf("regenerated image should start inactive")
	}
	if out.GroupKey != f.shot.GroupKey {
		t.Fatalf("group key: want=%s got=%s", f.shot.GroupKey, out.GroupKey)
	}
	if out.RegeneratedFrom == nil || *out.RegeneratedFrom != f.shot.ID {
		t.Fatalf("regenerated_from: %v", out.RegeneratedFrom)
	}
	if out.PromptSource != defaultPromptSource {
		t.Fatalf("prompt source: %q", out.PromptSource)
	}

	calls := f.fake.ImageCalls()
	if len(calls) != 1 {
		t.Fatalf("image calls: %d", len(calls))
	}
	want := []string{"https://cdn.test/scene.png", "https://cdn.test/mara.png"}
	if len(calls[0].References) != 2 || calls[0].References[0] != want[0] || calls[0].References[1] != want[1] {
		t.Fatalf("references: want %v got %v", want, calls[0].References)
	}

	pkg, err := f.repos.Packages.GetByID(dbctx.Context{Ctx: ctx}, f.pkg.ID)
	if err != nil {
		t.Fatalf("reload package: %v", err)
	}
	meta, _ := domain.DecodePackageMetadata(pkg.Metadata)
	if meta.ImageSize != "1024x768" || meta.ImagePlan.Size != "1024x768" {
		t.Fatalf("metadata size: %+v", meta)
	}
}

func TestRegenerateProviderFailureIsBadGateway(t *testing.T) {
	f := newFixture(t)
	f.fake.Image = func(openai.ImageRequest) (openai.ImageResult, error) {
		return openai.ImageResult{}, &openai.ProviderError{Kind: openai.KindUpstreamUnavailable, StatusCode: 503}
	}
	_, err := f.svc.Regenerate(context.Background(), f.scene.ID.String(), RegenerateInput{Prompt: "at dusk"})
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != http.StatusBadGateway {
		t.Fatalf("want 502, got %v", err)
	}
	imgs, _ := f.repos.Images.ListByPackage(dbctx.Context{Ctx: context.Background()}, f.pkg.ID)
	if len(imgs) != 3 {
		t.Fatalf("no image should be stored on failure, have %d", len(imgs))
	}
	if refs := f.fake.ImageCalls()[0].References; len(refs) != 0 {
		t.Fatalf("scene regeneration should not send references: %v", refs)
	}
}

func TestRegenerateValidatesInput(t *testing.T) {
	f := newFixture(t)
	var ae *apierr.Error
	if _, err := f.svc.Regenerate(context.Background(), f.scene.ID.String(), RegenerateInput{}); !errors.As(err, &ae) || ae.Status != http.StatusBadRequest {
		t.Fatalf("empty prompt: %v", err)
	}
	if _, err := f.svc.Regenerate(context.Background(), uuid.NewString(), RegenerateInput{Prompt: "x"}); !errors.As(err, &ae) || ae.Status != http.StatusNotFound {
		t.Fatalf("unknown image: %v", err)
	}
}

func TestAdoptSwitchesActiveVariant(t *testing.T) {
	f := newFixture(t)
	f.fake.Image = okImage
	ctx := context.Background()
	variant, err := f.svc.Regenerate(ctx, f.scene.ID.String(), RegenerateInput{Prompt: "in the rain"})
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if _, err := f.svc.Adopt(ctx, variant.ID.String()); err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	dbc := dbctx.Context{Ctx: ctx}
	old, _ := f.repos.Images.GetByID(dbc, f.scene.ID)
	cur, _ := f.repos.Images.GetByID(dbc, variant.ID)
	if old.IsActive || !cur.IsActive {
		t.Fatalf("active flags: old=%v new=%v", old.IsActive, cur.IsActive)
	}
	sheet, _ := f.repos.Images.GetByID(dbc, f.sheet.ID)
	if !sheet.IsActive {
		t.Fatalf("other groups must be untouched")
	}
}

func TestFeedbackFallsBackToOriginalPrompt(t *testing.T) {
	f := newFixture(t)
	f.fake.Text = func(req openai.TextRequest) (string, error) {
		if req.Prior["prompt_parts"] == nil {
			t.Fatalf("prompt parts should be passed as prior context")
		}
		return "   ", nil
	}
	got, err := f.svc.Feedback(context.Background(), f.shot.ID.String(), "warmer light")
	if err != nil {
		t.Fatalf("Feedback: %v", err)
	}
	if got != "original prompt" {
		t.Fatalf("fallback prompt: %q", got)
	}

	f.fake.Text = func(openai.TextRequest) (string, error) { return "original prompt, warm lantern light", nil }
	got, err = f.svc.Feedback(context.Background(), f.shot.ID.String(), "warmer light")
	if err != nil || got != "original prompt, warm lantern light" {
		t.Fatalf("rewrite: %q %v", got, err)
	}
}

func TestGenerateStoryboardFirstImageIsActive(t *testing.T) {
	f := newFixture(t)
	f.fake.Image = okImage
	out, err := f.svc.GenerateStoryboard(context.Background(), f.pkg.ID.String(), "shot_1", StoryboardInput{})
	if err != nil {
		t.Fatalf("GenerateStoryboard: %v", err)
	}
	if !out.IsActive || out.GroupKey != "storyboard:shot_1" || out.PromptSource != "generated" {
		t.Fatalf("storyboard image: %+v", out)
	}
	if _, err := f.svc.GenerateStoryboard(context.Background(), f.pkg.ID.String(), "shot_9", StoryboardInput{}); err == nil {
		t.Fatalf("unknown shot should fail")
	}
}

func TestGenerateStoryboardConcurrentFirstRendersKeepOneActive(t *testing.T) {
	f := newFixture(t)
	var arrived sync.WaitGroup
	arrived.Add(2)
	f.fake.Image = func(req openai.ImageRequest) (openai.ImageResult, error) {
		arrived.Done()
		arrived.Wait()
		return okImage(req)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.GenerateStoryboard(context.Background(), f.pkg.ID.String(), "shot_1", StoryboardInput{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("GenerateStoryboard: %v", err)
		}
	}

	imgs, err := f.repos.Images.ListByPackage(dbctx.Context{Ctx: context.Background()}, f.pkg.ID)
	if err != nil {
		t.Fatalf("ListByPackage: %v", err)
	}
	total, active := 0, 0
	for _, img := range imgs {
		if img.GroupKey != "storyboard:shot_1" {
			continue
		}
		total++
		if img.IsActive {
			active++
		}
	}
	if total != 2 || active != 1 {
		t.Fatalf("storyboard:shot_1 images=%d active=%d", total, active)
	}
}
