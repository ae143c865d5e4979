package images

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/storyforge-backend/internal/data/repos"
	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/modules/candidates"
	"github.com/yungbote/storyforge-backend/internal/modules/generation"
	"github.com/yungbote/storyforge-backend/internal/modules/prompts"
	"github.com/yungbote/storyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/storyforge-backend/internal/platform/apierr"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
	"github.com/yungbote/storyforge-backend/internal/platform/openai"
)

const defaultPromptSource = "user_edit"

var errImageFailed = errors.New("Image generation failed")

type RegenerateInput struct {
	Prompt       string `json:"prompt"`
	PromptSource string `json:"prompt_source"`
	Size         string `json:"size"`
}

type StoryboardInput struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
}

type Service struct {
	log      *logger.Logger
	packages repos.PackageRepo
	images   repos.ImageRepo
	model    openai.Client
	prompts  *prompts.Set
}

func NewService(baseLog *logger.Logger, packages repos.PackageRepo, images repos.ImageRepo, model openai.Client, p *prompts.Set) *Service {
	return &Service{
		log:      baseLog.With("service", "ImageService"),
		packages: packages,
		images:   images,
		model:    model,
		prompts:  p,
	}
}

// packageView is a package with its decoded blueprint, overlay and images.
type packageView struct {
	pkg      *domain.MaterialPackage
	bp       domain.Blueprint
	resolved domain.Blueprint
	meta     domain.PackageMetadata
	images   []*domain.ImageAsset
}

func (s *Service) load(ctx context.Context, packageID uuid.UUID) (*packageView, error) {
	dbc := dbctx.Context{Ctx: ctx}
	pkg, err := s.packages.GetByID(dbc, packageID)
	if err != nil {
		return nil, notFound(err, "material_package_not_found", "Material package not found")
	}
	bp, err := domain.DecodeBlueprint(pkg.Blueprint)
	if err != nil {
		return nil, err
	}
	tc, err := domain.DecodeTextCandidates(pkg.TextCandidates)
	if err != nil {
		return nil, err
	}
	meta, err := domain.DecodePackageMetadata(pkg.Metadata)
	if err != nil {
		return nil, err
	}
	imgs, err := s.images.ListByPackage(dbc, pkg.ID)
	if err != nil {
		return nil, err
	}
	return &packageView{
		pkg:      pkg,
		bp:       bp,
		resolved: candidates.Resolve(bp, tc).Apply(bp),
		meta:     meta,
		images:   imgs,
	}, nil
}

// Regenerate creates a new variant of an image in the same group. Storyboard
// images are generated against their scene, subjects and previous shot.
func (s *Service) Regenerate(ctx context.Context, imageID string, in RegenerateInput) (*domain.ImageAsset, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, apierr.BadRequest("prompt_required", "prompt required")
	}
	src, err := s.source(ctx, imageID)
	if err != nil {
		return nil, err
	}
	view, err := s.load(ctx, src.PackageID)
	if err != nil {
		return nil, err
	}
	size := firstNonEmpty(in.Size, view.meta.ImageSize)

	var refs []string
	if src.Type == domain.ImageStoryboard {
		refs = StoryboardReferences(view.resolved, view.images, src.ShotID, src.SceneID)
	}
	res, err := s.generate(ctx, prompt, refs, size, src.Model)
	if err != nil {
		return nil, err
	}

	parts, _ := json.Marshal(generation.PromptParts{Content: prompt})
	from := src.ID
	img := &domain.ImageAsset{
		ID:              uuid.New(),
		PackageID:       src.PackageID,
		Type:            src.Type,
		GroupKey:        src.GroupKey,
		SubjectID:       src.SubjectID,
		SubjectName:     src.SubjectName,
		SceneID:         src.SceneID,
		ShotID:          src.ShotID,
		View:            src.View,
		URL:             res.URL,
		Prompt:          prompt,
		PromptParts:     datatypes.JSON(parts),
		PromptSource:    firstNonEmpty(in.PromptSource, defaultPromptSource),
		RegeneratedFrom: &from,
		Provider:        res.Provider,
		Model:           res.Model,
		ModelID:         src.ModelID,
		Size:            res.Size,
	}
	if img.GroupKey == "" {
		img.GroupKey = domain.GroupKey(img)
	}
	if _, err := s.images.Create(dbctx.Context{Ctx: ctx}, img); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Size) != "" {
		if err := s.rememberSize(ctx, src.PackageID, size); err != nil {
			s.log.Warn("Package image size update failed", "package_id", src.PackageID.String(), "error", err)
		}
	}
	s.log.Info("Image regenerated", "image_id", img.ID.String(), "from", src.ID.String(), "references", len(refs))
	return img, nil
}

// GenerateStoryboard renders a shot. The first image of a shot becomes its
// active variant.
func (s *Service) GenerateStoryboard(ctx context.Context, packageID, shotID string, in StoryboardInput) (*domain.ImageAsset, error) {
	id, err := uuid.Parse(strings.TrimSpace(packageID))
	if err != nil {
		return nil, apierr.BadRequest("invalid_material_package_id", "invalid material_package_id")
	}
	view, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	shot, _, ok := view.resolved.Shot(shotID)
	if !ok {
		return nil, apierr.NotFound("shot_not_found", "Storyboard shot not found")
	}
	var subjects []domain.Subject
	for _, sid := range ShotSubjectIDs(shot, view.resolved.Subjects) {
		if sub, ok := view.resolved.Subject(sid); ok {
			subjects = append(subjects, sub)
		}
	}
	prompt := strings.TrimSpace(in.Prompt)
	source := defaultPromptSource
	if prompt == "" {
		prompt = generation.StoryboardPrompt(view.resolved, shot, subjects)
		source = "generated"
	}
	size := firstNonEmpty(in.Size, view.meta.ImageSize)
	refs := StoryboardReferences(view.resolved, view.images, shot.ID, shot.SceneID)
	res, err := s.generate(ctx, prompt, refs, size, "")
	if err != nil {
		return nil, err
	}

	parts, _ := json.Marshal(generation.PromptParts{Content: prompt, Style: generation.StyleLine(view.resolved.ArtStyle)})
	img := &domain.ImageAsset{
		ID:           uuid.New(),
		PackageID:    id,
		Type:         domain.ImageStoryboard,
		SceneID:      shot.SceneID,
		ShotID:       shot.ID,
		URL:          res.URL,
		Prompt:       prompt,
		PromptParts:  datatypes.JSON(parts),
		PromptSource: source,
		Provider:     res.Provider,
		Model:        res.Model,
		Size:         res.Size,
	}
	img.GroupKey = domain.GroupKey(img)
	// the first render of a shot becomes active; the package lock serializes
	// concurrent first renders
	err = s.packages.WithLockedPackage(dbctx.Context{Ctx: ctx}, id, func(tx *gorm.DB, _ *domain.MaterialPackage) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		active, err := s.images.HasActive(dbc, id, img.GroupKey)
		if err != nil {
			return err
		}
		img.IsActive = !active
		_, err = s.images.Create(dbc, img)
		return err
	})
	if err != nil {
		return nil, notFound(err, "material_package_not_found", "Material package not found")
	}
	return img, nil
}

// Feedback rewrites an image's prompt. An empty rewrite returns the original.
func (s *Service) Feedback(ctx context.Context, imageID, feedback string) (string, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return "", apierr.BadRequest("feedback_required", "feedback required")
	}
	src, err := s.source(ctx, imageID)
	if err != nil {
		return "", err
	}
	prior := map[string]any{}
	if len(src.PromptParts) > 0 {
		var parts map[string]any
		if json.Unmarshal(src.PromptParts, &parts) == nil && len(parts) > 0 {
			prior["prompt_parts"] = parts
		}
	}
	out, err := s.model.GenerateText(ctx, openai.TextRequest{
		System:   s.prompts.RewriteSystem("image_prompt"),
		Stage:    "rewrite.image",
		Input:    src.Prompt,
		Prior:    prior,
		Feedback: feedback,
	})
	if err != nil {
		return "", apierr.New(http.StatusBadGateway, "rewrite_failed", err)
	}
	if strings.TrimSpace(out) == "" {
		s.log.Warn("Rewrite returned empty prompt; using original", "image_id", src.ID.String())
		return strings.TrimSpace(src.Prompt), nil
	}
	return strings.TrimSpace(out), nil
}

// Adopt makes the image the active variant of its group.
func (s *Service) Adopt(ctx context.Context, imageID string) (*domain.ImageAsset, error) {
	src, err := s.source(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if err := s.images.Activate(dbctx.Context{Ctx: ctx}, src); err != nil {
		return nil, notFound(err, "image_not_found", "Image not found")
	}
	src.IsActive = true
	return src, nil
}

func (s *Service) source(ctx context.Context, imageID string) (*domain.ImageAsset, error) {
	id, err := uuid.Parse(strings.TrimSpace(imageID))
	if err != nil {
		return nil, apierr.BadRequest("invalid_image_id", "invalid image_id")
	}
	img, err := s.images.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, notFound(err, "image_not_found", "Image not found")
	}
	return img, nil
}

func (s *Service) generate(ctx context.Context, prompt string, refs []string, size, model string) (openai.ImageResult, error) {
	res, err := s.model.GenerateImage(ctx, openai.ImageRequest{Prompt: prompt, References: refs, Size: size, Model: model})
	if err != nil || strings.TrimSpace(res.URL) == "" {
		s.log.Error("Image generation failed", "error", err, "references", len(refs))
		return openai.ImageResult{}, apierr.New(http.StatusBadGateway, "image_generation_failed", errImageFailed)
	}
	return res, nil
}

func (s *Service) rememberSize(ctx context.Context, packageID uuid.UUID, size string) error {
	return s.packages.WithLockedPackage(dbctx.Context{Ctx: ctx}, packageID, func(tx *gorm.DB, pkg *domain.MaterialPackage) error {
		meta, err := domain.DecodePackageMetadata(pkg.Metadata)
		if err != nil {
			return err
		}
		meta.ImageSize = size
		meta.ImagePlan.Size = size
		raw, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return s.packages.UpdateFields(dbctx.Context{Ctx: ctx, Tx: tx}, packageID, map[string]interface{}{"metadata": datatypes.JSON(raw)})
	})
}

func notFound(err error, code, msg string) error {
	if errors.Is(err, repos.ErrNotFound) {
		return apierr.NotFound(code, msg)
	}
	return err
}
