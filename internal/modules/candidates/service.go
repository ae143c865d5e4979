package candidates

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/storyforge-backend/internal/data/repos"
	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/modules/prompts"
	"github.com/yungbote/storyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/storyforge-backend/internal/platform/apierr"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
	"github.com/yungbote/storyforge-backend/internal/platform/openai"
)

const sourceFeedback = "user_feedback"

// Service proposes and adopts text candidates. The blueprint column is never
// written.
type Service struct {
	log      *logger.Logger
	packages repos.PackageRepo
	model    openai.Client
	prompts  *prompts.Set
	now      func() time.Time
}

func NewService(baseLog *logger.Logger, packages repos.PackageRepo, model openai.Client, p *prompts.Set) *Service {
	return &Service{
		log:      baseLog.With("service", "CandidateService"),
		packages: packages,
		model:    model,
		prompts:  p,
		now:      time.Now,
	}
}

// Propose rewrites the field's current resolved value with feedback, appends
// the result as a new candidate and makes it active.
func (s *Service) Propose(ctx context.Context, packageID string, ref FieldRef, feedback string) (*domain.Candidate, error) {
	id, err := uuid.Parse(strings.TrimSpace(packageID))
	if err != nil {
		return nil, apierr.BadRequest("material_package_id_required", "material_package_id required")
	}
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, apierr.BadRequest("feedback_required", "feedback required")
	}
	if ref.keyed() && strings.TrimSpace(ref.ID) == "" {
		return nil, apierr.BadRequest("field_id_required", string(ref.Target)+" id required")
	}

	pkg, err := s.packages.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, packageNotFound(err)
	}
	bp, err := domain.DecodeBlueprint(pkg.Blueprint)
	if err != nil {
		return nil, err
	}
	if !Exists(bp, ref) {
		return nil, apierr.NotFound("field_not_found", ref.String()+" not found")
	}
	tc, err := domain.DecodeTextCandidates(pkg.TextCandidates)
	if err != nil {
		return nil, err
	}

	// the model call stays outside the row lock
	value, err := s.rewrite(ctx, bp, tc, ref, feedback)
	if err != nil {
		return nil, err
	}
	cand := domain.Candidate{
		ID:        uuid.NewString(),
		Source:    sourceFeedback,
		Feedback:  feedback,
		Value:     value,
		CreatedAt: s.now().UTC(),
	}

	err = s.packages.WithLockedPackage(dbctx.Context{Ctx: ctx}, id, func(tx *gorm.DB, locked *domain.MaterialPackage) error {
		cur, err := domain.DecodeTextCandidates(locked.TextCandidates)
		if err != nil {
			return err
		}
		Group(cur, ref, true).Append(cand)
		return s.save(ctx, tx, id, cur)
	})
	if err != nil {
		return nil, packageNotFound(err)
	}
	s.log.Info("Text candidate proposed", "package_id", id.String(), "field", ref.String(), "candidate_id", cand.ID)
	return &cand, nil
}

// Adopt makes an existing candidate the field's active one.
func (s *Service) Adopt(ctx context.Context, packageID string, ref FieldRef, candidateID string) (*domain.Candidate, error) {
	id, err := uuid.Parse(strings.TrimSpace(packageID))
	if err != nil {
		return nil, apierr.BadRequest("material_package_id_required", "material_package_id required")
	}
	candidateID = strings.TrimSpace(candidateID)
	if candidateID == "" {
		return nil, apierr.BadRequest("candidate_id_required", "candidate_id required")
	}
	if ref.keyed() && strings.TrimSpace(ref.ID) == "" {
		return nil, apierr.BadRequest("field_id_required", string(ref.Target)+" id required")
	}

	var adopted domain.Candidate
	err = s.packages.WithLockedPackage(dbctx.Context{Ctx: ctx}, id, func(tx *gorm.DB, locked *domain.MaterialPackage) error {
		cur, err := domain.DecodeTextCandidates(locked.TextCandidates)
		if err != nil {
			return err
		}
		g := Group(cur, ref, false)
		if g == nil {
			return apierr.NotFound("candidate_group_not_found", ref.String()+" has no candidates")
		}
		c, ok := g.Find(candidateID)
		if !ok {
			return apierr.NotFound("candidate_not_found", "candidate not found")
		}
		g.ActiveID = &c.ID
		adopted = c
		return s.save(ctx, tx, id, cur)
	})
	if err != nil {
		return nil, packageNotFound(err)
	}
	return &adopted, nil
}

func (s *Service) save(ctx context.Context, tx *gorm.DB, id uuid.UUID, tc *domain.TextCandidates) error {
	raw, err := json.Marshal(tc)
	if err != nil {
		return err
	}
	return s.packages.UpdateFields(dbctx.Context{Ctx: ctx, Tx: tx}, id, map[string]interface{}{
		"text_candidates": datatypes.JSON(raw),
	})
}

// rewrite asks the model for the revised value. A response that fails shape
// checks keeps the current value so the feedback is still recorded.
func (s *Service) rewrite(ctx context.Context, bp domain.Blueprint, tc *domain.TextCandidates, ref FieldRef, feedback string) (json.RawMessage, error) {
	var (
		current  any
		out      any
		required []string
		system   string
	)
	switch ref.Target {
	case TargetSummary:
		current = map[string]string{"summary": ResolveSummary(bp, tc)}
		out = &struct {
			Summary string `json:"summary"`
		}{}
		required, system = []string{"summary"}, s.prompts.RewriteSystem("summary")
	case TargetArtStyle:
		current = ResolveArtStyle(bp, tc)
		out = &domain.ArtStyle{}
		required, system = []string{"style_name", "style_prompt"}, s.prompts.RewriteSystem("art_style")
	case TargetSubject:
		sub, _ := ResolveSubject(bp, tc, ref.ID)
		current, out = sub, &sub
		required, system = []string{"name"}, s.prompts.RewriteSystem("subject")
	case TargetScene:
		sc, _ := ResolveScene(bp, tc, ref.ID)
		current, out = sc, &sc
		required, system = []string{"name"}, s.prompts.RewriteSystem("scene")
	case TargetStoryboard:
		desc, _ := ResolveShotDescription(bp, tc, ref.ID)
		current = map[string]string{"description": desc}
		out = &struct {
			Description string `json:"description"`
		}{}
		required, system = []string{"description"}, s.prompts.RewriteSystem("storyboard_description")
	default:
		return nil, apierr.BadRequest("invalid_target_type", "target_type invalid")
	}

	currentRaw, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	err = s.model.GenerateJSON(ctx, openai.TextRequest{
		System:   system,
		Stage:    "rewrite." + string(ref.Target),
		Input:    string(currentRaw),
		Feedback: feedback,
		Required: required,
	}, out)
	var verr *openai.ValidationError
	switch {
	case errors.As(err, &verr):
		s.log.Warn("Rewrite returned an invalid payload; keeping current value", "field", ref.String(), "error", err)
		return currentRaw, nil
	case err != nil:
		return nil, apierr.New(http.StatusBadGateway, "rewrite_failed", err)
	}

	switch v := out.(type) {
	case *domain.Subject:
		v.ID = ref.ID
	case *domain.Scene:
		v.ID = ref.ID
	}
	return json.Marshal(out)
}

func packageNotFound(err error) error {
	if errors.Is(err, repos.ErrNotFound) {
		return apierr.NotFound("material_package_not_found", "Material package not found")
	}
	return err
}
