// Package library serves projects and their generated material packages.
package library

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/storyforge-backend/internal/data/repos"
	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/modules/candidates"
	"github.com/yungbote/storyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/storyforge-backend/internal/platform/apierr"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

type UsecasesDeps struct {
	Log *logger.Logger

	Projects repos.ProjectRepo
	Packages repos.PackageRepo
	Images   repos.ImageRepo
}

type Usecases struct {
	deps UsecasesDeps
}

func New(deps UsecasesDeps) Usecases {
	if deps.Log != nil {
		deps.Log = deps.Log.With("service", "LibraryUsecases")
	}
	return Usecases{deps: deps}
}

type CreateProjectInput struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

// PackageSummary is a package row without its large JSON columns.
type PackageSummary struct {
	ID        uuid.UUID              `json:"id"`
	ProjectID uuid.UUID              `json:"project_id"`
	Name      string                 `json:"name"`
	Status    string                 `json:"status"`
	Version   int                    `json:"version"`
	IsActive  bool                   `json:"is_active"`
	Metadata  domain.PackageMetadata `json:"metadata"`
	CreatedAt string                 `json:"created_at"`
}

// PackageView is a package as clients render it: the stored blueprint, the
// blueprint with active candidates applied, and its images.
type PackageView struct {
	ID             uuid.UUID              `json:"id"`
	ProjectID      uuid.UUID              `json:"project_id"`
	Name           string                 `json:"name"`
	Status         string                 `json:"status"`
	Version        int                    `json:"version"`
	IsActive       bool                   `json:"is_active"`
	Blueprint      domain.Blueprint       `json:"blueprint"`
	Resolved       candidates.Resolved    `json:"resolved"`
	TextCandidates *domain.TextCandidates `json:"text_candidates"`
	Metadata       domain.PackageMetadata `json:"metadata"`
	Images         []*domain.ImageAsset   `json:"images"`
}

func (u Usecases) CreateProject(ctx context.Context, in CreateProjectInput) (*domain.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apierr.BadRequest("name_required", "name is required")
	}
	md := in.Metadata
	if md == nil {
		md = map[string]any{}
	}
	rawMD, err := json.Marshal(md)
	if err != nil {
		return nil, apierr.BadRequest("invalid_metadata", err.Error())
	}
	p, err := u.deps.Projects.Create(dbctx.Context{Ctx: ctx}, &domain.Project{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Status:      "draft",
		InputConfig: datatypes.JSON([]byte("{}")),
		Metadata:    datatypes.JSON(rawMD),
	})
	if err != nil {
		return nil, err
	}
	u.deps.Log.Info("Project created", "project_id", p.ID.String())
	return p, nil
}

func (u Usecases) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	id, err := parseID(projectID, "project_id")
	if err != nil {
		return nil, err
	}
	p, err := u.deps.Projects.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, notFound(err, "project_not_found", "project not found")
	}
	return p, nil
}

// ListPackages lists a project's packages, newest version first.
func (u Usecases) ListPackages(ctx context.Context, projectID string) ([]PackageSummary, error) {
	p, err := u.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	rows, err := u.deps.Packages.ListByProject(dbctx.Context{Ctx: ctx}, p.ID)
	if err != nil {
		return nil, err
	}
	out := make([]PackageSummary, 0, len(rows))
	for _, row := range rows {
		md, err := domain.DecodePackageMetadata(row.Metadata)
		if err != nil {
			u.deps.Log.Warn("Skipping unreadable package metadata", "package_id", row.ID.String(), "error", err)
		}
		out = append(out, PackageSummary{
			ID:        row.ID,
			ProjectID: row.ProjectID,
			Name:      row.Name,
			Status:    row.Status,
			Version:   row.Version,
			IsActive:  row.IsActive,
			Metadata:  md,
			CreatedAt: row.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return out, nil
}

func (u Usecases) GetPackage(ctx context.Context, packageID string) (*PackageView, error) {
	id, err := parseID(packageID, "material_package_id")
	if err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	pkg, err := u.deps.Packages.GetByID(dbc, id)
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
	md, err := domain.DecodePackageMetadata(pkg.Metadata)
	if err != nil {
		return nil, err
	}
	images, err := u.deps.Images.ListByPackage(dbc, pkg.ID)
	if err != nil {
		return nil, err
	}
	if images == nil {
		images = []*domain.ImageAsset{}
	}
	return &PackageView{
		ID:             pkg.ID,
		ProjectID:      pkg.ProjectID,
		Name:           pkg.Name,
		Status:         pkg.Status,
		Version:        pkg.Version,
		IsActive:       pkg.IsActive,
		Blueprint:      bp,
		Resolved:       candidates.Resolve(bp, tc),
		TextCandidates: tc,
		Metadata:       md,
		Images:         images,
	}, nil
}

func parseID(raw, field string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, apierr.BadRequest(field+"_required", field+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apierr.BadRequest("invalid_"+field, "invalid "+field)
	}
	return id, nil
}

func notFound(err error, code, msg string) error {
	if errors.Is(err, repos.ErrNotFound) {
		return apierr.NotFound(code, msg)
	}
	return err
}
