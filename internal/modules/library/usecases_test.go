package library

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/storyforge-backend/internal/data/repos"
	"github.com/yungbote/storyforge-backend/internal/data/repos/testutil"
	domain "github.com/yungbote/storyforge-backend/internal/domain/generation"
	"github.com/yungbote/storyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/storyforge-backend/internal/platform/apierr"
)

func newUsecases(t *testing.T) (Usecases, repos.Repos) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	r := repos.New(db, log)
	return New(UsecasesDeps{Log: log, Projects: r.Projects, Packages: r.Packages, Images: r.Images}), r
}

func TestCreateAndGetProject(t *testing.T) {
	u, _ := newUsecases(t)
	ctx := context.Background()

	_, err := u.CreateProject(ctx, CreateProjectInput{Name: "  "})
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != http.StatusBadRequest {
		t.Fatalf("blank name: %v", err)
	}

	p, err := u.CreateProject(ctx, CreateProjectInput{
		Name:     "Harbor",
		Metadata: map[string]any{"attachments": []any{map[string]any{"name": "brief.txt"}}},
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	got, err := u.GetProject(ctx, p.ID.String())
	if err != nil || got.Name != "Harbor" || got.Status != "draft" {
		t.Fatalf("GetProject: %+v %v", got, err)
	}
	if _, err := u.GetProject(ctx, uuid.NewString()); !errors.As(err, &ae) || ae.Status != http.StatusNotFound {
		t.Fatalf("unknown project: %v", err)
	}
}

func TestGetPackageResolvesActiveCandidates(t *testing.T) {
	u, r := newUsecases(t)
	ctx := context.Background()
	p, err := u.CreateProject(ctx, CreateProjectInput{Name: "Harbor"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	bp := domain.Blueprint{
		Summary: domain.BlueprintText{Logline: "fog rolls in"},
		Scenes:  []domain.Scene{{ID: "scene_1", Name: "Quay", Description: "wet stones"}},
	}
	raw, _ := json.Marshal(bp)
	pkg, err := r.Packages.CreateVersion(dbctx.Context{Ctx: ctx}, &domain.MaterialPackage{
		ProjectID:      p.ID,
		Name:           "Harbor v1",
		Status:         domain.TaskCompleted,
		Blueprint:      datatypes.JSON(raw),
		TextCandidates: datatypes.JSON([]byte(`{"summary":{"active_id":"c1","candidates":[{"id":"c1","value":{"summary":"fog swallows the town"}}]}}`)),
		Metadata:       datatypes.JSON([]byte(`{"image_size":"960x1280"}`)),
	}, nil)
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}

	view, err := u.GetPackage(ctx, pkg.ID.String())
	if err != nil {
		t.Fatalf("GetPackage: %v", err)
	}
	if view.Blueprint.Summary.Logline != "fog rolls in" {
		t.Fatalf("stored blueprint changed: %q", view.Blueprint.Summary.Logline)
	}
	if view.Resolved.Summary != "fog swallows the town" {
		t.Fatalf("resolved summary: %q", view.Resolved.Summary)
	}
	if view.Metadata.ImageSize != "960x1280" || view.Images == nil {
		t.Fatalf("view: %+v", view)
	}

	list, err := u.ListPackages(ctx, p.ID.String())
	if err != nil || len(list) != 1 || !list[0].IsActive || list[0].Version != 1 {
		t.Fatalf("ListPackages: %+v %v", list, err)
	}
}
