package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"

	"ignisos/api/internal/feed"
	"ignisos/api/internal/qccheck"
	"ignisos/api/internal/store"
	"ignisos/api/internal/util"
)

type CreateQCProjectInput struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (s *Service) QCProjects(ctx context.Context, userID string) ([]store.QCProject, error) {
	return s.store.ListQCProjects(ctx, userID)
}

func (s *Service) CreateQCProject(ctx context.Context, userID string, input CreateQCProjectInput) (store.QCProject, error) {
	name := strings.TrimSpace(input.Name)
	if err := required("name", name); err != nil {
		return store.QCProject{}, err
	}
	if err := required("url", input.URL); err != nil {
		return store.QCProject{}, err
	}
	project := store.QCProject{
		ID:        util.NewID("qcp"),
		UserID:    userID,
		Name:      name,
		URL:       qccheck.NormalizeURL(input.URL),
		Checklist: qccheck.NewChecklist(),
		Status:    qccheck.StatusPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertQCProject(ctx, project); err != nil {
		return store.QCProject{}, err
	}
	s.publish(ctx, feed.CollectionQC, feed.OpCreated, userID, project.ID)
	return project, nil
}

// ToggleQCCheck flips one check and recomputes the project status.
func (s *Service) ToggleQCCheck(ctx context.Context, userID, projectID, checkID string) (store.QCProject, error) {
	if !qccheck.IsCheck(checkID) {
		return store.QCProject{}, validationError("checkId", "unknown check")
	}
	project, err := s.store.MutateQCChecks(ctx, userID, projectID, func(checks map[string]bool) string {
		checks[checkID] = !checks[checkID]
		return qccheck.Status(checks)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return store.QCProject{}, notFound("Project")
	}
	if err != nil {
		return store.QCProject{}, err
	}
	s.publish(ctx, feed.CollectionQC, feed.OpUpdated, userID, project.ID)
	return project, nil
}

// InspectQCProject loads the site in a headless browser and overwrites the
// checks it can decide automatically.
func (s *Service) InspectQCProject(ctx context.Context, userID, projectID string) (store.QCProject, qccheck.Report, error) {
	if s.inspector == nil {
		return store.QCProject{}, qccheck.Report{}, qccheck.ErrUnavailable
	}
	project, err := s.store.GetQCProject(ctx, userID, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.QCProject{}, qccheck.Report{}, notFound("Project")
	}
	if err != nil {
		return store.QCProject{}, qccheck.Report{}, err
	}

	report, err := s.inspector.Inspect(ctx, project.URL)
	if err != nil {
		log.Printf("qc: inspect %s: %v", project.URL, err)
		if errors.Is(err, qccheck.ErrUnavailable) {
			return store.QCProject{}, qccheck.Report{}, err
		}
		return store.QCProject{}, qccheck.Report{}, domainError(http.StatusBadGateway, "QC_INSPECT_FAILED", "No se pudo cargar el sitio", map[string]any{"url": project.URL})
	}

	budget := s.inspector.Budget()
	updated, err := s.store.MutateQCChecks(ctx, userID, projectID, func(checks map[string]bool) string {
		qccheck.Apply(checks, report, budget)
		return qccheck.Status(checks)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return store.QCProject{}, qccheck.Report{}, notFound("Project")
	}
	if err != nil {
		return store.QCProject{}, qccheck.Report{}, err
	}
	s.publish(ctx, feed.CollectionQC, feed.OpUpdated, userID, updated.ID)
	return updated, report, nil
}

func (s *Service) DeleteQCProject(ctx context.Context, userID, projectID string) error {
	deleted, err := s.store.DeleteQCProject(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("Project")
	}
	s.publish(ctx, feed.CollectionQC, feed.OpDeleted, userID, projectID)
	return nil
}
