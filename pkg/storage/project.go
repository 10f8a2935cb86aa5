package storage

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/persistence"
	"github.com/dukex/mangotango/pkg/table"
	"github.com/google/uuid"
)

func projectByID(id string) func(*models.Project) bool {
	return func(p *models.Project) bool { return p.ID == id }
}

// StagingPath returns a fresh path on the data volume where an importer can
// write a project's input before InitProject moves it into place.
func (s *Store) StagingPath() (string, error) {
	dir := filepath.Join(s.dataDir, stagingDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	return filepath.Join(dir, uuid.NewString()+canonicalExt), nil
}

// InitProject allocates an id from displayName, moves the staged input file
// into the new project directory and records the project.
func (s *Store) InitProject(ctx context.Context, displayName, stagedInput string) (*models.Project, error) {
	var project *models.Project

	err := s.db.Update(ctx, func(tx persistence.Tx) error {
		base := Slugify(displayName)
		if base == "" {
			base = "project"
		}

		id, err := uniqueID(base, func(candidate string) (bool, error) {
			exists, err := persistence.Exists(tx, persistence.ClassProject, projectByID(candidate))
			if err != nil || exists {
				return exists, err
			}

			return pathExists(s.ProjectDir(candidate))
		})
		if err != nil {
			return err
		}

		dir := s.ProjectDir(id)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create project directory: %w", err)
		}

		if err := os.Rename(stagedInput, s.InputPath(id)); err != nil {
			_ = os.RemoveAll(dir)

			return fmt.Errorf("failed to move input into project %s: %w", id, err)
		}

		project = &models.Project{ID: id, DisplayName: displayName}
		if err := persistence.Insert(tx, persistence.ClassProject, project); err != nil {
			_ = os.RemoveAll(dir)

			return err
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Project created", "project_id", project.ID, "display_name", displayName)

	return project, nil
}

// ListProjects returns every project ordered by display name.
func (s *Store) ListProjects(ctx context.Context) ([]*models.Project, error) {
	var projects []*models.Project

	err := s.db.View(ctx, func(tx persistence.Tx) error {
		var err error
		projects, err = persistence.Select[models.Project](tx, persistence.ClassProject, nil)

		return err
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(projects, func(a, b *models.Project) int {
		return cmp.Compare(a.DisplayName, b.DisplayName)
	})

	return projects, nil
}

func (s *Store) Project(ctx context.Context, projectID string) (*models.Project, error) {
	var project *models.Project

	err := s.db.View(ctx, func(tx persistence.Tx) error {
		var err error
		project, err = persistence.First(tx, persistence.ClassProject, projectByID(projectID))

		return err
	})
	if err != nil {
		return nil, persistence.NewProjectError("Get", projectID, err)
	}

	if project == nil {
		return nil, persistence.NewProjectError("Get", projectID, persistence.ErrProjectNotFound)
	}

	return project, nil
}

// RenameProject changes the display name; the id and directory stay.
func (s *Store) RenameProject(ctx context.Context, projectID, displayName string) error {
	err := s.db.Update(ctx, func(tx persistence.Tx) error {
		n, err := persistence.Update(tx, persistence.ClassProject, projectByID(projectID), func(p *models.Project) {
			p.DisplayName = displayName
		})
		if err != nil {
			return err
		}

		if n == 0 {
			return persistence.ErrProjectNotFound
		}

		return nil
	})
	if err != nil {
		return persistence.NewProjectError("Rename", projectID, err)
	}

	return nil
}

// DeleteProject removes the project, all of its analyses and its directory.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	err := s.db.Update(ctx, func(tx persistence.Tx) error {
		n, err := persistence.Delete(tx, persistence.ClassProject, projectByID(projectID))
		if err != nil {
			return err
		}

		if n == 0 {
			return persistence.ErrProjectNotFound
		}

		if _, err := persistence.Delete(tx, persistence.ClassAnalysis, func(a *models.Analysis) bool {
			return a.ProjectID == projectID
		}); err != nil {
			return err
		}

		if err := os.RemoveAll(s.ProjectDir(projectID)); err != nil {
			return fmt.Errorf("failed to remove project directory: %w", err)
		}

		return nil
	})
	if err != nil {
		return persistence.NewProjectError("Delete", projectID, err)
	}

	s.logger.Info("Project deleted", "project_id", projectID)

	return nil
}

// OpenInput streams the project's canonical input table.
func (s *Store) OpenInput(projectID string) (*table.ParquetReader, error) {
	return table.OpenParquet(s.InputPath(projectID))
}

func (s *Store) InputRowCount(projectID string) (int64, error) {
	return s.RowCount(s.InputPath(projectID))
}
