package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/persistence"
)

func analysisByID(projectID, analysisID string) func(*models.Analysis) bool {
	return func(a *models.Analysis) bool {
		return a.ProjectID == projectID && a.AnalysisID == analysisID
	}
}

// InitAnalysis records a new draft analysis and creates its directory. Drafts
// are hidden from ListAnalyses until SaveAnalysis stores them finalized.
func (s *Store) InitAnalysis(ctx context.Context, projectID, displayName, analyzerID string, mapping map[string]string) (*models.Analysis, error) {
	var analysis *models.Analysis

	err := s.db.Update(ctx, func(tx persistence.Tx) error {
		exists, err := persistence.Exists(tx, persistence.ClassProject, projectByID(projectID))
		if err != nil {
			return err
		}

		if !exists {
			return persistence.ErrProjectNotFound
		}

		base := Slugify(displayName)
		if base == "" {
			base = "analysis"
		}

		id, err := uniqueID(base, func(candidate string) (bool, error) {
			exists, err := persistence.Exists(tx, persistence.ClassAnalysis, analysisByID(projectID, candidate))
			if err != nil || exists {
				return exists, err
			}

			return pathExists(s.AnalysisDir(&models.Analysis{ProjectID: projectID, Path: models.AnalysisPath(candidate)}))
		})
		if err != nil {
			return err
		}

		analysis = &models.Analysis{
			AnalysisID:        id,
			ProjectID:         projectID,
			DisplayName:       displayName,
			PrimaryAnalyzerID: analyzerID,
			Path:              models.AnalysisPath(id),
			ColumnMapping:     mapping,
			CreateTimestamp:   time.Now().UTC(),
			IsDraft:           true,
		}

		if err := os.MkdirAll(s.AnalysisDir(analysis), 0750); err != nil {
			return fmt.Errorf("failed to create analysis directory: %w", err)
		}

		return persistence.Insert(tx, persistence.ClassAnalysis, analysis)
	})
	if err != nil {
		return nil, persistence.NewAnalysisError("Init", projectID, displayName, err)
	}

	s.logger.Info("Draft analysis created",
		"project_id", projectID,
		"analysis_id", analysis.AnalysisID,
		"analyzer_id", analyzerID)

	return analysis, nil
}

func (s *Store) selectAnalyses(ctx context.Context, projectID string, drafts bool) ([]*models.Analysis, error) {
	var analyses []*models.Analysis

	err := s.db.View(ctx, func(tx persistence.Tx) error {
		var err error
		analyses, err = persistence.Select(tx, persistence.ClassAnalysis, func(a *models.Analysis) bool {
			return a.ProjectID == projectID && a.IsDraft == drafts
		})

		return err
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(analyses, func(a, b *models.Analysis) int {
		return a.CreateTimestamp.Compare(b.CreateTimestamp)
	})

	return analyses, nil
}

// ListAnalyses returns the finalized analyses of a project, oldest first.
func (s *Store) ListAnalyses(ctx context.Context, projectID string) ([]*models.Analysis, error) {
	return s.selectAnalyses(ctx, projectID, false)
}

// ListDraftAnalyses returns analyses that never finalized, for cleanup.
func (s *Store) ListDraftAnalyses(ctx context.Context, projectID string) ([]*models.Analysis, error) {
	return s.selectAnalyses(ctx, projectID, true)
}

// Analysis returns one analysis, draft or not.
func (s *Store) Analysis(ctx context.Context, projectID, analysisID string) (*models.Analysis, error) {
	var analysis *models.Analysis

	err := s.db.View(ctx, func(tx persistence.Tx) error {
		var err error
		analysis, err = persistence.First(tx, persistence.ClassAnalysis, analysisByID(projectID, analysisID))

		return err
	})
	if err != nil {
		return nil, persistence.NewAnalysisError("Get", projectID, analysisID, err)
	}

	if analysis == nil {
		return nil, persistence.NewAnalysisError("Get", projectID, analysisID, persistence.ErrAnalysisNotFound)
	}

	return analysis, nil
}

// SaveAnalysis stores the record, replacing any record with the same ids.
func (s *Store) SaveAnalysis(ctx context.Context, analysis *models.Analysis) error {
	err := s.db.Update(ctx, func(tx persistence.Tx) error {
		return persistence.Upsert(tx, persistence.ClassAnalysis, analysis, analysisByID(analysis.ProjectID, analysis.AnalysisID))
	})
	if err != nil {
		return persistence.NewAnalysisError("Save", analysis.ProjectID, analysis.AnalysisID, err)
	}

	return nil
}

func (s *Store) RenameAnalysis(ctx context.Context, projectID, analysisID, displayName string) error {
	err := s.db.Update(ctx, func(tx persistence.Tx) error {
		n, err := persistence.Update(tx, persistence.ClassAnalysis, analysisByID(projectID, analysisID), func(a *models.Analysis) {
			a.DisplayName = displayName
		})
		if err != nil {
			return err
		}

		if n == 0 {
			return persistence.ErrAnalysisNotFound
		}

		return nil
	})
	if err != nil {
		return persistence.NewAnalysisError("Rename", projectID, analysisID, err)
	}

	return nil
}

// DeleteAnalysis removes the record and every artifact of the analysis.
// Deleting an analysis whose record is already gone still removes its
// directory.
func (s *Store) DeleteAnalysis(ctx context.Context, analysis *models.Analysis) error {
	err := s.db.Update(ctx, func(tx persistence.Tx) error {
		if _, err := persistence.Delete(tx, persistence.ClassAnalysis, analysisByID(analysis.ProjectID, analysis.AnalysisID)); err != nil {
			return err
		}

		if err := os.RemoveAll(s.AnalysisDir(analysis)); err != nil {
			return fmt.Errorf("failed to remove analysis directory: %w", err)
		}

		return nil
	})
	if err != nil {
		return persistence.NewAnalysisError("Delete", analysis.ProjectID, analysis.AnalysisID, err)
	}

	s.logger.Info("Analysis deleted", "project_id", analysis.ProjectID, "analysis_id", analysis.AnalysisID)

	return nil
}

// SecondaryOutputSets lists the secondary analyzers that have an output
// directory on disk for the analysis, in name order.
func (s *Store) SecondaryOutputSets(analysis *models.Analysis) ([]string, error) {
	entries, err := os.ReadDir(s.SecondaryOutputDir(analysis, ""))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list secondary outputs: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}

	return ids, nil
}
