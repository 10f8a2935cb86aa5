package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/persistence"
)

const legacyAnalyzersDir = "analyzers"

// Bootstrap synthesizes analysis records for outputs written by the layout
// that kept one directory per analyzer under each project. Records are
// upserted by project and analysis id, so repeated runs change nothing.
func (s *Store) Bootstrap(ctx context.Context) error {
	err := s.db.Update(ctx, func(tx persistence.Tx) error {
		projects, err := persistence.Select[models.Project](tx, persistence.ClassProject, nil)
		if err != nil {
			return err
		}

		for _, project := range projects {
			entries, err := os.ReadDir(filepath.Join(s.ProjectDir(project.ID), legacyAnalyzersDir))
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to scan project %s: %w", project.ID, err)
			}

			for _, entry := range entries {
				if !entry.IsDir() {
					continue
				}

				if err := s.upsertLegacyAnalysis(tx, project.ID, entry); err != nil {
					return err
				}
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to bootstrap metadata: %w", err)
	}

	return nil
}

func (s *Store) upsertLegacyAnalysis(tx persistence.Tx, projectID string, entry os.DirEntry) error {
	analyzerID := entry.Name()
	analysisID := models.LegacyAnalysisPrefix + analyzerID

	exists, err := persistence.Exists(tx, persistence.ClassAnalysis, analysisByID(projectID, analysisID))
	if err != nil || exists {
		return err
	}

	analysis := &models.Analysis{
		AnalysisID:        analysisID,
		ProjectID:         projectID,
		DisplayName:       analyzerID,
		PrimaryAnalyzerID: analyzerID,
		Path:              models.LegacyAnalysisPath(analyzerID),
		ColumnMapping:     map[string]string{},
	}

	if info, err := entry.Info(); err == nil {
		analysis.CreateTimestamp = info.ModTime().UTC()
	}

	s.logger.Info("Recovered legacy analysis", "project_id", projectID, "analyzer_id", analyzerID)

	return persistence.Upsert(tx, persistence.ClassAnalysis, analysis, analysisByID(projectID, analysisID))
}
