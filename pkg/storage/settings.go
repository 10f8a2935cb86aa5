package storage

import (
	"context"
	"fmt"

	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/persistence"
)

// Settings returns the persisted settings, or zero settings when none were saved.
func (s *Store) Settings(ctx context.Context) (*models.Settings, error) {
	settings := &models.Settings{}

	err := s.db.View(ctx, func(tx persistence.Tx) error {
		stored, err := persistence.First[models.Settings](tx, persistence.ClassSettings, nil)
		if stored != nil {
			settings = stored
		}

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	return settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings *models.Settings) error {
	if err := models.NewValidator().Struct(settings); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	err := s.db.Update(ctx, func(tx persistence.Tx) error {
		return persistence.Upsert(tx, persistence.ClassSettings, settings, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	return nil
}
