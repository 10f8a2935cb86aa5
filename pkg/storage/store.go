// Package storage is the artifact store: project and analysis lifecycle,
// deterministic artifact paths, settings and chunked export, on top of a
// locked metadata store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/persistence"
	"github.com/dukex/mangotango/pkg/persistence/file"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	metadataFile  = "db.json"
	lockFile      = "db.lock"
	projectsDir   = "projects"
	stagingDir    = "imports"
	inputFile     = "input.parquet"
	canonicalExt  = ".parquet"
	rowCacheSize  = 256
	primaryDir    = "primary_outputs"
	secondaryDir  = "secondary_outputs"
	exportsDir    = "exports"
	presentersDir = "web_presenters"
)

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// Slugify lower-cases name, collapses runs of non-word characters to "_"
// and trims leading and trailing underscores.
func Slugify(name string) string {
	return strings.Trim(nonWord.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

type Store struct {
	logger    *slog.Logger
	dataDir   string
	db        persistence.Persistence
	rowCounts *lru.Cache[string, rowCount]
}

// New builds a store over an already opened metadata store.
func New(logger *slog.Logger, dataDir string, db persistence.Persistence) (*Store, error) {
	rowCounts, err := lru.New[string, rowCount](rowCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create row count cache: %w", err)
	}

	return &Store{
		logger:    logger.With("module", "storage"),
		dataDir:   dataDir,
		db:        db,
		rowCounts: rowCounts,
	}, nil
}

// Open opens the store rooted at dataDir, keeping the lock file under
// cacheDir, and runs the legacy layout bootstrap.
func Open(ctx context.Context, logger *slog.Logger, dataDir, cacheDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, projectsDir), 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := file.NewPersistence(logger, filepath.Join(dataDir, metadataFile), filepath.Join(cacheDir, lockFile))
	if err != nil {
		return nil, err
	}

	s, err := New(logger, dataDir, db)
	if err != nil {
		return nil, err
	}

	if err := s.Bootstrap(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) DataDir() string {
	return s.dataDir
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Close(ctx)
}

func (s *Store) ProjectDir(projectID string) string {
	return filepath.Join(s.dataDir, projectsDir, projectID)
}

func (s *Store) InputPath(projectID string) string {
	return filepath.Join(s.ProjectDir(projectID), inputFile)
}

func (s *Store) AnalysisDir(a *models.Analysis) string {
	return filepath.Join(s.ProjectDir(a.ProjectID), filepath.FromSlash(a.Path))
}

func (s *Store) PrimaryOutputPath(a *models.Analysis, outputID string) string {
	return filepath.Join(s.AnalysisDir(a), primaryDir, outputID+canonicalExt)
}

func (s *Store) SecondaryOutputDir(a *models.Analysis, secondaryID string) string {
	return filepath.Join(s.AnalysisDir(a), secondaryDir, secondaryID)
}

func (s *Store) SecondaryOutputPath(a *models.Analysis, secondaryID, outputID string) string {
	return filepath.Join(s.SecondaryOutputDir(a, secondaryID), outputID+canonicalExt)
}

// OutputPath resolves a primary output when secondaryID is empty.
func (s *Store) OutputPath(a *models.Analysis, secondaryID, outputID string) string {
	if secondaryID == "" {
		return s.PrimaryOutputPath(a, outputID)
	}

	return s.SecondaryOutputPath(a, secondaryID, outputID)
}

func (s *Store) ExportsDir(a *models.Analysis) string {
	return filepath.Join(s.AnalysisDir(a), exportsDir)
}

func (s *Store) PresenterStateDir(a *models.Analysis, presenterID string) string {
	return filepath.Join(s.AnalysisDir(a), presentersDir, presenterID, "state")
}

// uniqueID appends _1, _2, ... to base until taken reports the candidate free.
func uniqueID(base string, taken func(candidate string) (bool, error)) (string, error) {
	candidate := base
	for i := 1; ; i++ {
		used, err := taken(candidate)
		if err != nil {
			return "", err
		}

		if !used {
			return candidate, nil
		}

		candidate = base + "_" + strconv.Itoa(i)
	}
}

func pathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}
