package storage

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/table"
	"github.com/minio/highwayhash"
)

var checksumKey = []byte("mangotango-export-manifest-key!!")

// ExportName is the base file name of an exported output: the output id for
// primary outputs, the secondary id when it equals the output id, and
// "{secondary}__{output}" otherwise.
func ExportName(secondaryID, outputID string) string {
	switch secondaryID {
	case "":
		return outputID
	case outputID:
		return secondaryID
	default:
		return secondaryID + "__" + outputID
	}
}

type ExportRequest struct {
	Analysis    *models.Analysis
	SecondaryID string
	Output      models.AnalyzerOutput
	Format      table.Format

	// ChunkSize caps the rows per file; zero or less writes one file.
	ChunkSize int

	// Progress receives chunks_written / total_chunks after each file.
	Progress func(fraction float64)
}

type ExportedFile struct {
	Path     string `json:"path"`
	Rows     int64  `json:"rows"`
	Checksum string `json:"highwayhash64"`
}

type ExportResult struct {
	Files    []ExportedFile `json:"files"`
	Manifest string         `json:"-"`
}

// ExportOutput writes a derived copy of one canonical output into the
// analysis exports directory, renaming columns for display. Files written
// before a failure or cancellation are left in place; retrying re-runs the
// whole export.
func (s *Store) ExportOutput(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	source := s.OutputPath(req.Analysis, req.SecondaryID, req.Output.ID)

	reader, err := table.OpenParquet(source)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	progress := req.Progress
	if progress == nil {
		progress = func(float64) {}
	}

	name := ExportName(req.SecondaryID, req.Output.ID)
	dir := s.ExportsDir(req.Analysis)
	schema := req.Output.DisplaySchema(reader.Schema())
	total := reader.NumRows()
	ext := "." + req.Format.Extension()

	chunkSize := int64(req.ChunkSize)
	if chunkSize <= 0 || total <= chunkSize {
		chunkSize = 0
	}

	totalChunks := int64(1)
	if chunkSize > 0 {
		totalChunks = (total + chunkSize - 1) / chunkSize
	}

	s.logger.Info("Exporting output",
		"analysis_id", req.Analysis.AnalysisID,
		"output", name,
		"format", req.Format,
		"rows", total,
		"chunks", totalChunks)

	result := &ExportResult{}
	var (
		writer  table.Writer
		current ExportedFile
	)

	open := func() error {
		path := filepath.Join(dir, name+ext)
		if chunkSize > 0 {
			path = filepath.Join(dir, name+"_"+strconv.Itoa(len(result.Files))+ext)
		}

		w, err := table.Create(req.Format, path, schema)
		if err != nil {
			return err
		}

		writer = w
		current = ExportedFile{Path: path}

		return nil
	}

	finish := func() error {
		if err := writer.Close(); err != nil {
			return err
		}
		writer = nil

		sum, err := checksum(current.Path)
		if err != nil {
			return err
		}
		current.Checksum = sum

		result.Files = append(result.Files, current)
		progress(float64(len(result.Files)) / float64(totalChunks))

		return nil
	}

	defer func() {
		if writer != nil {
			_ = writer.Close()
		}
	}()

	if err := removeExported(dir, name, ext); err != nil {
		return nil, err
	}

	if err := open(); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		for len(batch) > 0 {
			if writer == nil {
				if err := open(); err != nil {
					return nil, err
				}
			}

			take := int64(len(batch))
			if chunkSize > 0 {
				take = min(take, chunkSize-current.Rows)
			}

			if err := writer.Write(batch[:take]...); err != nil {
				return nil, err
			}
			current.Rows += take
			batch = batch[take:]

			if chunkSize > 0 && current.Rows == chunkSize {
				if err := finish(); err != nil {
					return nil, err
				}
			}
		}
	}

	if writer != nil {
		if err := finish(); err != nil {
			return nil, err
		}
	}

	manifest, err := writeManifest(dir, name, result)
	if err != nil {
		return nil, err
	}
	result.Manifest = manifest

	return result, nil
}

// isExportedFile reports whether file is an export of name in ext, either
// "{name}{ext}" or a chunk "{name}_{i}{ext}".
func isExportedFile(file, name, ext string) bool {
	if file == name+ext {
		return true
	}

	index, ok := strings.CutPrefix(file, name+"_")
	if !ok {
		return false
	}

	index, ok = strings.CutSuffix(index, ext)
	if !ok || index == "" {
		return false
	}

	_, err := strconv.ParseUint(index, 10, 64)

	return err == nil
}

// removeExported deletes the files of an earlier export of name in the same
// format so a re-export with fewer chunks leaves no stale chunk behind.
func removeExported(dir, name, ext string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list exports: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isExportedFile(entry.Name(), name, ext) {
			continue
		}

		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove previous export: %w", err)
		}
	}

	return nil
}

func checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	hash, err := highwayhash.New64(checksumKey)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

func writeManifest(dir, name string, result *ExportResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal export manifest: %w", err)
	}

	path := filepath.Join(dir, name+".manifest.json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write export manifest: %w", err)
	}

	return path, nil
}
