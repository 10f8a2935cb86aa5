package storage

import (
	"fmt"
	"os"
	"time"

	"github.com/dukex/mangotango/pkg/table"
)

type rowCount struct {
	modTime time.Time
	size    int64
	rows    int64
}

// RowCount reads the row count of a canonical table from its footer. Counts
// are cached per path until the file's modification time or size changes.
func (s *Store) RowCount(path string) (int64, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if cached, ok := s.rowCounts.Get(path); ok && cached.size == stat.Size() && cached.modTime.Equal(stat.ModTime()) {
		return cached.rows, nil
	}

	rows, err := table.ParquetRowCount(path)
	if err != nil {
		return 0, err
	}

	s.rowCounts.Add(path, rowCount{modTime: stat.ModTime(), size: stat.Size(), rows: rows})

	return rows, nil
}
