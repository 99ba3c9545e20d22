package file

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidewatch/futuresmon/internal/domain"
)

// CSVAppender appends report rows to one CSV file. The header is written once
// when the file is created or empty; later appends add data rows only. Field
// order of the first row of each batch fixes the column order.
type CSVAppender struct {
	path string
}

// NewCSVAppender creates an appender for the given file path, creating parent
// directories as needed.
func NewCSVAppender(path string) (*CSVAppender, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file: create csv dir: %w", err)
	}
	return &CSVAppender{path: path}, nil
}

// Path returns the file the appender writes to.
func (a *CSVAppender) Path() string {
	return a.path
}

// Append writes the batch. An empty batch is a no-op.
func (a *CSVAppender) Append(ctx context.Context, rows []domain.Row) error {
	if len(rows) == 0 {
		return nil
	}

	mu := lockFor(a.path)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("file: open csv %s: %w", a.path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("file: stat csv %s: %w", a.path, err)
	}

	w := csv.NewWriter(f)
	if stat.Size() == 0 {
		header := make([]string, len(rows[0]))
		for i, field := range rows[0] {
			header[i] = field.Key
		}
		if err := w.Write(header); err != nil {
			return fmt.Errorf("file: write csv header %s: %w", a.path, err)
		}
	}

	for _, row := range rows {
		record := make([]string, len(row))
		for i, field := range row {
			record[i] = field.Value
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("file: write csv row %s: %w", a.path, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("file: flush csv %s: %w", a.path, err)
	}
	return nil
}

var _ domain.RowAppender = (*CSVAppender)(nil)
