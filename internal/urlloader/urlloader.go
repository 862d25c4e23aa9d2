// internal/urlloader/urlloader.go

// Package urlloader reads batch input CSVs and extracts the repository URLs
// they contain, wherever in the sheet they appear.
package urlloader

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Loader extracts HTTP(S) URLs from CSV files. Column layout is not assumed;
// every cell is scanned, so exports from different spreadsheet tools all work.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{logger: logger}
}

// LoadFromCSV reads the file and returns its unique URLs in first-seen order.
// The first record is treated as a header row and skipped.
func (l *Loader) LoadFromCSV(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("csv file path is required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("csv file not found: %s", path)
	}
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return nil, fmt.Errorf("invalid file type: expected .csv, got %q", filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv file: %w", err)
	}

	seen := make(map[string]struct{})
	var urls []string
	for i, record := range records {
		if i == 0 {
			continue // header row
		}
		for _, cell := range record {
			cell = strings.TrimSpace(cell)
			if !isHTTPURL(cell) {
				continue
			}
			if _, ok := seen[cell]; ok {
				continue
			}
			seen[cell] = struct{}{}
			urls = append(urls, cell)
		}
	}

	l.logger.Info("Loaded URLs from CSV", "path", path, "count", len(urls))
	return urls, nil
}

// isHTTPURL reports whether s is an absolute http or https URL with a host.
func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
