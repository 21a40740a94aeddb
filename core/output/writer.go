// Package output handles the files a PageCaption run produces: the
// append-only caption file (Sink) and the optional run reports (Writer).
// Report filenames are derived from the source page URL
// (e.g., https://www.bbc.co.uk/news → www_bbc_co_uk_news.captions.md).
package output

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Writer writes rendered reports to disk.
type Writer struct {
	OutputDir string
}

// NewWriter creates a Writer targeting the given directory.
// If outputDir is empty, it defaults to the current working directory.
func NewWriter(outputDir string) (*Writer, error) {
	if outputDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
		outputDir = wd
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	return &Writer{OutputDir: outputDir}, nil
}

// WriteReport writes a report for the run over pageURL and returns its path.
func (w *Writer) WriteReport(pageURL string, data []byte, ext string) (string, error) {
	path := filepath.Join(w.OutputDir, reportName(pageURL)+ext)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file %s: %w", path, err)
	}
	return path, nil
}

// reportName flattens a URL into a filename stem.
// Example: https://example.com/docs/intro → example_com_docs_intro
func reportName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return sanitize(rawURL)
	}

	parts := []string{sanitize(parsed.Host)}
	for _, seg := range strings.Split(strings.Trim(parsed.Path, "/"), "/") {
		if seg != "" {
			parts = append(parts, sanitize(seg))
		}
	}
	return strings.Join(parts, "_")
}

// sanitize replaces non-alphanumeric characters with underscores.
func sanitize(s string) string {
	return strings.Map(func(ch rune) rune {
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			return ch
		}
		return '_'
	}, s)
}
