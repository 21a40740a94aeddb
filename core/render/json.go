// Package render: JSON renderer.
// Emits run metadata, summary counts and every recorded caption with the
// page context of its reference.
package render

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gaurav-prasanna/pagecaption/core"
)

// CaptionsJSON is the document written by JSONRenderer.
type CaptionsJSON struct {
	Metadata Metadata     `json:"metadata"`
	Summary  SummaryJSON  `json:"summary"`
	Records  []RecordJSON `json:"records"`
}

type Metadata struct {
	SourceURL   string `json:"source_url"`
	GeneratedAt string `json:"generated_at"`
	Model       string `json:"model,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

type SummaryJSON struct {
	Total       int            `json:"total"`
	Recorded    int            `json:"recorded"`
	Skipped     int            `json:"skipped"`
	Failed      int            `json:"failed"`
	SkipReasons map[string]int `json:"skip_reasons"`
}

type RecordJSON struct {
	URL        string `json:"url"`
	Caption    string `json:"caption"`
	Alt        string `json:"alt,omitempty"`
	Figcaption string `json:"figcaption,omitempty"`
	PageURL    string `json:"page_url,omitempty"`
}

// JSONRenderer produces the structured JSON report.
type JSONRenderer struct{}

// NewJSONRenderer creates a JSONRenderer.
func NewJSONRenderer() *JSONRenderer {
	return &JSONRenderer{}
}

// Render converts the report into indented JSON.
func (r *JSONRenderer) Render(report core.Report) ([]byte, error) {
	s := report.Summary

	reasons := make(map[string]int, len(s.SkipReasons))
	for reason, n := range s.SkipReasons {
		reasons[string(reason)] = n
	}

	records := make([]RecordJSON, 0, len(s.Entries))
	for _, e := range s.Entries {
		records = append(records, RecordJSON{
			URL:        e.Record.URL,
			Caption:    e.Record.Caption,
			Alt:        e.Ref.Alt,
			Figcaption: e.Ref.Figcaption,
			PageURL:    e.Ref.PageURL,
		})
	}

	doc := CaptionsJSON{
		Metadata: Metadata{
			SourceURL:   report.SourceURL,
			GeneratedAt: report.GeneratedAt.UTC().Format(time.RFC3339),
			Model:       report.Model,
			DurationMS:  s.Duration.Milliseconds(),
		},
		Summary: SummaryJSON{
			Total:       s.Total,
			Recorded:    s.Recorded,
			Skipped:     s.Skipped,
			Failed:      s.Failed,
			SkipReasons: reasons,
		},
		Records: records,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling JSON: %w", err)
	}
	return data, nil
}

// Extension returns the file extension for JSON output.
func (r *JSONRenderer) Extension() string {
	return ".captions.json"
}
