// Package core defines the pipeline types and interfaces for PageCaption.
// Each stage of the pipeline is a clean, testable interface.
package core

import (
	"context"
	"image"
	"time"
)

// FetchResult holds the raw HTML and response metadata from a page fetch.
type FetchResult struct {
	URL        string
	StatusCode int
	HTML       string
}

// ImageRef is a raw image reference pulled from page markup.
// Src has no invariants until it is normalized.
type ImageRef struct {
	Src string `json:"src"`
	// Alt is the alt attribute of the element, if any.
	Alt string `json:"alt,omitempty"`
	// Figcaption is the enclosing figure's caption, converted to Markdown.
	Figcaption string `json:"figcaption,omitempty"`
	// PageURL is the page the reference was found on.
	PageURL string `json:"page_url,omitempty"`
}

// DecodedImage is an in-memory pixel buffer produced by an ImageFetcher.
// It is never persisted.
type DecodedImage struct {
	Image  image.Image
	Width  int
	Height int
	Format string // decoder name, e.g. "jpeg", "png", "webp"
}

// Area returns width * height in pixels.
func (d *DecodedImage) Area() int {
	return d.Width * d.Height
}

// CaptionRecord is the unit of persisted output: an image URL and its caption.
type CaptionRecord struct {
	URL     string `json:"url"`
	Caption string `json:"caption"`
}

// Line formats the record as one output line: "<url>: <caption>\n".
func (r CaptionRecord) Line() string {
	return r.URL + ": " + r.Caption + "\n"
}

// Status is the terminal state of one reference in a run.
type Status int

const (
	StatusSkipped Status = iota + 1
	StatusFailed
	StatusRecorded
)

func (s Status) String() string {
	switch s {
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	case StatusRecorded:
		return "recorded"
	default:
		return "unknown"
	}
}

// Reason explains why a reference was skipped or failed.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonEmpty         Reason = "empty"
	ReasonVector        Reason = "vector"
	ReasonTrackingPixel Reason = "tracking_pixel"
	ReasonRelative      Reason = "relative"
	ReasonNetwork       Reason = "network"
	ReasonDecode        Reason = "decode"
	ReasonTooSmall      Reason = "too_small"
	ReasonCaption       Reason = "caption"
)

// Outcome is the terminal result for a single reference.
type Outcome struct {
	// Index is the position of the reference in extraction order.
	Index  int
	Ref    ImageRef
	URL    string // normalized URL; empty if normalization rejected the reference
	Status Status
	Reason Reason
	Err    error
	// Record is set only when Status is StatusRecorded.
	Record *CaptionRecord
}

// ReportEntry pairs a recorded caption with the page context of its reference.
type ReportEntry struct {
	Record CaptionRecord `json:"record"`
	Ref    ImageRef      `json:"ref"`
}

// Summary aggregates the outcomes of a run.
type Summary struct {
	Total       int            `json:"total"`
	Recorded    int            `json:"recorded"`
	Skipped     int            `json:"skipped"`
	Failed      int            `json:"failed"`
	SkipReasons map[Reason]int `json:"skip_reasons"`
	Entries     []ReportEntry  `json:"entries"`
	Duration    time.Duration  `json:"duration"`
}

// Add folds one outcome into the summary.
func (s *Summary) Add(o Outcome) {
	s.Total++
	switch o.Status {
	case StatusRecorded:
		s.Recorded++
		if o.Record != nil {
			s.Entries = append(s.Entries, ReportEntry{Record: *o.Record, Ref: o.Ref})
		}
	case StatusSkipped:
		s.Skipped++
		if s.SkipReasons == nil {
			s.SkipReasons = make(map[Reason]int)
		}
		s.SkipReasons[o.Reason]++
	case StatusFailed:
		s.Failed++
	}
}

// Report is the input to a Renderer: a finished run over one source.
type Report struct {
	SourceURL   string
	GeneratedAt time.Time
	Model       string
	Summary     Summary
}

// Fetcher retrieves raw HTML from a page URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResult, error)
}

// Extractor returns the image references in page markup, in document order.
// Duplicates are preserved.
type Extractor interface {
	Extract(html string, pageURL string) ([]ImageRef, error)
}

// ImageFetcher retrieves and decodes the image at a normalized URL.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (*DecodedImage, error)
}

// Captioner produces a natural-language caption for a decoded image.
// Implementations must be safe for concurrent use.
type Captioner interface {
	Caption(ctx context.Context, img *DecodedImage) (string, error)
}

// Sink persists caption records, one at a time, in the order given.
type Sink interface {
	Append(rec CaptionRecord) error
}

// Renderer converts a finished run into a report format.
type Renderer interface {
	Render(report Report) ([]byte, error)
	// Extension returns the file extension for this renderer (e.g. ".captions.md").
	Extension() string
}
