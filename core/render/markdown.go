// Package render provides report renderers for finished caption runs.
// This file implements the Markdown renderer.
package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gaurav-prasanna/pagecaption/core"
)

// MarkdownRenderer writes a run as a Markdown document: a header with the
// source and counts, then one section per recorded caption.
type MarkdownRenderer struct{}

// NewMarkdownRenderer creates a MarkdownRenderer.
func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{}
}

// Render builds the Markdown report.
func (r *MarkdownRenderer) Render(report core.Report) ([]byte, error) {
	var b strings.Builder
	s := report.Summary

	fmt.Fprintf(&b, "# Image captions: %s\n\n", report.SourceURL)
	fmt.Fprintf(&b, "Generated %s", report.GeneratedAt.UTC().Format(time.RFC3339))
	if report.Model != "" {
		fmt.Fprintf(&b, " with `%s`", report.Model)
	}
	b.WriteString(".\n\n")

	fmt.Fprintf(&b, "- References: %d\n", s.Total)
	fmt.Fprintf(&b, "- Recorded: %d\n", s.Recorded)
	fmt.Fprintf(&b, "- Skipped: %d\n", s.Skipped)
	for _, rc := range skipReasons(s) {
		fmt.Fprintf(&b, "  - %s: %d\n", rc.Reason, rc.Count)
	}
	fmt.Fprintf(&b, "- Failed: %d\n", s.Failed)

	for i, e := range s.Entries {
		fmt.Fprintf(&b, "\n## %d. %s\n\n", i+1, e.Record.URL)
		fmt.Fprintf(&b, "![%s](%s)\n\n", escapeAlt(e.Ref.Alt), e.Record.URL)
		fmt.Fprintf(&b, "**Caption:** %s\n", e.Record.Caption)
		if e.Ref.Alt != "" {
			fmt.Fprintf(&b, "\n**Alt text:** %s\n", e.Ref.Alt)
		}
		if e.Ref.Figcaption != "" {
			fmt.Fprintf(&b, "\n**Page caption:** %s\n", e.Ref.Figcaption)
		}
	}

	return []byte(b.String()), nil
}

// Extension returns the file extension for Markdown output.
func (r *MarkdownRenderer) Extension() string {
	return ".captions.md"
}

type reasonCount struct {
	Reason core.Reason
	Count  int
}

// skipReasons returns the skip counts sorted by reason name.
func skipReasons(s core.Summary) []reasonCount {
	out := make([]reasonCount, 0, len(s.SkipReasons))
	for reason, n := range s.SkipReasons {
		out = append(out, reasonCount{Reason: reason, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reason < out[j].Reason })
	return out
}

func escapeAlt(alt string) string {
	return strings.NewReplacer("[", `\[`, "]", `\]`, "\n", " ").Replace(alt)
}
