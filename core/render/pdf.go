// Package render: PDF renderer.
// Lays out a run as a gofpdf document: title, counts, then one block per
// recorded caption. Images themselves are not embedded.
package render

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/gaurav-prasanna/pagecaption/core"
)

// PDFRenderer renders a caption report as a PDF document.
type PDFRenderer struct{}

// NewPDFRenderer creates a PDFRenderer.
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

// Render converts the report into PDF bytes.
func (r *PDFRenderer) Render(report core.Report) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	// Core fonts are cp1252; captions and alt text are UTF-8.
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	s := report.Summary

	renderHeading(pdf, tr("Image captions"), 1)

	pdf.SetFont("Helvetica", "I", 9)
	pdf.SetTextColor(100, 100, 100)
	pdf.MultiCell(0, 5, tr("Source: "+report.SourceURL), "", "L", false)
	generated := "Generated: " + report.GeneratedAt.UTC().Format(time.RFC3339)
	if report.Model != "" {
		generated += "  Model: " + report.Model
	}
	pdf.MultiCell(0, 5, tr(generated), "", "L", false)
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5, fmt.Sprintf("References: %d   Recorded: %d   Skipped: %d   Failed: %d",
		s.Total, s.Recorded, s.Skipped, s.Failed), "", "L", false)
	for _, rc := range skipReasons(s) {
		pdf.MultiCell(0, 5, tr(fmt.Sprintf("• %s: %d", rc.Reason, rc.Count)), "", "L", false)
	}

	for i, e := range s.Entries {
		renderHeading(pdf, fmt.Sprintf("%d. Image", i+1), 3)

		pdf.SetFont("Courier", "", 8)
		pdf.SetFillColor(245, 245, 245)
		pdf.MultiCell(0, 4, tr(e.Record.URL), "", "L", true)
		pdf.Ln(1)

		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 5, tr(e.Record.Caption), "", "L", false)

		if e.Ref.Figcaption != "" {
			pdf.SetFont("Helvetica", "I", 9)
			pdf.SetTextColor(80, 80, 80)
			pdf.MultiCell(0, 5, tr("Page caption: "+cleanInlineMarkdown(e.Ref.Figcaption)), "", "L", false)
			pdf.SetTextColor(0, 0, 0)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("writing PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// Extension returns the file extension for PDF output.
func (r *PDFRenderer) Extension() string {
	return ".captions.pdf"
}

// renderHeading sets the font size based on heading level and writes text.
func renderHeading(pdf *gofpdf.Fpdf, text string, level int) {
	sizes := map[int]float64{1: 18, 2: 15, 3: 13, 4: 12, 5: 11, 6: 10}
	size, ok := sizes[level]
	if !ok {
		size = 10
	}
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", size)
	pdf.MultiCell(0, size*0.6, text, "", "L", false)
	pdf.Ln(2)
}

var (
	italicRe = regexp.MustCompile(`(?:^|\s)\*([^*]+)\*(?:\s|$)`)
	codeRe   = regexp.MustCompile("`([^`]+)`")
	linkRe   = regexp.MustCompile(`\[([^\]]*)\]\([^)]+\)`)
)

// cleanInlineMarkdown strips inline Markdown formatting from figcaptions.
func cleanInlineMarkdown(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "__", "")
	text = italicRe.ReplaceAllString(text, " $1 ")
	text = codeRe.ReplaceAllString(text, "$1")
	text = linkRe.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}
