// Package extract implements the Extractor interface.
// It walks a full HTML page and returns every element matching the image
// selector, in document order, together with the page context around it
// (alt text and the enclosing <figure>'s caption).
package extract

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/gaurav-prasanna/pagecaption/core"
)

// DefaultSelector matches every <img> element, with or without a src.
const DefaultSelector = "img"

// HTMLExtractor pulls image references out of HTML.
type HTMLExtractor struct {
	selector cascadia.Selector
}

// New creates an HTMLExtractor for the given CSS selector.
// An empty selector means DefaultSelector. The selector is compiled up front
// because goquery silently matches nothing on an invalid one.
func New(selector string) (*HTMLExtractor, error) {
	if strings.TrimSpace(selector) == "" {
		selector = DefaultSelector
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("compiling selector %q: %w", selector, err)
	}
	return &HTMLExtractor{selector: sel}, nil
}

// Extract returns the src of every matching element in document order.
// Elements without a src yield an empty reference so the normalizer can
// account for them. No deduplication is performed.
func (e *HTMLExtractor) Extract(html string, pageURL string) ([]core.ImageRef, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	var refs []core.ImageRef
	doc.FindMatcher(e.selector).Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		alt, _ := s.Attr("alt")
		refs = append(refs, core.ImageRef{
			Src:        src,
			Alt:        strings.TrimSpace(alt),
			Figcaption: figcaption(s),
			PageURL:    pageURL,
		})
	})

	return refs, nil
}

// figcaption returns the caption of the <figure> enclosing s, as Markdown.
func figcaption(s *goquery.Selection) string {
	fc := s.Closest("figure").Find("figcaption").First()
	if fc.Length() == 0 {
		return ""
	}
	inner, err := fc.Html()
	if err != nil || strings.TrimSpace(inner) == "" {
		return ""
	}
	md, err := htmltomarkdown.ConvertString(inner)
	if err != nil {
		// Fall back to the text content; the caption is informational only.
		return strings.TrimSpace(fc.Text())
	}
	return strings.TrimSpace(md)
}
