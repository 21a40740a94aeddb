// Package crawl walks the pages of a site for --all mode.
// Pages come from sitemap.xml when the site has one and from a same-host
// BFS over links otherwise. Crawling stays separate from the caption pipeline:
// it only hands fetched pages to a visitor.
package crawl

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/gaurav-prasanna/pagecaption/core"
	"github.com/gaurav-prasanna/pagecaption/logging"
)

// DefaultMaxPages bounds a crawl when Options.MaxPages is not set.
const DefaultMaxPages = 50

const maxSitemapBytes = 10 << 20

// ErrNoPages is returned by Walk when not a single page could be fetched.
var ErrNoPages = errors.New("no pages could be fetched")

// urlset is the root element of a sitemap.xml.
type urlset struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// sitemapindex is the root element of a sitemap index file.
type sitemapindex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// Options configures a Crawler.
type Options struct {
	// MaxPages is the most pages Walk visits; <= 0 means DefaultMaxPages.
	MaxPages int
	// Client fetches sitemaps; nil means a client with a 15s timeout.
	Client *http.Client
	Logger *zap.Logger
}

// Crawler discovers and fetches the pages of one site.
type Crawler struct {
	fetcher  core.Fetcher
	client   *http.Client
	maxPages int
	logger   *zap.Logger
}

// New creates a Crawler that fetches pages with fetcher.
func New(fetcher core.Fetcher, opts Options) *Crawler {
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Crawler{
		fetcher:  fetcher,
		client:   opts.Client,
		maxPages: opts.MaxPages,
		logger:   logging.OrNop(opts.Logger),
	}
}

// Walk fetches up to MaxPages pages of the site rooted at baseURL and calls
// visit for each, in discovery order. The base page is always visited first.
// Pages that fail to fetch are logged and skipped; an error from visit stops
// the walk and is returned. It returns the number of pages visited.
func (c *Crawler) Walk(ctx context.Context, baseURL string, visit func(*core.FetchResult) error) (int, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return 0, fmt.Errorf("parsing base URL: %w", err)
	}
	if base.Host == "" {
		return 0, fmt.Errorf("base URL %q has no host", baseURL)
	}

	sitemapURL := fmt.Sprintf("%s://%s/sitemap.xml", base.Scheme, base.Host)
	pages, err := c.discoverFromSitemap(ctx, sitemapURL, base.Host)
	if err != nil {
		c.logger.Debug("no usable sitemap, crawling links", zap.String("sitemap", sitemapURL), zap.Error(err))
	}

	queue := NewQueue()
	queue.Add(pageKey(baseURL))
	for _, p := range pages {
		queue.Add(p)
	}
	crawlLinks := len(pages) == 0

	visited := 0
	for queue.HasNext() && visited < c.maxPages {
		if err := ctx.Err(); err != nil {
			return visited, err
		}
		pageURL := queue.Next()

		result, err := c.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			c.logger.Warn("skipping page", zap.String("url", pageURL), zap.Error(err))
			continue
		}
		visited++

		if err := visit(result); err != nil {
			return visited, err
		}

		if !crawlLinks {
			continue
		}
		links, err := extractLinks(result.HTML, result.URL)
		if err != nil {
			c.logger.Debug("extracting links failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}
		for _, link := range links {
			if isPageLink(link, base.Host) {
				queue.Add(pageKey(link))
			}
		}
	}

	if visited == 0 {
		return 0, fmt.Errorf("crawling %s: %w", baseURL, ErrNoPages)
	}
	c.logger.Info("crawl finished",
		zap.String("base", baseURL), zap.Int("visited", visited), zap.Int("discovered", queue.Len()))
	return visited, nil
}

// discoverFromSitemap returns the same-host page URLs listed in sitemap.xml,
// following one level of sitemap index.
func (c *Crawler) discoverFromSitemap(ctx context.Context, sitemapURL string, domain string) ([]string, error) {
	body, err := c.get(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	var index sitemapindex
	if xml.Unmarshal(body, &index) == nil && len(index.Sitemaps) > 0 {
		var urls []string
		for _, sm := range index.Sitemaps {
			if len(urls) >= c.maxPages {
				break
			}
			child, err := c.get(ctx, sm.Loc)
			if err != nil {
				c.logger.Debug("skipping child sitemap", zap.String("sitemap", sm.Loc), zap.Error(err))
				continue
			}
			urls = append(urls, c.parseURLSet(child, domain)...)
		}
		return urls, nil
	}

	return c.parseURLSet(body, domain), nil
}

func (c *Crawler) parseURLSet(body []byte, domain string) []string {
	var set urlset
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil
	}
	var urls []string
	for _, u := range set.URLs {
		loc := strings.TrimSpace(u.Loc)
		if isPageLink(loc, domain) {
			urls = append(urls, pageKey(loc))
		}
	}
	return urls
}

func (c *Crawler) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
}

// extractLinks extracts all href values from <a> tags, resolving relative URLs.
func extractLinks(html string, baseURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	var links []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if resolved := resolveURL(strings.TrimSpace(href), base); resolved != "" {
			links = append(links, resolved)
		}
	})

	return links, nil
}

// resolveURL resolves a potentially relative URL against a base.
func resolveURL(href string, base *url.URL) string {
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	for _, scheme := range []string{"mailto:", "javascript:", "tel:", "data:"} {
		if strings.HasPrefix(strings.ToLower(href), scheme) {
			return ""
		}
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := base.ResolveReference(parsed)
	resolved.Fragment = ""
	return resolved.String()
}
