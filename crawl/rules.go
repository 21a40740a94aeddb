// Package crawl: which discovered links are pages worth captioning.
package crawl

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// htmlExtensions are page paths served as HTML whatever the local mime table says.
var htmlExtensions = map[string]bool{
	"": true, ".html": true, ".htm": true, ".xhtml": true, ".shtml": true,
	".php": true, ".asp": true, ".aspx": true, ".jsp": true,
}

// mediaExtensions are non-page types missing from Go's builtin mime table.
var mediaExtensions = map[string]bool{
	".ico": true, ".bmp": true, ".tif": true, ".tiff": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".mp4": true, ".webm": true, ".mp3": true, ".wav": true,
	".zip": true, ".tar": true, ".gz": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
}

// isPageLink reports whether link is an http(s) URL on host whose path looks
// like an HTML document rather than an image, script or download.
func isPageLink(link, host string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !strings.EqualFold(hostKey(u.Scheme, u.Host), hostKey(u.Scheme, host)) {
		return false
	}
	return isPagePath(u.Path)
}

func isPagePath(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if htmlExtensions[ext] {
		return true
	}
	if mediaExtensions[ext] {
		return false
	}
	// Unknown extensions (e.g. "/story.12345") are assumed to be pages.
	typ := mime.TypeByExtension(ext)
	return typ == "" || strings.HasPrefix(typ, "text/html")
}

// pageKey canonicalises a page URL so one page is queued once: lower-case
// scheme and host, no default port, no fragment, no trailing slash.
func pageKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(hostKey(u.Scheme, u.Host))
	u.Fragment = ""
	u.RawFragment = ""
	switch {
	case u.Path == "":
		u.Path = "/"
	case u.Path != "/":
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}

// hostKey drops the port when it is the scheme's default.
func hostKey(scheme, host string) string {
	if (scheme == "http" && strings.HasSuffix(host, ":80")) ||
		(scheme == "https" && strings.HasSuffix(host, ":443")) {
		return host[:strings.LastIndexByte(host, ':')]
	}
	return host
}
