package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageURL = "https://example.com/news"

func srcs(t *testing.T, e *HTMLExtractor, html string) []string {
	t.Helper()
	refs, err := e.Extract(html, pageURL)
	require.NoError(t, err)
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Src)
	}
	return out
}

func TestExtract_DocumentOrder(t *testing.T) {
	e, err := New("")
	require.NoError(t, err)

	html := `<html><body>
		<img src="//cdn.example.com/cat.jpg">
		<div><p><img src="icon.svg"></p></div>
		<img src="/local.png">
		<img src="https://example.com/1x1.gif">
	</body></html>`

	assert.Equal(t, []string{
		"//cdn.example.com/cat.jpg",
		"icon.svg",
		"/local.png",
		"https://example.com/1x1.gif",
	}, srcs(t, e, html))
}

func TestExtract_KeepsDuplicatesAndMissingSrc(t *testing.T) {
	e, err := New("")
	require.NoError(t, err)

	html := `<body><img src="https://a.example/x.jpg"><img alt="no src"><img src="https://a.example/x.jpg"></body>`
	assert.Equal(t, []string{"https://a.example/x.jpg", "", "https://a.example/x.jpg"}, srcs(t, e, html))
}

func TestExtract_Context(t *testing.T) {
	e, err := New("")
	require.NoError(t, err)

	html := `<body>
		<figure>
			<img src="https://a.example/cat.jpg" alt="  A cat ">
			<figcaption>A <em>cat</em> on a mat</figcaption>
		</figure>
		<img src="https://a.example/dog.jpg">
	</body>`

	refs, err := e.Extract(html, pageURL)
	require.NoError(t, err)
	require.Len(t, refs, 2)

	assert.Equal(t, "A cat", refs[0].Alt)
	assert.Contains(t, refs[0].Figcaption, "cat")
	assert.Contains(t, refs[0].Figcaption, "on a mat")
	assert.Equal(t, pageURL, refs[0].PageURL)

	assert.Empty(t, refs[1].Alt)
	assert.Empty(t, refs[1].Figcaption)
}

func TestExtract_CustomSelector(t *testing.T) {
	e, err := New("main img, article img")
	require.NoError(t, err)

	html := `<body>
		<header><img src="https://a.example/logo.png"></header>
		<main><img src="https://a.example/hero.jpg"></main>
		<article><img src="https://a.example/inline.jpg"></article>
	</body>`

	assert.Equal(t, []string{"https://a.example/hero.jpg", "https://a.example/inline.jpg"}, srcs(t, e, html))
}

func TestNew_InvalidSelector(t *testing.T) {
	_, err := New("img[")
	assert.Error(t, err)
}

func TestExtract_NoImages(t *testing.T) {
	e, err := New("")
	require.NoError(t, err)
	assert.Empty(t, srcs(t, e, "<p>plain text</p>"))
}
