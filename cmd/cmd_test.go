package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaurav-prasanna/pagecaption/core"
	"github.com/gaurav-prasanna/pagecaption/core/render"
)

// newSite serves a page, its images and an Ollama-compatible generate API.
func newSite(t *testing.T) *httptest.Server {
	t.Helper()

	square := func(side int) []byte {
		img := image.NewRGBA(image.Rect(0, 0, side, side))
		for i := range img.Pix {
			img.Pix[i] = 0x80
		}
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		return buf.Bytes()
	}
	big, tiny := square(64), square(8)

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><body>
<figure><img src="%[1]s/big.png" alt="Grey"><figcaption>A <b>grey</b> square</figcaption></figure>
<img src="/static/logo.svg">
<img src="%[1]s/tiny.png">
<img src="relative.png">
<img src="%[1]s/missing.png">
</body></html>`, srv.URL)
	})
	mux.HandleFunc("/big.png", func(w http.ResponseWriter, _ *http.Request) { w.Write(big) })
	mux.HandleFunc("/tiny.png", func(w http.ResponseWriter, _ *http.Request) { w.Write(tiny) })
	mux.HandleFunc("/missing.png", http.NotFound)
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"response": " A plain grey square.\n"})
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCaptionCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	srv := newSite(t)

	out := filepath.Join(dir, "captions.txt")
	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{
		"caption", srv.URL + "/",
		"--output", out,
		"--endpoint", srv.URL,
		"--report", "json",
		"--report-dir", dir,
		"--log-level", "error",
	})
	require.NoError(t, rootCmd.Execute())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/big.png: A plain grey square.\n", string(data))
	assert.Contains(t, stdout.String(), "1 captions written")
	assert.Contains(t, stdout.String(), "too_small=1")

	reports, err := filepath.Glob(filepath.Join(dir, "*.captions.json"))
	require.NoError(t, err)
	require.Len(t, reports, 1)

	raw, err := os.ReadFile(reports[0])
	require.NoError(t, err)
	var doc render.CaptionsJSON
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, 5, doc.Summary.Total)
	assert.Equal(t, map[string]int{"vector": 1, "too_small": 1, "relative": 1, "network": 1}, doc.Summary.SkipReasons)
	require.Len(t, doc.Records, 1)
	assert.Equal(t, "Grey", doc.Records[0].Alt)
	assert.Equal(t, "A **grey** square", doc.Records[0].Figcaption)
	assert.Equal(t, "llava", doc.Metadata.Model)
}

func TestVersionCommand(t *testing.T) {
	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "pagecaption dev\n", stdout.String())
}

func TestSelectRenderer(t *testing.T) {
	for format, ext := range map[string]string{
		"markdown": ".captions.md",
		"MD":       ".captions.md",
		"json":     ".captions.json",
		"pdf":      ".captions.pdf",
	} {
		r, err := selectRenderer(format)
		require.NoError(t, err, format)
		assert.Equal(t, ext, r.Extension())
	}

	_, err := selectRenderer("html")
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	s := &core.Summary{
		Total: 5, Recorded: 2, Skipped: 2, Failed: 1,
		SkipReasons: map[core.Reason]int{core.ReasonVector: 1, core.ReasonNetwork: 1},
		Duration:    1234 * time.Millisecond,
	}
	var buf bytes.Buffer
	printSummary(&buf, s, "captions.txt")

	assert.Contains(t, buf.String(), "2 captions written to captions.txt (5 references, 2 skipped, 1 failed) in 1.2s")
	assert.Contains(t, buf.String(), "skipped: network=1, vector=1")
}

func TestProgressBarNilSafe(t *testing.T) {
	var p *progressBar
	assert.NotPanics(t, func() {
		p.Add(core.Outcome{})
		p.Finish()
	})
}
