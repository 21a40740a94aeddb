// Package caption adapts external vision-language model services to the
// core.Captioner interface. Each Caption call makes exactly one request,
// bounded to a maximum number of generated tokens, with no retry and no
// fallback. Captioners are immutable after construction and safe for
// concurrent use.
package caption

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/gaurav-prasanna/pagecaption/core"
)

const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"

	DefaultMaxTokens = 50
	DefaultMaxSide   = 768
	DefaultTimeout   = 120 * time.Second
	DefaultPrompt    = "Write a short one-sentence caption for this image."

	jpegQuality = 90
)

// Error wraps any failure of the captioning service.
type Error struct {
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s captioner: %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options configures a Captioner. Zero values fall back to backend defaults.
type Options struct {
	Backend   string
	Endpoint  string
	Model     string
	Prompt    string
	MaxTokens int
	// MaxSide bounds the longer image side sent to the service.
	MaxSide    int
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// New creates the Captioner for opts.Backend.
func New(opts Options) (core.Captioner, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendOllama:
		return NewOllama(opts), nil
	case BackendOpenAI:
		return NewOpenAI(opts), nil
	default:
		return nil, fmt.Errorf("unknown captioner backend %q (want %s or %s)", opts.Backend, BackendOllama, BackendOpenAI)
	}
}

// withDefaults fills the backend-independent defaults.
func (o Options) withDefaults() Options {
	if o.Prompt == "" {
		o.Prompt = DefaultPrompt
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.MaxSide <= 0 {
		o.MaxSide = DefaultMaxSide
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	o.Endpoint = strings.TrimSuffix(o.Endpoint, "/")
	return o
}

// encodeJPEG downscales img so its longer side is at most maxSide and
// encodes it as JPEG.
func encodeJPEG(img *core.DecodedImage, maxSide int) ([]byte, error) {
	src := img.Image
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	if maxSide > 0 && (w > maxSide || h > maxSide) {
		nw, nh := maxSide, h*maxSide/w
		if h > w {
			nw, nh = w*maxSide/h, maxSide
		}
		nw, nh = max(nw, 1), max(nh, 1)
		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeBase64 returns the base64 JPEG payload sent to the service.
func encodeBase64(img *core.DecodedImage, maxSide int) (string, error) {
	data, err := encodeJPEG(img, maxSide)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// cleanCaption collapses whitespace so a caption always fits on one line.
func cleanCaption(s string) (string, error) {
	c := strings.Join(strings.Fields(s), " ")
	if c == "" {
		return "", fmt.Errorf("empty caption")
	}
	return c, nil
}

// postJSON sends body as JSON and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, body, out any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
