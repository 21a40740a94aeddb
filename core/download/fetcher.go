// Package download implements the ImageFetcher interface.
// It performs one bounded HTTP GET per image and decodes the body in memory.
// Nothing is retried: a failed fetch is terminal for that image.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	// Image decoders registered with the image package.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gaurav-prasanna/pagecaption/core"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultMaxBytes  = 20 << 20
	// DefaultMaxPixels bounds the declared width*height of an image.
	DefaultMaxPixels = 89_478_485
	DefaultUserAgent = "PageCaption/1.0 (https://github.com/gaurav-prasanna/pagecaption)"
)

// Kind classifies a FetchError.
type Kind int

const (
	// KindNetwork covers transport failures, timeouts and non-2xx responses.
	KindNetwork Kind = iota + 1
	// KindDecode covers bodies that are not a decodable image.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// FetchError is returned by Fetch for every failure.
type FetchError struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s error for %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Reason maps a Fetch error to its skip reason.
func Reason(err error) core.Reason {
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == KindDecode {
		return core.ReasonDecode
	}
	return core.ReasonNetwork
}

// Options configures a Fetcher. Zero values fall back to the defaults.
type Options struct {
	Timeout   time.Duration
	MaxBytes  int64
	MaxPixels int64
	UserAgent string
}

// Fetcher downloads and decodes images over HTTP.
type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	maxBytes  int64
	maxPixels int64
	userAgent string
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return &Fetcher{
		client:    &http.Client{Timeout: opts.Timeout},
		timeout:   opts.Timeout,
		maxBytes:  opts.MaxBytes,
		maxPixels: opts.MaxPixels,
		userAgent: opts.UserAgent,
	}
}

// Fetch retrieves the image at url and decodes it.
// Every error it returns is a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*core.DecodedImage, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, err := f.get(ctx, url)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, URL: url, Err: err}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, &FetchError{Kind: KindDecode, URL: url, Err: fmt.Errorf("image exceeds %d bytes", f.maxBytes)}
	}

	img, format, err := decode(body, f.maxPixels)
	if err != nil {
		return nil, &FetchError{Kind: KindDecode, URL: url, Err: err}
	}

	b := img.Bounds()
	return &core.DecodedImage{
		Image:  img,
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: format,
	}, nil
}

// get reads at most maxBytes+1 bytes of the response body so an oversized
// image can be detected without buffering all of it.
func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/jpeg,image/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}

// decode converts raw bytes to an image. The header is checked against
// maxPixels before any pixel buffer is allocated. Decoder panics on hostile
// input are reported as errors.
func decode(data []byte, maxPixels int64) (img image.Image, format string, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, format, err = nil, "", fmt.Errorf("decoder panic: %v", r)
		}
	}()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding image header: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, "", fmt.Errorf("image declares %dx%d pixels, limit is %d", cfg.Width, cfg.Height, maxPixels)
	}
	img, format, err = image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding image: %w", err)
	}
	return img, format, nil
}
