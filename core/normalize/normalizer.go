// Package normalize turns raw image references into fetchable absolute URLs.
// The filters are plain substring checks, not URL-structure checks: a reference
// carrying a rejected marker is dropped even when its scheme is valid.
package normalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gaurav-prasanna/pagecaption/core"
)

const (
	// vectorMarker identifies scalable-vector images, which are icons rather than photos.
	vectorMarker = "svg"
	// trackingPixelMarker identifies 1x1 tracking pixels.
	trackingPixelMarker = "1x1"
)

// ErrRejected is wrapped by every rejection returned from Normalize.
var ErrRejected = errors.New("reference rejected")

var (
	ErrEmpty         = fmt.Errorf("%w: empty reference", ErrRejected)
	ErrVectorImage   = fmt.Errorf("%w: vector image", ErrRejected)
	ErrTrackingPixel = fmt.Errorf("%w: tracking pixel", ErrRejected)
	ErrRelative      = fmt.Errorf("%w: no http(s) scheme", ErrRejected)
)

// Normalize classifies a raw reference. It returns the absolute http(s) URL
// to fetch, or an error wrapping ErrRejected. Rules apply in order and the
// first match wins.
func Normalize(raw string) (string, error) {
	switch {
	case strings.TrimSpace(raw) == "":
		return "", ErrEmpty
	case strings.Contains(raw, vectorMarker):
		return "", ErrVectorImage
	case strings.Contains(raw, trackingPixelMarker):
		return "", ErrTrackingPixel
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw, nil
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return raw, nil
	default:
		return "", ErrRelative
	}
}

// Reason maps a Normalize error to its skip reason.
func Reason(err error) core.Reason {
	switch {
	case err == nil:
		return core.ReasonNone
	case errors.Is(err, ErrEmpty):
		return core.ReasonEmpty
	case errors.Is(err, ErrVectorImage):
		return core.ReasonVector
	case errors.Is(err, ErrTrackingPixel):
		return core.ReasonTrackingPixel
	default:
		return core.ReasonRelative
	}
}
