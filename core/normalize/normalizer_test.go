package normalize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaurav-prasanna/pagecaption/core"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "empty", raw: "", wantErr: ErrEmpty},
		{name: "whitespace only", raw: "   ", wantErr: ErrEmpty},
		{name: "svg extension", raw: "icon.svg", wantErr: ErrVectorImage},
		{name: "svg with valid scheme", raw: "https://example.com/logo.svg", wantErr: ErrVectorImage},
		{name: "svg in query", raw: "https://example.com/img?fmt=svg", wantErr: ErrVectorImage},
		{name: "tracking pixel", raw: "https://example.com/1x1.gif", wantErr: ErrTrackingPixel},
		{name: "tracking pixel protocol-relative", raw: "//t.example.com/1x1.png", wantErr: ErrTrackingPixel},
		{name: "svg wins over tracking pixel", raw: "https://example.com/1x1.svg", wantErr: ErrVectorImage},
		{name: "protocol-relative", raw: "//cdn.example.com/cat.jpg", want: "https://cdn.example.com/cat.jpg"},
		{name: "absolute path", raw: "/local.png", wantErr: ErrRelative},
		{name: "relative path", raw: "images/dog.jpg", wantErr: ErrRelative},
		{name: "data uri", raw: "data:image/png;base64,AAAA", wantErr: ErrRelative},
		{name: "ftp scheme", raw: "ftp://example.com/a.jpg", wantErr: ErrRelative},
		{name: "uppercase scheme is not recognized", raw: "HTTPS://example.com/a.jpg", wantErr: ErrRelative},
		{name: "http", raw: "http://example.com/a.jpg", want: "http://example.com/a.jpg"},
		{name: "https kept as-is", raw: "https://example.com/a b.jpg", want: "https://example.com/a b.jpg"},
		{name: "uppercase SVG is not a marker", raw: "https://example.com/LOGO.SVG", want: "https://example.com/LOGO.SVG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrRejected)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_AcceptedURLsAreAbsolute(t *testing.T) {
	for _, raw := range []string{"//a.example/x.jpg", "http://a.example/x.jpg", "https://a.example/x.jpg"} {
		got, err := Normalize(raw)
		require.NoError(t, err)
		assert.Regexp(t, `^https?://`, got)
	}
}

func TestReason(t *testing.T) {
	assert.Equal(t, core.ReasonNone, Reason(nil))
	assert.Equal(t, core.ReasonEmpty, Reason(ErrEmpty))
	assert.Equal(t, core.ReasonVector, Reason(ErrVectorImage))
	assert.Equal(t, core.ReasonTrackingPixel, Reason(ErrTrackingPixel))
	assert.Equal(t, core.ReasonRelative, Reason(ErrRelative))
	assert.Equal(t, core.ReasonRelative, Reason(errors.New("other")))
}
