package caption

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaurav-prasanna/pagecaption/core"
)

func testImage(w, h int) *core.DecodedImage {
	return &core.DecodedImage{Image: image.NewRGBA(image.Rect(0, 0, w, h)), Width: w, Height: h, Format: "png"}
}

func decodeJPEGBase64(t *testing.T, s string) image.Config {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg
}

func TestOllamaCaption(t *testing.T) {
	var got ollamaRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{"response": "  a cat sitting\n on a mat  ", "done": true})
	}))
	defer ts.Close()

	c := NewOllama(Options{Endpoint: ts.URL + "/", Model: "llava:7b", HTTPClient: ts.Client()})
	text, err := c.Caption(context.Background(), testImage(1600, 800))
	require.NoError(t, err)

	assert.Equal(t, "a cat sitting on a mat", text)
	assert.Equal(t, "llava:7b", got.Model)
	assert.Equal(t, DefaultPrompt, got.Prompt)
	assert.False(t, got.Stream)
	assert.Equal(t, DefaultMaxTokens, got.Options.NumPredict)
	require.Len(t, got.Images, 1)

	cfg := decodeJPEGBase64(t, got.Images[0])
	assert.Equal(t, DefaultMaxSide, cfg.Width)
	assert.Equal(t, DefaultMaxSide/2, cfg.Height)
}

func TestOllamaCaption_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model not loaded", http.StatusInternalServerError)
			},
		},
		{
			name: "model error field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{"error": "model does not support images"})
			},
		},
		{
			name: "empty response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{"response": "   "})
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("{not json"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			c := NewOllama(Options{Endpoint: ts.URL, HTTPClient: ts.Client()})
			_, err := c.Caption(context.Background(), testImage(32, 32))
			require.Error(t, err)

			var ce *Error
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, BackendOllama, ce.Backend)
		})
	}
}

func TestOpenAICaption(t *testing.T) {
	var got chatRequest
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "A red bus on a city street."}},
			},
		})
	}))
	defer ts.Close()

	c := NewOpenAI(Options{Endpoint: ts.URL, Model: "test/vision", APIKey: "sk-test", Prompt: "Caption it.", HTTPClient: ts.Client()})
	text, err := c.Caption(context.Background(), testImage(40, 30))
	require.NoError(t, err)

	assert.Equal(t, "A red bus on a city street.", text)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "test/vision", got.Model)
	assert.Equal(t, DefaultMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	require.Len(t, got.Messages[0].Content, 2)
	assert.Equal(t, "Caption it.", got.Messages[0].Content[0].Text)

	img := got.Messages[0].Content[1]
	assert.Equal(t, "image_url", img.Type)
	require.NotNil(t, img.ImageURL)
	require.True(t, strings.HasPrefix(img.ImageURL.URL, "data:image/jpeg;base64,"))

	cfg := decodeJPEGBase64(t, strings.TrimPrefix(img.ImageURL.URL, "data:image/jpeg;base64,"))
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
}

func TestOpenAICaption_NoKeyNoHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer ts.Close()

	_, err := NewOpenAI(Options{Endpoint: ts.URL, HTTPClient: ts.Client()}).Caption(context.Background(), testImage(20, 20))
	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, err.Error(), "empty choices")
}

func TestCaption_ConcurrentUse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"response": "same"})
	}))
	defer ts.Close()

	c := NewOllama(Options{Endpoint: ts.URL, HTTPClient: ts.Client()})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := c.Caption(context.Background(), testImage(25, 25))
			assert.NoError(t, err)
			assert.Equal(t, "same", text)
		}()
	}
	wg.Wait()
}

func TestNew(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)
	assert.IsType(t, &Ollama{}, c)
	assert.Equal(t, defaultOllamaModel, c.(*Ollama).Model())

	c, err = New(Options{Backend: "OpenAI"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, c)
	assert.Equal(t, defaultOpenAIModel, c.(*OpenAI).Model())

	_, err = New(Options{Backend: "blip"})
	assert.Error(t, err)
}

func TestEncodeJPEG_PortraitDownscale(t *testing.T) {
	data, err := encodeJPEG(testImage(300, 900), 300)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 300, cfg.Height)
}

func TestCleanCaption(t *testing.T) {
	got, err := cleanCaption("\ta  dog\r\nrunning ")
	require.NoError(t, err)
	assert.Equal(t, "a dog running", got)

	_, err = cleanCaption("\n\n")
	assert.Error(t, err)
}
