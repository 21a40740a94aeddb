package caption

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gaurav-prasanna/pagecaption/core"
)

const (
	defaultOllamaEndpoint = "http://localhost:11434"
	defaultOllamaModel    = "llava"
)

// Ollama captions images with a multimodal model served by Ollama.
type Ollama struct {
	opts Options
}

// NewOllama creates an Ollama captioner.
func NewOllama(opts Options) *Ollama {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultOllamaEndpoint
	}
	if opts.Model == "" {
		opts.Model = defaultOllamaModel
	}
	return &Ollama{opts: opts.withDefaults()}
}

// ollamaRequest is the request body for the Ollama generate API.
type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Images  []string      `json:"images"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict"`
}

// ollamaResponse is the non-streaming response from the Ollama generate API.
type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Model returns the model name requests are sent to.
func (o *Ollama) Model() string {
	return o.opts.Model
}

// Caption sends the image to /api/generate and returns the cleaned response.
func (o *Ollama) Caption(ctx context.Context, img *core.DecodedImage) (string, error) {
	encoded, err := encodeBase64(img, o.opts.MaxSide)
	if err != nil {
		return "", &Error{Backend: BackendOllama, Err: err}
	}

	reqBody := ollamaRequest{
		Model:   o.opts.Model,
		Prompt:  o.opts.Prompt,
		Images:  []string{encoded},
		Stream:  false,
		Options: ollamaOptions{NumPredict: o.opts.MaxTokens},
	}

	var resp ollamaResponse
	if err := postJSON(ctx, o.opts.HTTPClient, o.opts.Endpoint+"/api/generate", http.Header{}, reqBody, &resp); err != nil {
		return "", &Error{Backend: BackendOllama, Err: err}
	}
	if resp.Error != "" {
		return "", &Error{Backend: BackendOllama, Err: fmt.Errorf("model error: %s", resp.Error)}
	}

	text, err := cleanCaption(resp.Response)
	if err != nil {
		return "", &Error{Backend: BackendOllama, Err: err}
	}
	return text, nil
}
