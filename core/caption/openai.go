package caption

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gaurav-prasanna/pagecaption/core"
)

const (
	defaultOpenAIEndpoint = "https://api.openai.com/v1"
	defaultOpenAIModel    = "gpt-4o-mini"
)

// OpenAI captions images through any OpenAI-compatible chat completions API
// (OpenAI, OpenRouter, vLLM, LM Studio).
type OpenAI struct {
	opts Options
}

// NewOpenAI creates an OpenAI-compatible captioner.
func NewOpenAI(opts Options) *OpenAI {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultOpenAIEndpoint
	}
	if opts.Model == "" {
		opts.Model = defaultOpenAIModel
	}
	return &OpenAI{opts: opts.withDefaults()}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

// contentPart is one part of a multimodal message (text or image).
type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Model returns the model name requests are sent to.
func (c *OpenAI) Model() string {
	return c.opts.Model
}

// Caption sends the image as a data URL and returns the first choice.
func (c *OpenAI) Caption(ctx context.Context, img *core.DecodedImage) (string, error) {
	encoded, err := encodeBase64(img, c.opts.MaxSide)
	if err != nil {
		return "", &Error{Backend: BackendOpenAI, Err: err}
	}

	payload := chatRequest{
		Model: c.opts.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: c.opts.Prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:image/jpeg;base64," + encoded}},
			},
		}},
		MaxTokens: c.opts.MaxTokens,
	}

	header := http.Header{}
	if c.opts.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	var resp chatResponse
	if err := postJSON(ctx, c.opts.HTTPClient, c.opts.Endpoint+"/chat/completions", header, payload, &resp); err != nil {
		return "", &Error{Backend: BackendOpenAI, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Backend: BackendOpenAI, Err: fmt.Errorf("empty choices in response")}
	}

	text, err := cleanCaption(resp.Choices[0].Message.Content)
	if err != nil {
		return "", &Error{Backend: BackendOpenAI, Err: err}
	}
	return text, nil
}
