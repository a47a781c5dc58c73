// Package gemini adapts the Google Gen AI SDK to the embedding and
// completion interfaces used by the answer pipeline.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/WessleyAI/wessley-voice/engine/domain"
)

const (
	DefaultChatModel  = "gemini-2.0-flash"
	DefaultEmbedModel = "text-embedding-004"

	providerName = "gemini"
)

// models is the subset of *genai.Models the client needs.
type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Options configures a Client.
type Options struct {
	ChatModel   string
	EmbedModel  string
	Temperature float32
}

// Client implements embedding and completion on the Gemini API.
type Client struct {
	models models
	opts   Options
}

// New creates a Client backed by the Gemini developer API.
func New(ctx context.Context, apiKey string, opts Options) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return newWithModels(gc.Models, opts), nil
}

func newWithModels(m models, opts Options) *Client {
	if opts.ChatModel == "" {
		opts.ChatModel = DefaultChatModel
	}
	if opts.EmbedModel == "" {
		opts.EmbedModel = DefaultEmbedModel
	}
	return &Client{models: m, opts: opts}
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

// Embed returns one vector per text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	resp, err := c.models.EmbedContent(ctx, c.opts.EmbedModel, contents, nil)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, &domain.ProviderError{Provider: providerName, Message: fmt.Sprintf("got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))}
	}
	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// Complete generates a reply to prompt under the given system instruction.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(c.opts.Temperature),
	}
	resp, err := c.models.GenerateContent(ctx, c.opts.ChatModel, genai.Text(prompt), cfg)
	if err != nil {
		return "", classify(err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &domain.ProviderError{Provider: providerName, Message: "empty completion"}
	}
	return text, nil
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &domain.ProviderError{Provider: providerName, Status: apiErr.Code, Message: apiErr.Message, Err: err}
	}
	return domain.WrapProvider(providerName, err)
}
