// Package openai is a small HTTP client for the OpenAI embeddings, chat
// completions, and audio transcription endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/WessleyAI/wessley-voice/engine/domain"
)

const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultEmbedModel = "text-embedding-ada-002"
	DefaultChatModel  = "gpt-4.1"
	DefaultSTTModel   = "gpt-4o-transcribe"

	providerName = "openai"
)

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	BaseURL     string
	EmbedModel  string
	ChatModel   string
	STTModel    string
	Temperature float64
	HTTPClient  *http.Client
}

// Client talks to the OpenAI REST API.
type Client struct {
	apiKey string
	opts   Options
	http   *http.Client
}

// New creates a Client.
func New(apiKey string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.EmbedModel == "" {
		opts.EmbedModel = DefaultEmbedModel
	}
	if opts.ChatModel == "" {
		opts.ChatModel = DefaultChatModel
	}
	if opts.STTModel == "" {
		opts.STTModel = DefaultSTTModel
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{apiKey: apiKey, opts: opts, http: hc}
}

// Name identifies the provider in errors and metrics.
func (c *Client) Name() string { return providerName }

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out embedResp
	if err := c.postJSON(ctx, "/embeddings", embedReq{Model: c.opts.EmbedModel, Input: texts}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, &domain.ProviderError{Provider: providerName, Message: fmt.Sprintf("got %d embeddings for %d inputs", len(out.Data), len(texts))}
	}
	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, &domain.ProviderError{Provider: providerName, Message: fmt.Sprintf("embedding index %d out of range", d.Index)}
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatReq struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResp struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete runs a single system+user chat turn and returns the reply text.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := chatReq{
		Model: c.opts.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: c.opts.Temperature,
	}
	var out chatResp
	if err := c.postJSON(ctx, "/chat/completions", req, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", &domain.ProviderError{Provider: providerName, Message: "no choices in completion"}
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("openai: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.WrapProvider(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.NewProviderError(providerName, resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.WrapProvider(providerName, fmt.Errorf("decode: %w", err))
	}
	return nil
}
