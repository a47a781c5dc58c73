// Package ollama provides embeddings and chat completions backed by a local
// Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/WessleyAI/wessley-voice/engine/domain"
)

const providerName = "ollama"

// Client talks to Ollama's HTTP API.
type Client struct {
	baseURL     string
	embedModel  string
	chatModel   string
	temperature float64
	client      *http.Client
}

// NewClient creates an Ollama client.
func NewClient(baseURL, embedModel, chatModel string, temperature float64) *Client {
	return &Client{
		baseURL:     baseURL,
		embedModel:  embedModel,
		chatModel:   chatModel,
		temperature: temperature,
		client:      &http.Client{},
	}
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

func (c *Client) embed(ctx context.Context, text string) ([]float32, error) {
	var result ollamaEmbedResp
	if err := c.post(ctx, "/api/embeddings", ollamaEmbedReq{Model: c.embedModel, Prompt: text}, &result); err != nil {
		return nil, err
	}
	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// Embed embeds each text in turn; Ollama has no batch endpoint.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vals, err := c.embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d]: %w", i, err)
		}
		out[i] = vals
	}
	return out, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatReq struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResp struct {
	Message chatMessage `json:"message"`
}

// Complete runs a non-streaming chat turn.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := chatReq{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Options: map[string]any{"temperature": c.temperature},
	}
	var out chatResp
	if err := c.post(ctx, "/api/chat", req, &out); err != nil {
		return "", err
	}
	return out.Message.Content, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, _ := json.Marshal(in)
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.WrapProvider(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.NewProviderError(providerName, resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.WrapProvider(providerName, fmt.Errorf("decode: %w", err))
	}
	return nil
}
