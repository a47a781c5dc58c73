package openai

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
)

type transcriptionResp struct {
	Text string `json:"text"`
}

// Transcribe uploads audio to the speech-to-text endpoint and returns the
// trimmed transcript. filename carries the audio format (e.g. "recording.wav").
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("openai: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("openai: write audio: %w", err)
	}
	if err := mw.WriteField("model", c.opts.STTModel); err != nil {
		return "", fmt.Errorf("openai: write model: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", fmt.Errorf("openai: write language: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("openai: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("openai: new request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out transcriptionResp
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}
