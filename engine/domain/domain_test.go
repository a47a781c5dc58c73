package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestValidateUpload(t *testing.T) {
	ok := Upload{Filename: "Manual.PDF", OwnerIdentity: "alice", Content: []byte("%PDF"), ChunkSize: 1000, Overlap: 200}
	if err := ValidateUpload(ok); err != nil {
		t.Fatalf("expected valid upload, got %v", err)
	}

	cases := map[string]Upload{
		"not pdf":       {Filename: "notes.txt", OwnerIdentity: "alice", Content: []byte("x"), ChunkSize: 10},
		"no owner":      {Filename: "a.pdf", OwnerIdentity: "  ", Content: []byte("x"), ChunkSize: 10},
		"empty file":    {Filename: "a.pdf", OwnerIdentity: "alice", ChunkSize: 10},
		"zero size":     {Filename: "a.pdf", OwnerIdentity: "alice", Content: []byte("x")},
		"overlap large": {Filename: "a.pdf", OwnerIdentity: "alice", Content: []byte("x"), ChunkSize: 10, Overlap: 10},
		"overlap neg":   {Filename: "a.pdf", OwnerIdentity: "alice", Content: []byte("x"), ChunkSize: 10, Overlap: -1},
	}
	for name, u := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateUpload(u)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestValidateExtractedText(t *testing.T) {
	if err := ValidateExtractedText("a.pdf", "  \n short \t"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := ValidateExtractedText("a.pdf", "enough readable text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidatePhoneNumber(t *testing.T) {
	for _, n := range []string{"+14155550100", "+447911123456"} {
		if err := ValidatePhoneNumber("to", n); err != nil {
			t.Errorf("%s: unexpected error %v", n, err)
		}
	}
	for _, n := range []string{"14155550100", "+0123", "+1415abc0100", ""} {
		if err := ValidatePhoneNumber("to", n); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%q: expected ErrInvalidInput, got %v", n, err)
		}
	}
}

func TestNormalizeWebhookBase(t *testing.T) {
	got, err := NormalizeWebhookBase("  https://voice.example.com/api/// ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://voice.example.com/api" {
		t.Fatalf("got %q", got)
	}
	for _, raw := range []string{"", "ftp://x", "voice.example.com"} {
		if _, err := NormalizeWebhookBase(raw); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%q: expected ErrInvalidInput, got %v", raw, err)
		}
	}
}

func TestProviderErrorClassification(t *testing.T) {
	limited := NewProviderError("openai", http.StatusTooManyRequests, "slow down")
	if !errors.Is(limited, ErrRateLimited) || errors.Is(limited, ErrProvider) {
		t.Fatal("429 should be rate limited only")
	}
	if !Retryable(limited) {
		t.Fatal("429 should be retryable")
	}

	down := NewProviderError("openai", http.StatusBadGateway, "")
	if !errors.Is(down, ErrProvider) || !Retryable(down) {
		t.Fatal("502 should be a retryable provider error")
	}

	auth := NewProviderError("openai", http.StatusUnauthorized, "bad key")
	if Retryable(auth) {
		t.Fatal("401 should not be retryable")
	}

	wrapped := fmt.Errorf("embed: %w", WrapProvider("ollama", errors.New("connection refused")))
	if !errors.Is(wrapped, ErrProvider) || !Retryable(wrapped) {
		t.Fatal("transport errors should be retryable provider errors")
	}
	if WrapProvider("x", nil) != nil {
		t.Fatal("WrapProvider(nil) should be nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{NewValidationError("f", "v", errors.New("bad")), http.StatusBadRequest},
		{fmt.Errorf("x: %w", ErrExtraction), http.StatusBadRequest},
		{fmt.Errorf("x: %w", ErrConfigConflict), http.StatusConflict},
		{fmt.Errorf("x: %w", ErrNotFound), http.StatusNotFound},
		{NewProviderError("p", 429, ""), http.StatusTooManyRequests},
		{NewProviderError("p", 500, ""), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestValidateQuery(t *testing.T) {
	if err := ValidateQuery(" \t"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := ValidateQuery("what are the opening hours?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
