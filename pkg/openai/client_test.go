package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/WessleyAI/wessley-voice/engine/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New("sk-test", Options{BaseURL: srv.URL, Temperature: 0.3})
}

func TestEmbedOrdersByIndex(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing auth header")
		}
		var req embedReq
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != DefaultEmbedModel || len(req.Input) != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0.2]},{"index":0,"embedding":[0.1]}]}`))
	})

	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if vecs[0][0] != 0.1 || vecs[1][0] != 0.2 {
		t.Fatalf("vecs = %v", vecs)
	}
}

func TestEmbedRateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down"}}`))
	})
	_, err := c.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if !domain.Retryable(err) {
		t.Fatal("rate limit should be retryable")
	}
}

func TestEmbedServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})
	if _, err := c.Embed(context.Background(), []string{"a"}); !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestComplete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatReq
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "question" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}
		if req.Temperature != 0.3 {
			t.Errorf("temperature = %v", req.Temperature)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"the answer"}}]}`))
	})
	got, err := c.Complete(context.Background(), "sys", "question")
	if err != nil || got != "the answer" {
		t.Fatalf("Complete = %q, %v", got, err)
	}
}

func TestCompleteNoChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})
	if _, err := c.Complete(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected error")
	}
}

func TestTranscribe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if r.FormValue("model") != DefaultSTTModel || r.FormValue("language") != "en" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		b, _ := io.ReadAll(f)
		if hdr.Filename != "recording.wav" || string(b) != "RIFF" {
			t.Errorf("file = %s %q", hdr.Filename, b)
		}
		w.Write([]byte(`{"text":"  what are your hours?  "}`))
	})
	got, err := c.Transcribe(context.Background(), []byte("RIFF"), "recording.wav", "en")
	if err != nil || got != "what are your hours?" {
		t.Fatalf("Transcribe = %q, %v", got, err)
	}
}

func TestTransportError(t *testing.T) {
	c := New("k", Options{BaseURL: "http://127.0.0.1:1"})
	_, err := c.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, domain.ErrProvider) || !domain.Retryable(err) {
		t.Fatalf("expected retryable provider error, got %v", err)
	}
}
