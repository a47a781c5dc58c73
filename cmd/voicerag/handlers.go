package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/WessleyAI/wessley-voice/engine/call"
	"github.com/WessleyAI/wessley-voice/engine/domain"
	"github.com/WessleyAI/wessley-voice/engine/ingest"
	"github.com/WessleyAI/wessley-voice/engine/rag"
	"github.com/WessleyAI/wessley-voice/engine/telephony"
	"github.com/WessleyAI/wessley-voice/engine/twiml"
	"github.com/WessleyAI/wessley-voice/pkg/config"
	"github.com/WessleyAI/wessley-voice/pkg/metrics"
)

type uploader interface {
	Ingest(ctx context.Context, u domain.Upload) (ingest.Report, error)
}

type answerer interface {
	Answer(ctx context.Context, q rag.Query) (domain.Answer, error)
}

type documentCatalog interface {
	ListByOwner(ctx context.Context, owner string, limit int) ([]domain.Document, error)
	All(ctx context.Context, limit int) ([]domain.Document, error)
	Get(ctx context.Context, id string) (domain.Document, error)
	Delete(ctx context.Context, id string) error
}

type pointDeleter interface {
	DeleteByDocID(ctx context.Context, docID string) error
}

type placer interface {
	Place(ctx context.Context, r call.PlaceRequest) (call.PlaceResult, error)
}

type numberAdmin interface {
	List(ctx context.Context) ([]telephony.PhoneNumber, error)
	WebhookInfo(ctx context.Context) (telephony.PhoneNumber, error)
	SetupWebhook(ctx context.Context, base string) (telephony.WebhookResult, error)
	TestAuth(ctx context.Context) (telephony.AuthReport, error)
}

// api serves the HTTP surface. Optional collaborators are nil when their
// backing service is not configured.
type api struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Registry

	uploads uploader
	asker   answerer
	docs    documentCatalog
	points  pointDeleter
	calls   *call.Controller
	dialer  placer
	numbers numberAdmin
}

var errNotConfigured = errors.New("not configured")

func (a *api) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", a.handleRoot)
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.Handle("GET /metrics", a.metrics.Handler())

	mux.HandleFunc("POST /upload_pdf", a.handleUpload)
	mux.HandleFunc("GET /documents", a.handleDocuments)
	mux.HandleFunc("GET /documents/{id}", a.handleDocument)
	mux.HandleFunc("DELETE /documents/{id}", a.handleDeleteDocument)
	mux.HandleFunc("POST /ask", a.handleAsk)

	mux.HandleFunc("POST /voice/incoming", a.handleCallStarted(telephony.Inbound))
	mux.HandleFunc("POST /voice/outbound", a.handleCallStarted(telephony.Outbound))
	mux.HandleFunc("POST /voice/process_recording", a.handleRecording)
	mux.HandleFunc("POST /voice/continue", a.handleContinue)
	mux.HandleFunc("POST /voice/transcription", a.handleTranscription)

	mux.HandleFunc("POST /make_call", a.handleMakeCall(false))
	mux.HandleFunc("POST /make_interactive_call", a.handleMakeCall(true))
	mux.HandleFunc("GET /list_phone_numbers", a.handleListNumbers)
	mux.HandleFunc("GET /webhook_info", a.handleWebhookInfo)
	mux.HandleFunc("GET /setup_webhook", a.handleSetupWebhook)
	mux.HandleFunc("POST /setup_webhook", a.handleSetupWebhook)
	mux.HandleFunc("GET /test_twilio_auth", a.handleTestAuth)
	mux.HandleFunc("GET /config/twilio", a.handleTwilioConfig)
	return mux
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := domain.HTTPStatus(err)
	if errors.Is(err, errNotConfigured) {
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		a.log.Error("request failed", "path", r.URL.Path, "err", err)
	} else {
		a.log.Warn("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func writeXML(w http.ResponseWriter, doc []byte) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// --- Service info ---

func (a *api) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "running",
		"service":       "voicerag",
		"twilio_number": a.cfg.Twilio.PhoneNumber,
	})
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	p := a.cfg.Providers
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "healthy",
		"twilio_configured":   a.cfg.TwilioConfigured(),
		"openai_configured":   p.OpenAIKey != "",
		"embedding_provider":  p.Embedding,
		"completion_provider": p.Completion,
		"catalog_enabled":     a.docs != nil,
	})
}

// --- Documents ---

func (a *api) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(a.cfg.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		a.writeError(w, r, domain.NewValidationError("file", "", fmt.Errorf("invalid multipart form: %w", err)))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		a.writeError(w, r, domain.NewValidationError("file", "", errors.New("file is required")))
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		a.writeError(w, r, domain.NewValidationError("file", header.Filename, err))
		return
	}

	owner := r.FormValue("owner_identity")
	if owner == "" {
		owner = r.FormValue("username")
	}
	chunkSize, err := formInt(r.Form, "chunk_size", a.cfg.RAG.ChunkSize)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	overlap, err := formInt(r.Form, "overlap", a.cfg.RAG.Overlap)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	report, err := a.uploads.Ingest(r.Context(), domain.Upload{
		Filename:      header.Filename,
		OwnerIdentity: strings.TrimSpace(owner),
		Content:       content,
		ChunkSize:     chunkSize,
		Overlap:       overlap,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func formInt(form url.Values, key string, def int) (int, error) {
	raw := strings.TrimSpace(form.Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(key, raw, errors.New("must be an integer"))
	}
	return n, nil
}

func (a *api) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if a.docs == nil {
		a.writeError(w, r, fmt.Errorf("document catalog: %w", errNotConfigured))
		return
	}
	limit, err := formInt(r.URL.Query(), "limit", 100)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	var docs []domain.Document
	if owner == "" {
		docs, err = a.docs.All(r.Context(), limit)
	} else {
		docs, err = a.docs.ListByOwner(r.Context(), owner, limit)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner_identity": owner, "documents": docs, "total_count": len(docs)})
}

func (a *api) handleDocument(w http.ResponseWriter, r *http.Request) {
	if a.docs == nil {
		a.writeError(w, r, fmt.Errorf("document catalog: %w", errNotConfigured))
		return
	}
	doc, err := a.docs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleDeleteDocument removes the document's points before its catalog
// record, so a failed vector delete leaves the record in place for a retry.
func (a *api) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if a.docs == nil || a.points == nil {
		a.writeError(w, r, fmt.Errorf("document catalog: %w", errNotConfigured))
		return
	}
	id := r.PathValue("id")
	if _, err := a.docs.Get(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.points.DeleteByDocID(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.docs.Delete(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.log.Info("document deleted", "doc_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "document_id": id})
}

// askRequest is the JSON body for POST /ask.
type askRequest struct {
	Query            string   `json:"query"`
	OwnerIdentity    string   `json:"owner_identity,omitempty"`
	SearchLimit      int      `json:"search_limit,omitempty"`
	ScoreThreshold   *float32 `json:"score_threshold,omitempty"`
	MaxContextLength int      `json:"max_context_length,omitempty"`
}

func (a *api) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, r, domain.NewValidationError("body", "", fmt.Errorf("invalid request body: %w", err)))
		return
	}
	ans, err := a.asker.Answer(r.Context(), rag.Query{
		Text:             req.Query,
		OwnerIdentity:    req.OwnerIdentity,
		SearchLimit:      req.SearchLimit,
		ScoreThreshold:   req.ScoreThreshold,
		MaxContextLength: req.MaxContextLength,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// --- Voice callbacks ---

// apology is returned when a callback cannot be parsed.
func (a *api) apology(w http.ResponseWriter, r *http.Request, err error) {
	a.log.Warn("voice callback rejected", "path", r.URL.Path, "err", err)
	doc, rerr := twiml.Render(twiml.Response{
		twiml.Say{Voice: a.cfg.Voice.Voice, Text: call.DefaultPrompts.CallError},
		twiml.Hangup{},
	})
	if rerr != nil {
		doc = twiml.Empty()
	}
	writeXML(w, doc)
}

func (a *api) handleCallStarted(dir telephony.Direction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			a.apology(w, r, err)
			return
		}
		ev, err := telephony.ParseCallStarted(r.PostForm, dir)
		if err != nil {
			a.apology(w, r, err)
			return
		}
		a.log.Info("call started", "call_id", ev.CallSID, "direction", dir, "from", ev.From, "to", ev.To)
		writeXML(w, a.calls.Handle(r.Context(), ev.CallSID, dir, call.CallStarted{Direction: dir, From: ev.From, To: ev.To}))
	}
}

func (a *api) handleRecording(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.apology(w, r, err)
		return
	}
	ev, err := telephony.ParseRecording(r.PostForm)
	if err != nil {
		a.apology(w, r, err)
		return
	}
	writeXML(w, a.calls.Handle(r.Context(), ev.CallSID, telephony.Inbound, call.RecordingFinished{URL: ev.RecordingURL, Duration: ev.Duration}))
}

func (a *api) handleContinue(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.apology(w, r, err)
		return
	}
	ev, err := telephony.ParseDigits(r.PostForm)
	if err != nil {
		a.apology(w, r, err)
		return
	}
	writeXML(w, a.calls.Handle(r.Context(), ev.CallSID, telephony.Inbound, call.DigitsCollected{Digits: ev.Digits}))
}

func (a *api) handleTranscription(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.log.Warn("transcription callback rejected", "err", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "error"})
		return
	}
	ev, err := telephony.ParseTranscription(r.PostForm)
	if err != nil {
		a.log.Warn("transcription callback rejected", "err", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "error"})
		return
	}
	a.calls.RecordTranscript(ev.CallSID, ev.Text)
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// --- Outbound calls and number admin ---

// placeInput reads a PlaceRequest from a JSON body, a form, or the query
// string.
func placeInput(r *http.Request, interactive bool) (call.PlaceRequest, error) {
	var req call.PlaceRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, domain.NewValidationError("body", "", fmt.Errorf("invalid request body: %w", err))
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return req, domain.NewValidationError("body", "", err)
		}
		req.To = r.Form.Get("phone_number")
		req.Message = r.Form.Get("message")
		if req.Message == "" {
			req.Message = r.Form.Get("initial_message")
		}
		if v := r.Form.Get("interactive"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return req, domain.NewValidationError("interactive", v, errors.New("must be a boolean"))
			}
			req.Interactive = b
		}
	}
	if interactive {
		req.Interactive = true
	}
	return req, nil
}

func (a *api) handleMakeCall(interactive bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.dialer == nil {
			a.writeError(w, r, fmt.Errorf("twilio: %w", errNotConfigured))
			return
		}
		req, err := placeInput(r, interactive)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		res, err := a.dialer.Place(r.Context(), req)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (a *api) requireNumbers(w http.ResponseWriter, r *http.Request) bool {
	if a.numbers == nil {
		a.writeError(w, r, fmt.Errorf("twilio: %w", errNotConfigured))
		return false
	}
	return true
}

func (a *api) handleListNumbers(w http.ResponseWriter, r *http.Request) {
	if !a.requireNumbers(w, r) {
		return
	}
	nums, err := a.numbers.List(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"phone_numbers": nums, "total_count": len(nums)})
}

func (a *api) handleWebhookInfo(w http.ResponseWriter, r *http.Request) {
	if !a.requireNumbers(w, r) {
		return
	}
	n, err := a.numbers.WebhookInfo(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (a *api) handleSetupWebhook(w http.ResponseWriter, r *http.Request) {
	if !a.requireNumbers(w, r) {
		return
	}
	base := r.FormValue("webhook_url")
	if base == "" {
		base = a.cfg.Twilio.WebhookURL
	}
	res, err := a.numbers.SetupWebhook(r.Context(), base)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) handleTestAuth(w http.ResponseWriter, r *http.Request) {
	if !a.requireNumbers(w, r) {
		return
	}
	rep, err := a.numbers.TestAuth(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *api) handleTwilioConfig(w http.ResponseWriter, _ *http.Request) {
	tw := a.cfg.Redacted().Twilio
	writeJSON(w, http.StatusOK, map[string]any{
		"account_sid":  tw.AccountSID,
		"phone_number": tw.PhoneNumber,
		"webhook_url":  tw.WebhookURL,
	})
}
