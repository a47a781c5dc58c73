// Package rag answers a question from the indexed corpus. It embeds the
// question, searches for the closest chunks, assembles a bounded context,
// and asks the completion provider for the final answer.
//
// Answer never lets a provider failure escape: an embedding, search or
// completion failure yields an Answer with Status "error" and a spoken-safe
// apology. Only an empty question or an out-of-range threshold is rejected
// with an error.
package rag

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/wessley-voice/engine/domain"
	"github.com/WessleyAI/wessley-voice/engine/semantic"
	"github.com/WessleyAI/wessley-voice/pkg/metrics"
)

// Embedder turns the question into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher abstracts the vector index.
type Searcher interface {
	Search(ctx context.Context, q semantic.Query) ([]domain.SearchResult, error)
}

// Completer is the completion provider.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

const (
	NoResultsAnswer = "I apologize, but I couldn't find relevant information to answer your question. " +
		"Could you please rephrase your question or provide more details? Our team is here to help you!"
	ErrorAnswer = "I apologize, but I'm experiencing technical difficulties at the moment. " +
		"Please try again in a few moments, or feel free to contact our support team directly for immediate assistance."
)

const defaultSystemPrompt = `You are a helpful and friendly customer support assistant answering callers on the phone.
Answer the question using only the provided context.

Rules:
- Be warm and conversational, but keep answers short and direct.
- Do not start with phrases like "Based on the context" or "According to the information provided".
- If the context does not contain the answer, say so briefly and plainly.
- Never invent facts that are not in the context.`

// Thresholds maps the mean similarity of the used context to a confidence
// grade. Both bounds are inclusive lower bounds.
type Thresholds struct {
	High   float64
	Medium float64
}

// DefaultThresholds are 0.85 for high and 0.70 for medium.
var DefaultThresholds = Thresholds{High: 0.85, Medium: 0.70}

// Classify grades a mean similarity score.
func (t Thresholds) Classify(mean float64) domain.Confidence {
	switch {
	case mean >= t.High:
		return domain.ConfidenceHigh
	case mean >= t.Medium:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

// Options configures retrieval and generation.
type Options struct {
	SearchLimit      int
	ScoreThreshold   float32
	MaxContextLength int
	SystemPrompt     string
	Thresholds       Thresholds
	SearchTimeout    time.Duration
	// CompletionRate caps completion calls per second; zero disables it.
	CompletionRate float64
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		SearchLimit:      5,
		ScoreThreshold:   0.2,
		MaxContextLength: 4000,
		SystemPrompt:     defaultSystemPrompt,
		Thresholds:       DefaultThresholds,
		SearchTimeout:    5 * time.Second,
	}
}

// Query is a single question. Zero limits and a nil ScoreThreshold fall
// back to the service options; an explicit zero threshold keeps every hit.
type Query struct {
	Text             string
	OwnerIdentity    string
	SearchLimit      int
	ScoreThreshold   *float32
	MaxContextLength int
}

// Service is the answer generator.
type Service struct {
	embed    Embedder
	search   Searcher
	complete Completer
	limiter  *rate.Limiter
	opts     Options
	logger   *slog.Logger

	answers  func(status domain.AnswerStatus, c domain.Confidence) *metrics.Counter
	duration *metrics.Histogram
}

// New creates a Service. A nil registry gets a private one.
func New(e Embedder, s Searcher, c Completer, opts Options, reg *metrics.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	def := DefaultOptions()
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = def.SearchLimit
	}
	if opts.MaxContextLength <= 0 {
		opts.MaxContextLength = def.MaxContextLength
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = def.SystemPrompt
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = def.Thresholds
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = def.SearchTimeout
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.CompletionRate > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.CompletionRate), 1)
	}
	return &Service{
		embed:    e,
		search:   s,
		complete: c,
		limiter:  lim,
		opts:     opts,
		logger:   logger,
		answers: func(status domain.AnswerStatus, c domain.Confidence) *metrics.Counter {
			return reg.Counter(metrics.WithLabels("voicerag_rag_answers_total", "status", string(status), "confidence", string(c)), "Answers by status and confidence")
		},
		duration: reg.Histogram("voicerag_rag_duration_seconds", "Answer latency", nil),
	}
}

// Answer runs retrieval and generation for q.
func (s *Service) Answer(ctx context.Context, q Query) (domain.Answer, error) {
	if err := domain.ValidateQuery(q.Text); err != nil {
		return domain.Answer{}, err
	}
	if t := q.ScoreThreshold; t != nil && (*t < 0 || *t > 1) {
		return domain.Answer{}, domain.NewValidationError("score_threshold", fmt.Sprint(*t), fmt.Errorf("score threshold must be between 0 and 1"))
	}
	start := time.Now()
	ans := s.answer(ctx, s.withDefaults(q))
	s.duration.Since(start)
	s.answers(ans.Status, ans.Confidence).Inc()
	return ans, nil
}

func (s *Service) withDefaults(q Query) Query {
	q.Text = strings.TrimSpace(q.Text)
	if q.SearchLimit <= 0 {
		q.SearchLimit = s.opts.SearchLimit
	}
	if q.ScoreThreshold == nil {
		t := s.opts.ScoreThreshold
		q.ScoreThreshold = &t
	}
	if q.MaxContextLength <= 0 {
		q.MaxContextLength = s.opts.MaxContextLength
	}
	return q
}

func (s *Service) answer(ctx context.Context, q Query) domain.Answer {
	log := s.logger.With("query_len", len(q.Text), "owner", q.OwnerIdentity)

	vec, err := s.embed.Embed(ctx, q.Text)
	if err != nil {
		log.Error("rag: embed query", "err", err)
		return failed(q.Text)
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()
	var filter map[string]string
	if q.OwnerIdentity != "" {
		filter = map[string]string{"owner_identity": q.OwnerIdentity}
	}
	results, err := s.search.Search(searchCtx, semantic.Query{
		Vector:         vec,
		Filter:         filter,
		Limit:          q.SearchLimit,
		ScoreThreshold: *q.ScoreThreshold,
	})
	if err != nil {
		log.Error("rag: search", "err", err)
		return failed(q.Text)
	}
	log.Info("rag: search done", "results", len(results))

	if len(results) == 0 {
		return domain.Answer{
			Status:     domain.StatusSuccess,
			Text:       NoResultsAnswer,
			Sources:    []domain.Citation{},
			Confidence: domain.ConfidenceLow,
			Query:      q.Text,
		}
	}

	ctxText, used := BuildContext(results, q.MaxContextLength)
	sources := make([]domain.Citation, len(used))
	var sum float64
	for i, r := range used {
		sum += float64(r.Score)
		sources[i] = domain.Citation{
			Filename:   r.Payload.Filename,
			DocumentID: r.Payload.DocumentID,
			ChunkIndex: r.Payload.ChunkIndex,
			Score:      round3(float64(r.Score)),
			CreatedAt:  r.Payload.CreatedAt,
		}
	}
	var mean float64
	if len(used) > 0 {
		mean = sum / float64(len(used))
	}

	if err := s.limiter.Wait(ctx); err != nil {
		log.Error("rag: completion throttle", "err", err)
		return failed(q.Text)
	}
	text, err := s.complete.Complete(ctx, s.opts.SystemPrompt, UserPrompt(ctxText, q.Text))
	if err != nil {
		log.Error("rag: completion", "err", err)
		return failed(q.Text)
	}

	return domain.Answer{
		Status:            domain.StatusSuccess,
		Text:              strings.TrimSpace(text),
		Sources:           sources,
		Confidence:        s.opts.Thresholds.Classify(mean),
		Query:             q.Text,
		TotalSourcesFound: len(results),
		ContextUsed:       len(used),
		AverageScore:      round3(mean),
	}
}

// BuildContext joins result texts in descending score order, stopping
// before the first chunk that would push the context past maxLen
// characters. It returns the context and the results it used.
func BuildContext(results []domain.SearchResult, maxLen int) (string, []domain.SearchResult) {
	results = slices.Clone(results)
	slices.SortStableFunc(results, func(a, b domain.SearchResult) int { return cmp.Compare(b.Score, a.Score) })
	var (
		parts []string
		used  []domain.SearchResult
		total int
	)
	for _, r := range results {
		n := len([]rune(r.Payload.Text))
		if len(parts) > 0 {
			n += 2
		}
		if total+n > maxLen {
			break
		}
		total += n
		parts = append(parts, r.Payload.Text)
		used = append(used, r)
	}
	return strings.Join(parts, "\n\n"), used
}

// UserPrompt is the user turn sent to the completion provider.
func UserPrompt(context, question string) string {
	return fmt.Sprintf("Context Information:\n%s\n\nCustomer Question: %s\n\n"+
		"Please provide a helpful and accurate answer based on the context above. "+
		"If the context doesn't contain enough information to fully answer the question, "+
		"please let the customer know politely and offer alternative assistance.", context, question)
}

func failed(query string) domain.Answer {
	return domain.Answer{
		Status:     domain.StatusError,
		Text:       ErrorAnswer,
		Sources:    []domain.Citation{},
		Confidence: domain.ConfidenceError,
		Query:      query,
	}
}

func round3(f float64) float64 { return math.Round(f*1000) / 1000 }
