// Package embed turns text into fixed-dimension vectors through an external
// embedding provider. The gateway holds no cache; it only validates input,
// throttles, and classifies provider failures.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/wessley-voice/engine/domain"
	"github.com/WessleyAI/wessley-voice/pkg/fn"
	"github.com/WessleyAI/wessley-voice/pkg/metrics"
	"github.com/WessleyAI/wessley-voice/pkg/resilience"
)

// Provider is an embedding backend (OpenAI, Ollama, Gemini).
type Provider interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Options configures a Gateway.
type Options struct {
	// Dimension is the expected vector length. Zero disables the check.
	Dimension int
	// RatePerSecond caps provider requests. Zero means unlimited.
	RatePerSecond float64
	Burst         int
	// MaxBatch is the largest number of texts sent in one provider request.
	MaxBatch int
	// Workers bounds concurrent provider requests in EmbedBatch.
	Workers int
	Breaker resilience.BreakerOpts
	Metrics *metrics.Registry
}

// DefaultOptions matches the OpenAI ada-002 contract.
var DefaultOptions = Options{
	Dimension:     1536,
	RatePerSecond: 20,
	Burst:         5,
	MaxBatch:      64,
	Workers:       4,
	Breaker:       resilience.DefaultBreakerOpts,
}

// Gateway wraps a Provider.
type Gateway struct {
	provider Provider
	opts     Options
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
	logger   *slog.Logger

	mLatency  *metrics.Histogram
	mRequests *metrics.Counter
	mFailures *metrics.Counter
}

// New creates a Gateway.
func New(p Provider, opts Options, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = DefaultOptions.MaxBatch
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	bo := opts.Breaker
	bo.Counts = countsAsFailure
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.New()
	}
	name := p.Name()
	logger = logger.With("component", "embed", "provider", name)
	breaker := resilience.NewBreaker(bo)
	open := reg.Gauge(metrics.WithLabels("voicerag_provider_breaker_open", "provider", name), "1 while the provider breaker is not closed")
	breaker.OnStateChange(func(from, to resilience.State) {
		logger.Warn("embed: breaker state change", "from", from, "to", to)
		if to == resilience.StateClosed {
			open.Set(0)
		} else {
			open.Set(1)
		}
	})
	return &Gateway{
		provider:  p,
		opts:      opts,
		limiter:   rate.NewLimiter(limit, opts.Burst),
		breaker:   breaker,
		logger:    logger,
		mLatency:  reg.Histogram(metrics.WithLabels("voicerag_provider_duration_seconds", "provider", name, "op", "embed"), "Provider call latency", nil),
		mRequests: reg.Counter(metrics.WithLabels("voicerag_provider_requests_total", "provider", name, "op", "embed"), "Provider requests"),
		mFailures: reg.Counter(metrics.WithLabels("voicerag_provider_failures_total", "provider", name, "op", "embed"), "Provider failures"),
	}
}

// Caller mistakes must not open the breaker.
func countsAsFailure(err error) bool {
	return !errors.Is(err, domain.ErrInvalidInput)
}

// Dimension returns the configured vector length (0 if unchecked).
func (g *Gateway) Dimension() int { return g.opts.Dimension }

// Embed returns the vector for a single text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in order. Any empty text rejects the whole batch
// before a provider is contacted.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, domain.NewValidationError("texts", "", fmt.Errorf("nothing to embed"))
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, domain.NewValidationError(fmt.Sprintf("texts[%d]", i), t, fmt.Errorf("empty text"))
		}
	}

	batches := fn.Chunk(texts, g.opts.MaxBatch)
	results := fn.ParMapResult(batches, g.opts.Workers, func(batch []string) fn.Result[[][]float32] {
		return fn.FromPair(g.call(ctx, batch))
	})
	all, err := fn.Collect(results).Unwrap()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(texts))
	for _, vecs := range all {
		out = append(out, vecs...)
	}
	return out, nil
}

func (g *Gateway) call(ctx context.Context, batch []string) ([][]float32, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embed: throttle: %w (%w)", domain.ErrRateLimited, err)
	}

	start := time.Now()
	g.mRequests.Inc()
	vecs, err := resilience.Do(ctx, g.breaker, func(ctx context.Context) ([][]float32, error) {
		return g.provider.Embed(ctx, batch)
	})
	g.mLatency.Since(start)
	if err != nil {
		g.mFailures.Inc()
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = domain.WrapProvider(g.provider.Name(), err)
		}
		g.logger.Warn("embed failed", "batch", len(batch), "retryable", domain.Retryable(err), "err", err)
		return nil, fmt.Errorf("embed: %w", err)
	}

	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("embed: %w", &domain.ProviderError{
			Provider: g.provider.Name(),
			Message:  fmt.Sprintf("got %d vectors for %d texts", len(vecs), len(batch)),
		})
	}
	if g.opts.Dimension > 0 {
		for i, v := range vecs {
			if len(v) != g.opts.Dimension {
				return nil, fmt.Errorf("embed: vector %d has dimension %d, want %d: %w",
					i, len(v), g.opts.Dimension, domain.ErrConfigConflict)
			}
		}
	}
	return vecs, nil
}
