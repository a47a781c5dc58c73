package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/wessley-voice/engine/call"
	"github.com/WessleyAI/wessley-voice/engine/catalog"
	"github.com/WessleyAI/wessley-voice/engine/domain"
	"github.com/WessleyAI/wessley-voice/engine/embed"
	"github.com/WessleyAI/wessley-voice/engine/extract"
	"github.com/WessleyAI/wessley-voice/engine/ingest"
	"github.com/WessleyAI/wessley-voice/engine/rag"
	"github.com/WessleyAI/wessley-voice/engine/semantic"
	"github.com/WessleyAI/wessley-voice/engine/telephony"
	"github.com/WessleyAI/wessley-voice/pkg/config"
	"github.com/WessleyAI/wessley-voice/pkg/gemini"
	"github.com/WessleyAI/wessley-voice/pkg/metrics"
	"github.com/WessleyAI/wessley-voice/pkg/ollama"
	"github.com/WessleyAI/wessley-voice/pkg/openai"
)

type completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// services is everything the commands share. Optional parts are nil when
// not configured.
type services struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Registry

	vectors *semantic.VectorStore
	gateway *embed.Gateway
	rag     *rag.Service
	ingest  *ingest.Service
	catalog *catalog.Catalog
	nc      *nats.Conn
	openai  *openai.Client

	twilio  *telephony.Client
	numbers *telephony.Numbers
	dialer  *call.Dialer

	closers []func()
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func providerHTTPClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

func newOpenAI(cfg config.Config) *openai.Client {
	p := cfg.Providers
	return openai.New(p.OpenAIKey, openai.Options{
		BaseURL:     p.OpenAIBaseURL,
		EmbedModel:  p.EmbedModel,
		ChatModel:   p.ChatModel,
		STTModel:    p.STTModel,
		Temperature: p.Temperature,
		HTTPClient:  providerHTTPClient(),
	})
}

func newEmbedProvider(ctx context.Context, cfg config.Config, oa *openai.Client) (embed.Provider, error) {
	p := cfg.Providers
	switch p.Embedding {
	case "ollama":
		return ollama.NewClient(p.OllamaURL, p.EmbedModel, p.ChatModel, p.Temperature), nil
	case "gemini":
		return gemini.New(ctx, p.GeminiKey, gemini.Options{EmbedModel: p.EmbedModel, ChatModel: p.ChatModel, Temperature: float32(p.Temperature)})
	default:
		if p.OpenAIKey == "" {
			return nil, errors.New("providers.openai_api_key is required for the openai embedding provider")
		}
		return oa, nil
	}
}

func newCompleter(ctx context.Context, cfg config.Config, oa *openai.Client) (completer, error) {
	p := cfg.Providers
	switch p.Completion {
	case "ollama":
		return ollama.NewClient(p.OllamaURL, p.EmbedModel, p.ChatModel, p.Temperature), nil
	case "gemini":
		return gemini.New(ctx, p.GeminiKey, gemini.Options{EmbedModel: p.EmbedModel, ChatModel: p.ChatModel, Temperature: float32(p.Temperature)})
	default:
		if p.OpenAIKey == "" {
			return nil, errors.New("providers.openai_api_key is required for the openai completion provider")
		}
		return oa, nil
	}
}

// newServices connects the vector index and providers and, when enabled,
// the document catalog and NATS.
func newServices(ctx context.Context, cfg config.Config, log *slog.Logger) (*services, error) {
	s := &services{cfg: cfg, log: log, metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	s.openai = newOpenAI(cfg)

	vs, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	s.vectors = vs
	s.closers = append(s.closers, func() { _ = vs.Close() })

	spec := semantic.CollectionSpec{
		Name:      cfg.Qdrant.Collection,
		Dimension: cfg.Qdrant.Dimension,
		Distance:  semantic.Distance(cfg.Qdrant.Distance),
	}
	ensureCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err = vs.EnsureCollection(ensureCtx, spec)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	provider, err := newEmbedProvider(ctx, cfg, s.openai)
	if err != nil {
		return nil, err
	}
	eo := embed.DefaultOptions
	eo.Dimension = cfg.Qdrant.Dimension
	eo.RatePerSecond = cfg.Providers.EmbedRatePerSecond
	eo.Burst = cfg.Providers.EmbedBurst
	eo.Metrics = s.metrics
	s.gateway = embed.New(provider, eo, log)

	comp, err := newCompleter(ctx, cfg, s.openai)
	if err != nil {
		return nil, err
	}
	ro := rag.DefaultOptions()
	ro.SearchLimit = cfg.RAG.SearchLimit
	ro.ScoreThreshold = float32(cfg.RAG.ScoreThreshold)
	ro.MaxContextLength = cfg.RAG.MaxContextLength
	ro.Thresholds = rag.Thresholds{High: cfg.RAG.HighConfidence, Medium: cfg.RAG.MediumConfidence}
	ro.CompletionRate = cfg.Providers.CompletionRatePerSecond
	s.rag = rag.New(s.gateway, vs, comp, ro, s.metrics, log)

	if cfg.Neo4j.Enabled {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URL, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
		if err != nil {
			return nil, fmt.Errorf("neo4j driver: %w", err)
		}
		s.closers = append(s.closers, func() { _ = driver.Close(context.Background()) })
		if err := driver.VerifyConnectivity(ctx); err != nil {
			return nil, fmt.Errorf("neo4j connectivity: %w", err)
		}
		s.catalog = catalog.New(driver, cfg.Neo4j.Database)
		log.Info("document catalog enabled", "url", cfg.Neo4j.URL)
	}

	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("voicerag"))
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		s.nc = nc
		s.closers = append(s.closers, func() { _ = nc.Drain() })
		log.Info("nats connected", "url", cfg.NATS.URL)
	}

	deps := ingest.Deps{
		Extractor: extract.New(log),
		Embedder:  s.gateway,
		Index:     vs,
		NATS:      s.nc,
		Metrics:   s.metrics,
		Logger:    log,
	}
	if s.catalog != nil {
		deps.Catalog = s.catalog
	}
	s.ingest = ingest.New(deps)

	s.wireTelephony()
	ok = true
	return s, nil
}

// wireTelephony builds the Twilio client, number admin and dialer when
// credentials are configured.
func (s *services) wireTelephony() {
	tw := s.cfg.Twilio
	if !s.cfg.TwilioConfigured() {
		s.log.Warn("twilio credentials not configured; call and number endpoints are disabled")
		return
	}
	s.twilio = telephony.NewClient(tw.AccountSID, tw.AuthToken)
	s.numbers = telephony.NewNumbers(s.twilio, tw.PhoneNumber, tw.AllowFirstNumberFallback, s.log)
	// Validate has already checked the webhook base.
	base, _ := domain.NormalizeWebhookBase(tw.WebhookURL)
	s.dialer = call.NewDialer(s.twilio, tw.PhoneNumber, base, s.cfg.Voice.Voice, s.log)
}

// machineConfig maps the voice section onto the conversation settings.
func machineConfig(v config.Voice) call.Config {
	mc := call.DefaultConfig()
	if v.Voice != "" {
		mc.Voice = v.Voice
	}
	mc.InboundMaxLen = time.Duration(v.InboundMaxSeconds) * time.Second
	mc.OutboundMaxLen = time.Duration(v.OutboundMaxSeconds) * time.Second
	mc.MinRecording = time.Duration(v.MinRecordingSeconds * float64(time.Second))
	mc.GatherTimeout = time.Duration(v.GatherTimeoutSeconds) * time.Second
	return mc
}

// newController builds the call controller. The transcriber and recording
// fetcher are required for answering recorded questions.
func (s *services) newController() *call.Controller {
	deps := call.ControllerDeps{
		Machine:       call.NewMachine(machineConfig(s.cfg.Voice)),
		Store:         call.NewStore(s.cfg.Voice.SessionIdle(), s.cfg.Voice.TerminalGrace()),
		Transcriber:   s.openai,
		Answerer:      s.rag,
		OwnerIdentity: s.cfg.Voice.OwnerIdentity,
		Language:      s.cfg.Voice.Language,
		NATS:          s.nc,
		Metrics:       s.metrics,
		Logger:        s.log,
	}
	if s.twilio != nil {
		deps.Recordings = s.twilio
	}
	return call.NewController(deps)
}
