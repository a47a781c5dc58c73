// Package config loads service configuration from an optional TOML file,
// applies environment overrides, and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Server configures the HTTP listener.
type Server struct {
	Addr       string `toml:"addr"`
	CORSOrigin string `toml:"cors_origin"`
	LogLevel   string `toml:"log_level"`
	// MaxUploadMB bounds multipart upload bodies.
	MaxUploadMB int `toml:"max_upload_mb"`
}

// Qdrant configures the vector index.
type Qdrant struct {
	Addr       string `toml:"addr"`
	Collection string `toml:"collection"`
	Dimension  int    `toml:"dimension"`
	Distance   string `toml:"distance"`
}

// Neo4j configures the document catalog. Disabled leaves uploads uncatalogued.
type Neo4j struct {
	Enabled  bool   `toml:"enabled"`
	URL      string `toml:"url"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
}

// NATS configures event publishing and the queued-ingest worker.
type NATS struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// Providers selects and configures embedding, completion and speech-to-text.
type Providers struct {
	Embedding  string `toml:"embedding"`
	Completion string `toml:"completion"`

	OpenAIKey     string `toml:"openai_api_key"`
	OpenAIBaseURL string `toml:"openai_base_url"`
	EmbedModel    string `toml:"embed_model"`
	ChatModel     string `toml:"chat_model"`
	STTModel      string `toml:"stt_model"`

	OllamaURL   string  `toml:"ollama_url"`
	GeminiKey   string  `toml:"gemini_api_key"`
	Temperature float64 `toml:"temperature"`

	EmbedRatePerSecond      float64 `toml:"embed_rate_per_second"`
	EmbedBurst              int     `toml:"embed_burst"`
	CompletionRatePerSecond float64 `toml:"completion_rate_per_second"`
}

// RAG configures chunking, retrieval and confidence grading.
type RAG struct {
	ChunkSize        int     `toml:"chunk_size"`
	Overlap          int     `toml:"overlap"`
	SearchLimit      int     `toml:"search_limit"`
	ScoreThreshold   float64 `toml:"score_threshold"`
	MaxContextLength int     `toml:"max_context_length"`
	HighConfidence   float64 `toml:"high_confidence"`
	MediumConfidence float64 `toml:"medium_confidence"`
}

// Voice configures the phone conversation.
type Voice struct {
	Voice                string  `toml:"voice"`
	Language             string  `toml:"language"`
	OwnerIdentity        string  `toml:"owner_identity"`
	InboundMaxSeconds    int     `toml:"inbound_max_seconds"`
	OutboundMaxSeconds   int     `toml:"outbound_max_seconds"`
	MinRecordingSeconds  float64 `toml:"min_recording_seconds"`
	GatherTimeoutSeconds int     `toml:"gather_timeout_seconds"`
	SessionIdleMinutes   int     `toml:"session_idle_minutes"`
	TerminalGraceSeconds int     `toml:"terminal_grace_seconds"`
}

// Twilio configures the telephony provider.
type Twilio struct {
	AccountSID  string `toml:"account_sid"`
	AuthToken   string `toml:"auth_token"`
	PhoneNumber string `toml:"phone_number"`
	WebhookURL  string `toml:"webhook_url"`
	// AllowFirstNumberFallback lets webhook setup configure the first
	// number on the account when PhoneNumber is not found.
	AllowFirstNumberFallback bool `toml:"allow_first_number_fallback"`
}

// Config is the full service configuration.
type Config struct {
	Server    Server    `toml:"server"`
	Qdrant    Qdrant    `toml:"qdrant"`
	Neo4j     Neo4j     `toml:"neo4j"`
	NATS      NATS      `toml:"nats"`
	Providers Providers `toml:"providers"`
	RAG       RAG       `toml:"rag"`
	Voice     Voice     `toml:"voice"`
	Twilio    Twilio    `toml:"twilio"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{Addr: ":8080", CORSOrigin: "*", LogLevel: "info", MaxUploadMB: 32},
		Qdrant: Qdrant{Addr: "localhost:6334", Collection: "voicerag_documents", Dimension: 1536, Distance: "cosine"},
		Neo4j:  Neo4j{URL: "neo4j://localhost:7687", User: "neo4j", Database: "neo4j"},
		NATS:   NATS{URL: "nats://localhost:4222"},
		Providers: Providers{
			Embedding:          "openai",
			Completion:         "openai",
			OllamaURL:          "http://localhost:11434",
			Temperature:        0.3,
			EmbedRatePerSecond: 20,
			EmbedBurst:         5,
		},
		RAG: RAG{
			ChunkSize:        1000,
			Overlap:          200,
			SearchLimit:      5,
			ScoreThreshold:   0.2,
			MaxContextLength: 4000,
			HighConfidence:   0.85,
			MediumConfidence: 0.70,
		},
		Voice: Voice{
			Voice:                "alice",
			Language:             "en",
			InboundMaxSeconds:    30,
			OutboundMaxSeconds:   8,
			MinRecordingSeconds:  1,
			GatherTimeoutSeconds: 10,
			SessionIdleMinutes:   15,
			TerminalGraceSeconds: 60,
		},
	}
}

// Load reads path (if non-empty and present) over the defaults, applies
// environment overrides, and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		if len(s) <= 8 {
			return "****"
		}
		return s[:4] + "****"
	}
	c.Neo4j.Password = mask(c.Neo4j.Password)
	c.Providers.OpenAIKey = mask(c.Providers.OpenAIKey)
	c.Providers.GeminiKey = mask(c.Providers.GeminiKey)
	c.Twilio.AuthToken = mask(c.Twilio.AuthToken)
	return c
}

// TOML encodes c.
func (c Config) TOML() ([]byte, error) { return toml.Marshal(c) }

// SessionIdle is the idle eviction timeout for call sessions.
func (v Voice) SessionIdle() time.Duration { return time.Duration(v.SessionIdleMinutes) * time.Minute }

// TerminalGrace is how long ended call sessions are kept.
func (v Voice) TerminalGrace() time.Duration {
	return time.Duration(v.TerminalGraceSeconds) * time.Second
}
