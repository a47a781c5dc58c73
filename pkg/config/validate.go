package config

import (
	"fmt"

	"github.com/WessleyAI/wessley-voice/engine/domain"
)

func invalid(field string, format string, args ...any) error {
	return domain.NewValidationError(field, "", fmt.Errorf(format, args...))
}

// Validate ensures the configuration is usable. Provider credentials are
// checked by the commands that need them.
func (c Config) Validate() error {
	if c.Qdrant.Collection == "" {
		return invalid("qdrant.collection", "must be set")
	}
	if c.Qdrant.Dimension <= 0 {
		return invalid("qdrant.dimension", "must be positive, got %d", c.Qdrant.Dimension)
	}
	switch c.Qdrant.Distance {
	case "cosine", "dot", "euclid":
	default:
		return invalid("qdrant.distance", "must be cosine, dot or euclid, got %q", c.Qdrant.Distance)
	}
	for field, p := range map[string]string{"providers.embedding": c.Providers.Embedding, "providers.completion": c.Providers.Completion} {
		switch p {
		case "openai", "ollama", "gemini":
		default:
			return invalid(field, "unknown provider %q", p)
		}
	}
	if err := domain.ValidateChunking(c.RAG.ChunkSize, c.RAG.Overlap); err != nil {
		return err
	}
	if c.RAG.SearchLimit <= 0 || c.RAG.MaxContextLength <= 0 {
		return invalid("rag", "search_limit and max_context_length must be positive")
	}
	if c.RAG.ScoreThreshold < 0 || c.RAG.ScoreThreshold > 1 {
		return invalid("rag.score_threshold", "must be between 0 and 1")
	}
	if c.RAG.MediumConfidence < 0 || c.RAG.HighConfidence > 1 || c.RAG.MediumConfidence > c.RAG.HighConfidence {
		return invalid("rag", "confidence thresholds must satisfy 0 <= medium <= high <= 1")
	}
	v := c.Voice
	if v.InboundMaxSeconds <= 0 || v.OutboundMaxSeconds <= 0 || v.GatherTimeoutSeconds <= 0 {
		return invalid("voice", "recording windows and gather timeout must be positive")
	}
	if v.MinRecordingSeconds < 0 {
		return invalid("voice.min_recording_seconds", "must not be negative")
	}
	if v.SessionIdleMinutes <= 0 || v.TerminalGraceSeconds < 0 {
		return invalid("voice", "session_idle_minutes must be positive and terminal_grace_seconds non-negative")
	}
	if c.Twilio.PhoneNumber != "" {
		if err := domain.ValidatePhoneNumber("twilio.phone_number", c.Twilio.PhoneNumber); err != nil {
			return err
		}
	}
	if c.Twilio.WebhookURL != "" {
		if _, err := domain.NormalizeWebhookBase(c.Twilio.WebhookURL); err != nil {
			return err
		}
	}
	return nil
}

// TwilioConfigured reports whether telephony credentials are present.
func (c Config) TwilioConfigured() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != ""
}
