package config

import (
	"strconv"
	"strings"
)

// applyEnv overrides fields from the environment. Unparseable numbers are
// ignored so Validate reports the file value.
func (c *Config) applyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if n, err := strconv.Atoi(strings.TrimSpace(getenv(key))); err == nil {
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if f, err := strconv.ParseFloat(strings.TrimSpace(getenv(key)), 64); err == nil {
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if b, err := strconv.ParseBool(strings.TrimSpace(getenv(key))); err == nil {
			*dst = b
		}
	}

	str("ADDR", &c.Server.Addr)
	if p := strings.TrimSpace(getenv("PORT")); p != "" {
		c.Server.Addr = ":" + p
	}
	str("CORS_ORIGIN", &c.Server.CORSOrigin)
	str("LOG_LEVEL", &c.Server.LogLevel)

	str("QDRANT_URL", &c.Qdrant.Addr)
	str("QDRANT_COLLECTION", &c.Qdrant.Collection)
	integer("EMBEDDING_DIMENSION", &c.Qdrant.Dimension)

	str("NEO4J_URL", &c.Neo4j.URL)
	str("NEO4J_USER", &c.Neo4j.User)
	str("NEO4J_PASS", &c.Neo4j.Password)
	boolean("NEO4J_ENABLED", &c.Neo4j.Enabled)

	str("NATS_URL", &c.NATS.URL)
	boolean("NATS_ENABLED", &c.NATS.Enabled)

	str("EMBEDDING_PROVIDER", &c.Providers.Embedding)
	str("COMPLETION_PROVIDER", &c.Providers.Completion)
	str("OPENAI_API_KEY", &c.Providers.OpenAIKey)
	str("OPENAI_BASE_URL", &c.Providers.OpenAIBaseURL)
	str("OLLAMA_URL", &c.Providers.OllamaURL)
	str("GEMINI_API_KEY", &c.Providers.GeminiKey)
	float("LLM_TEMPERATURE", &c.Providers.Temperature)

	float("RAG_HIGH_CONFIDENCE", &c.RAG.HighConfidence)
	float("RAG_MEDIUM_CONFIDENCE", &c.RAG.MediumConfidence)

	str("VOICE_OWNER_IDENTITY", &c.Voice.OwnerIdentity)

	str("TWILIO_ACCOUNT_SID", &c.Twilio.AccountSID)
	str("TWILIO_AUTH_TOKEN", &c.Twilio.AuthToken)
	str("TWILIO_PHONE_NUMBER", &c.Twilio.PhoneNumber)
	str("WEBHOOK_URL", &c.Twilio.WebhookURL)
	boolean("TWILIO_ALLOW_FIRST_NUMBER_FALLBACK", &c.Twilio.AllowFirstNumberFallback)
}
