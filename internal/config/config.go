package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all configuration for the engine.
type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Corpus    CorpusConfig
	History   HistoryConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	AllowOrigins []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// LLMConfig holds the chat-completion gateway settings.
type LLMConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	Temperature      float64
	TopP             float64
	MaxTokens        int
	FrequencyPenalty float64
	PresencePenalty  float64
	Timeout          time.Duration
}

// EmbeddingConfig selects and parameterizes the embedding provider.
type EmbeddingConfig struct {
	Provider string // "local" or "openai"
	ModelID  string
}

// CorpusConfig bounds the per-user stores.
type CorpusConfig struct {
	VectorTopK int
	MaxDocs    int
	StoreTTL   time.Duration
	// SmartFullCeiling caps the context set passed to the LLM in
	// SMART_FULL mode.
	SmartFullCeiling int
}

// HistoryConfig points at the append-only chat history backend.
// An empty URL disables history entirely.
type HistoryConfig struct {
	URL string
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables and an optional
// .env file. LLM_API_KEY is the only required setting.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	viper.SetDefault("SERVER_ADDR", ":8080")
	viper.SetDefault("ALLOW_ORIGINS", "*")
	viper.SetDefault("LLM_BASE_URL", "")
	viper.SetDefault("LLM_MODEL", "gpt-4o-mini")
	viper.SetDefault("LLM_TEMPERATURE", 0.8)
	viper.SetDefault("LLM_TOP_P", 0.9)
	viper.SetDefault("LLM_MAX_TOKENS", 3000)
	viper.SetDefault("LLM_FREQUENCY_PENALTY", 0.3)
	viper.SetDefault("LLM_PRESENCE_PENALTY", 0.3)
	viper.SetDefault("LLM_TIMEOUT_SECONDS", 60)
	viper.SetDefault("EMBEDDING_PROVIDER", "local")
	viper.SetDefault("EMBEDDING_MODEL_ID", "all-MiniLM-L6-v2")
	viper.SetDefault("VECTOR_TOP_K", 50)
	viper.SetDefault("CORPUS_MAX_DOCS", 500000)
	viper.SetDefault("STORE_TTL_SECONDS", 3600)
	viper.SetDefault("SMART_FULL_CEILING", 200)
	viper.SetDefault("CHAT_HISTORY_URL", "")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.AutomaticEnv()

	apiKey := viper.GetString("LLM_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY is required")
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:         viper.GetString("SERVER_ADDR"),
			AllowOrigins: splitOrigins(viper.GetString("ALLOW_ORIGINS")),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		LLM: LLMConfig{
			APIKey:           apiKey,
			BaseURL:          viper.GetString("LLM_BASE_URL"),
			Model:            viper.GetString("LLM_MODEL"),
			Temperature:      viper.GetFloat64("LLM_TEMPERATURE"),
			TopP:             viper.GetFloat64("LLM_TOP_P"),
			MaxTokens:        viper.GetInt("LLM_MAX_TOKENS"),
			FrequencyPenalty: viper.GetFloat64("LLM_FREQUENCY_PENALTY"),
			PresencePenalty:  viper.GetFloat64("LLM_PRESENCE_PENALTY"),
			Timeout:          time.Duration(viper.GetInt("LLM_TIMEOUT_SECONDS")) * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider: strings.ToLower(viper.GetString("EMBEDDING_PROVIDER")),
			ModelID:  viper.GetString("EMBEDDING_MODEL_ID"),
		},
		Corpus: CorpusConfig{
			VectorTopK:       viper.GetInt("VECTOR_TOP_K"),
			MaxDocs:          viper.GetInt("CORPUS_MAX_DOCS"),
			StoreTTL:         time.Duration(viper.GetInt("STORE_TTL_SECONDS")) * time.Second,
			SmartFullCeiling: viper.GetInt("SMART_FULL_CEILING"),
		},
		History: HistoryConfig{
			URL: viper.GetString("CHAT_HISTORY_URL"),
		},
		Logging: LoggingConfig{
			Level:  viper.GetString("LOG_LEVEL"),
			Format: viper.GetString("LOG_FORMAT"),
		},
	}

	return cfg, nil
}

func splitOrigins(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
