// Package config loads runtime configuration from the environment and the
// optional aragora.yaml agent registry. Every recognized option is enumerated
// here; unknown environment variables are ignored.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aragora/aragora/pkg/models"
)

// Config is the umbrella configuration object returned by Load and passed to
// the composition root. Components receive only the sections they need.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Debate    DebateDefaults
	Embedding EmbeddingConfig
	Providers ProviderKeys
	Storage   StorageConfig
	Agents    *AgentRegistry
	LogLevel  slog.Level
}

// ServerConfig holds the HTTP/WebSocket bind surface.
type ServerConfig struct {
	Port           string
	BindAddr       string
	AllowedOrigins []string
	WSMaxFrame     int64
	WSHeartbeat    time.Duration
}

// AuthConfig enables bearer-token auth when the HMAC key is non-empty.
type AuthConfig struct {
	HMACKey  string
	TokenTTL time.Duration
}

// Enabled reports whether auth is required at the server boundary.
func (a AuthConfig) Enabled() bool { return a.HMACKey != "" }

// RateLimitConfig holds token bucket limits per identity class.
type RateLimitConfig struct {
	PerTokenPerMinute int
	PerIPPerMinute    int
	BurstMultiplier   float64
}

// DebateDefaults are applied to debate requests that omit protocol fields.
type DebateDefaults struct {
	Rounds              int
	MaxRounds           int
	Policy              models.ConsensusPolicy
	Threshold           float64
	ConvergenceSim      float64
	MinParticipants     int
	Timeout             time.Duration
	MaxQuestionLength   int
	VoteGroupingEnabled bool
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Provider string // openai, gemini, local, auto
}

// ProviderKeys holds per-vendor API keys. An empty key disables the provider.
// Keys must never be logged.
type ProviderKeys struct {
	OpenAI     string
	Anthropic  string
	Gemini     string
	OpenRouter string
}

// StorageConfig locates the embedded store.
type StorageConfig struct {
	Path string
}

// Load reads the full configuration from the environment, then overlays agent
// definitions from configPath (if the file exists).
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			BindAddr:       getEnv("BIND_ADDR", "0.0.0.0"),
			AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "")),
			WSMaxFrame:     int64(getEnvInt("WS_MAX_FRAME", 64*1024)),
			WSHeartbeat:    time.Duration(getEnvInt("WS_HEARTBEAT_SECONDS", 30)) * time.Second,
		},
		Auth: AuthConfig{
			HMACKey:  os.Getenv("AUTH_TOKEN_HMAC_KEY"),
			TokenTTL: time.Duration(getEnvInt("TOKEN_TTL_SECONDS", 3600)) * time.Second,
		},
		RateLimit: RateLimitConfig{
			PerTokenPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
			PerIPPerMinute:    getEnvInt("IP_RATE_LIMIT_PER_MINUTE", 120),
			BurstMultiplier:   getEnvFloat("RATE_LIMIT_BURST_MULTIPLIER", 1.0),
		},
		Debate: DebateDefaults{
			Rounds:              getEnvInt("DEBATE_DEFAULT_ROUNDS", 3),
			MaxRounds:           getEnvInt("DEBATE_MAX_ROUNDS", 10),
			Policy:              models.ConsensusPolicy(getEnv("DEBATE_DEFAULT_CONSENSUS", string(models.ConsensusMajority))),
			Threshold:           getEnvFloat("DEBATE_CONSENSUS_THRESHOLD", 0.5),
			ConvergenceSim:      getEnvFloat("DEBATE_CONVERGENCE_SIMILARITY", 0.85),
			MinParticipants:     getEnvInt("DEBATE_MIN_PARTICIPANTS", 2),
			Timeout:             time.Duration(getEnvInt("DEBATE_TIMEOUT_SECONDS", 600)) * time.Second,
			MaxQuestionLength:   getEnvInt("MAX_QUESTION_LENGTH", 10000),
			VoteGroupingEnabled: getEnvBool("DEBATE_VOTE_GROUPING", true),
		},
		Embedding: EmbeddingConfig{
			Provider: getEnv("EMBEDDING_PROVIDER", "auto"),
		},
		Providers: ProviderKeys{
			OpenAI:     os.Getenv("OPENAI_API_KEY"),
			Anthropic:  os.Getenv("ANTHROPIC_API_KEY"),
			Gemini:     os.Getenv("GEMINI_API_KEY"),
			OpenRouter: os.Getenv("OPENROUTER_API_KEY"),
		},
		Storage: StorageConfig{
			Path: getEnv("ARAGORA_DB_PATH", ".aragora/aragora.db"),
		},
		LogLevel: parseLogLevel(getEnv("LOG_LEVEL", "info")),
	}

	if !cfg.Debate.Policy.IsValid() {
		return nil, fmt.Errorf("invalid DEBATE_DEFAULT_CONSENSUS %q", cfg.Debate.Policy)
	}

	registry, err := LoadAgentRegistry(configPath, cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("loading agent registry: %w", err)
	}
	cfg.Agents = registry

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return def
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
