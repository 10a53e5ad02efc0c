package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LLMProvider       string // openai, anthropic, ollama
	LLMModel          string
	OpenAIKey         string
	AnthropicKey      string
	OllamaBaseURL     string
	TavilyKey         string
	SearchMaxResults  int
	MaxToolRounds     int
	ParallelToolCalls bool
	TurnTimeout       time.Duration
	MaxContextTokens  int
	ThreadID          string
	PruneCron         string
	ThreadMaxIdle     time.Duration
	DiscordToken      string
}

// ConfigDir returns ~/.scout, the fallback location for the env file.
func ConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".scout")
}

// ConfigFile returns the path of the fallback env file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config")
}

func Load() *Config {
	// .env in the working directory wins; godotenv never overrides vars
	// that are already set, so loading both is safe.
	_ = godotenv.Load()
	_ = godotenv.Load(ConfigFile())

	return FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() *Config {
	provider := envOr("LLM_PROVIDER", "openai")
	return &Config{
		LLMProvider:       provider,
		LLMModel:          envOr("LLM_MODEL", defaultModel(provider)),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		AnthropicKey:      os.Getenv("ANTHROPIC_API_KEY"),
		OllamaBaseURL:     envOr("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
		TavilyKey:         os.Getenv("TAVILY_API_KEY"),
		SearchMaxResults:  envInt("SEARCH_MAX_RESULTS", 2, 1),
		MaxToolRounds:     envInt("MAX_TOOL_ROUNDS", 10, 1),
		ParallelToolCalls: envBool("PARALLEL_TOOL_CALLS", true),
		TurnTimeout:       envDuration("TURN_TIMEOUT", 2*time.Minute),
		MaxContextTokens:  envInt("MAX_CONTEXT_TOKENS", 100000, 0),
		ThreadID:          envOr("THREAD_ID", "1"),
		PruneCron:         envOr("PRUNE_CRON", "@every 30m"),
		ThreadMaxIdle:     envDuration("THREAD_MAX_IDLE", 24*time.Hour),
		DiscordToken:      os.Getenv("DISCORD_BOT_TOKEN"),
	}
}

// APIKey returns the credential for the configured provider.
func (c *Config) APIKey() string {
	switch c.LLMProvider {
	case "anthropic":
		return c.AnthropicKey
	case "ollama":
		return "ollama"
	default:
		return c.OpenAIKey
	}
}

func defaultModel(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-20250514"
	case "ollama":
		return "llama3.1"
	default:
		return "gpt-4o-mini"
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt reads an integer no smaller than least, falling back on anything else.
func envInt(key string, fallback, least int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < least {
		log.Printf("config: invalid %s %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("config: invalid %s %q, using %t", key, v, fallback)
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("config: invalid %s %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
