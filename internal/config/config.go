package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/codeagent/internal/plan"
)

// Config holds all configuration for the CodeAgent server.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	RateLimit RateLimitConfig
	Worker    WorkerConfig
	Pipeline  PipelineConfig
	AI        AIConfig
	Bootstrap BootstrapConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type LogConfig struct {
	Level  string
	Format string
}

type StoreConfig struct {
	Backend string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type QueueConfig struct {
	Backend string
	Key     string
}

type RateLimitConfig struct {
	Backend      string
	ReadCapacity int
	ReadPerSec   float64
}

type WorkerConfig struct {
	Concurrency     int
	ShutdownTimeout time.Duration
}

// PipelineConfig tunes the retry policy applied to each stage call.
type PipelineConfig struct {
	MaxRetries   int
	RetryInitial time.Duration
	RetryMax     time.Duration
	StageTimeout time.Duration
}

type AIConfig struct {
	Provider    string
	Temperature float64
	MaxTokens   int
	Groq        OpenAICompatConfig
	OpenAI      OpenAICompatConfig
	Ollama      OpenAICompatConfig
	VLLM        OpenAICompatConfig
}

// OpenAICompatConfig configures any endpoint speaking the OpenAI chat
// completions protocol.
type OpenAICompatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// BootstrapConfig optionally seeds one tenant and API key at startup.
type BootstrapConfig struct {
	APIKey string
	Tenant string
	Plan   string
}

var validProviders = map[string]bool{
	"groq":   true,
	"openai": true,
	"ollama": true,
	"vllm":   true,
	"mock":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("CODEAGENT_PORT", 8080),
			Env:  envString("CODEAGENT_ENV", "development"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
		Store: StoreConfig{
			Backend: envString("STORE_BACKEND", "memory"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Queue: QueueConfig{
			Backend: envString("QUEUE_BACKEND", "memory"),
			Key:     envString("QUEUE_REDIS_KEY", "codeagent:queue"),
		},
		RateLimit: RateLimitConfig{
			Backend:      envString("RATE_LIMIT_BACKEND", "memory"),
			ReadCapacity: envInt("READ_RATE_LIMIT_CAPACITY", 30),
			ReadPerSec:   envFloat("READ_RATE_LIMIT_PER_SEC", 5),
		},
		Worker: WorkerConfig{
			Concurrency:     envInt("WORKER_CONCURRENCY", 4),
			ShutdownTimeout: envDuration("WORKER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Pipeline: PipelineConfig{
			MaxRetries:   envInt("PIPELINE_MAX_RETRIES", 2),
			RetryInitial: envDuration("PIPELINE_RETRY_INITIAL", time.Second),
			RetryMax:     envDuration("PIPELINE_RETRY_MAX", 10*time.Second),
			StageTimeout: envDurationSecs("PIPELINE_STAGE_TIMEOUT_SECS", 120*time.Second),
		},
		AI: AIConfig{
			Provider:    os.Getenv("AI_PROVIDER"),
			Temperature: envFloat("AI_TEMPERATURE", 0.7),
			MaxTokens:   envInt("AI_MAX_TOKENS", 8000),
			Groq: OpenAICompatConfig{
				BaseURL: envString("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
				APIKey:  os.Getenv("GROQ_API_KEY"),
				Model:   envString("GROQ_MODEL", "llama-3.3-70b-versatile"),
			},
			OpenAI: OpenAICompatConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
			Ollama: OpenAICompatConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
				Model:   envString("OLLAMA_MODEL", "qwen2.5-coder"),
			},
			VLLM: OpenAICompatConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000/v1"),
				Model:   envString("VLLM_MODEL", ""),
			},
		},
		Bootstrap: BootstrapConfig{
			APIKey: os.Getenv("BOOTSTRAP_API_KEY"),
			Tenant: envString("BOOTSTRAP_TENANT", "default"),
			Plan:   envString("BOOTSTRAP_PLAN", plan.Starter),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, postgres; got %q", c.Store.Backend)
	}

	if c.Queue.Backend != "memory" && c.Queue.Backend != "redis" {
		return fmt.Errorf("QUEUE_BACKEND must be one of memory, redis; got %q", c.Queue.Backend)
	}
	if c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
		return fmt.Errorf("RATE_LIMIT_BACKEND must be one of memory, redis; got %q", c.RateLimit.Backend)
	}
	if (c.Queue.Backend == "redis" || c.RateLimit.Backend == "redis") && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when a redis backend is selected")
	}
	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("PIPELINE_MAX_RETRIES must not be negative, got %d", c.Pipeline.MaxRetries)
	}
	if c.RateLimit.ReadCapacity < 1 || c.RateLimit.ReadPerSec <= 0 {
		return fmt.Errorf("READ_RATE_LIMIT_CAPACITY and READ_RATE_LIMIT_PER_SEC must be positive")
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of groq, openai, ollama, vllm, mock; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "groq" && c.AI.Groq.APIKey == "" {
		return fmt.Errorf("GROQ_API_KEY is required when AI_PROVIDER is groq")
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}

	if c.Bootstrap.APIKey != "" && !plan.Valid(c.Bootstrap.Plan) {
		return fmt.Errorf("BOOTSTRAP_PLAN must be one of starter, professional, team; got %q", c.Bootstrap.Plan)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
