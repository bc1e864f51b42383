// Package config provides configuration for the assistant engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the engine configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Upstream assistants API
	OpenAIAPIKey  string
	OpenAIBaseURL string
	HTTPTimeout   time.Duration

	// Assistant
	AssistantConfigFile string
	Assistant           Assistant

	// Database (empty disables the run journal)
	DatabaseURL string

	// Run engine
	SubmitMaxAttempts int
	SubmitBackoffBase time.Duration
	RunPollInterval   time.Duration
	RunMaxPolls       int
	CancelTimeout     time.Duration

	// SSE
	SSEHeartbeat time.Duration
	SSERetry     time.Duration

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Tools
	ToolTimeout  time.Duration
	PolicyFile   string
	BlockedTools []string

	// Observability
	LogLevel     string
	LogFormat    string
	OTLPEndpoint string
	SamplingRate float64
	Environment  string
}

// Assistant describes the upstream assistant this engine drives.
type Assistant struct {
	AssistantID     string   `yaml:"assistant_id"`
	AssistantName   string   `yaml:"assistant_name"`
	InitialMessage  string   `yaml:"initial_message"`
	FunctionNames   []string `yaml:"function_names"`
	CodeInterpreter bool     `yaml:"code_interpreter"`
	FileSearch      bool     `yaml:"file_search"`
}

// Load loads configuration from a .env file (if present) and environment
// variables, then reads the assistant YAML file when one is configured.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:            getEnvInt("HTTP_PORT", 8080),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		HTTPTimeout:         time.Duration(getEnvInt("HTTP_TIMEOUT_MS", 60000)) * time.Millisecond,
		AssistantConfigFile: getEnv("ASSISTANT_CONFIG_FILE", ""),
		DatabaseURL:         getEnvAllowEmpty("DATABASE_URL", "file:assistant.db?cache=shared&mode=rwc"),
		SubmitMaxAttempts:   getEnvInt("SUBMIT_MAX_ATTEMPTS", 3),
		SubmitBackoffBase:   time.Duration(getEnvInt("SUBMIT_BACKOFF_BASE_MS", 1000)) * time.Millisecond,
		RunPollInterval:     time.Duration(getEnvInt("RUN_POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		RunMaxPolls:         getEnvInt("RUN_MAX_POLLS", 60),
		CancelTimeout:       time.Duration(getEnvInt("CANCEL_TIMEOUT_MS", 10000)) * time.Millisecond,
		SSEHeartbeat:        time.Duration(getEnvInt("SSE_HEARTBEAT_MS", 15000)) * time.Millisecond,
		SSERetry:            time.Duration(getEnvInt("SSE_RETRY_MS", 5000)) * time.Millisecond,
		PingInterval:        time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:        time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:         time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:      int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		ToolTimeout:         time.Duration(getEnvInt("TOOL_TIMEOUT_MS", 60000)) * time.Millisecond,
		PolicyFile:          getEnv("POLICY_FILE", ""),
		BlockedTools:        getEnvList("BLOCKED_TOOLS"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "console"),
		OTLPEndpoint:        getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		SamplingRate:        getEnvFloat("OTEL_SAMPLING_RATE", 1.0),
		Environment:         getEnv("ENVIRONMENT", "development"),
	}

	if cfg.AssistantConfigFile != "" {
		a, err := LoadAssistant(cfg.AssistantConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.Assistant = *a
	}
	if id := os.Getenv("ASSISTANT_ID"); id != "" {
		cfg.Assistant.AssistantID = id
	}
	if cfg.Assistant.InitialMessage == "" {
		cfg.Assistant.InitialMessage = "Hello! How can I help you today?"
	}

	return cfg, cfg.Validate()
}

// Validate checks the settings the engine cannot run without.
func (c *Config) Validate() error {
	if c.Assistant.AssistantID == "" {
		return fmt.Errorf("assistant id is required (ASSISTANT_ID or assistant_id in %q)", c.AssistantConfigFile)
	}
	if c.SubmitMaxAttempts < 1 {
		return fmt.Errorf("SUBMIT_MAX_ATTEMPTS must be at least 1, got %d", c.SubmitMaxAttempts)
	}
	return nil
}

// LoadAssistant reads an assistant YAML file, expanding ${VAR} references.
func LoadAssistant(path string) (*Assistant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read assistant config: %w", err)
	}
	var a Assistant
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &a); err != nil {
		return nil, fmt.Errorf("failed to parse assistant config: %w", err)
	}
	return &a, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvAllowEmpty is getEnv, except that a variable set to "" is returned as is.
func getEnvAllowEmpty(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
