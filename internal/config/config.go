// Package config handles SpectrumBot configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/spectrumbot/config.yaml, /etc/spectrumbot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "spectrumbot", "config.yaml"))
	}

	paths = append(paths, "/etc/spectrumbot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all SpectrumBot configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Models    ModelsConfig    `yaml:"models"`
	Agent     AgentConfig     `yaml:"agent"`
	Memory    MemoryConfig    `yaml:"memory"`
	Database  DatabaseConfig  `yaml:"database"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Shop      ShopConfig      `yaml:"shop"`
	Policy    PolicyConfig    `yaml:"policy"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines model routing settings.
type ModelsConfig struct {
	Default   string          `yaml:"default"`
	Providers ProvidersConfig `yaml:"providers"`
	Available []ModelConfig   `yaml:"available"`
}

// ProvidersConfig holds per-provider endpoints and credentials.
type ProvidersConfig struct {
	Ollama    OllamaProviderConfig `yaml:"ollama"`
	Groq      APIProviderConfig    `yaml:"groq"`
	Gemini    APIProviderConfig    `yaml:"gemini"`
	OpenAI    APIProviderConfig    `yaml:"openai"`
	Anthropic APIProviderConfig    `yaml:"anthropic"`
}

// OllamaProviderConfig points at a local Ollama server.
type OllamaProviderConfig struct {
	URL string `yaml:"url"`
}

// APIProviderConfig holds credentials for a hosted provider.
type APIProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ModelConfig maps a model name to the provider that serves it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // ollama, groq, gemini, openai, anthropic
}

// AgentConfig bounds the orchestration loop.
type AgentConfig struct {
	// MaxIterations caps tool dispatches per turn.
	MaxIterations int `yaml:"max_iterations"`
	// ReasoningTimeout bounds a single model call.
	ReasoningTimeout time.Duration `yaml:"reasoning_timeout"`
	// TurnTimeout bounds a whole turn as seen by transports.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
}

// MemoryConfig selects the conversation memory backend.
type MemoryConfig struct {
	Backend string `yaml:"backend"` // memory (default) or sqlite
	Window  int    `yaml:"window"`
	Path    string `yaml:"path"` // SQLite file; defaults to {data_dir}/memory.db
}

// DatabaseConfig points at the shop database (products, orders, FAQ,
// knowledge chunks).
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite3 (default) or postgres
	DSN    string `yaml:"dsn"`
}

// CatalogConfig tunes product lookups.
type CatalogConfig struct {
	SampleSize int `yaml:"sample_size"`
	MaxResults int `yaml:"max_results"`
}

// KnowledgeConfig tunes the semantic knowledge index.
type KnowledgeConfig struct {
	Enabled         bool             `yaml:"enabled"`
	Dir             string           `yaml:"dir"`
	TopK            int              `yaml:"top_k"`
	MinScore        float64          `yaml:"min_score"`
	ChunkSize       int              `yaml:"chunk_size"`
	ChunkOverlap    int              `yaml:"chunk_overlap"`
	Workers         int              `yaml:"workers"`
	ReindexSchedule string           `yaml:"reindex_schedule"`
	Watch           bool             `yaml:"watch"`
	Embeddings      EmbeddingsConfig `yaml:"embeddings"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider"` // ollama (default), openai, gemini
	Model    string `yaml:"model"`
	URL      string `yaml:"url"` // Ollama URL (defaults to models.providers.ollama.url)
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// ShopConfig is the shop profile rendered into the SOP and replies.
type ShopConfig struct {
	Name               string `yaml:"name"`
	Address            string `yaml:"address"`
	BankAccount        string `yaml:"bank_account"`
	PaymentInstruction string `yaml:"payment_instruction"`
	WhatsApp           string `yaml:"whatsapp"`
	Hours              string `yaml:"hours"`
	HandoffGreeting    string `yaml:"handoff_greeting"`
}

// PolicyConfig locates an override SOP directory.
type PolicyConfig struct {
	Dir string `yaml:"dir"`
}

// TelegramConfig defines the Telegram bot bridge.
type TelegramConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Token              string        `yaml:"token"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	PollTimeout        time.Duration `yaml:"poll_timeout"`
}

// MQTTConfig defines the order notification publisher.
type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Broker    string `yaml:"broker"`
	ClientID  string `yaml:"client_id"`
	BaseTopic string `yaml:"base_topic"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// Load reads configuration from a YAML file, expands environment
// variables and fills defaults. It does not validate; call Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration: a local Ollama model and a
// SQLite shop database under ./data.
func Default() *Config {
	cfg := &Config{
		Models: ModelsConfig{
			Default: "qwen3:4b",
			Available: []ModelConfig{
				{Name: "qwen3:4b", Provider: "ollama"},
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Models.Providers.Ollama.URL == "" {
		c.Models.Providers.Ollama.URL = "http://localhost:11434"
	}
	if c.Models.Providers.Groq.BaseURL == "" {
		c.Models.Providers.Groq.BaseURL = "https://api.groq.com/openai/v1"
	}
	if c.Models.Providers.Gemini.BaseURL == "" {
		c.Models.Providers.Gemini.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 5
	}
	if c.Agent.ReasoningTimeout == 0 {
		c.Agent.ReasoningTimeout = 60 * time.Second
	}
	if c.Agent.TurnTimeout == 0 {
		c.Agent.TurnTimeout = 5 * time.Minute
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = "memory"
	}
	if c.Memory.Window == 0 {
		c.Memory.Window = 10
	}
	if c.Memory.Path == "" {
		c.Memory.Path = filepath.Join(c.DataDir, "memory.db")
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite3" {
		c.Database.DSN = filepath.Join(c.DataDir, "shop.db")
	}
	if c.Catalog.SampleSize == 0 {
		c.Catalog.SampleSize = 10
	}
	if c.Catalog.MaxResults == 0 {
		c.Catalog.MaxResults = 20
	}
	k := &c.Knowledge
	if k.TopK == 0 {
		k.TopK = 3
	}
	if k.MinScore == 0 {
		k.MinScore = 0.3
	}
	if k.ChunkSize == 0 {
		k.ChunkSize = 500
	}
	if k.ChunkOverlap == 0 {
		k.ChunkOverlap = 50
	}
	if k.Workers == 0 {
		k.Workers = 4
	}
	if k.ReindexSchedule == "" {
		k.ReindexSchedule = "@every 1h"
	}
	if k.Embeddings.Provider == "" {
		k.Embeddings.Provider = "ollama"
	}
	if k.Embeddings.Model == "" {
		k.Embeddings.Model = "nomic-embed-text"
	}
	if k.Embeddings.URL == "" {
		k.Embeddings.URL = c.Models.Providers.Ollama.URL
	}
	s := &c.Shop
	if s.Name == "" {
		s.Name = "Spectrum Digital Printing"
	}
	if s.PaymentInstruction == "" {
		s.PaymentInstruction = "Silakan transfer ke BCA 123456."
	}
	if s.HandoffGreeting == "" {
		s.HandoffGreeting = "Halo Admin, saya mau konsultasi pesanan."
	}
	if c.Telegram.RateLimitPerMinute == 0 {
		c.Telegram.RateLimitPerMinute = 10
	}
	if c.Telegram.PollTimeout == 0 {
		c.Telegram.PollTimeout = 60 * time.Second
	}
	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = "spectrumbot"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "spectrumbot"
	}
}

// ValidationError lists every configuration problem that prevents the
// service from accepting turns.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate reports missing credentials and out-of-range settings. A
// non-nil result is always a *ValidationError.
func (c *Config) Validate() error {
	var problems []string

	if c.Models.Default == "" {
		problems = append(problems, "models.default is required")
	}
	if c.Agent.MaxIterations < 1 {
		problems = append(problems, "agent.max_iterations must be at least 1")
	}
	if c.Memory.Window < 1 {
		problems = append(problems, "memory.window must be at least 1")
	}
	switch c.Memory.Backend {
	case "memory", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("memory.backend %q is not one of memory, sqlite", c.Memory.Backend))
	}

	switch c.Database.Driver {
	case "sqlite3", "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			problems = append(problems, "database.dsn is required for postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not one of sqlite3, postgres", c.Database.Driver))
	}

	defaultRouted := false
	for _, m := range c.Models.Available {
		if m.Name == c.Models.Default {
			defaultRouted = true
		}
		if p := c.providerProblem(m.Provider); p != "" {
			problems = append(problems, fmt.Sprintf("model %s: %s", m.Name, p))
		}
	}
	if c.Models.Default != "" && !defaultRouted {
		problems = append(problems, fmt.Sprintf("models.default %q is not listed in models.available", c.Models.Default))
	}

	if c.Knowledge.Enabled {
		switch c.Knowledge.Embeddings.Provider {
		case "ollama":
		case "openai", "gemini":
			if c.Knowledge.Embeddings.APIKey == "" {
				problems = append(problems, "knowledge.embeddings.api_key is required for "+c.Knowledge.Embeddings.Provider)
			}
		default:
			problems = append(problems, fmt.Sprintf("knowledge.embeddings.provider %q is not one of ollama, openai, gemini", c.Knowledge.Embeddings.Provider))
		}
	}

	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		problems = append(problems, fmt.Sprintf("log_format %q is not one of text, json", c.LogFormat))
	}

	if c.Telegram.Enabled && c.Telegram.Token == "" {
		problems = append(problems, "telegram.token is required when telegram is enabled")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		problems = append(problems, "mqtt.broker is required when mqtt is enabled")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (c *Config) providerProblem(provider string) string {
	p := c.Models.Providers
	switch provider {
	case "ollama":
		return ""
	case "groq":
		if p.Groq.APIKey == "" {
			return "models.providers.groq.api_key is required"
		}
	case "gemini":
		if p.Gemini.APIKey == "" {
			return "models.providers.gemini.api_key is required"
		}
	case "openai":
		if p.OpenAI.APIKey == "" {
			return "models.providers.openai.api_key is required"
		}
	case "anthropic":
		if p.Anthropic.APIKey == "" {
			return "models.providers.anthropic.api_key is required"
		}
	default:
		return fmt.Sprintf("unknown provider %q", provider)
	}
	return ""
}
