package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. THREADLINE_OLLAMA_URL
	EnvPrefix = "THREADLINE"

	StoreMemory = "memory"
	StoreJSON   = "json"
	StoreSQLite = "sqlite"

	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	// SettingsDir holds the project settings file, the default json store
	// and the log file
	SettingsDir    = ".threadline"
	DefaultLogFile = SettingsDir + "/system.log"
)

// Config represents the application configuration
type Config struct {
	Provider string        `mapstructure:"provider"` // ollama or openai
	Ollama   OllamaConfig  `mapstructure:"ollama"`
	OpenAI   OpenAIConfig  `mapstructure:"openai"`
	Store    StoreConfig   `mapstructure:"store"`
	Chat     ChatConfig    `mapstructure:"chat"`
	Search   SearchConfig  `mapstructure:"search"`
	Logging  LoggingConfig `mapstructure:"logging"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile  string `mapstructure:"log_file"`
	Preserve bool   `mapstructure:"preserve"`
	Level    string `mapstructure:"level"`
}

// OllamaConfig holds Ollama-specific configuration
type OllamaConfig struct {
	URL     string        `mapstructure:"url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OpenAIConfig holds configuration for OpenAI-compatible endpoints
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	BaseURL string        `mapstructure:"base_url"` // For Azure or custom endpoints
	Timeout time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects where threads are persisted
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // memory, json or sqlite
	Path    string `mapstructure:"path"`    // directory for json, database file for sqlite
}

// ChatConfig tunes the conversation engine
type ChatConfig struct {
	SystemPrompt string   `mapstructure:"system_prompt"`
	MaxToolSteps int      `mapstructure:"max_tool_steps"`
	TitleLength  int      `mapstructure:"title_length"`
	ShowThinking bool     `mapstructure:"show_thinking"`
	Tools        []string `mapstructure:"tools"` // tool names offered to the model
}

// SearchConfig selects the embedding model used to search threads. The
// model is served by the configured provider.
type SearchConfig struct {
	EmbeddingModel string `mapstructure:"embedding_model"`
	Limit          int    `mapstructure:"limit"`
}

// Load loads configuration from file and environment using the global viper
// instance, so values bound to cobra flags are honored
func Load(cfgFile string) (*Config, error) {
	return LoadFrom(viper.GetViper(), cfgFile)
}

// LoadFrom loads configuration into v and unmarshals it
func LoadFrom(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(SettingsDir)
		if home, err := os.UserHomeDir(); err == nil {
			xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
			if xdgConfigHome == "" {
				xdgConfigHome = filepath.Join(home, ".config")
			}
			v.AddConfigPath(filepath.Join(xdgConfigHome, "threadline"))
		}
		v.SetConfigType("yaml")
		v.SetConfigName("settings")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SetDefaults sets all default configuration values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderOllama)

	v.SetDefault("ollama.url", "http://localhost:11434")
	v.SetDefault("ollama.model", "qwen3:latest")
	v.SetDefault("ollama.timeout", "90s")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.timeout", "60s")

	v.SetDefault("store.backend", StoreJSON)
	v.SetDefault("store.path", SettingsDir+"/threads")

	v.SetDefault("chat.system_prompt", "")
	v.SetDefault("chat.max_tool_steps", 5)
	v.SetDefault("chat.title_length", 50)
	v.SetDefault("chat.show_thinking", true)
	v.SetDefault("chat.tools", []string{"read_file"})

	v.SetDefault("search.embedding_model", "nomic-embed-text")
	v.SetDefault("search.limit", 5)

	v.SetDefault("logging.log_file", DefaultLogFile)
	v.SetDefault("logging.preserve", false)
	v.SetDefault("logging.level", "info")
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreJSON, StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s backend", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Chat.MaxToolSteps < 0 {
		return fmt.Errorf("chat.max_tool_steps must not be negative")
	}

	return nil
}

// ActiveModel returns the model name of the selected provider
func (c *Config) ActiveModel() string {
	if c.Provider == ProviderOpenAI {
		return c.OpenAI.Model
	}
	return c.Ollama.Model
}
