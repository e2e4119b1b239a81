package transport

import (
	"fmt"
	"net/http"

	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/tools"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewModel builds the model client for the configured provider
func NewModel(cfg *config.Config) (llms.Model, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.Ollama.URL),
			ollama.WithModel(cfg.Ollama.Model),
			ollama.WithHTTPClient(&http.Client{Timeout: cfg.Ollama.Timeout}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama LLM: %w", err)
		}
		return llm, nil

	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(cfg.OpenAI.Model),
			openai.WithHTTPClient(&http.Client{Timeout: cfg.OpenAI.Timeout}),
		}
		if cfg.OpenAI.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.OpenAI.APIKey))
		}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI LLM: %w", err)
		}
		return llm, nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// New builds a transport for cfg: the provider's model plus the configured
// tools and step limit
func New(cfg *config.Config) (*LangChainTransport, error) {
	model, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}

	toolset, err := tools.Build(cfg.Chat.Tools)
	if err != nil {
		return nil, fmt.Errorf("failed to build tools: %w", err)
	}

	return NewLangChainTransport(model,
		WithTools(toolset...),
		WithMaxToolSteps(cfg.Chat.MaxToolSteps),
	), nil
}

// NewEmbedder builds an embedder on the configured provider using the
// search embedding model
func NewEmbedder(cfg *config.Config) (embeddings.Embedder, error) {
	var client embeddings.EmbedderClient

	switch cfg.Provider {
	case config.ProviderOllama:
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.Ollama.URL),
			ollama.WithModel(cfg.Search.EmbeddingModel),
			ollama.WithHTTPClient(&http.Client{Timeout: cfg.Ollama.Timeout}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama embedder: %w", err)
		}
		client = llm

	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(cfg.OpenAI.Model),
			openai.WithEmbeddingModel(cfg.Search.EmbeddingModel),
			openai.WithHTTPClient(&http.Client{Timeout: cfg.OpenAI.Timeout}),
		}
		if cfg.OpenAI.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.OpenAI.APIKey))
		}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI embedder: %w", err)
		}
		client = llm

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	return embeddings.NewEmbedder(client)
}
