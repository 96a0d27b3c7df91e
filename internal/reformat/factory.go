package reformat

import (
	"fmt"
	"strings"

	"github.com/kalambet/statusbot/internal/ollama"
	"github.com/kalambet/statusbot/internal/proxy"
)

// Config selects and configures the reformatting providers.
type Config struct {
	Provider string // "openrouter", "ollama" or "auto"

	OpenRouterAPIKey string
	OpenRouterModel  string
	// OpenRouterBaseURL overrides the public endpoint when set.
	OpenRouterBaseURL string

	OllamaBaseURL string
	OllamaModel   string
}

// NewFromConfig builds a Reformatter. "auto" uses OpenRouter first when an
// API key is present and always keeps Ollama as the last resort.
func NewFromConfig(cfg Config) (*Reformatter, error) {
	openRouter := func() Provider {
		c := proxy.NewClient(cfg.OpenRouterAPIKey)
		if cfg.OpenRouterBaseURL != "" {
			c = proxy.NewClientWithBaseURL(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL)
		}
		return NewOpenRouter(c, cfg.OpenRouterModel)
	}
	local := func() Provider {
		return NewOllama(ollama.New(cfg.OllamaBaseURL), cfg.OllamaModel)
	}

	switch strings.ToLower(cfg.Provider) {
	case "openrouter":
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("openrouter provider requires proxy.openrouter_api_key")
		}
		return New(openRouter()), nil
	case "ollama":
		return New(local()), nil
	case "", "auto":
		if cfg.OpenRouterAPIKey != "" {
			return New(openRouter(), local()), nil
		}
		return New(local()), nil
	default:
		return nil, fmt.Errorf("unknown reformat provider %q", cfg.Provider)
	}
}
