// Package reformat rewrites free-form status text into the fixed executive
// update layout using a chat model, falling back across providers.
package reformat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/statusbot/internal/ollama"
	"github.com/kalambet/statusbot/internal/proxy"
)

// ErrMissingSections is returned when a model reply lacks the required headings.
var ErrMissingSections = errors.New("reply is missing required sections")

// Provider completes a system+user prompt pair.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// Reformatter tries each provider in order until one returns a reply with
// all sections.
type Reformatter struct {
	providers []Provider
	logger    *slog.Logger
}

// New returns a Reformatter over providers, tried in the given order.
func New(providers ...Provider) *Reformatter {
	return &Reformatter{providers: providers, logger: slog.Default()}
}

// Providers returns the provider names in fallback order.
func (r *Reformatter) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Reformat returns text rewritten into the executive update layout.
func (r *Reformatter) Reformat(ctx context.Context, text string) (string, error) {
	if len(r.providers) == 0 {
		return "", errors.New("no reformatting provider configured")
	}

	var errs []error
	for _, p := range r.providers {
		out, err := p.Complete(ctx, systemPrompt, text)
		if err == nil && !HasSections(out) {
			err = ErrMissingSections
		}
		if err != nil {
			r.logger.Warn("reformat provider failed", "provider", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return strings.TrimSpace(out), nil
	}
	return "", errors.Join(errs...)
}

type openRouterProvider struct {
	client *proxy.Client
	model  string
}

// NewOpenRouter adapts an OpenRouter client.
func NewOpenRouter(client *proxy.Client, model string) Provider {
	return &openRouterProvider{client: client, model: model}
}

func (p *openRouterProvider) Name() string { return "openrouter" }

func (p *openRouterProvider) Complete(ctx context.Context, system, user string) (string, error) {
	return p.client.Complete(ctx, p.model, []proxy.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
}

type ollamaProvider struct {
	client *ollama.Client
	model  string
}

// NewOllama adapts an Ollama client.
func NewOllama(client *ollama.Client, model string) Provider {
	return &ollamaProvider{client: client, model: model}
}

func (p *ollamaProvider) Name() string { return "ollama" }

func (p *ollamaProvider) Complete(ctx context.Context, system, user string) (string, error) {
	return p.client.Chat(ctx, p.model, []ollama.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
}
