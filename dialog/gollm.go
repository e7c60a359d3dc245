package dialog

import (
	"context"
	"fmt"
	"strings"

	"github.com/teilomillet/gollm"
)

// GollmProvider drives a gollm-backed model as a ChatProvider. History
// is replayed into the prompt as role-tagged lines; the model continues
// after the final "assistant:" marker.
type GollmProvider struct {
	provider string
	llm      gollm.LLM
}

var _ ChatProvider = (*GollmProvider)(nil)

// GollmOption configures a GollmProvider.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
}

// WithAPIKey sets the API key. When empty, gollm reads it from the
// provider's environment variable.
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) { c.apiKey = key }
}

// WithModel overrides the provider's default model.
func WithModel(model string) GollmOption {
	return func(c *gollmConfig) { c.model = model }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) { c.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) GollmOption {
	return func(c *gollmConfig) { c.temperature = t }
}

// NewGollmProvider creates a provider ("openai", "anthropic", "ollama",
// ...) backed by gollm.
func NewGollmProvider(provider string, opts ...GollmOption) (*GollmProvider, error) {
	cfg := &gollmConfig{
		maxTokens:   1024,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.model != "" {
		gollmOpts = append(gollmOpts, gollm.SetModel(cfg.model))
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("dialog: create %s provider: %w", provider, err)
	}
	return &GollmProvider{provider: provider, llm: llm}, nil
}

// Name implements ChatProvider.
func (p *GollmProvider) Name() string { return p.provider }

// Chat implements ChatProvider.
func (p *GollmProvider) Chat(ctx context.Context, history []map[string]string, userMessage string) (string, error) {
	prompt := gollm.NewPrompt(buildPrompt(history, userMessage))
	text, err := p.llm.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("dialog: generate reply: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func buildPrompt(history []map[string]string, userMessage string) string {
	var b strings.Builder
	for _, turn := range history {
		b.WriteString(turn["role"])
		b.WriteString(": ")
		b.WriteString(turn["content"])
		b.WriteString("\n")
	}
	b.WriteString("user: ")
	b.WriteString(userMessage)
	b.WriteString("\nassistant:")
	return b.String()
}
