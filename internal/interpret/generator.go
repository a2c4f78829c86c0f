package interpret

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"github.com/variant-interpretation-server/internal/domain"
)

const (
	defaultModel     = "claude-haiku-4-5-20251001"
	defaultMaxTokens = 1024
	defaultTimeout   = 60 * time.Second
)

var errEmptyResponse = errors.New("text-generation service returned no text")

// AnthropicGenerator implements domain.Generator over the Anthropic Messages API.
// Requests are paced by a limiter and never retried.
type AnthropicGenerator struct {
	client    sdk.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	limiter   *rate.Limiter
}

// NewAnthropicGenerator creates a generator for the given configuration.
// It fails with domain.ErrMissingCredential when no API key is configured.
func NewAnthropicGenerator(config domain.LLMConfig) (*AnthropicGenerator, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, domain.ErrMissingCredential
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaultMaxTokens
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	return &AnthropicGenerator{
		client:    sdk.NewClient(opts...),
		model:     config.Model,
		maxTokens: config.MaxTokens,
		timeout:   config.Timeout,
		limiter:   rate.NewLimiter(limit, 1),
	}, nil
}

// Generate sends prompt as a single user message and returns the concatenated text blocks
func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	msg, err := g.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(g.model),
		MaxTokens: g.maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("text generation failed: %w", err)
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}
