package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicAdapter calls the Messages API directly instead of shelling out to a CLI.
type AnthropicAdapter struct {
	inner anthropic.Client
	model anthropic.Model
}

// NewAnthropicAdapter creates an API-backed adapter. cfg.APIKey must be set;
// the caller resolves it from the provider's api_key_env.
func NewAnthropicAdapter(cfg Config) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic backend requires an API key")
	}

	// Retries are owned by the oracle client's backoff policy
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5
	}

	return &AnthropicAdapter{
		inner: anthropic.NewClient(opts...),
		model: model,
	}, nil
}

// Name returns "anthropic".
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Send issues a single Messages request and concatenates the text blocks.
func (a *AnthropicAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: defaultAnthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)),
		},
	}
	if msg.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: msg.System}}
	}
	if msg.Temperature != nil {
		params.Temperature = anthropic.Float(*msg.Temperature)
	}

	resp, err := a.inner.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic request failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}

	return Response{Content: sb.String(), Model: string(resp.Model)}, nil
}
