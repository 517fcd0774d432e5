package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-sonnet-4-5-20250929"

// Anthropic completes through the Messages API.
type Anthropic struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

// NewAnthropic builds a client. baseURL overrides the API endpoint when set.
func NewAnthropic(apiKey, model, baseURL string, logger *zap.Logger) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(2)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := anthropic.NewClient(opts...)
	return &Anthropic{
		client: &client,
		model:  model,
		logger: logger.Named("llm").With(zap.String("provider", "anthropic")),
	}
}

func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(text.String())
	if out == "" {
		return "", fmt.Errorf("anthropic: %w", ErrEmptyCompletion)
	}
	a.logger.Debug("completion",
		zap.String("model", a.model),
		zap.String("stop_reason", string(resp.StopReason)),
		zap.Int64("output_tokens", resp.Usage.OutputTokens))
	return out, nil
}
