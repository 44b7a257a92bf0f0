// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/pdiddy/scholar-pipeline/internal/httputil"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

const defaultAnthropicModel = "claude-haiku-4-5-20251001"

// AnthropicBackend calls the Anthropic Messages API through the SDK.
type AnthropicBackend struct {
	client      sdk.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropicBackend creates a backend. The SDK's own retries are disabled
// so the shared retry policy alone decides when to try again.
func NewAnthropicBackend(cfg types.LLMConfig, client *http.Client) *AnthropicBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if client != nil {
		opts = append(opts, option.WithHTTPClient(client))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = defaultAnthropicModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicBackend{
		client:      sdk.NewClient(opts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}
}

// Complete sends one message request.
func (b *AnthropicBackend) Complete(ctx context.Context, p Prompt) (Completion, error) {
	params := sdk.MessageNewParams{
		Model:       sdk.Model(b.model),
		MaxTokens:   b.maxTokens,
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(p.User))},
		Temperature: sdk.Float(b.temperature),
	}
	if p.System != "" {
		params.System = []sdk.TextBlockParam{{Text: p.System}}
	}

	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return Completion{}, classifySDKError(ctx, err)
	}

	out := Completion{
		Usage: types.TokenUsage{PromptTokens: msg.Usage.InputTokens, CompletionTokens: msg.Usage.OutputTokens},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	out.Text = text.String()
	if out.Text == "" {
		return out, httputil.NewError(providerLLM, httputil.KindParse, eris.New("no text content in message"))
	}
	return out, nil
}

// classifySDKError maps SDK failures onto the shared error kinds.
func classifySDKError(ctx context.Context, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return httputil.StatusError(providerLLM, apiErr.StatusCode, apiErr.Error())
	}
	return httputil.TransportError(ctx, providerLLM, eris.Wrap(err, "anthropic: create message"))
}
