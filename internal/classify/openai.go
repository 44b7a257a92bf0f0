// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pdiddy/scholar-pipeline/internal/httputil"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultMaxTokens     = 4096
	defaultTemperature   = 0.1
)

// OpenAIBackend calls any OpenAI-compatible chat completions endpoint.
type OpenAIBackend struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Client      *http.Client
}

// NewOpenAIBackend builds a backend from the LLM configuration.
func NewOpenAIBackend(cfg types.LLMConfig, client *http.Client) *OpenAIBackend {
	b := &OpenAIBackend{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Client:      client,
	}
	if b.BaseURL == "" {
		b.BaseURL = defaultOpenAIBaseURL
	}
	if b.Model == "" {
		b.Model = defaultOpenAIModel
	}
	if b.MaxTokens <= 0 {
		b.MaxTokens = defaultMaxTokens
	}
	if b.Client == nil {
		b.Client = &http.Client{Timeout: 60 * time.Second}
	}
	return b
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends one chat completion request.
func (b *OpenAIBackend) Complete(ctx context.Context, p Prompt) (Completion, error) {
	reqBody := chatRequest{
		Model: b.Model,
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		Temperature: b.Temperature,
		MaxTokens:   b.MaxTokens,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, httputil.NewError(providerLLM, httputil.KindFatal, eris.Wrap(err, "encoding chat request"))
	}
	reqURL := strings.TrimRight(b.BaseURL, "/") + "/chat/completions"

	var resp chatResponse
	err = httputil.FetchJSON(ctx, b.Client, providerLLM, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+b.APIKey)
		return req, nil
	}, &resp)
	if err != nil {
		return Completion{}, err
	}

	var out Completion
	if resp.Usage != nil {
		out.Usage = types.TokenUsage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens}
	}
	if len(resp.Choices) == 0 {
		return out, httputil.NewError(providerLLM, httputil.KindParse, eris.New("no choices in completion"))
	}
	out.Text = resp.Choices[0].Message.Content
	return out, nil
}
