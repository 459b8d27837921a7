// SPDX-License-Identifier: Apache-2.0

// Package openai implements llm.Provider on top of the OpenAI API.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/metislabs/metis/pkg/llm"
)

// Provider implements llm.Provider for the OpenAI API.
type Provider struct {
	client         openai.Client
	model          string
	embeddingModel string
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the completion model.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model string) Option {
	return func(p *Provider) {
		p.embeddingModel = model
	}
}

// WithBaseURL sets a custom base URL (for Azure OpenAI or proxies).
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.client = openai.NewClient(option.WithBaseURL(url))
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) {
		p.client = openai.NewClient(option.WithAPIKey(apiKey))
	}
}

// New creates an OpenAI provider. The API key is read from the
// OPENAI_API_KEY environment variable unless WithAPIKey overrides it.
func New(opts ...Option) *Provider {
	p := &Provider{
		client:         openai.NewClient(),
		model:          "gpt-5-mini",
		embeddingModel: string(openai.EmbeddingModelTextEmbedding3Small),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	return p.chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: req.Prompt}}, req.Temperature, req.MaxTokens)
}

// ChatComplete implements llm.Provider.
func (p *Provider) ChatComplete(ctx context.Context, messages []llm.Message) (*llm.CompletionResult, error) {
	return p.chat(ctx, messages, nil, 0)
}

func (p *Provider) chat(ctx context.Context, messages []llm.Message, temperature *float64, maxTokens int) (*llm.CompletionResult, error) {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		converted = append(converted, convertMessage(msg))
	}

	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: converted,
	}
	if temperature != nil {
		params.Temperature = openai.Float(*temperature)
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(maxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}

	result := &llm.CompletionResult{
		Usage: llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) > 0 {
		result.Text = completion.Choices[0].Message.Content
	}
	return result, nil
}

// Embed implements llm.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embedding returned no data")
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

func convertMessage(msg llm.Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case llm.RoleSystem:
		return openai.SystemMessage(msg.Content)
	case llm.RoleAssistant:
		return openai.AssistantMessage(msg.Content)
	default:
		return openai.UserMessage(msg.Content)
	}
}

var _ llm.Provider = (*Provider)(nil)
