package llm

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/metislabs/metis/pkg/core"
	"github.com/metislabs/metis/pkg/errors"
	"github.com/metislabs/metis/pkg/resilience"
	"github.com/metislabs/metis/pkg/telemetry"
)

const (
	// DefaultTemperature is applied when a request leaves temperature unset.
	DefaultTemperature = 0.7

	// DefaultMaxTokens is applied when a request leaves max tokens unset.
	DefaultMaxTokens = 1000
)

// ClientConfig configures the client adapter.
type ClientConfig struct {
	// EmbeddingDimension is the dimensionality every embedding must have.
	EmbeddingDimension int

	// MaxConcurrent bounds simultaneous in-flight provider calls (default 10).
	MaxConcurrent int

	// Retry overrides the default retry policy when non-zero.
	Retry *resilience.RetryConfig
}

// Client adapts a Provider with argument validation, dimension enforcement,
// and the shared resilience policy. Validation failures fail fast and are
// never retried; only provider-side failures pass through the retry loop.
type Client struct {
	provider  Provider
	dimension int
	policies  map[string]*resilience.Policy
	tracer    trace.Tracer
}

// NewClient wraps provider. Each operation gets its own policy so a failing
// embedding endpoint does not open the completion breaker.
func NewClient(provider Provider, cfg ClientConfig, sink core.Sink) *Client {
	limiter := resilience.NewLimiter(cfg.MaxConcurrent)

	policies := make(map[string]*resilience.Policy, 3)
	for _, op := range []string{"llm.complete", "llm.chat_complete", "llm.embed"} {
		p := resilience.NewPolicy(op, sink)
		if cfg.Retry != nil {
			p.Retry = *cfg.Retry
		}
		// One permit pool across all operations: the provider rate-limits the
		// account, not the endpoint.
		p.Limiter = limiter
		policies[op] = p
	}

	return &Client{
		provider:  provider,
		dimension: cfg.EmbeddingDimension,
		policies:  policies,
		tracer:    otel.Tracer("metis/llm"),
	}
}

// Dimension returns the configured embedding dimension.
func (c *Client) Dimension() int {
	return c.dimension
}

// Complete generates a text completion. The prompt must be non-empty after
// trimming, temperature must be in [0,1], and max tokens must be positive.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return nil, errors.New(errors.CodeInvalidArgument, "prompt cannot be empty", nil)
	}
	if req.Temperature == nil {
		req.Temperature = Float64(DefaultTemperature)
	}
	if *req.Temperature < 0 || *req.Temperature > 1 {
		return nil, errors.New(errors.CodeInvalidArgument, "temperature must be between 0 and 1", nil).
			WithContext("temperature", *req.Temperature)
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	if req.MaxTokens < 0 {
		return nil, errors.New(errors.CodeInvalidArgument, "max tokens must be positive", nil).
			WithContext("max_tokens", req.MaxTokens)
	}

	ctx, span := c.tracer.Start(ctx, "llm.Complete", trace.WithAttributes(
		attribute.Int("prompt_length", len(req.Prompt)),
		attribute.Float64(telemetry.AttrLLMTemperature, *req.Temperature),
	))
	defer span.End()

	result, err := resilience.Invoke(ctx, c.policies["llm.complete"], func(ctx context.Context) (*CompletionResult, error) {
		return c.provider.Complete(ctx, req)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int(telemetry.AttrLLMTokensTotal, result.Usage.TotalTokens))
	return result, nil
}

// ChatComplete generates a completion for a message sequence.
func (c *Client) ChatComplete(ctx context.Context, messages []Message) (*CompletionResult, error) {
	if len(messages) == 0 {
		return nil, errors.New(errors.CodeInvalidArgument, "messages cannot be empty", nil)
	}
	for i, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			return nil, errors.New(errors.CodeInvalidArgument, "message content cannot be empty", nil).
				WithContext("index", i)
		}
	}

	ctx, span := c.tracer.Start(ctx, "llm.ChatComplete", trace.WithAttributes(
		attribute.Int("message_count", len(messages)),
	))
	defer span.End()

	result, err := resilience.Invoke(ctx, c.policies["llm.chat_complete"], func(ctx context.Context) (*CompletionResult, error) {
		return c.provider.ChatComplete(ctx, messages)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

// Embed converts text into an embedding vector. A provider response whose
// length differs from the configured dimension fails with DIMENSION_MISMATCH
// and is not retried: the mismatch is structural, not transient.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New(errors.CodeInvalidArgument, "text cannot be empty", nil)
	}

	ctx, span := c.tracer.Start(ctx, "llm.Embed", trace.WithAttributes(
		attribute.Int("text_length", len(text)),
	))
	defer span.End()

	vector, err := resilience.Invoke(ctx, c.policies["llm.embed"], func(ctx context.Context) ([]float32, error) {
		vec, err := c.provider.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if c.dimension > 0 && len(vec) != c.dimension {
			return nil, errors.New(errors.CodeDimensionMismatch, "embedding dimension mismatch", nil).
				WithContext("got", len(vec)).
				WithContext("want", c.dimension)
		}
		return vec, nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return vector, nil
}
