package llm

import (
	"context"
	"testing"
	"time"

	merrors "github.com/metislabs/metis/pkg/errors"
	"github.com/metislabs/metis/pkg/resilience"
)

func fastRetry() *resilience.RetryConfig {
	rc := resilience.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MinDelay:    time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
	return &rc
}

func newTestClient(provider *MockProvider, dimension int) *Client {
	return NewClient(provider, ClientConfig{
		EmbeddingDimension: dimension,
		Retry:              fastRetry(),
	}, nil)
}

func TestCompleteValidation(t *testing.T) {
	provider := &MockProvider{}
	client := newTestClient(provider, 8)

	tests := []struct {
		name string
		req  CompletionRequest
	}{
		{"empty prompt", CompletionRequest{Prompt: "   "}},
		{"temperature too high", CompletionRequest{Prompt: "hi", Temperature: Float64(1.5)}},
		{"negative temperature", CompletionRequest{Prompt: "hi", Temperature: Float64(-0.1)}},
		{"negative max tokens", CompletionRequest{Prompt: "hi", MaxTokens: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Complete(context.Background(), tt.req)
			if merrors.CodeOf(err) != merrors.CodeInvalidArgument {
				t.Errorf("expected INVALID_ARGUMENT, got %v", err)
			}
		})
	}
	if provider.CallCount() != 0 {
		t.Errorf("validation failures must not reach the provider, got %d calls", provider.CallCount())
	}
}

func TestCompleteDefaults(t *testing.T) {
	var seen CompletionRequest
	provider := &MockProvider{
		CompleteFunc: func(_ context.Context, req CompletionRequest) (*CompletionResult, error) {
			seen = req
			return &CompletionResult{Text: "ok"}, nil
		},
	}
	client := newTestClient(provider, 8)

	if _, err := client.Complete(context.Background(), CompletionRequest{Prompt: "  hello  "}); err != nil {
		t.Fatal(err)
	}
	if seen.Prompt != "hello" {
		t.Errorf("prompt should be trimmed, got %q", seen.Prompt)
	}
	if seen.Temperature == nil || *seen.Temperature != DefaultTemperature {
		t.Errorf("expected default temperature, got %v", seen.Temperature)
	}
	if seen.MaxTokens != DefaultMaxTokens {
		t.Errorf("expected default max tokens, got %v", seen.MaxTokens)
	}
}

func TestCompleteZeroTemperaturePassesThrough(t *testing.T) {
	var seen CompletionRequest
	provider := &MockProvider{
		CompleteFunc: func(_ context.Context, req CompletionRequest) (*CompletionResult, error) {
			seen = req
			return &CompletionResult{Text: "ok"}, nil
		},
	}
	client := newTestClient(provider, 8)

	req := CompletionRequest{Prompt: "hi", Temperature: Float64(0)}
	if _, err := client.Complete(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if seen.Temperature == nil || *seen.Temperature != 0 {
		t.Errorf("explicit zero temperature must reach the provider, got %v", seen.Temperature)
	}
}

func TestCompleteRetriesTransient(t *testing.T) {
	provider := &MockProvider{Response: "done"}
	provider.FailTimes(2, merrors.New(merrors.CodeTransient, "rate limited", nil))
	client := newTestClient(provider, 8)

	result, err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if result.Text != "done" {
		t.Errorf("unexpected result %q", result.Text)
	}
	if provider.CallCount() != 3 {
		t.Errorf("expected 3 provider calls, got %d", provider.CallCount())
	}
}

func TestChatCompleteValidation(t *testing.T) {
	client := newTestClient(&MockProvider{}, 8)

	_, err := client.ChatComplete(context.Background(), nil)
	if merrors.CodeOf(err) != merrors.CodeInvalidArgument {
		t.Errorf("expected INVALID_ARGUMENT for empty messages, got %v", err)
	}

	_, err = client.ChatComplete(context.Background(), []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "  "},
	})
	if merrors.CodeOf(err) != merrors.CodeInvalidArgument {
		t.Errorf("expected INVALID_ARGUMENT for blank content, got %v", err)
	}
}

func TestEmbedDimensionEnforced(t *testing.T) {
	provider := &MockProvider{Vector: []float32{1, 2, 3}}
	client := newTestClient(provider, 8)

	_, err := client.Embed(context.Background(), "hello")
	if merrors.CodeOf(err) != merrors.CodeDimensionMismatch {
		t.Fatalf("expected DIMENSION_MISMATCH, got %v", err)
	}
	if provider.CallCount() != 1 {
		t.Errorf("dimension mismatch is structural and must not be retried, got %d calls", provider.CallCount())
	}
}

func TestEmbedHappyPath(t *testing.T) {
	provider := &MockProvider{Dimension: 8}
	client := newTestClient(provider, 8)

	vec, err := client.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 8 {
		t.Errorf("expected 8-dimensional vector, got %d", len(vec))
	}

	again, err := client.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	for i := range vec {
		if vec[i] != again[i] {
			t.Fatalf("mock embeddings must be deterministic")
		}
	}
}

func TestEmbedEmptyText(t *testing.T) {
	provider := &MockProvider{Dimension: 8}
	client := newTestClient(provider, 8)

	_, err := client.Embed(context.Background(), "  \n ")
	if merrors.CodeOf(err) != merrors.CodeInvalidArgument {
		t.Errorf("expected INVALID_ARGUMENT, got %v", err)
	}
	if provider.CallCount() != 0 {
		t.Errorf("validation failures must not reach the provider")
	}
}
