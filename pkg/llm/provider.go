// Package llm defines the language model provider contract and the validated,
// resilience-wrapped client adapter the engine calls through.
package llm

import "context"

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single unit of chat communication.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage tracks token consumption reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionRequest encapsulates the input for a text completion.
// Temperature is optional: nil selects the client default, while an explicit
// zero passes through for deterministic sampling.
type CompletionRequest struct {
	Prompt      string   `json:"prompt"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens"`
}

// Float64 returns a pointer to v, for optional request fields.
func Float64(v float64) *float64 { return &v }

// CompletionResult encapsulates provider output. Usage is an optional side
// channel; providers that cannot report it leave it zero.
type CompletionResult struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Provider is the abstract capability contract for a language model backend.
// Concrete network/protocol details belong to implementations.
type Provider interface {
	// Complete generates a text completion for a prompt.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)

	// ChatComplete generates a completion for an ordered message sequence.
	ChatComplete(ctx context.Context, messages []Message) (*CompletionResult, error)

	// Embed converts text into an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)
}
