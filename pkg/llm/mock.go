package llm

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/metislabs/metis/pkg/errors"
)

// MockProvider is a testing implementation of Provider.
type MockProvider struct {
	Response  string
	Vector    []float32
	Err       error
	Dimension int

	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
	EmbedFunc    func(ctx context.Context, text string) ([]float32, error)

	mu        sync.Mutex
	calls     []string
	failures  int
	failErr   error
	callCount int
}

// FailTimes makes the next n calls fail with err before succeeding.
func (m *MockProvider) FailTimes(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
	m.failErr = err
}

// Calls returns the operations invoked, in order.
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount returns the total number of provider invocations.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *MockProvider) observe(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op)
	m.callCount++
	if m.failures > 0 {
		m.failures--
		if m.failErr != nil {
			return m.failErr
		}
		return errors.New(errors.CodeTransient, "mock failure", nil)
	}
	return m.Err
}

func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	if err := m.observe("complete"); err != nil {
		return nil, err
	}
	text := m.Response
	if text == "" {
		text = "mock completion"
	}
	return &CompletionResult{
		Text:  text,
		Usage: Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}

func (m *MockProvider) ChatComplete(ctx context.Context, messages []Message) (*CompletionResult, error) {
	if err := m.observe("chat_complete"); err != nil {
		return nil, err
	}
	text := m.Response
	if text == "" {
		text = "mock chat completion"
	}
	return &CompletionResult{
		Text:  text,
		Usage: Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}

func (m *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	if err := m.observe("embed"); err != nil {
		return nil, err
	}
	if m.Vector != nil {
		return append([]float32(nil), m.Vector...), nil
	}
	dim := m.Dimension
	if dim == 0 {
		dim = 8
	}
	return deterministicVector(text, dim), nil
}

// deterministicVector derives a unit vector from text so similarity tests are
// stable across runs: equal texts embed equally, different texts differ.
func deterministicVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed>>11)) / float64(1<<52)
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
