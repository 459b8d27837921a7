package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/metislabs/metis/pkg/errors"
	"github.com/metislabs/metis/pkg/llm"
	"github.com/metislabs/metis/pkg/resilience"
	"github.com/metislabs/metis/pkg/skills"
)

type scriptedCompleter struct {
	failPrefix string
	calls      int
}

func (c *scriptedCompleter) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	c.calls++
	if c.failPrefix != "" && strings.HasPrefix(req.Prompt, c.failPrefix) {
		return nil, errors.New(errors.CodeInternal, "provider exploded", nil)
	}
	return &llm.CompletionResult{Text: "echo: " + req.Prompt}, nil
}

func testSkill(name, template string) *skills.Skill {
	return &skills.Skill{
		Name:        name,
		Description: "test skill " + name,
		Category:    skills.CategoryTextProcessing,
		PromptTemplates: map[string]string{
			skills.BaseTemplate: template,
		},
		InputSchema: skills.Schema{"text": "string"},
	}
}

func newTestAgent(t *testing.T, completer skills.Completer, skillDefs ...*skills.Skill) *Agent {
	t.Helper()
	registry := skills.NewRegistry()
	for _, s := range skillDefs {
		if err := registry.Register(s); err != nil {
			t.Fatal(err)
		}
	}
	a, err := New("test-agent", WithSkills(registry, completer))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestProcessEmptyRequest(t *testing.T) {
	a := newTestAgent(t, &scriptedCompleter{}, testSkill("echo", "E {text}"))

	_, err := a.Process(context.Background(), Request{Text: "   "})
	if errors.CodeOf(err) != errors.CodeInvalidArgument {
		t.Fatalf("error code = %s, want %s", errors.CodeOf(err), errors.CodeInvalidArgument)
	}
	if a.History().Len() != 0 {
		t.Errorf("history length = %d, want 0 after rejected request", a.History().Len())
	}
}

func TestProcessSecurityContext(t *testing.T) {
	tests := []struct {
		name     string
		security *SecurityContext
		wantCode errors.ErrorCode
	}{
		{
			"expired",
			&SecurityContext{Identity: "alice", AccessLevel: "user", IssuedAt: time.Now().Add(-301 * time.Second)},
			errors.CodeSecurityExpired,
		},
		{
			"missing identity",
			&SecurityContext{AccessLevel: "user", IssuedAt: time.Now()},
			errors.CodeSecurityInvalid,
		},
		{
			"missing access level",
			&SecurityContext{Identity: "alice", IssuedAt: time.Now()},
			errors.CodeSecurityInvalid,
		},
		{
			"zero timestamp",
			&SecurityContext{Identity: "alice", AccessLevel: "user"},
			errors.CodeSecurityInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAgent(t, &scriptedCompleter{}, testSkill("echo", "E {text}"))
			_, err := a.Process(context.Background(), Request{Text: "hello", Security: tt.security})
			if errors.CodeOf(err) != tt.wantCode {
				t.Fatalf("error code = %s, want %s", errors.CodeOf(err), tt.wantCode)
			}
			if a.History().Len() != 0 {
				t.Errorf("history length = %d, want 0 after rejected request", a.History().Len())
			}
		})
	}
}

func TestProcessValidSecurityContext(t *testing.T) {
	a := newTestAgent(t, &scriptedCompleter{}, testSkill("echo", "E {text}"))
	resp, err := a.Process(context.Background(), Request{
		Text:     "hello",
		Security: NewSecurityContext("alice", "user"),
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(resp.Results) != 1 {
		t.Errorf("len(Results) = %d, want 1", len(resp.Results))
	}
}

func TestProcessExecutesSkills(t *testing.T) {
	completer := &scriptedCompleter{}
	a := newTestAgent(t, completer,
		testSkill("first", "A {text}"),
		testSkill("second", "B {text}"),
	)

	resp, err := a.Process(context.Background(), Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(resp.Results))
	}
	if resp.RequestID == "" {
		t.Error("RequestID not set")
	}
	if resp.Metrics.SkillsExecuted != 2 {
		t.Errorf("SkillsExecuted = %d, want 2", resp.Metrics.SkillsExecuted)
	}
	if resp.Metrics.Timestamp.IsZero() {
		t.Error("Metrics.Timestamp not set")
	}
	if a.History().Len() != 1 {
		t.Errorf("history length = %d, want 1", a.History().Len())
	}
	if _, ok := a.State().Get("first"); !ok {
		t.Error("state missing result for skill first")
	}
}

func TestProcessSkipsFailingSkill(t *testing.T) {
	completer := &scriptedCompleter{failPrefix: "BAD"}
	a := newTestAgent(t, completer,
		testSkill("bad", "BAD {text}"),
		testSkill("good", "GOOD {text}"),
	)

	resp, err := a.Process(context.Background(), Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("len(Results) = %d, want 1", len(resp.Results))
	}
	if resp.Results[0].SkillName != "good" {
		t.Errorf("surviving skill = %s, want good", resp.Results[0].SkillName)
	}
}

type flakyCompleter struct {
	failures int
	calls    int
}

func (c *flakyCompleter) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, errors.New(errors.CodeTransient, "provider overloaded", nil)
	}
	return &llm.CompletionResult{Text: "echo: " + req.Prompt}, nil
}

func TestProcessRetriesWhenAllSkillsFailTransiently(t *testing.T) {
	completer := &flakyCompleter{failures: 1}
	registry := skills.NewRegistry()
	if err := registry.Register(testSkill("echo", "E {text}")); err != nil {
		t.Fatal(err)
	}
	a, err := New("test-agent",
		WithSkills(registry, completer),
		WithRetry(resilience.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MinDelay:    time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			Multiplier:  2.0,
		}),
	)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := a.Process(context.Background(), Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("len(Results) = %d, want 1 after retry", len(resp.Results))
	}
	if completer.calls != 2 {
		t.Errorf("completer calls = %d, want 2", completer.calls)
	}
}

func TestProcessBreakerShortCircuit(t *testing.T) {
	completer := &scriptedCompleter{failPrefix: "X"}
	registry := skills.NewRegistry()
	for _, s := range []*skills.Skill{
		testSkill("one", "X {text}"),
		testSkill("two", "X {text}"),
		testSkill("three", "X {text}"),
	} {
		if err := registry.Register(s); err != nil {
			t.Fatal(err)
		}
	}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "test-agent",
		FailureThreshold: 1,
	})
	a, err := New("test-agent",
		WithSkills(registry, completer),
		WithBreaker(breaker),
	)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := a.Process(context.Background(), Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("len(Results) = %d, want 0", len(resp.Results))
	}
	// First failure opens the breaker; the remaining skills never run.
	if completer.calls != 1 {
		t.Errorf("completer calls = %d, want 1", completer.calls)
	}
	if breaker.State() != resilience.StateOpen {
		t.Errorf("breaker state = %s, want open", breaker.State())
	}
}

func TestHistoryBound(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Append(ConversationTurn{Content: string(rune('a' + i))})
	}
	if h.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", h.Len())
	}
	turns := h.Snapshot()
	if turns[0].Content != "c" || turns[2].Content != "e" {
		t.Errorf("retained turns = %q..%q, want c..e", turns[0].Content, turns[2].Content)
	}
}

func TestSetLimitsTightensBounds(t *testing.T) {
	a := newTestAgent(t, &scriptedCompleter{}, testSkill("echo", "E {text}"))
	for i := 0; i < 5; i++ {
		a.history.Append(ConversationTurn{Content: "turn"})
	}

	a.SetLimits(2, 32)
	if evicted := a.history.Trim(); evicted != 3 {
		t.Errorf("Trim() evicted %d, want 3", evicted)
	}
	if a.history.Len() != 2 {
		t.Errorf("history Len() = %d, want 2", a.history.Len())
	}
	if cleared := a.state.Merge(map[string]any{"k": strings.Repeat("x", 64)}); !cleared {
		t.Error("expected clear under the tightened state limit")
	}

	// Non-positive values leave the bounds untouched.
	a.SetLimits(0, -1)
	a.history.Append(ConversationTurn{Content: "turn"})
	if a.history.Len() != 2 {
		t.Errorf("history Len() = %d, want 2 after ignored update", a.history.Len())
	}
}

func TestStateClearOnOverflow(t *testing.T) {
	s := NewState(64)
	if cleared := s.Merge(map[string]any{"a": "small"}); cleared {
		t.Fatal("unexpected clear on small merge")
	}
	big := strings.Repeat("x", 100)
	if cleared := s.Merge(map[string]any{"b": big}); !cleared {
		t.Fatal("expected clear on oversized merge")
	}
	if _, ok := s.Get("a"); ok {
		t.Error("stale key survived the clear")
	}
	if _, ok := s.Get("b"); !ok {
		t.Error("incoming write was rejected")
	}
}

func TestStateMergeAccumulates(t *testing.T) {
	s := NewState(DefaultStateSizeLimit)
	s.Merge(map[string]any{"a": 1})
	s.Merge(map[string]any{"b": 2})
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

type mapEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (m mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	vec, ok := m.vectors[text]
	if !ok {
		return nil, errors.New(errors.CodeInternal, "no vector for text", nil)
	}
	return vec, nil
}

func TestSelectorRanksBySimilarity(t *testing.T) {
	registry := skills.NewRegistry()
	a := testSkill("alpha", "A {text}")
	b := testSkill("beta", "B {text}")
	c := testSkill("gamma", "C {text}")
	for _, s := range []*skills.Skill{a, b, c} {
		if err := registry.Register(s); err != nil {
			t.Fatal(err)
		}
	}

	embedder := mapEmbedder{vectors: map[string][]float32{
		"query":       {1, 0},
		a.Description: {0.2, 0.8},
		b.Description: {0.9, 0.1},
		c.Description: {0.7, 0.3},
	}}
	sel := NewSelector(embedder, registry, 2, nil)

	selected := sel.Select(context.Background(), "query")
	if len(selected) != 2 {
		t.Fatalf("len(selected) = %d, want 2", len(selected))
	}
	if selected[0].Name != "beta" || selected[1].Name != "gamma" {
		t.Errorf("selection = [%s %s], want [beta gamma]", selected[0].Name, selected[1].Name)
	}

	// Same request again must rank identically from the cache.
	again := sel.Select(context.Background(), "query")
	if again[0].Name != "beta" || again[1].Name != "gamma" {
		t.Errorf("cached selection = [%s %s], want [beta gamma]", again[0].Name, again[1].Name)
	}
}

func TestSelectorFallsBackToRegistrationOrder(t *testing.T) {
	registry := skills.NewRegistry()
	for _, s := range []*skills.Skill{
		testSkill("alpha", "A {text}"),
		testSkill("beta", "B {text}"),
		testSkill("gamma", "C {text}"),
	} {
		if err := registry.Register(s); err != nil {
			t.Fatal(err)
		}
	}

	embedder := mapEmbedder{err: errors.New(errors.CodeTransient, "embedder down", nil)}
	sel := NewSelector(embedder, registry, 2, nil)

	selected := sel.Select(context.Background(), "query")
	if len(selected) != 2 {
		t.Fatalf("len(selected) = %d, want 2", len(selected))
	}
	if selected[0].Name != "alpha" || selected[1].Name != "beta" {
		t.Errorf("fallback selection = [%s %s], want [alpha beta]", selected[0].Name, selected[1].Name)
	}
}

func TestStartStop(t *testing.T) {
	a := newTestAgent(t, &scriptedCompleter{}, testSkill("echo", "E {text}"))
	a.maintenanceInterval = 5 * time.Millisecond
	a.reportInterval = 5 * time.Millisecond
	a.Start()
	a.Start() // second Start is a no-op
	time.Sleep(20 * time.Millisecond)
	a.Stop()
	a.Stop() // second Stop is a no-op
}

func TestStartStopConcurrent(t *testing.T) {
	a := newTestAgent(t, &scriptedCompleter{}, testSkill("echo", "E {text}"))
	a.maintenanceInterval = time.Millisecond
	a.reportInterval = time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.Start()
		}()
		go func() {
			defer wg.Done()
			a.Stop()
		}()
	}
	wg.Wait()
	a.Stop()
}

func TestStatsSnapshot(t *testing.T) {
	a := newTestAgent(t, &scriptedCompleter{}, testSkill("echo", "E {text}"))
	if _, err := a.Process(context.Background(), Request{Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	stats := a.Stats()
	if stats.Requests != 1 {
		t.Errorf("Requests = %d, want 1", stats.Requests)
	}
	if stats.Failures != 0 {
		t.Errorf("Failures = %d, want 0", stats.Failures)
	}
	if stats.HistoryLength != 1 {
		t.Errorf("HistoryLength = %d, want 1", stats.HistoryLength)
	}
	if stats.BreakerState != resilience.StateClosed {
		t.Errorf("BreakerState = %s, want closed", stats.BreakerState)
	}
}
