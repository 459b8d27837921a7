// Package agent implements the orchestrator: it owns the conversation
// history and working state, validates incoming requests, assembles
// retrieval context, selects and executes skills, and runs the background
// maintenance tasks.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/metislabs/metis/pkg/core"
	"github.com/metislabs/metis/pkg/errors"
	"github.com/metislabs/metis/pkg/resilience"
	"github.com/metislabs/metis/pkg/retrieval"
	"github.com/metislabs/metis/pkg/skills"
	"github.com/metislabs/metis/pkg/telemetry"
)

// Request is one unit of work for the agent.
type Request struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Security *SecurityContext  `json:"security,omitempty"`
}

// Response is the outcome of processing a request.
type Response struct {
	RequestID string              `json:"request_id"`
	Results   []skills.Result     `json:"results"`
	Snippets  []retrieval.Snippet `json:"snippets,omitempty"`
	Metrics   Metrics             `json:"metrics"`
}

// Metrics summarizes one processed request.
type Metrics struct {
	ElapsedTime    time.Duration `json:"elapsed_time"`
	SkillsExecuted int           `json:"skills_executed"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Stats is a point-in-time view of the agent's counters.
type Stats struct {
	Requests      int64
	Failures      int64
	HistoryLength int
	StateSize     int
	BreakerState  resilience.CircuitBreakerState
}

// Agent orchestrates request processing end to end.
type Agent struct {
	id       string
	registry *skills.Registry
	executor *skills.Executor
	selector *Selector
	builder  *retrieval.Builder

	history *History
	state   *State

	retry            resilience.RetryConfig
	breaker          *resilience.CircuitBreaker
	securityLifetime time.Duration

	sink    core.Sink
	metrics *telemetry.EngineMetrics
	logger  *slog.Logger
	tracer  trace.Tracer

	maintenanceInterval time.Duration
	reportInterval      time.Duration
	tasksMu             sync.Mutex
	stopTasks           context.CancelFunc
	tasksDone           chan struct{}

	requests int64
	failures int64
}

// Option configures an Agent instance.
type Option func(*Agent) error

// New creates an agent with a required id and options. An executor (or a
// registry plus completer through WithSkills) is required.
func New(id string, opts ...Option) (*Agent, error) {
	a := &Agent{
		id:                  id,
		history:             NewHistory(DefaultHistoryLimit),
		state:               NewState(DefaultStateSizeLimit),
		retry:               resilience.DefaultRetryConfig(),
		securityLifetime:    DefaultSecurityLifetime,
		sink:                core.NopSink{},
		logger:              slog.Default(),
		tracer:              otel.Tracer("metis/agent"),
		maintenanceInterval: DefaultMaintenanceInterval,
		reportInterval:      DefaultReportInterval,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.id == "" {
		return nil, errors.New(errors.CodeInvalidArgument, "agent id is required", nil)
	}
	if a.executor == nil {
		return nil, errors.New(errors.CodeInvalidArgument, "agent executor is required", nil)
	}
	if a.registry == nil {
		return nil, errors.New(errors.CodeInvalidArgument, "agent skill registry is required", nil)
	}
	if a.selector == nil {
		a.selector = NewSelector(nil, a.registry, DefaultSkillLimit, a.logger)
	}
	if a.breaker == nil {
		a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: a.id})
	}
	return a, nil
}

// WithSkills wires the skill registry and the completer that executes them.
func WithSkills(registry *skills.Registry, completer skills.Completer) Option {
	return func(a *Agent) error {
		a.registry = registry
		a.executor = skills.NewExecutor(registry, completer, a.logger)
		return nil
	}
}

// WithExecutor overrides the skill executor.
func WithExecutor(registry *skills.Registry, executor *skills.Executor) Option {
	return func(a *Agent) error {
		a.registry = registry
		a.executor = executor
		return nil
	}
}

// WithSelector sets the embedding-backed skill selector.
func WithSelector(embedder Embedder, limit int) Option {
	return func(a *Agent) error {
		if a.registry == nil {
			return errors.New(errors.CodeInvalidArgument, "selector requires a registry; apply WithSkills first", nil)
		}
		a.selector = NewSelector(embedder, a.registry, limit, a.logger)
		return nil
	}
}

// WithRetrieval attaches the retrieval context builder.
func WithRetrieval(builder *retrieval.Builder) Option {
	return func(a *Agent) error {
		a.builder = builder
		return nil
	}
}

// WithHistoryLimit bounds the conversation history.
func WithHistoryLimit(limit int) Option {
	return func(a *Agent) error {
		a.history = NewHistory(limit)
		return nil
	}
}

// WithStateLimit bounds the serialized agent state.
func WithStateLimit(limit int) Option {
	return func(a *Agent) error {
		a.state = NewState(limit)
		return nil
	}
}

// WithRetry overrides the pipeline retry configuration.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(a *Agent) error {
		a.retry = cfg
		return nil
	}
}

// WithBreaker sets the orchestrator-level circuit breaker guarding the
// skill execution loop.
func WithBreaker(breaker *resilience.CircuitBreaker) Option {
	return func(a *Agent) error {
		a.breaker = breaker
		return nil
	}
}

// WithSecurityLifetime overrides how long security contexts stay valid.
func WithSecurityLifetime(d time.Duration) Option {
	return func(a *Agent) error {
		a.securityLifetime = d
		return nil
	}
}

// WithSink sets the observability event sink.
func WithSink(sink core.Sink) Option {
	return func(a *Agent) error {
		a.sink = sink
		return nil
	}
}

// WithMetrics attaches the engine metric instruments.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(a *Agent) error {
		a.metrics = m
		return nil
	}
}

// WithLogger sets the agent logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) error {
		a.logger = logger
		return nil
	}
}

// WithIntervals overrides the background task intervals.
func WithIntervals(maintenance, report time.Duration) Option {
	return func(a *Agent) error {
		if maintenance > 0 {
			a.maintenanceInterval = maintenance
		}
		if report > 0 {
			a.reportInterval = report
		}
		return nil
	}
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// History returns the conversation history.
func (a *Agent) History() *History { return a.history }

// State returns the agent working state.
func (a *Agent) State() *State { return a.state }

// SetLimits adjusts the history and state bounds at runtime; the maintenance
// sweep re-enforces a tightened history bound. Non-positive values are
// ignored, so a partial reload leaves the other bound untouched.
func (a *Agent) SetLimits(historyLimit, stateLimit int) {
	a.history.SetLimit(historyLimit)
	a.state.SetLimit(stateLimit)
}

// Stats returns a snapshot of the agent's counters.
func (a *Agent) Stats() Stats {
	return Stats{
		Requests:      atomic.LoadInt64(&a.requests),
		Failures:      atomic.LoadInt64(&a.failures),
		HistoryLength: a.history.Len(),
		StateSize:     a.state.Size(),
		BreakerState:  a.breaker.State(),
	}
}

// Process runs the full pipeline for one request: validate, record the turn,
// build retrieval context, select skills, execute them, and fold the results
// into the working state. Invalid requests fail before any history mutation;
// once a turn is appended it stays appended even if a later stage fails.
func (a *Agent) Process(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	ctx, requestID := core.EnsureRequestID(ctx)
	atomic.AddInt64(&a.requests, 1)

	ctx, span := a.tracer.Start(ctx, "agent.Process", trace.WithAttributes(
		telemetry.RequestAttributes(requestID, req.securityIdentity())...,
	))
	defer span.End()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		err := errors.New(errors.CodeInvalidArgument, "request text is empty", nil)
		a.finishRequest(ctx, span, start, err)
		return nil, err
	}
	if req.Security != nil {
		if err := req.Security.Validate(time.Now(), a.securityLifetime); err != nil {
			a.finishRequest(ctx, span, start, err)
			return nil, err
		}
	}

	var resp *Response
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		r, pipeErr := a.pipeline(ctx, requestID, text, req)
		resp = r
		return pipeErr
	})
	a.finishRequest(ctx, span, start, err)
	if err != nil {
		return nil, err
	}

	resp.Metrics.ElapsedTime = time.Since(start)
	resp.Metrics.Timestamp = time.Now()
	span.SetAttributes(attribute.Int(telemetry.AttrSkillCount, resp.Metrics.SkillsExecuted))
	return resp, nil
}

func (a *Agent) pipeline(ctx context.Context, requestID, text string, req Request) (*Response, error) {
	a.history.Append(ConversationTurn{
		Role:      "user",
		Content:   text,
		Timestamp: time.Now(),
		Context:   req.Metadata,
	})

	var snippets []retrieval.Snippet
	if a.builder != nil {
		snippets = a.builder.BuildContext(ctx, text, 0)
		a.builder.IndexTurn(ctx, "user", text)
	}

	selected := a.selector.Select(ctx, text)
	inputs := map[string]any{"text": text}
	if len(snippets) > 0 {
		inputs["context"] = joinSnippets(snippets)
	}

	results := make([]skills.Result, 0, len(selected))
	var lastErr error
	for _, skill := range selected {
		if a.breaker.State() == resilience.StateOpen {
			a.logger.WarnContext(ctx, "agent.skills.short_circuit",
				slog.String("breaker", a.breaker.Name()),
				slog.Int("remaining", len(selected)-len(results)),
			)
			break
		}

		var result *skills.Result
		err := a.breaker.Call(ctx, func(ctx context.Context) error {
			var execErr error
			result, execErr = a.executor.Execute(ctx, skill.Name, inputs)
			return execErr
		})
		if err != nil {
			a.metrics.RecordSkill(ctx, skill.Name, false)
			if errors.CodeOf(err) == errors.CodeCircuitOpen {
				a.logger.WarnContext(ctx, "agent.skills.short_circuit",
					slog.String("breaker", a.breaker.Name()),
				)
				break
			}
			// One failing skill must not sink the request.
			a.logger.WarnContext(ctx, "agent.skill.failed",
				slog.String("skill", skill.Name),
				slog.String("error", err.Error()),
			)
			lastErr = err
			continue
		}
		a.metrics.RecordSkill(ctx, skill.Name, true)
		results = append(results, *result)
	}

	// A request that produced nothing because every skill failed transiently
	// is worth another attempt; partial results and non-recoverable failures
	// are returned as-is.
	if len(selected) > 0 && len(results) == 0 && errors.IsRecoverable(lastErr) {
		return nil, lastErr
	}

	if len(results) > 0 {
		updates := make(map[string]any, len(results))
		for _, r := range results {
			updates[r.SkillName] = r.Text
		}
		if cleared := a.state.Merge(updates); cleared {
			a.logger.InfoContext(ctx, "agent.state.cleared",
				slog.Int("size", a.state.Size()),
			)
		}
	}

	return &Response{
		RequestID: requestID,
		Results:   results,
		Snippets:  snippets,
		Metrics:   Metrics{SkillsExecuted: len(results)},
	}, nil
}

func (a *Agent) finishRequest(ctx context.Context, span trace.Span, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		atomic.AddInt64(&a.failures, 1)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(telemetry.AttrErrorCode, string(errors.CodeOf(err))))
	}
	duration := time.Since(start)
	a.metrics.RecordRequest(ctx, status, duration)
	a.sink.Emit(ctx, core.Event{
		Operation: "agent.process",
		Status:    eventStatus(err),
		Duration:  duration,
		ErrorCode: errorCode(err),
		Attempt:   1,
		Timestamp: time.Now(),
	})
}

func (r Request) securityIdentity() string {
	if r.Security == nil {
		return ""
	}
	return r.Security.Identity
}

func eventStatus(err error) core.EventStatus {
	if err != nil {
		return core.StatusError
	}
	return core.StatusOK
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	return string(errors.CodeOf(err))
}

func joinSnippets(snippets []retrieval.Snippet) string {
	var b strings.Builder
	for i, s := range snippets {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s.Role)
		b.WriteString(": ")
		b.WriteString(s.Content)
	}
	return b.String()
}
