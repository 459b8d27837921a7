package skills

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/metislabs/metis/pkg/errors"
	"github.com/metislabs/metis/pkg/llm"
	"github.com/metislabs/metis/pkg/resilience"
)

// Completer is the slice of the language model client the executor needs.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error)
}

// Result is the outcome of one skill execution.
type Result struct {
	SkillName string            `json:"skill_name"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Usage     llm.Usage         `json:"usage"`
}

// Executor validates inputs, renders the prompt template, and dispatches
// execution to the language model, keeping per-skill bookkeeping current.
type Executor struct {
	registry *Registry
	llm      Completer
	timeout  time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewExecutor creates an executor over the registry.
func NewExecutor(registry *Registry, completer Completer, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		llm:      completer,
		timeout:  DefaultExecutionTimeout,
		logger:   logger,
		tracer:   otel.Tracer("metis/skills"),
	}
}

// WithTimeout overrides the per-execution timeout.
func (e *Executor) WithTimeout(d time.Duration) *Executor {
	e.timeout = d
	return e
}

// Execute runs the named skill with the given inputs. Validation failures and
// execution failures are both folded into the skill's stats before the error
// propagates to the caller.
func (e *Executor) Execute(ctx context.Context, name string, inputs map[string]any) (*Result, error) {
	skill, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "skills.Execute", trace.WithAttributes(
		attribute.String("skill.name", skill.Name),
		attribute.String("skill.category", string(skill.Category)),
	))
	defer span.End()

	if err := skill.ValidateInputs(inputs); err != nil {
		skill.recordFailure(failValidation)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	prompt := skill.RenderBase(inputs)
	start := time.Now()

	var completion *llm.CompletionResult
	err = resilience.WithTimeout(ctx, e.timeout, func(ctx context.Context) error {
		var callErr error
		completion, callErr = e.llm.Complete(ctx, llm.CompletionRequest{Prompt: prompt})
		return callErr
	})
	duration := time.Since(start)

	if err != nil {
		if errors.CodeOf(err) == errors.CodeTimeout {
			skill.recordFailure(failTimeout)
		} else {
			skill.recordFailure(failExecution)
		}
		span.SetStatus(codes.Error, err.Error())
		e.logger.ErrorContext(ctx, "skill.execute.failed",
			slog.String("skill", skill.Name),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	skill.recordSuccess(duration)
	span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))

	return &Result{
		SkillName: skill.Name,
		Text:      completion.Text,
		Metadata:  skill.Metadata,
		Duration:  duration,
		Usage:     completion.Usage,
	}, nil
}
