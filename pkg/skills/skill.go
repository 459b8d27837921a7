// Package skills holds the skill model, the registry that owns registered
// skills, and the executor that validates inputs, renders prompts, and
// dispatches execution to the language model.
package skills

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/metislabs/metis/pkg/errors"
)

// Category classifies a skill.
type Category string

const (
	CategoryTextProcessing Category = "TEXT_PROCESSING"
	CategoryDecisionMaking Category = "DECISION_MAKING"
	CategoryDataAnalysis   Category = "DATA_ANALYSIS"
	CategoryKnowledgeBase  Category = "KNOWLEDGE_BASE"
)

// Categories lists the known skill categories.
var Categories = []Category{
	CategoryTextProcessing,
	CategoryDecisionMaking,
	CategoryDataAnalysis,
	CategoryKnowledgeBase,
}

// ParseCategory validates a category string.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", errors.New(errors.CodeInvalidArgument, "unknown skill category", nil).
		WithContext("category", s)
}

const (
	// BaseTemplate is the template rendered on execution.
	BaseTemplate = "base"

	// DefaultMaxInputSize bounds the serialized size of execution inputs.
	DefaultMaxInputSize = 10000

	// DefaultExecutionTimeout bounds a single skill execution.
	DefaultExecutionTimeout = 30 * time.Second
)

// Schema declares expected input/output keys and their kinds. Supported
// kinds: string, number, bool, list, map.
type Schema map[string]string

// Skill is a named, independently validated unit of work backed by a prompt
// template. The runtime fields (stats) are mutated only by the skill's own
// execution path.
type Skill struct {
	Name            string            `json:"name" yaml:"name"`
	Description     string            `json:"description" yaml:"description"`
	Category        Category          `json:"category" yaml:"category"`
	PromptTemplates map[string]string `json:"prompt_templates" yaml:"prompt_templates"`
	InputSchema     Schema            `json:"input_schema,omitempty" yaml:"input_schema"`
	OutputSchema    Schema            `json:"output_schema,omitempty" yaml:"output_schema"`
	Metadata        map[string]string `json:"metadata,omitempty" yaml:"metadata"`

	// MaxInputSize overrides DefaultMaxInputSize when positive.
	MaxInputSize int `json:"max_input_size,omitempty" yaml:"max_input_size"`

	mu    sync.Mutex
	stats Stats
}

// Stats tracks a skill's runtime performance and error counters.
type Stats struct {
	Executions     int64         `json:"executions"`
	AvgLatency     time.Duration `json:"avg_latency"`
	SuccessRate    float64       `json:"success_rate"`
	LastExecution  time.Time     `json:"last_execution"`
	ValidationErrs int64         `json:"validation_errors"`
	ExecutionErrs  int64         `json:"execution_errors"`
	TimeoutErrs    int64         `json:"timeout_errors"`
}

// Validate checks a skill definition for registration.
func Validate(s *Skill) error {
	if s == nil {
		return errors.New(errors.CodeInvalidArgument, "skill is nil", nil)
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New(errors.CodeInvalidArgument, "skill name is required", nil)
	}
	if strings.TrimSpace(s.Description) == "" {
		return errors.New(errors.CodeInvalidArgument, "skill description is required", nil).
			WithContext("skill", s.Name)
	}
	if _, err := ParseCategory(string(s.Category)); err != nil {
		return errors.New(errors.CodeInvalidArgument, "invalid skill category", nil).
			WithContext("skill", s.Name).
			WithContext("category", string(s.Category))
	}
	if len(s.PromptTemplates) == 0 {
		return errors.New(errors.CodeInvalidArgument, "prompt templates are required", nil).
			WithContext("skill", s.Name)
	}
	if _, ok := s.PromptTemplates[BaseTemplate]; !ok {
		return errors.New(errors.CodeInvalidArgument, "base prompt template is required", nil).
			WithContext("skill", s.Name)
	}
	for key, kind := range s.InputSchema {
		if !validKind(kind) {
			return errors.New(errors.CodeInvalidArgument, "unknown input schema kind", nil).
				WithContext("skill", s.Name).
				WithContext("key", key).
				WithContext("kind", kind)
		}
	}
	for key, kind := range s.OutputSchema {
		if !validKind(kind) {
			return errors.New(errors.CodeInvalidArgument, "unknown output schema kind", nil).
				WithContext("skill", s.Name).
				WithContext("key", key).
				WithContext("kind", kind)
		}
	}
	return nil
}

func validKind(kind string) bool {
	switch kind {
	case "string", "number", "bool", "list", "map":
		return true
	}
	return false
}

// ValidateInputs checks execution inputs against the skill's size limit and
// input schema (key presence and kind match).
func (s *Skill) ValidateInputs(inputs map[string]any) error {
	limit := s.MaxInputSize
	if limit <= 0 {
		limit = DefaultMaxInputSize
	}
	serialized, err := json.Marshal(inputs)
	if err != nil {
		return errors.New(errors.CodeInvalidArgument, "inputs are not serializable", err).
			WithContext("skill", s.Name)
	}
	if len(serialized) > limit {
		return errors.New(errors.CodeInvalidArgument, "input size exceeds limit", nil).
			WithContext("skill", s.Name).
			WithContext("size", len(serialized)).
			WithContext("limit", limit)
	}

	for key, kind := range s.InputSchema {
		value, ok := inputs[key]
		if !ok {
			return errors.New(errors.CodeInvalidArgument, "missing required input", nil).
				WithContext("skill", s.Name).
				WithContext("key", key)
		}
		if !kindMatches(kind, value) {
			return errors.New(errors.CodeInvalidArgument, "input type mismatch", nil).
				WithContext("skill", s.Name).
				WithContext("key", key).
				WithContext("want", kind)
		}
	}
	return nil
}

func kindMatches(kind string, value any) bool {
	switch kind {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "bool":
		_, ok := value.(bool)
		return ok
	case "list":
		_, ok := value.([]any)
		return ok
	case "map":
		_, ok := value.(map[string]any)
		return ok
	}
	return false
}

// RenderBase renders the base prompt template, substituting each "{key}"
// placeholder with the input value's string form.
func (s *Skill) RenderBase(inputs map[string]any) string {
	prompt := s.PromptTemplates[BaseTemplate]
	for key, value := range inputs {
		prompt = strings.ReplaceAll(prompt, "{"+key+"}", stringify(value))
	}
	return prompt
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// Snapshot returns a copy of the skill's runtime stats.
func (s *Skill) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats.Executions == 0 && s.stats.SuccessRate == 0 {
		snap := s.stats
		snap.SuccessRate = 100
		return snap
	}
	return s.stats
}

// recordSuccess folds one successful execution into the rolling stats:
// a two-sample moving average for latency.
func (s *Skill) recordSuccess(duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats.SuccessRate == 0 && s.stats.Executions == 0 {
		s.stats.SuccessRate = 100
	}
	if s.stats.Executions == 0 {
		s.stats.AvgLatency = duration
	} else {
		s.stats.AvgLatency = (s.stats.AvgLatency + duration) / 2
	}
	s.stats.Executions++
	s.stats.LastExecution = time.Now()
}

type failureKind int

const (
	failValidation failureKind = iota
	failExecution
	failTimeout
)

// recordFailure decays the success rate and bumps the matching counter.
func (s *Skill) recordFailure(kind failureKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats.SuccessRate == 0 && s.stats.Executions == 0 {
		s.stats.SuccessRate = 100
	}
	s.stats.SuccessRate = s.stats.SuccessRate * 99 / 100
	switch kind {
	case failValidation:
		s.stats.ValidationErrs++
	case failExecution:
		s.stats.ExecutionErrs++
	case failTimeout:
		s.stats.TimeoutErrs++
	}
}
