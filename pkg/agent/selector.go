package agent

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/metislabs/metis/pkg/skills"
)

// DefaultSkillLimit is how many skills run per request.
const DefaultSkillLimit = 3

// Embedder is the slice of the language model client the selector needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Selector ranks registered skills against a request by cosine similarity
// between the request embedding and each skill's description embedding.
// Description embeddings are computed once and cached; when embeddings are
// unavailable the selector falls back to registration order.
type Selector struct {
	embedder Embedder
	registry *skills.Registry
	limit    int
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string][]float32
}

// NewSelector creates a selector over the registry.
func NewSelector(embedder Embedder, registry *skills.Registry, limit int, logger *slog.Logger) *Selector {
	if limit < 1 {
		limit = DefaultSkillLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		embedder: embedder,
		registry: registry,
		limit:    limit,
		logger:   logger,
		cache:    make(map[string][]float32),
	}
}

// Select returns up to the configured number of skills, most similar first.
// Ties keep registration order, so the ranking is deterministic.
func (s *Selector) Select(ctx context.Context, text string) []*skills.Skill {
	registered := s.registry.List()
	if len(registered) == 0 {
		return nil
	}

	if s.embedder == nil {
		return s.prefix(registered)
	}

	query, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.WarnContext(ctx, "selector.embed.failed", slog.String("error", err.Error()))
		return s.prefix(registered)
	}

	type ranked struct {
		skill *skills.Skill
		score float64
		order int
	}
	candidates := make([]ranked, 0, len(registered))
	for i, skill := range registered {
		vec, err := s.descriptionVector(ctx, skill)
		if err != nil {
			s.logger.WarnContext(ctx, "selector.description.embed.failed",
				slog.String("skill", skill.Name),
				slog.String("error", err.Error()),
			)
			return s.prefix(registered)
		}
		candidates = append(candidates, ranked{
			skill: skill,
			score: cosine(query, vec),
			order: i,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	n := s.limit
	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]*skills.Skill, 0, n)
	for _, c := range candidates[:n] {
		out = append(out, c.skill)
	}
	return out
}

// InvalidateCache drops all cached description embeddings.
func (s *Selector) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string][]float32)
}

func (s *Selector) descriptionVector(ctx context.Context, skill *skills.Skill) ([]float32, error) {
	s.mu.Lock()
	if vec, ok := s.cache[skill.Name]; ok {
		s.mu.Unlock()
		return vec, nil
	}
	s.mu.Unlock()

	vec, err := s.embedder.Embed(ctx, skill.Description)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[skill.Name] = vec
	s.mu.Unlock()
	return vec, nil
}

func (s *Selector) prefix(registered []*skills.Skill) []*skills.Skill {
	n := s.limit
	if n > len(registered) {
		n = len(registered)
	}
	return append([]*skills.Skill(nil), registered[:n]...)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
