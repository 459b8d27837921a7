package vector

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/metislabs/metis/pkg/errors"
)

// InMemory is a process-local Store for tests and single-node runs. It ranks
// by cosine similarity, matching the distance the qdrant store is configured
// with.
type InMemory struct {
	dimension int

	mu     sync.RWMutex
	points map[string]Point
}

// NewInMemory creates an empty in-memory store with a fixed dimension.
func NewInMemory(dimension int) *InMemory {
	return &InMemory{
		dimension: dimension,
		points:    make(map[string]Point),
	}
}

// Upsert implements Store.
func (s *InMemory) Upsert(_ context.Context, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		if len(p.Vector) != s.dimension {
			return errors.New(errors.CodeDimensionMismatch, "vector dimension mismatch", nil).
				WithContext("id", p.ID).
				WithContext("got", len(p.Vector)).
				WithContext("want", s.dimension)
		}
		stored := Point{
			ID:       p.ID,
			Vector:   append([]float32(nil), p.Vector...),
			Metadata: copyMetadata(p.Metadata),
		}
		s.points[p.ID] = stored
	}
	return nil
}

// Query implements Store.
func (s *InMemory) Query(_ context.Context, vector []float32, topK int, filter map[string]string) ([]Result, error) {
	if len(vector) != s.dimension {
		return nil, errors.New(errors.CodeDimensionMismatch, "query vector dimension mismatch", nil).
			WithContext("got", len(vector)).
			WithContext("want", s.dimension)
	}
	if topK < 1 {
		return nil, errors.New(errors.CodeInvalidArgument, "topK must be at least 1", nil)
	}

	s.mu.RLock()
	results := make([]Result, 0, len(s.points))
	for _, p := range s.points {
		if !matchesFilter(p.Metadata, filter) {
			continue
		}
		results = append(results, Result{
			ID:       p.ID,
			Score:    cosine(vector, p.Vector),
			Metadata: copyMetadata(p.Metadata),
		})
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Delete implements Store.
func (s *InMemory) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.points, id)
	}
	return nil
}

// DescribeStats implements Store.
func (s *InMemory) DescribeStats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Stats{
		VectorCount: uint64(len(s.points)),
		Dimension:   s.dimension,
		Status:      "healthy",
	}, nil
}

func matchesFilter(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cosine(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
