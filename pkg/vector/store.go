// Package vector defines the vector store provider contract and the
// dimension-enforcing, batch-chunking adapter the engine calls through.
package vector

import "context"

// Point represents a data point in the vector store.
type Point struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result is one similarity match, produced per query and never persisted.
type Result struct {
	ID       string            `json:"id"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Stats describes the state of the index.
type Stats struct {
	VectorCount uint64 `json:"vector_count"`
	Dimension   int    `json:"dimension"`
	Status      string `json:"status"`
}

// Store is the abstract capability contract for a vector database. The
// dimension is fixed at construction and invariant thereafter; callers are
// expected to validate vectors before handing them over.
type Store interface {
	// Upsert adds or updates points.
	Upsert(ctx context.Context, points []Point) error

	// Query returns the topK nearest points by descending score. Ties are
	// broken by id ascending so repeated queries on an unchanged index return
	// a stable ordering. filter restricts matches to points whose metadata
	// contains every given key/value pair; nil means no filtering.
	Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]Result, error)

	// Delete removes points by id.
	Delete(ctx context.Context, ids []string) error

	// DescribeStats reports index statistics.
	DescribeStats(ctx context.Context) (*Stats, error)
}
