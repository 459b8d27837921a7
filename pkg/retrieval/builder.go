// Package retrieval assembles similarity-based conversation context: it
// embeds a query, searches the vector index, and projects matches into
// role/content snippets. Retrieval is best-effort and never blocks the
// primary response path.
package retrieval

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/metislabs/metis/pkg/vector"
)

// DefaultTopK is the number of neighbors fetched when the caller passes 0.
const DefaultTopK = 5

// Embedder converts text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the slice of the vector store the builder needs.
type Index interface {
	Upsert(ctx context.Context, points []vector.Point) error
	Query(ctx context.Context, vec []float32, topK int, filter map[string]string) ([]vector.Result, error)
}

// Snippet is one piece of retrieved conversation context.
type Snippet struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Builder turns free text into structured retrieval context.
type Builder struct {
	embedder Embedder
	index    Index
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewBuilder creates a Builder.
func NewBuilder(embedder Embedder, index Index, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		embedder: embedder,
		index:    index,
		logger:   logger,
		tracer:   otel.Tracer("metis/retrieval"),
	}
}

// BuildContext returns the topK most similar indexed snippets for queryText.
// On any failure it degrades to an empty slice: a missing context must never
// fail the request that asked for it.
func (b *Builder) BuildContext(ctx context.Context, queryText string, topK int) []Snippet {
	if topK < 1 {
		topK = DefaultTopK
	}

	ctx, span := b.tracer.Start(ctx, "retrieval.BuildContext", trace.WithAttributes(
		attribute.Int("top_k", topK),
	))
	defer span.End()

	vec, err := b.embedder.Embed(ctx, queryText)
	if err != nil {
		b.logger.WarnContext(ctx, "retrieval.embed.failed", slog.String("error", err.Error()))
		return []Snippet{}
	}

	results, err := b.index.Query(ctx, vec, topK, nil)
	if err != nil {
		b.logger.WarnContext(ctx, "retrieval.query.failed", slog.String("error", err.Error()))
		return []Snippet{}
	}

	snippets := make([]Snippet, 0, len(results))
	for _, r := range results {
		snippets = append(snippets, Snippet{
			Role:    r.Metadata["role"],
			Content: r.Metadata["content"],
		})
	}
	span.SetAttributes(attribute.Int("snippet_count", len(snippets)))
	return snippets
}

// IndexTurn embeds a conversation turn and stores it so later requests can
// retrieve it by similarity. Best-effort: failures are logged and swallowed.
func (b *Builder) IndexTurn(ctx context.Context, role, content string) {
	vec, err := b.embedder.Embed(ctx, content)
	if err != nil {
		b.logger.WarnContext(ctx, "retrieval.index.embed.failed", slog.String("error", err.Error()))
		return
	}

	point := vector.Point{
		ID:     uuid.NewString(),
		Vector: vec,
		Metadata: map[string]string{
			"role":       role,
			"content":    content,
			"indexed_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := b.index.Upsert(ctx, []vector.Point{point}); err != nil {
		b.logger.WarnContext(ctx, "retrieval.index.upsert.failed", slog.String("error", err.Error()))
	}
}
