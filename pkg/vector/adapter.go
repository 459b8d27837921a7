package vector

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/metislabs/metis/pkg/core"
	"github.com/metislabs/metis/pkg/errors"
	"github.com/metislabs/metis/pkg/resilience"
)

// DefaultBatchSize is the number of points sent per upsert batch.
const DefaultBatchSize = 100

// AdapterConfig configures the store adapter.
type AdapterConfig struct {
	// Dimension is the dimensionality every vector must have.
	Dimension int

	// BatchSize chunks upserts (default 100).
	BatchSize int

	// MaxConcurrent bounds simultaneous in-flight store calls (default 10).
	MaxConcurrent int

	// Retry overrides the default retry policy when non-zero.
	Retry *resilience.RetryConfig
}

// Adapter wraps a Store with dimension enforcement, upsert chunking, and the
// shared resilience policy. Dimension violations fail before any network
// attempt and are never retried.
type Adapter struct {
	store     Store
	dimension int
	batchSize int
	sink      core.Sink
	policies  map[string]*resilience.Policy
	tracer    trace.Tracer
}

// NewAdapter wraps store.
func NewAdapter(store Store, cfg AdapterConfig, sink core.Sink) *Adapter {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultBatchSize
	}
	if sink == nil {
		sink = core.NopSink{}
	}
	limiter := resilience.NewLimiter(cfg.MaxConcurrent)

	policies := make(map[string]*resilience.Policy, 3)
	for _, op := range []string{"vector.upsert", "vector.query", "vector.delete"} {
		p := resilience.NewPolicy(op, sink)
		if cfg.Retry != nil {
			p.Retry = *cfg.Retry
		}
		p.Limiter = limiter
		policies[op] = p
	}

	return &Adapter{
		store:     store,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		sink:      sink,
		policies:  policies,
		tracer:    otel.Tracer("metis/vector"),
	}
}

// Dimension returns the configured vector dimension.
func (a *Adapter) Dimension() int {
	return a.dimension
}

// Upsert validates and stores points in sequential batches. The operation
// fails as soon as one batch fails; later batches are never sent. The error
// and the emitted event carry the index of the failed batch so callers know
// which prefix landed.
func (a *Adapter) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return errors.New(errors.CodeInvalidArgument, "no points to upsert", nil)
	}
	for _, p := range points {
		if len(p.Vector) != a.dimension {
			return errors.New(errors.CodeDimensionMismatch, "vector dimension mismatch", nil).
				WithContext("id", p.ID).
				WithContext("got", len(p.Vector)).
				WithContext("want", a.dimension)
		}
	}

	ctx, span := a.tracer.Start(ctx, "vector.Upsert", trace.WithAttributes(
		attribute.Int("point_count", len(points)),
		attribute.Int("batch_size", a.batchSize),
	))
	defer span.End()

	batches := 0
	for start := 0; start < len(points); start += a.batchSize {
		end := start + a.batchSize
		if end > len(points) {
			end = len(points)
		}
		batch := points[start:end]
		batchIndex := batches
		batches++

		err := a.policies["vector.upsert"].Do(ctx, func(ctx context.Context) error {
			return a.store.Upsert(ctx, batch)
		})
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			a.sink.Emit(ctx, core.Event{
				Operation: "vector.upsert.batch",
				Status:    core.StatusError,
				ErrorCode: string(errors.CodeOf(err)),
				Timestamp: time.Now(),
				Payload: map[string]any{
					"batch_index":      batchIndex,
					"batches_ok":       batchIndex,
					"points_remaining": len(points) - start,
				},
			})
			return errors.AsError(err).
				WithContext("batch_index", batchIndex).
				WithContext("batches_ok", batchIndex)
		}
	}
	span.SetAttributes(attribute.Int("batches", batches))
	return nil
}

// Query returns the topK nearest points by descending score.
func (a *Adapter) Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]Result, error) {
	if len(vector) != a.dimension {
		return nil, errors.New(errors.CodeDimensionMismatch, "query vector dimension mismatch", nil).
			WithContext("got", len(vector)).
			WithContext("want", a.dimension)
	}
	if topK < 1 {
		return nil, errors.New(errors.CodeInvalidArgument, "topK must be at least 1", nil).
			WithContext("top_k", topK)
	}

	ctx, span := a.tracer.Start(ctx, "vector.Query", trace.WithAttributes(
		attribute.Int("top_k", topK),
	))
	defer span.End()

	results, err := resilience.Invoke(ctx, a.policies["vector.query"], func(ctx context.Context) ([]Result, error) {
		return a.store.Query(ctx, vector, topK, filter)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("result_count", len(results)))
	return results, nil
}

// Delete removes points by id.
func (a *Adapter) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return errors.New(errors.CodeInvalidArgument, "no ids to delete", nil)
	}

	ctx, span := a.tracer.Start(ctx, "vector.Delete", trace.WithAttributes(
		attribute.Int("id_count", len(ids)),
	))
	defer span.End()

	err := a.policies["vector.delete"].Do(ctx, func(ctx context.Context) error {
		return a.store.Delete(ctx, ids)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// DescribeStats reports index statistics, bypassing the retry loop: stats are
// advisory and callers poll them.
func (a *Adapter) DescribeStats(ctx context.Context) (*Stats, error) {
	return a.store.DescribeStats(ctx)
}
