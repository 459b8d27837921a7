package vector

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	merrors "github.com/metislabs/metis/pkg/errors"
	"github.com/metislabs/metis/pkg/resilience"
)

// recordingStore captures calls and can fail specific upsert batches.
type recordingStore struct {
	mu          sync.Mutex
	batchSizes  []int
	failBatch   int // 1-based index of the batch to fail; 0 disables
	queries     int
	deleted     []string
	queryResult []Result
	queryErr    error
}

func (r *recordingStore) Upsert(_ context.Context, points []Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batchSizes = append(r.batchSizes, len(points))
	if r.failBatch > 0 && len(r.batchSizes) == r.failBatch {
		return merrors.New(merrors.CodeTransient, "upsert failed", nil).WithRecoverable(false)
	}
	return nil
}

func (r *recordingStore) Query(_ context.Context, _ []float32, _ int, _ map[string]string) ([]Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries++
	return r.queryResult, r.queryErr
}

func (r *recordingStore) Delete(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, ids...)
	return nil
}

func (r *recordingStore) DescribeStats(context.Context) (*Stats, error) {
	return &Stats{Status: "healthy"}, nil
}

func fastRetry() *resilience.RetryConfig {
	rc := resilience.RetryConfig{
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		MinDelay:    time.Millisecond,
		MaxDelay:    time.Millisecond,
		Multiplier:  2.0,
	}
	return &rc
}

func newTestAdapter(store Store, dimension int) *Adapter {
	return NewAdapter(store, AdapterConfig{
		Dimension: dimension,
		Retry:     fastRetry(),
	}, nil)
}

func makePoints(n, dim int) []Point {
	points := make([]Point, n)
	for i := range points {
		points[i] = Point{
			ID:     fmt.Sprintf("point-%03d", i),
			Vector: make([]float32, dim),
		}
	}
	return points
}

func TestUpsertChunking(t *testing.T) {
	store := &recordingStore{}
	adapter := newTestAdapter(store, 4)

	if err := adapter.Upsert(context.Background(), makePoints(250, 4)); err != nil {
		t.Fatal(err)
	}

	want := []int{100, 100, 50}
	if !reflect.DeepEqual(store.batchSizes, want) {
		t.Errorf("expected batches %v, got %v", want, store.batchSizes)
	}
}

func TestUpsertStopsAtFailedBatch(t *testing.T) {
	store := &recordingStore{failBatch: 2}
	adapter := newTestAdapter(store, 4)

	err := adapter.Upsert(context.Background(), makePoints(250, 4))
	if err == nil {
		t.Fatalf("expected failure")
	}
	if len(store.batchSizes) != 2 {
		t.Errorf("third batch must never be sent, got %d calls", len(store.batchSizes))
	}
	if me := merrors.AsError(err); me.Context["batch_index"] != 1 {
		t.Errorf("error should carry the failed batch index, got %v", me.Context)
	}
}

func TestUpsertDimensionCheckedBeforeStore(t *testing.T) {
	store := &recordingStore{}
	adapter := newTestAdapter(store, 4)

	points := makePoints(3, 4)
	points[2].Vector = make([]float32, 5)

	err := adapter.Upsert(context.Background(), points)
	if merrors.CodeOf(err) != merrors.CodeDimensionMismatch {
		t.Fatalf("expected DIMENSION_MISMATCH, got %v", err)
	}
	if len(store.batchSizes) != 0 {
		t.Errorf("dimension check must precede any store call")
	}
}

func TestUpsertEmpty(t *testing.T) {
	adapter := newTestAdapter(&recordingStore{}, 4)
	if err := adapter.Upsert(context.Background(), nil); merrors.CodeOf(err) != merrors.CodeInvalidArgument {
		t.Errorf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestQueryValidation(t *testing.T) {
	store := &recordingStore{}
	adapter := newTestAdapter(store, 4)

	_, err := adapter.Query(context.Background(), make([]float32, 5), 3, nil)
	if merrors.CodeOf(err) != merrors.CodeDimensionMismatch {
		t.Errorf("expected DIMENSION_MISMATCH, got %v", err)
	}

	_, err = adapter.Query(context.Background(), make([]float32, 4), 0, nil)
	if merrors.CodeOf(err) != merrors.CodeInvalidArgument {
		t.Errorf("expected INVALID_ARGUMENT for topK < 1, got %v", err)
	}

	if store.queries != 0 {
		t.Errorf("validation failures must not reach the store")
	}
}

func TestDeleteEmpty(t *testing.T) {
	adapter := newTestAdapter(&recordingStore{}, 4)
	if err := adapter.Delete(context.Background(), nil); merrors.CodeOf(err) != merrors.CodeInvalidArgument {
		t.Errorf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestInMemoryQueryOrdering(t *testing.T) {
	store := NewInMemory(2)
	ctx := context.Background()

	err := store.Upsert(ctx, []Point{
		{ID: "b", Vector: []float32{1, 0}},
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "c", Vector: []float32{0, 1}},
	})
	if err != nil {
		t.Fatal(err)
	}

	first, err := store.Query(ctx, []float32{1, 0}, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	ids := func(rs []Result) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.ID
		}
		return out
	}
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(ids(first), want) {
		t.Errorf("expected ties broken by id ascending: want %v, got %v", want, ids(first))
	}

	// Stable across repeated calls against an unchanged index.
	for i := 0; i < 5; i++ {
		again, err := store.Query(ctx, []float32{1, 0}, 3, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(ids(again), want) {
			t.Fatalf("ordering changed on repeat query: %v", ids(again))
		}
	}
}

func TestInMemoryFilter(t *testing.T) {
	store := NewInMemory(2)
	ctx := context.Background()

	store.Upsert(ctx, []Point{
		{ID: "u1", Vector: []float32{1, 0}, Metadata: map[string]string{"role": "user"}},
		{ID: "a1", Vector: []float32{1, 0}, Metadata: map[string]string{"role": "assistant"}},
	})

	results, err := store.Query(ctx, []float32{1, 0}, 10, map[string]string{"role": "user"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "u1" {
		t.Errorf("expected only the filtered point, got %v", results)
	}
}

func TestInMemoryDeleteAndStats(t *testing.T) {
	store := NewInMemory(2)
	ctx := context.Background()

	store.Upsert(ctx, makePoints(3, 2))
	if err := store.Delete(ctx, []string{"point-000", "point-001"}); err != nil {
		t.Fatal(err)
	}

	stats, err := store.DescribeStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.VectorCount != 1 {
		t.Errorf("expected 1 vector after delete, got %d", stats.VectorCount)
	}
	if stats.Dimension != 2 {
		t.Errorf("expected dimension 2, got %d", stats.Dimension)
	}
}

func TestInMemoryUpsertOverwrites(t *testing.T) {
	store := NewInMemory(2)
	ctx := context.Background()

	store.Upsert(ctx, []Point{{ID: "x", Vector: []float32{1, 0}, Metadata: map[string]string{"v": "1"}}})
	store.Upsert(ctx, []Point{{ID: "x", Vector: []float32{0, 1}, Metadata: map[string]string{"v": "2"}}})

	results, err := store.Query(ctx, []float32{0, 1}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Metadata["v"] != "2" {
		t.Errorf("upsert must overwrite by id, got %v", results)
	}
}

func TestInMemoryDimensionMismatch(t *testing.T) {
	store := NewInMemory(2)
	err := store.Upsert(context.Background(), []Point{{ID: "x", Vector: []float32{1, 0, 0}}})
	if merrors.CodeOf(err) != merrors.CodeDimensionMismatch {
		t.Errorf("expected DIMENSION_MISMATCH, got %v", err)
	}
}
