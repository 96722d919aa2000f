package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

func newTestStore(t *testing.T, dims int) (*Store, *Memory) {
	t.Helper()

	backend := NewMemory()
	store, err := Open(context.Background(), Config{Dims: dims}, backend)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, backend
}

// unitVec builds a one-hot unit vector; distinct hot indices are orthogonal
func unitVec(dims, hot int) []float32 {
	v := make([]float32, dims)
	v[hot%dims] = 1
	return v
}

func testRecord(id, source string, vec []float32) Record {
	return Record{
		Vector: types.Embedding{OwnerID: id, Dims: len(vec), Values: vec},
		Metadata: map[string]string{
			MetaSourcePath: source,
			MetaKind:       string(types.ChunkBlock),
			MetaStartLine:  "1",
			MetaEndLine:    "5",
			MetaText:       "text for " + id,
			MetaIndexedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339Nano),
		},
	}
}

func testChunk(source, text string, start, end int) types.Chunk {
	c := types.Chunk{
		SourcePath: source,
		StartLine:  start,
		EndLine:    end,
		Text:       text,
		Kind:       types.ChunkFunction,
	}
	c.ComputeID()
	return c
}

func TestOpenValidation(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Config{Dims: 0}, NewMemory())
	assert.Error(t, err)

	_, err = Open(ctx, Config{Dims: 4}, nil)
	assert.Error(t, err)
}

func TestOpenRestoresPersistedRecords(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()

	first, err := Open(ctx, Config{Dims: 4}, backend)
	require.NoError(t, err)
	require.NoError(t, first.Upsert(ctx, testRecord("aaa111", "pkg/a.go", unitVec(4, 0))))
	require.NoError(t, first.Upsert(ctx, testRecord("bbb222", "pkg/b.go", unitVec(4, 1))))
	require.NoError(t, first.Close())

	second, err := Open(ctx, Config{Dims: 4}, backend)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, 2, second.Count())
	assert.Equal(t, []string{"pkg/a.go", "pkg/b.go"}, second.Sources())

	rec, ok := second.Get("aaa111")
	require.True(t, ok)
	assert.Equal(t, "pkg/a.go", rec.SourcePath())
}

func TestStoreUpsertAndGet(t *testing.T) {
	store, backend := newTestStore(t, 4)
	ctx := context.Background()

	rec := testRecord("abc123", "pkg/a.go", unitVec(4, 0))
	require.NoError(t, store.Upsert(ctx, rec))

	assert.Equal(t, 1, store.Count())
	assert.Equal(t, 1, backend.Len(), "upsert must write through to the backend")

	got, ok := store.Get("abc123")
	require.True(t, ok)
	assert.Equal(t, "pkg/a.go", got.SourcePath())
	assert.Equal(t, rec.Vector.Values, got.Vector.Values)

	// Mutating the returned copy must not touch stored state
	got.Metadata[MetaKind] = "mutated"
	got.Vector.Values[0] = -1

	again, ok := store.Get("abc123")
	require.True(t, ok)
	assert.Equal(t, string(types.ChunkBlock), again.Metadata[MetaKind])
	assert.Equal(t, float32(1), again.Vector.Values[0])
}

func TestStoreUpsertReplacesByID(t *testing.T) {
	store, backend := newTestStore(t, 4)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, testRecord("abc123", "pkg/a.go", unitVec(4, 0))))
	require.NoError(t, store.Upsert(ctx, testRecord("abc123", "pkg/b.go", unitVec(4, 1))))

	assert.Equal(t, 1, store.Count())
	assert.Equal(t, 1, backend.Len())

	got, ok := store.Get("abc123")
	require.True(t, ok)
	assert.Equal(t, "pkg/b.go", got.SourcePath())
	assert.Equal(t, unitVec(4, 1), got.Vector.Values)

	// The source index follows the replacement
	assert.Empty(t, store.IDsBySource("pkg/a.go"))
	assert.Equal(t, []string{"abc123"}, store.IDsBySource("pkg/b.go"))
}

func TestStoreUpsertValidates(t *testing.T) {
	store, backend := newTestStore(t, 4)
	ctx := context.Background()

	err := store.Upsert(ctx, testRecord("abc123", "pkg/a.go", unitVec(8, 0)))
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)

	err = store.Upsert(ctx, testRecord("", "pkg/a.go", unitVec(4, 0)))
	assert.Error(t, err)

	assert.Equal(t, 0, store.Count())
	assert.Equal(t, 0, backend.Len(), "invalid records must never reach the backend")
}

func TestStoreDelete(t *testing.T) {
	store, backend := newTestStore(t, 4)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, testRecord("aaa111", "pkg/a.go", unitVec(4, 0))))
	require.NoError(t, store.Upsert(ctx, testRecord("bbb222", "pkg/a.go", unitVec(4, 1))))

	require.NoError(t, store.Delete(ctx, "aaa111"))
	assert.Equal(t, 1, store.Count())
	assert.Equal(t, 1, backend.Len())

	_, ok := store.Get("aaa111")
	assert.False(t, ok)

	// Absent and empty IDs are no-ops
	assert.NoError(t, store.Delete(ctx, "aaa111"))
	assert.NoError(t, store.Delete(ctx, "never-existed"))
	assert.NoError(t, store.Delete(ctx, ""))
	assert.Equal(t, 1, store.Count())

	assert.Equal(t, []string{"bbb222"}, store.IDsBySource("pkg/a.go"))
}

func TestStoreDeletedNeverReturned(t *testing.T) {
	store, _ := newTestStore(t, 8)
	ctx := context.Background()

	ids := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("chunk%02d", i)
		ids = append(ids, id)
		require.NoError(t, store.Upsert(ctx, testRecord(id, "pkg/a.go", unitVec(8, i))))
	}

	deleted := map[string]bool{ids[1]: true, ids[4]: true, ids[6]: true}
	for id := range deleted {
		require.NoError(t, store.Delete(ctx, id))
	}

	// Query for far more than remain; no deleted ID may surface
	hits, err := store.Query(ctx, unitVec(8, 1), 100, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 5)
	for _, hit := range hits {
		assert.False(t, deleted[hit.ID], "deleted id %s surfaced in query results", hit.ID)
	}
}

func TestStoreQueryRanking(t *testing.T) {
	store, _ := newTestStore(t, 2)
	ctx := context.Background()

	// Dot products against the query (1, 0): exact, partial, orthogonal
	require.NoError(t, store.Upsert(ctx, testRecord("exact", "pkg/a.go", []float32{1, 0})))
	require.NoError(t, store.Upsert(ctx, testRecord("partial", "pkg/a.go", []float32{0.6, 0.8})))
	require.NoError(t, store.Upsert(ctx, testRecord("orthogonal", "pkg/a.go", []float32{0, 1})))

	hits, err := store.Query(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "exact", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "partial", hits[1].ID)
	assert.InDelta(t, 0.6, hits[1].Score, 1e-6)
	assert.Equal(t, "orthogonal", hits[2].ID)
	assert.InDelta(t, 0.0, hits[2].Score, 1e-6)

	// k truncates after ranking
	top2, err := store.Query(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, top2, 2)
	assert.Equal(t, "exact", top2[0].ID)
	assert.Equal(t, "partial", top2[1].ID)
}

func TestStoreQueryNeverExceedsKOrSize(t *testing.T) {
	store, _ := newTestStore(t, 4)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("chunk%02d", i)
		require.NoError(t, store.Upsert(ctx, testRecord(id, "pkg/a.go", unitVec(4, i))))
	}

	tests := []struct {
		name string
		k    int
		want int
	}{
		{name: "k below store size", k: 2, want: 2},
		{name: "k equals store size", k: 3, want: 3},
		{name: "k above store size", k: 50, want: 3},
		{name: "k zero", k: 0, want: 0},
		{name: "k negative", k: -1, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := store.Query(ctx, unitVec(4, 0), tt.k, nil)
			require.NoError(t, err)
			assert.Len(t, hits, tt.want)
		})
	}
}

func TestStoreQueryTieBreaksByID(t *testing.T) {
	store, _ := newTestStore(t, 4)
	ctx := context.Background()

	// Identical vectors produce identical scores; rank must fall back to ID
	vec := unitVec(4, 2)
	require.NoError(t, store.Upsert(ctx, testRecord("ccc", "pkg/a.go", vec)))
	require.NoError(t, store.Upsert(ctx, testRecord("aaa", "pkg/a.go", vec)))
	require.NoError(t, store.Upsert(ctx, testRecord("bbb", "pkg/a.go", vec)))

	for i := 0; i < 5; i++ {
		hits, err := store.Query(ctx, vec, 3, nil)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, "aaa", hits[0].ID)
		assert.Equal(t, "bbb", hits[1].ID)
		assert.Equal(t, "ccc", hits[2].ID)
	}
}

func TestStoreQueryEmptyStore(t *testing.T) {
	store, _ := newTestStore(t, 4)

	hits, err := store.Query(context.Background(), unitVec(4, 0), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStoreQueryDimensionMismatch(t *testing.T) {
	store, _ := newTestStore(t, 4)

	_, err := store.Query(context.Background(), unitVec(8, 0), 5, nil)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestStoreQueryRoundTrip(t *testing.T) {
	store, _ := newTestStore(t, 16)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("chunk%02d", i)
		require.NoError(t, store.Upsert(ctx, testRecord(id, "pkg/a.go", unitVec(16, i))))
	}

	// Querying with a stored vector must return its owner first at similarity 1
	hits, err := store.Query(ctx, unitVec(16, 7), 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "chunk07", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestStoreQueryFilter(t *testing.T) {
	store, _ := newTestStore(t, 4)
	ctx := context.Background()

	recA := testRecord("aaa", "pkg/a.go", unitVec(4, 0))
	recB := testRecord("bbb", "pkg/b.go", unitVec(4, 0))
	recC := testRecord("ccc", "pkg/b.go", unitVec(4, 0))
	recC.Metadata[MetaKind] = string(types.ChunkFunction)
	require.NoError(t, store.Upsert(ctx, recA))
	require.NoError(t, store.Upsert(ctx, recB))
	require.NoError(t, store.Upsert(ctx, recC))

	tests := []struct {
		name   string
		filter *Filter
		want   []string
	}{
		{name: "nil filter matches all", filter: nil, want: []string{"aaa", "bbb", "ccc"}},
		{name: "by source", filter: &Filter{SourcePath: "pkg/b.go"}, want: []string{"bbb", "ccc"}},
		{name: "by kind", filter: &Filter{Kinds: []string{string(types.ChunkFunction)}}, want: []string{"ccc"}},
		{
			name:   "source and kind",
			filter: &Filter{SourcePath: "pkg/b.go", Kinds: []string{string(types.ChunkBlock)}},
			want:   []string{"bbb"},
		},
		{name: "no match", filter: &Filter{SourcePath: "pkg/z.go"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := store.Query(ctx, unitVec(4, 0), 10, tt.filter)
			require.NoError(t, err)

			got := make([]string, 0, len(hits))
			for _, hit := range hits {
				got = append(got, hit.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReplaceSourceIdempotent(t *testing.T) {
	store, backend := newTestStore(t, 4)
	ctx := context.Background()

	chunks := []types.Chunk{
		testChunk("pkg/a.go", "func Alpha() {}", 1, 3),
		testChunk("pkg/a.go", "func Beta() {}", 5, 7),
		testChunk("pkg/a.go", "func Gamma() {}", 9, 11),
	}

	firstIndexed := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	recs := make([]Record, len(chunks))
	for i, c := range chunks {
		vec := types.Embedding{Dims: 4, Values: unitVec(4, i)}
		recs[i] = RecordFromChunk(c, vec, firstIndexed)
	}

	added, removed, err := store.ReplaceSource(ctx, "pkg/a.go", recs)
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	assert.Equal(t, 0, removed)

	before := make(map[string]Record)
	for _, id := range store.IDsBySource("pkg/a.go") {
		rec, ok := store.Get(id)
		require.True(t, ok)
		before[id] = rec
	}

	// Re-index the identical content later; nothing may change
	recsAgain := make([]Record, len(chunks))
	for i, c := range chunks {
		vec := types.Embedding{Dims: 4, Values: unitVec(4, i)}
		recsAgain[i] = RecordFromChunk(c, vec, firstIndexed.Add(48*time.Hour))
	}

	added, removed, err = store.ReplaceSource(ctx, "pkg/a.go", recsAgain)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 3, store.Count())
	assert.Equal(t, 3, backend.Len())

	for id, prev := range before {
		got, ok := store.Get(id)
		require.True(t, ok, "record %s disappeared on re-index", id)
		assert.Equal(t, prev.Vector.Values, got.Vector.Values)
		assert.Equal(t, prev.Metadata, got.Metadata, "metadata of %s changed on re-index", id)
	}
}

func TestReplaceSourceRemovesStale(t *testing.T) {
	store, backend := newTestStore(t, 4)
	ctx := context.Background()

	kept := testChunk("pkg/a.go", "func Kept() {}", 1, 3)
	changed := testChunk("pkg/a.go", "func Changed() { old }", 5, 7)
	dropped := testChunk("pkg/a.go", "func Dropped() {}", 9, 11)

	indexedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	initial := []Record{
		RecordFromChunk(kept, types.Embedding{Dims: 4, Values: unitVec(4, 0)}, indexedAt),
		RecordFromChunk(changed, types.Embedding{Dims: 4, Values: unitVec(4, 1)}, indexedAt),
		RecordFromChunk(dropped, types.Embedding{Dims: 4, Values: unitVec(4, 2)}, indexedAt),
	}
	_, _, err := store.ReplaceSource(ctx, "pkg/a.go", initial)
	require.NoError(t, err)

	// The edited chunk gets a new content-addressed ID; the dropped one is gone
	edited := testChunk("pkg/a.go", "func Changed() { new }", 5, 7)
	require.NotEqual(t, changed.ID, edited.ID)

	next := []Record{
		RecordFromChunk(kept, types.Embedding{Dims: 4, Values: unitVec(4, 0)}, indexedAt.Add(time.Hour)),
		RecordFromChunk(edited, types.Embedding{Dims: 4, Values: unitVec(4, 3)}, indexedAt.Add(time.Hour)),
	}

	added, removed, err := store.ReplaceSource(ctx, "pkg/a.go", next)
	require.NoError(t, err)
	assert.Equal(t, 1, added, "only the edited chunk is new")
	assert.Equal(t, 2, removed, "the old edit and the dropped chunk are stale")

	assert.Equal(t, 2, store.Count())
	assert.Equal(t, 2, backend.Len())

	_, ok := store.Get(changed.ID)
	assert.False(t, ok)
	_, ok = store.Get(dropped.ID)
	assert.False(t, ok)
	_, ok = store.Get(kept.ID)
	assert.True(t, ok)
	_, ok = store.Get(edited.ID)
	assert.True(t, ok)
}

func TestReplaceSourceValidates(t *testing.T) {
	store, _ := newTestStore(t, 4)
	ctx := context.Background()

	_, _, err := store.ReplaceSource(ctx, "", nil)
	assert.Error(t, err)

	// A record claiming a different source is a caller bug
	stray := testRecord("aaa", "pkg/other.go", unitVec(4, 0))
	_, _, err = store.ReplaceSource(ctx, "pkg/a.go", []Record{stray})
	assert.Error(t, err)
	assert.Equal(t, 0, store.Count())
}

func TestDeleteBySource(t *testing.T) {
	store, _ := newTestStore(t, 4)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, testRecord("aaa", "pkg/a.go", unitVec(4, 0))))
	require.NoError(t, store.Upsert(ctx, testRecord("bbb", "pkg/a.go", unitVec(4, 1))))
	require.NoError(t, store.Upsert(ctx, testRecord("ccc", "pkg/b.go", unitVec(4, 2))))

	removed, err := store.DeleteBySource(ctx, "pkg/a.go")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.Count())
	assert.Equal(t, []string{"pkg/b.go"}, store.Sources())

	removed, err = store.DeleteBySource(ctx, "pkg/never-indexed.go")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

// scriptedBackend wraps Memory with injectable write failures
type scriptedBackend struct {
	*Memory
	putErr error
	delErr error
}

func (b *scriptedBackend) Put(ctx context.Context, rec Record) error {
	if b.putErr != nil {
		return b.putErr
	}
	return b.Memory.Put(ctx, rec)
}

func (b *scriptedBackend) Delete(ctx context.Context, id string) error {
	if b.delErr != nil {
		return b.delErr
	}
	return b.Memory.Delete(ctx, id)
}

func TestStoreFailedPutStaysInvisible(t *testing.T) {
	backend := &scriptedBackend{Memory: NewMemory()}
	store, err := Open(context.Background(), Config{Dims: 4}, backend)
	require.NoError(t, err)
	ctx := context.Background()

	backend.putErr = errors.New("disk full")
	err = store.Upsert(ctx, testRecord("aaa", "pkg/a.go", unitVec(4, 0)))
	require.Error(t, err)

	// The record never became queryable and the store is not corrupted
	assert.Equal(t, 0, store.Count())
	assert.False(t, store.Corrupted())

	// A plain write failure is transient; later writes work again
	backend.putErr = nil
	require.NoError(t, store.Upsert(ctx, testRecord("aaa", "pkg/a.go", unitVec(4, 0))))
	assert.Equal(t, 1, store.Count())
}

func TestStoreCorruptionHaltsWrites(t *testing.T) {
	backend := &scriptedBackend{Memory: NewMemory()}
	store, err := Open(context.Background(), Config{Dims: 4}, backend)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, testRecord("aaa", "pkg/a.go", unitVec(4, 0))))
	require.NoError(t, store.Upsert(ctx, testRecord("bbb", "pkg/a.go", unitVec(4, 1))))

	backend.putErr = fmt.Errorf("%w: page checksum failed", types.ErrStoreCorruption)
	err = store.Upsert(ctx, testRecord("ccc", "pkg/a.go", unitVec(4, 2)))
	require.ErrorIs(t, err, types.ErrStoreCorruption)
	assert.True(t, store.Corrupted())

	// Every write path is now rejected, even though the backend would accept
	backend.putErr = nil
	err = store.Upsert(ctx, testRecord("ddd", "pkg/a.go", unitVec(4, 3)))
	assert.ErrorIs(t, err, types.ErrStoreCorruption)

	err = store.Delete(ctx, "aaa")
	assert.ErrorIs(t, err, types.ErrStoreCorruption)

	_, _, err = store.ReplaceSource(ctx, "pkg/a.go", nil)
	assert.ErrorIs(t, err, types.ErrStoreCorruption)

	_, err = store.DeleteBySource(ctx, "pkg/a.go")
	assert.ErrorIs(t, err, types.ErrStoreCorruption)

	// Reads keep serving the last good state
	hits, err := store.Query(ctx, unitVec(4, 0), 10, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	_, ok := store.Get("aaa")
	assert.True(t, ok)
	assert.True(t, store.Stats().Corrupted)
}

// staticLoadBackend serves a fixed Load result for Open tests
type staticLoadBackend struct {
	*Memory
	records []Record
	loadErr error
}

func (b *staticLoadBackend) Load(_ context.Context) ([]Record, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return b.records, nil
}

func TestOpenRejectsCorruptState(t *testing.T) {
	ctx := context.Background()

	t.Run("load error propagates", func(t *testing.T) {
		backend := &staticLoadBackend{
			Memory:  NewMemory(),
			loadErr: fmt.Errorf("%w: unreadable header", types.ErrStoreCorruption),
		}
		_, err := Open(ctx, Config{Dims: 4}, backend)
		assert.ErrorIs(t, err, types.ErrStoreCorruption)
	})

	t.Run("malformed record rejected", func(t *testing.T) {
		backend := &staticLoadBackend{
			Memory:  NewMemory(),
			records: []Record{testRecord("aaa", "pkg/a.go", unitVec(8, 0))},
		}
		_, err := Open(ctx, Config{Dims: 4}, backend)
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrStoreCorruption)
		assert.ErrorIs(t, err, types.ErrDimensionMismatch)
	})
}

func TestStoreStats(t *testing.T) {
	store, _ := newTestStore(t, 4)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, testRecord("aaa", "pkg/a.go", unitVec(4, 0))))
	require.NoError(t, store.Upsert(ctx, testRecord("bbb", "pkg/b.go", unitVec(4, 1))))

	stats := store.Stats()
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, 2, stats.Sources)
	assert.Equal(t, 4, stats.Dims)
	assert.False(t, stats.Corrupted)
}

func TestStoreConcurrentReadersAndWriters(t *testing.T) {
	store, _ := newTestStore(t, 8)
	ctx := context.Background()

	const writers = 4
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := fmt.Sprintf("w%d-rec%02d", w, i)
				rec := testRecord(id, fmt.Sprintf("pkg/w%d.go", w), unitVec(8, i))
				if err := store.Upsert(ctx, rec); err != nil {
					t.Errorf("upsert %s: %v", id, err)
					return
				}
			}
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := store.Query(ctx, unitVec(8, i), 5, nil); err != nil {
				t.Errorf("query during writes: %v", err)
				return
			}
		}
	}()

	wg.Wait()
	assert.Equal(t, writers*perWriter, store.Count())
}
