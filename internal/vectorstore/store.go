package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

// DefaultShards is the number of lock shards the in-memory index uses
const DefaultShards = 16

// Config holds vector store settings
type Config struct {
	// Dims is the dimensionality every stored vector must have
	Dims int

	// Shards is the number of lock shards; unrelated upserts on different
	// shards never contend.
	Shards int
}

func (c *Config) applyDefaults() {
	if c.Shards <= 0 {
		c.Shards = DefaultShards
	}
}

// Hit is one similarity query result
type Hit struct {
	ID     string
	Score  float64
	Record Record
}

// Filter narrows a similarity query to matching records. A nil filter
// matches everything.
type Filter struct {
	SourcePath string
	Kinds      []string
}

func (f *Filter) matches(rec Record) bool {
	if f == nil {
		return true
	}
	if f.SourcePath != "" && rec.SourcePath() != f.SourcePath {
		return false
	}
	if len(f.Kinds) > 0 {
		kind := rec.Metadata[MetaKind]
		matched := false
		for _, k := range f.Kinds {
			if k == kind {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

type shard struct {
	mu      sync.RWMutex
	records map[string]Record
}

// Store is the in-memory vector index with write-through persistence. Reads
// run concurrently; writes lock only the shard owning the record's ID, so
// unrelated upserts do not serialize. Every write reaches the persistence
// backend before it becomes visible in memory. Once the backend reports
// corruption the store refuses all further writes until an operator
// intervenes; reads keep working on the last good in-memory state.
type Store struct {
	dims    int
	shards  []shard
	backend Backend

	corrupted atomic.Bool

	srcMu    sync.Mutex
	bySource map[string]map[string]struct{}
}

// Open loads all persisted records through the backend and builds the
// in-memory index. A persisted record that fails validation aborts the open:
// serving similarity math over malformed state is worse than not starting.
func Open(ctx context.Context, cfg Config, backend Backend) (*Store, error) {
	if cfg.Dims <= 0 {
		return nil, errors.New("vector store dims must be configured")
	}
	if backend == nil {
		return nil, errors.New("persistence backend is required")
	}
	cfg.applyDefaults()

	s := &Store{
		dims:     cfg.Dims,
		shards:   make([]shard, cfg.Shards),
		backend:  backend,
		bySource: make(map[string]map[string]struct{}),
	}
	for i := range s.shards {
		s.shards[i].records = make(map[string]Record)
	}

	records, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading vector store: %w", err)
	}
	for _, rec := range records {
		if err := rec.Validate(cfg.Dims); err != nil {
			return nil, fmt.Errorf("%w: persisted state rejected: %w", types.ErrStoreCorruption, err)
		}
		s.insert(rec)
	}

	return s, nil
}

// Upsert stores a record, replacing any prior record with the same ID
// atomically. The backend write happens first; a record that cannot be
// persisted never becomes queryable.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	if s.corrupted.Load() {
		return fmt.Errorf("%w: writes are halted", types.ErrStoreCorruption)
	}
	if err := rec.Validate(s.dims); err != nil {
		return err
	}

	stored := rec.clone()
	if err := s.backend.Put(ctx, stored); err != nil {
		if errors.Is(err, types.ErrStoreCorruption) {
			s.corrupted.Store(true)
		}
		return fmt.Errorf("persisting record %s: %w", rec.ID(), err)
	}

	s.insert(stored)
	return nil
}

// Delete removes a record by ID. Deleting an absent ID is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s.corrupted.Load() {
		return fmt.Errorf("%w: writes are halted", types.ErrStoreCorruption)
	}
	if id == "" {
		return nil
	}

	if err := s.backend.Delete(ctx, id); err != nil {
		if errors.Is(err, types.ErrStoreCorruption) {
			s.corrupted.Store(true)
		}
		return fmt.Errorf("deleting record %s: %w", id, err)
	}

	sh := s.shardFor(id)
	sh.mu.Lock()
	prev, existed := sh.records[id]
	delete(sh.records, id)
	sh.mu.Unlock()

	if existed {
		s.reindexSource(id, prev.SourcePath(), "")
	}
	return nil
}

// Get returns a copy of the record with the given ID
func (s *Store) Get(id string) (Record, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	rec, ok := sh.records[id]
	sh.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// scored is a ranking candidate; records are only copied for the final top-k
type scored struct {
	id    string
	score float64
	shard int
}

// Query returns the k most similar records in descending score order. Equal
// scores rank by ascending ID so results are deterministic. An empty store
// yields an empty result, never an error.
func (s *Store) Query(ctx context.Context, vector []float32, k int, filter *Filter) ([]Hit, error) {
	if len(vector) != s.dims {
		return nil, fmt.Errorf("%w: query vector has %d dims, store configured for %d",
			types.ErrDimensionMismatch, len(vector), s.dims)
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	var cands []scored
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for id, rec := range sh.records {
			if !filter.matches(rec) {
				continue
			}
			cands = append(cands, scored{id: id, score: dot(vector, rec.Vector.Values), shard: i})
		}
		sh.mu.RUnlock()
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].id < cands[j].id
	})
	if len(cands) > k {
		cands = cands[:k]
	}

	hits := make([]Hit, 0, len(cands))
	for _, c := range cands {
		sh := &s.shards[c.shard]
		sh.mu.RLock()
		rec, ok := sh.records[c.id]
		sh.mu.RUnlock()
		if !ok {
			continue // deleted while ranking
		}
		hits = append(hits, Hit{ID: c.id, Score: c.score, Record: rec.clone()})
	}
	return hits, nil
}

// ReplaceSource makes the stored view of sourcePath equal recs. Records
// whose IDs already exist are left untouched (chunk IDs are
// content-addressed, so an unchanged chunk re-indexes to the same ID), new
// IDs are inserted, and prior IDs absent from recs are deleted. Returns how
// many records were added and how many stale records were removed.
func (s *Store) ReplaceSource(ctx context.Context, sourcePath string, recs []Record) (added, removed int, err error) {
	if s.corrupted.Load() {
		return 0, 0, fmt.Errorf("%w: writes are halted", types.ErrStoreCorruption)
	}
	if sourcePath == "" {
		return 0, 0, errors.New("source path is required")
	}

	keep := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		if err := rec.Validate(s.dims); err != nil {
			return 0, 0, err
		}
		if rec.SourcePath() != sourcePath {
			return 0, 0, fmt.Errorf("record %s belongs to %q, not %q",
				rec.ID(), rec.SourcePath(), sourcePath)
		}
		keep[rec.ID()] = struct{}{}
	}

	prior := s.IDsBySource(sourcePath)
	existing := make(map[string]struct{}, len(prior))
	for _, id := range prior {
		existing[id] = struct{}{}
	}

	for _, rec := range recs {
		if _, ok := existing[rec.ID()]; ok {
			continue // unchanged chunk, stored record stays as-is
		}
		if err := s.Upsert(ctx, rec); err != nil {
			return added, removed, err
		}
		added++
	}

	for _, id := range prior {
		if _, ok := keep[id]; ok {
			continue
		}
		if err := s.Delete(ctx, id); err != nil {
			return added, removed, err
		}
		removed++
	}

	return added, removed, nil
}

// DeleteBySource removes every record indexed from sourcePath
func (s *Store) DeleteBySource(ctx context.Context, sourcePath string) (int, error) {
	if s.corrupted.Load() {
		return 0, fmt.Errorf("%w: writes are halted", types.ErrStoreCorruption)
	}

	removed := 0
	for _, id := range s.IDsBySource(sourcePath) {
		if err := s.Delete(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// IDsBySource returns the IDs indexed from sourcePath, sorted
func (s *Store) IDsBySource(sourcePath string) []string {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()

	set := s.bySource[sourcePath]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sources returns every indexed source path, sorted
func (s *Store) Sources() []string {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()

	sources := make([]string, 0, len(s.bySource))
	for src := range s.bySource {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	return sources
}

// Count returns the number of stored records
func (s *Store) Count() int {
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		total += len(sh.records)
		sh.mu.RUnlock()
	}
	return total
}

// Dims returns the configured vector dimensionality
func (s *Store) Dims() int {
	return s.dims
}

// Corrupted reports whether writes are halted pending operator intervention
func (s *Store) Corrupted() bool {
	return s.corrupted.Load()
}

// Stats summarizes store contents for status reporting
type Stats struct {
	Records   int  `json:"records"`
	Sources   int  `json:"sources"`
	Dims      int  `json:"dims"`
	Corrupted bool `json:"corrupted"`
}

// Stats returns a point-in-time summary
func (s *Store) Stats() Stats {
	s.srcMu.Lock()
	sources := len(s.bySource)
	s.srcMu.Unlock()

	return Stats{
		Records:   s.Count(),
		Sources:   sources,
		Dims:      s.dims,
		Corrupted: s.corrupted.Load(),
	}
}

// Close releases the persistence backend
func (s *Store) Close() error {
	return s.backend.Close()
}

// insert places a record into the index without touching the backend
func (s *Store) insert(rec Record) {
	sh := s.shardFor(rec.ID())
	sh.mu.Lock()
	prev, existed := sh.records[rec.ID()]
	sh.records[rec.ID()] = rec
	sh.mu.Unlock()

	oldSource := ""
	if existed {
		oldSource = prev.SourcePath()
	}
	s.reindexSource(rec.ID(), oldSource, rec.SourcePath())
}

// reindexSource maintains the source -> IDs secondary index
func (s *Store) reindexSource(id, oldSource, newSource string) {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()

	if oldSource != "" && oldSource != newSource {
		if set := s.bySource[oldSource]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(s.bySource, oldSource)
			}
		}
	}
	if newSource != "" {
		set := s.bySource[newSource]
		if set == nil {
			set = make(map[string]struct{})
			s.bySource[newSource] = set
		}
		set[id] = struct{}{}
	}
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.shards[int(h.Sum32())%len(s.shards)]
}
