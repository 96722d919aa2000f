package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kherrera/ctxrelay-mcp/internal/chunker"
	"github.com/kherrera/ctxrelay-mcp/internal/embedder"
	"github.com/kherrera/ctxrelay-mcp/internal/vectorstore"
	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

// ErrIndexInProgress rejects an indexing call that would overlap a running one
var ErrIndexInProgress = errors.New("an indexing operation is already in progress")

// Store is the slice of the vector store the indexer writes through
type Store interface {
	IDsBySource(sourcePath string) []string
	Get(id string) (vectorstore.Record, bool)
	ReplaceSource(ctx context.Context, sourcePath string, recs []vectorstore.Record) (added, removed int, err error)
	DeleteBySource(ctx context.Context, sourcePath string) (int, error)
}

// Config tunes directory indexing
type Config struct {
	// Workers bounds concurrent per-file pipelines (default: NumCPU)
	Workers int

	// Extensions lists the file suffixes eligible for indexing (default: .go)
	Extensions []string

	// IncludeTests indexes _test.go files when set
	IncludeTests bool

	// IncludeVendor descends into vendor and node_modules when set
	IncludeVendor bool
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if len(c.Extensions) == 0 {
		c.Extensions = []string{".go"}
	}
}

// SourceResult reports one source's indexing outcome
type SourceResult struct {
	SourcePath string `json:"source_path"`

	// Skipped is set when the source's chunk set matches the stored state
	// exactly, so neither the embedder nor the store was touched
	Skipped bool `json:"skipped"`

	ChunksTotal    int `json:"chunks_total"`
	ChunksEmbedded int `json:"chunks_embedded"`
	Added          int `json:"added"`
	Removed        int `json:"removed"`
}

// Statistics aggregates a directory indexing run
type Statistics struct {
	SourcesIndexed int           `json:"sources_indexed"`
	SourcesSkipped int           `json:"sources_skipped"`
	SourcesFailed  int           `json:"sources_failed"`
	ChunksEmbedded int           `json:"chunks_embedded"`
	ChunksAdded    int           `json:"chunks_added"`
	ChunksRemoved  int           `json:"chunks_removed"`
	Duration       time.Duration `json:"duration"`
	Errors         []string      `json:"errors,omitempty"`
}

// Indexer runs the chunk, embed, store pipeline. All entry points share one
// non-blocking single-flight lock: a second indexing or removal call while
// one is running fails fast with ErrIndexInProgress instead of queueing.
type Indexer struct {
	chunker  *chunker.Chunker
	embedder embedder.Embedder
	store    Store
	cfg      Config

	lock IndexLock
	now  func() time.Time

	statsMu sync.Mutex
	lastRun *Statistics
}

// New wires an indexing pipeline
func New(ch *chunker.Chunker, emb embedder.Embedder, store Store, cfg Config) (*Indexer, error) {
	if ch == nil {
		return nil, errors.New("indexer: chunker is required")
	}
	if emb == nil {
		return nil, errors.New("indexer: embedder is required")
	}
	if store == nil {
		return nil, errors.New("indexer: store is required")
	}
	cfg.applyDefaults()
	return &Indexer{
		chunker:  ch,
		embedder: emb,
		store:    store,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// IndexSource chunks, embeds, and stores one source text under sourcePath.
// Re-indexing an unchanged source is a no-op: chunk IDs are content
// addressed, so an identical chunk set skips both embedding and storage.
func (ix *Indexer) IndexSource(ctx context.Context, sourcePath, text string) (*SourceResult, error) {
	if !ix.lock.TryAcquire() {
		return nil, ErrIndexInProgress
	}
	defer ix.lock.Release()

	return ix.indexSource(ctx, sourcePath, text)
}

// IndexFile reads path from disk and indexes its content under that path
func (ix *Indexer) IndexFile(ctx context.Context, path string) (*SourceResult, error) {
	if !ix.lock.TryAcquire() {
		return nil, ErrIndexInProgress
	}
	defer ix.lock.Release()

	return ix.indexFile(ctx, path)
}

// IndexDir walks root and indexes every eligible file with a bounded worker
// pool. Per-file failures are recorded in the statistics and do not stop the
// run; only context cancellation aborts it.
func (ix *Indexer) IndexDir(ctx context.Context, root string) (*Statistics, error) {
	if !ix.lock.TryAcquire() {
		return nil, ErrIndexInProgress
	}
	defer ix.lock.Release()

	start := time.Now()
	files, err := ix.discover(root)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", root, err)
	}

	stats := &Statistics{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.Workers)
	for _, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := ix.indexFile(gctx, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.SourcesFailed++
				stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", path, err))
				return nil
			}
			if res.Skipped {
				stats.SourcesSkipped++
			} else {
				stats.SourcesIndexed++
			}
			stats.ChunksEmbedded += res.ChunksEmbedded
			stats.ChunksAdded += res.Added
			stats.ChunksRemoved += res.Removed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.Duration = time.Since(start)
	ix.setLastRun(stats)
	return stats, nil
}

// RemoveSource drops every stored record belonging to sourcePath and returns
// how many were removed
func (ix *Indexer) RemoveSource(ctx context.Context, sourcePath string) (int, error) {
	if !ix.lock.TryAcquire() {
		return 0, ErrIndexInProgress
	}
	defer ix.lock.Release()

	return ix.store.DeleteBySource(ctx, sourcePath)
}

// LastRun returns the most recent directory indexing statistics
func (ix *Indexer) LastRun() (Statistics, bool) {
	ix.statsMu.Lock()
	defer ix.statsMu.Unlock()
	if ix.lastRun == nil {
		return Statistics{}, false
	}
	return *ix.lastRun, true
}

func (ix *Indexer) setLastRun(stats *Statistics) {
	ix.statsMu.Lock()
	defer ix.statsMu.Unlock()
	ix.lastRun = stats
}

func (ix *Indexer) indexFile(ctx context.Context, path string) (*SourceResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ix.indexSource(ctx, path, string(content))
}

func (ix *Indexer) indexSource(ctx context.Context, sourcePath, text string) (*SourceResult, error) {
	if sourcePath == "" {
		return nil, errors.New("source path is required")
	}

	chunks := ix.chunker.Chunk(text, sourcePath)
	res := &SourceResult{SourcePath: sourcePath, ChunksTotal: len(chunks)}

	existing := make(map[string]struct{})
	for _, id := range ix.store.IDsBySource(sourcePath) {
		existing[id] = struct{}{}
	}

	if unchanged(chunks, existing) {
		res.Skipped = true
		return res, nil
	}

	// Only chunks absent from the stored state get embedded; surviving
	// chunks carry their stored record through unchanged.
	var toEmbed []int
	for i, c := range chunks {
		if _, ok := existing[c.ID]; !ok {
			toEmbed = append(toEmbed, i)
		}
	}

	embeddings := make(map[string]*types.Embedding, len(toEmbed))
	if len(toEmbed) > 0 {
		texts := make([]string, len(toEmbed))
		for j, i := range toEmbed {
			texts[j] = chunks[i].Text
		}
		results, err := ix.embedder.GenerateBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", sourcePath, err)
		}
		for j, r := range results {
			if r.Err != nil {
				return nil, fmt.Errorf("embed %s chunk %s: %w", sourcePath, chunks[toEmbed[j]].ID, r.Err)
			}
			embeddings[chunks[toEmbed[j]].ID] = r.Embedding
		}
	}
	res.ChunksEmbedded = len(toEmbed)

	now := ix.now()
	records := make([]vectorstore.Record, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := existing[c.ID]; ok {
			if rec, found := ix.store.Get(c.ID); found {
				records = append(records, rec)
				continue
			}
		}
		emb, ok := embeddings[c.ID]
		if !ok {
			return nil, fmt.Errorf("chunk %s disappeared during indexing", c.ID)
		}
		records = append(records, vectorstore.RecordFromChunk(c, *emb, now))
	}

	added, removed, err := ix.store.ReplaceSource(ctx, sourcePath, records)
	if err != nil {
		return nil, fmt.Errorf("replace %s: %w", sourcePath, err)
	}
	res.Added, res.Removed = added, removed
	return res, nil
}

// unchanged reports whether the fresh chunk set equals the stored ID set
func unchanged(chunks []types.Chunk, existing map[string]struct{}) bool {
	if len(chunks) != len(existing) {
		return false
	}
	for _, c := range chunks {
		if _, ok := existing[c.ID]; !ok {
			return false
		}
	}
	return true
}

func (ix *Indexer) discover(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if !ix.cfg.IncludeVendor && (name == "vendor" || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if !ix.cfg.IncludeTests && strings.HasSuffix(path, "_test.go") {
			return nil
		}
		if !ix.matchesExt(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func (ix *Indexer) matchesExt(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range ix.cfg.Extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}
