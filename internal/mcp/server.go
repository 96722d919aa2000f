package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"github.com/kherrera/ctxrelay-mcp/internal/backend"
	"github.com/kherrera/ctxrelay-mcp/internal/breaker"
	"github.com/kherrera/ctxrelay-mcp/internal/chunker"
	"github.com/kherrera/ctxrelay-mcp/internal/config"
	"github.com/kherrera/ctxrelay-mcp/internal/embedder"
	"github.com/kherrera/ctxrelay-mcp/internal/indexer"
	"github.com/kherrera/ctxrelay-mcp/internal/metrics"
	"github.com/kherrera/ctxrelay-mcp/internal/selector"
	"github.com/kherrera/ctxrelay-mcp/internal/stream"
	"github.com/kherrera/ctxrelay-mcp/internal/vectorstore"
)

const (
	// ServerName is the MCP server name
	ServerName = "ctxrelay-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies.
//
// When no backend base URL is configured the server runs in offline mode:
// indexing and search use deterministic static embeddings and stream_complete
// reports that no backend is available.
type Server struct {
	mcp      *server.MCPServer
	cfg      *config.Config
	client   backend.Client // nil in offline mode
	store    *vectorstore.Store
	embedder embedder.Embedder
	selector *selector.Selector
	indexer  *indexer.Indexer
	stream   *stream.Orchestrator // nil in offline mode
	recorder *metrics.Recorder
	breakers *breaker.Registry
}

// NewServer wires every component from cfg. A nil cfg uses the defaults.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	recorder := metrics.NewRecorder()

	registry := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		WindowSize:       cfg.Breaker.WindowSize,
		MinSamples:       cfg.Breaker.MinSamples,
		Cooldown:         cfg.Breaker.Cooldown(),
		HalfOpenProbes:   cfg.Breaker.HalfOpenProbes,
	})
	registry.OnStateChange(func(name string, from, to breaker.State) {
		recorder.ObserveBreakerTransition(name, from.String(), to.String())
	})

	var client backend.Client
	if cfg.Backend.BaseURL != "" {
		httpClient, err := backend.NewHTTPClient(backend.Config{
			BaseURL:      cfg.Backend.BaseURL,
			APIKey:       cfg.Backend.APIKey(),
			EmbedPath:    cfg.Backend.EmbedPath,
			CompletePath: cfg.Backend.CompletePath,
			EmbedTimeout: cfg.Backend.EmbedTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize backend client: %w", err)
		}
		client = httpClient
	}

	storeBackend, err := openStoreBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store backend: %w", err)
	}

	store, err := vectorstore.Open(ctx, vectorstore.Config{
		Dims:   cfg.Embedder.Dims,
		Shards: cfg.Store.Shards,
	}, storeBackend)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	// The embedder is shared by the indexer and the selector so cached
	// vectors from indexing serve later queries. Its width comes from the
	// opened store so the two can never disagree.
	var emb embedder.Embedder
	if client != nil {
		emb, err = embedder.NewService(embedder.Config{
			Dims:      store.Dims(),
			BatchSize: cfg.Embedder.BatchSize,
			CacheSize: cfg.Embedder.CacheSize,
		}, client, registry.Get(breaker.KeyEmbeddings), recorder)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	} else {
		emb = embedder.NewStatic(store.Dims())
	}

	sel, err := selector.New(selector.Config{
		OverFetchFactor: cfg.Selector.OverFetchFactor,
		RecencyWeight:   cfg.Selector.RecencyWeight,
		RecencyHalfLife: cfg.Selector.RecencyHalfLife(),
	}, emb, store, recorder)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize selector: %w", err)
	}

	ch := chunker.New(chunker.Config{
		MaxChunkLines: cfg.Chunker.MaxChunkLines,
		WindowLines:   cfg.Chunker.WindowLines,
		OverlapLines:  cfg.Chunker.OverlapLines,
	})

	ix, err := indexer.New(ch, emb, store, indexer.Config{
		Workers:       cfg.Indexer.Workers,
		Extensions:    cfg.Indexer.Extensions,
		IncludeTests:  cfg.Indexer.IncludeTests,
		IncludeVendor: cfg.Indexer.IncludeVendor,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize indexer: %w", err)
	}

	var orch *stream.Orchestrator
	if client != nil {
		orch, err = stream.NewOrchestrator(stream.Config{
			IdleTimeout: cfg.Stream.IdleTimeout(),
		}, client, registry.Get(breaker.KeyCompletion), recorder)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize stream orchestrator: %w", err)
		}
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		cfg:      cfg,
		client:   client,
		store:    store,
		embedder: emb,
		selector: sel,
		indexer:  ix,
		stream:   orch,
		recorder: recorder,
		breakers: registry,
	}
	s.registerTools()

	return s, nil
}

// openStoreBackend selects the persistence backend named by cfg.Store.Backend.
func openStoreBackend(ctx context.Context, cfg *config.Config) (vectorstore.Backend, error) {
	switch cfg.Store.Backend {
	case config.StoreMemory:
		return vectorstore.NewMemory(), nil
	case config.StoreSQLite:
		return vectorstore.NewSQLiteBackend(cfg.Store.Path)
	case config.StoreBolt:
		return vectorstore.NewBoltBackend(cfg.Store.Path)
	case config.StoreQdrant:
		return vectorstore.NewQdrantBackend(ctx, vectorstore.QdrantConfig{
			BaseURL:    cfg.Store.Qdrant.URL,
			Collection: cfg.Store.Qdrant.Collection,
			APIKey:     cfg.Store.Qdrant.APIKey(),
			Dims:       cfg.Embedder.Dims,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer s.Close()
	return server.ServeStdio(s.mcp)
}

// Close cancels active stream sessions and releases every backend resource.
func (s *Server) Close() {
	if s.stream != nil {
		s.stream.Close()
	}
	_ = s.embedder.Close()
	_ = s.store.Close()
	if s.client != nil {
		_ = s.client.Close()
	}
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexSourceTool(), s.handleIndexSource)
	s.mcp.AddTool(removeSourceTool(), s.handleRemoveSource)
	s.mcp.AddTool(searchContextTool(), s.handleSearchContext)
	s.mcp.AddTool(streamCompleteTool(), s.handleStreamComplete)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
