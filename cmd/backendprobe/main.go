package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/kherrera/ctxrelay-mcp/internal/backend"
	"github.com/kherrera/ctxrelay-mcp/internal/config"
)

// backendprobe checks that the configured inference backend answers both the
// embedding and the streaming completion endpoints before the MCP server is
// pointed at it.
func main() {
	_ = godotenv.Load()

	var (
		cfgPath        string
		timeout        time.Duration
		prompt         string
		skipCompletion bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to YAML config (default: ./ctxrelay.yaml, then ~/.config/ctxrelay/config.yaml)")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "overall probe timeout")
	flag.StringVar(&prompt, "prompt", "Reply with one short sentence.", "prompt for the completion probe")
	flag.BoolVar(&skipCompletion, "skip-completion", false, "only probe the embedding endpoint")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Backend.BaseURL == "" {
		log.Fatalf("No backend configured: set backend.base_url or CTXRELAY_BACKEND_URL")
	}

	client, err := backend.NewHTTPClient(backend.Config{
		BaseURL:      cfg.Backend.BaseURL,
		APIKey:       cfg.Backend.APIKey(),
		EmbedPath:    cfg.Backend.EmbedPath,
		CompletePath: cfg.Backend.CompletePath,
		EmbedTimeout: cfg.Backend.EmbedTimeout(),
	})
	if err != nil {
		log.Fatalf("Failed to create backend client: %v", err)
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fmt.Printf("Probing %s...\n", cfg.Backend.BaseURL)

	// Embedding probe
	start := time.Now()
	vecs, err := client.Embed(ctx, []string{"connectivity probe"})
	if err != nil {
		log.Fatalf("✗ FAILURE: embedding probe: %v", err)
	}
	if len(vecs) != 1 {
		log.Fatalf("✗ FAILURE: embedding probe: expected 1 vector, got %d", len(vecs))
	}

	fmt.Printf("\nEmbedding:\n")
	fmt.Printf("  Dims: %d\n", len(vecs[0]))
	fmt.Printf("  Latency: %v\n", time.Since(start).Round(time.Millisecond))
	if len(vecs[0]) != cfg.Embedder.Dims {
		fmt.Printf("  WARNING: configured dims is %d; indexing against this backend will fail\n", cfg.Embedder.Dims)
	}

	// Completion probe
	if !skipCompletion {
		start = time.Now()
		deltas, err := client.CompleteStream(ctx, backend.CompletionRequest{
			Prompt:    prompt,
			MaxTokens: 32,
		})
		if err != nil {
			log.Fatalf("✗ FAILURE: completion probe: %v", err)
		}

		tokens := 0
		var firstToken time.Duration
		done := false
		for d := range deltas {
			if d.Err != nil {
				log.Fatalf("✗ FAILURE: completion probe: %v", d.Err)
			}
			if d.Done {
				done = true
				break
			}
			if tokens == 0 {
				firstToken = time.Since(start)
			}
			tokens++
		}
		if !done {
			log.Fatalf("✗ FAILURE: completion probe: stream ended without a terminal event")
		}

		fmt.Printf("\nCompletion:\n")
		fmt.Printf("  Tokens: %d\n", tokens)
		fmt.Printf("  First token: %v\n", firstToken.Round(time.Millisecond))
		fmt.Printf("  Total: %v\n", time.Since(start).Round(time.Millisecond))
	}

	fmt.Println("\n✓ SUCCESS: backend reachable")
}
