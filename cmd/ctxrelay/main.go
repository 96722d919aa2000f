package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kherrera/ctxrelay-mcp/internal/config"
	"github.com/kherrera/ctxrelay-mcp/internal/mcp"
	"github.com/kherrera/ctxrelay-mcp/internal/vectorstore"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath     string
		showVersion bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to YAML config (default: ./ctxrelay.yaml, then ~/.config/ctxrelay/config.yaml)")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("ctxrelay MCP Server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", vectorstore.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", vectorstore.DriverName)
		os.Exit(0)
	}

	// Log startup info to stderr (stdout reserved for MCP protocol)
	log.SetOutput(os.Stderr)
	log.Printf("ctxrelay MCP Server v%s starting...", version)

	var (
		cfg *config.Config
		err error
	)
	if cfgPath == "" {
		var origin string
		cfg, origin, err = config.LoadDefault()
		if err == nil && origin != "" {
			log.Printf("Config: %s", origin)
		}
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Backend.BaseURL == "" {
		log.Printf("No backend configured, running offline with static embeddings")
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := mcp.NewServer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in a goroutine
	errChan := make(chan error, 1)
	go func() {
		log.Printf("MCP server ready, listening on stdio (store: %s, dims: %d)",
			cfg.Store.Backend, cfg.Embedder.Dims)
		errChan <- server.Serve(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}

	log.Println("Server stopped")
}
