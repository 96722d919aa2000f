package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kherrera/ctxrelay-mcp/internal/backend"
	"github.com/kherrera/ctxrelay-mcp/internal/indexer"
	"github.com/kherrera/ctxrelay-mcp/internal/selector"
	"github.com/kherrera/ctxrelay-mcp/internal/stream"
	"github.com/kherrera/ctxrelay-mcp/internal/vectorstore"
	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeBackendMissing     = -32001 // Completion requested but no backend is configured
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// handleIndexSource handles the index_source tool invocation
func (s *Server) handleIndexSource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	// Inline text indexes under the logical path without touching the
	// filesystem. The key's presence matters: empty text clears the source.
	if raw, hasText := args["text"]; hasText {
		text, ok := raw.(string)
		if !ok {
			return nil, newMCPError(ErrorCodeInvalidParams, "text must be a string", map[string]interface{}{
				"param": "text",
			})
		}

		res, err := s.indexer.IndexSource(ctx, path, text)
		if err != nil {
			return nil, indexError(err)
		}
		return mcp.NewToolResultText(formatJSON(sourceResponse(res))), nil
	}

	info, err := validatePath(path)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	if info.IsDir() {
		stats, err := s.indexer.IndexDir(ctx, path)
		if err != nil {
			return nil, indexError(err)
		}

		response := statsResponse(stats)
		response["root"] = path
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	res, err := s.indexer.IndexFile(ctx, path)
	if err != nil {
		return nil, indexError(err)
	}
	return mcp.NewToolResultText(formatJSON(sourceResponse(res))), nil
}

// handleRemoveSource handles the remove_source tool invocation
func (s *Server) handleRemoveSource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	removed, err := s.indexer.RemoveSource(ctx, path)
	if err != nil {
		return nil, indexError(err)
	}

	response := map[string]interface{}{
		"source_path": path,
		"removed":     removed,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchContext handles the search_context tool invocation
func (s *Server) handleSearchContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	k := getIntDefault(args, "k", selector.DefaultK)
	if k < 1 || k > selector.MaxK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("k must be between 1 and %d", selector.MaxK), map[string]interface{}{
			"param": "k",
			"value": k,
		})
	}

	// Negative means "use the configured default" downstream, so an explicit
	// out-of-range weight has to be rejected here.
	weight := getFloatDefault(args, "recency_weight", -1)
	if _, provided := args["recency_weight"]; provided && (weight < 0 || weight > 1) {
		return nil, newMCPError(ErrorCodeInvalidParams, "recency_weight must be between 0 and 1", map[string]interface{}{
			"param": "recency_weight",
			"value": weight,
		})
	}

	filter, err := parseFilter(args)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid filter", map[string]interface{}{
			"reason": err.Error(),
		})
	}

	bundle := s.selector.Select(ctx, selector.Request{
		Query:         query,
		K:             k,
		RecencyWeight: weight,
		Filter:        filter,
	})

	items := make([]map[string]interface{}, 0, len(bundle.Items))
	for _, item := range bundle.Items {
		items = append(items, map[string]interface{}{
			"rank":       item.Rank,
			"score":      item.Score,
			"similarity": item.Similarity,
			"recency":    item.Recency,
			"chunk": map[string]interface{}{
				"id":          item.Chunk.ID,
				"source_path": item.Chunk.SourcePath,
				"start_line":  item.Chunk.StartLine,
				"end_line":    item.Chunk.EndLine,
				"kind":        string(item.Chunk.Kind),
				"text":        item.Chunk.Text,
			},
		})
	}

	response := map[string]interface{}{
		"query":          bundle.Query,
		"items":          items,
		"token_estimate": bundle.TokenEstimate,
		"candidates":     bundle.Candidates,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleStreamComplete handles the stream_complete tool invocation. It drives
// a full streaming session and returns the assembled completion; callers see
// the terminal status, not individual tokens.
func (s *Server) handleStreamComplete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	prompt, ok := args["prompt"].(string)
	if !ok || strings.TrimSpace(prompt) == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "prompt parameter is required and cannot be empty", map[string]interface{}{
			"param":  "prompt",
			"reason": "missing or empty",
		})
	}

	if s.stream == nil {
		return nil, newMCPError(ErrorCodeBackendMissing, "no inference backend configured", map[string]interface{}{
			"reason": "backend base_url is empty; completions require a backend",
		})
	}

	req := backend.CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   getIntDefault(args, "max_tokens", 0),
		Temperature: getFloatDefault(args, "temperature", 0),
	}

	contextChunks := 0
	if getBoolDefault(args, "use_context", true) && s.store.Count() > 0 {
		bundle := s.selector.Select(ctx, selector.Request{
			Query:         prompt,
			K:             getIntDefault(args, "k", selector.DefaultK),
			RecencyWeight: -1,
		})
		req.Context = selector.ContextBlocks(bundle)
		contextChunks = len(bundle.Items)
	}

	sess, err := s.stream.StartStream(ctx, req)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to start stream", map[string]interface{}{
			"error": err.Error(),
		})
	}

	var completion strings.Builder
	tokens := 0
	var terminal stream.Event
	for ev := range sess.Events() {
		switch {
		case ev.Kind == stream.EventToken:
			completion.WriteString(ev.Token)
			tokens++
		case ev.Terminal():
			terminal = ev
		}
	}

	response := map[string]interface{}{
		"session_id":     sess.ID,
		"status":         terminalStatus(terminal),
		"completion":     completion.String(),
		"tokens":         tokens,
		"context_chunks": contextChunks,
		"duration_ms":    time.Since(sess.CreatedAt).Milliseconds(),
	}
	if terminal.Err != nil {
		response["error"] = terminal.Err.Error()
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats := s.store.Stats()

	embedderKind := "static"
	if s.client != nil {
		embedderKind = "backend"
	}

	active := 0
	if s.stream != nil {
		active = s.stream.Count()
	}

	response := map[string]interface{}{
		"server": map[string]interface{}{
			"name":    ServerName,
			"version": ServerVersion,
		},
		"backend": map[string]interface{}{
			"configured": s.client != nil,
			"embedder":   embedderKind,
		},
		"store": map[string]interface{}{
			"backend":   s.cfg.Store.Backend,
			"records":   stats.Records,
			"sources":   stats.Sources,
			"dims":      stats.Dims,
			"corrupted": stats.Corrupted,
		},
		"breakers": s.breakers.Snapshots(),
		"sessions": map[string]interface{}{
			"active": active,
		},
		"metrics": s.recorder.Summary(),
	}

	if last, ok := s.indexer.LastRun(); ok {
		response["last_index"] = statsResponse(&last)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// terminalStatus maps a session's terminal event to the status string
// reported to the client. An open circuit breaker reads as "unavailable" so
// callers know to retry after the cooldown rather than treat it as fatal.
func terminalStatus(ev stream.Event) string {
	switch ev.Kind {
	case stream.EventDone:
		return "completed"
	case stream.EventCancelled:
		return "cancelled"
	case stream.EventError:
		switch {
		case errors.Is(ev.Err, types.ErrBackendUnavailable):
			return "unavailable"
		case errors.Is(ev.Err, types.ErrSessionTimeout):
			return "timed_out"
		default:
			return "errored"
		}
	default:
		return "unknown"
	}
}

// indexError maps indexer failures onto MCP error codes
func indexError(err error) error {
	if errors.Is(err, indexer.ErrIndexInProgress) {
		return newMCPError(ErrorCodeIndexingInProgress, "an indexing operation is already in progress", nil)
	}
	return newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
		"error": err.Error(),
	})
}

// sourceResponse formats a single-source indexing result
func sourceResponse(res *indexer.SourceResult) map[string]interface{} {
	return map[string]interface{}{
		"source_path":     res.SourcePath,
		"skipped":         res.Skipped,
		"chunks_total":    res.ChunksTotal,
		"chunks_embedded": res.ChunksEmbedded,
		"added":           res.Added,
		"removed":         res.Removed,
	}
}

// statsResponse formats directory indexing statistics
func statsResponse(stats *indexer.Statistics) map[string]interface{} {
	response := map[string]interface{}{
		"sources_indexed": stats.SourcesIndexed,
		"sources_skipped": stats.SourcesSkipped,
		"sources_failed":  stats.SourcesFailed,
		"chunks_embedded": stats.ChunksEmbedded,
		"chunks_added":    stats.ChunksAdded,
		"chunks_removed":  stats.ChunksRemoved,
		"duration_ms":     stats.Duration.Milliseconds(),
	}

	if len(stats.Errors) > 0 {
		// Include first few errors
		errorCount := len(stats.Errors)
		if errorCount > 5 {
			response["errors"] = stats.Errors[:5]
		} else {
			response["errors"] = stats.Errors
		}
		response["error_count"] = errorCount
	}

	return response
}

// parseFilter builds the store filter from optional search arguments
func parseFilter(args map[string]interface{}) (*vectorstore.Filter, error) {
	sourcePath := getStringDefault(args, "source_path", "")

	var kinds []string
	if raw, ok := args["kinds"]; ok {
		list, ok := raw.([]interface{})
		if !ok {
			return nil, errors.New("kinds must be an array of strings")
		}
		for _, entry := range list {
			kind, ok := entry.(string)
			if !ok {
				return nil, errors.New("kinds must be an array of strings")
			}
			kinds = append(kinds, kind)
		}
	}

	if sourcePath == "" && len(kinds) == 0 {
		return nil, nil
	}
	return &vectorstore.Filter{SourcePath: sourcePath, Kinds: kinds}, nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that a disk path exists and is accessible
func validatePath(path string) (os.FileInfo, error) {
	if path == "" {
		return nil, ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return nil, ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, ErrPathNotFound
	}
	if err != nil {
		return nil, ErrPathNotReadable
	}

	return info, nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a number parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := args[key].(float64); ok {
		return val
	}
	if val, ok := args[key].(int); ok {
		return float64(val)
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
)
