package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexSourceTool returns the tool definition for index_source
func indexSourceTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_source",
		Description: "Index a file, directory, or inline text so its chunks become retrievable context",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a file or directory to index. When text is provided this is the logical source path the content is stored under.",
				},
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Inline content to index under path instead of reading from disk. Empty text removes the source's chunks.",
				},
			},
			Required: []string{"path"},
		},
	}
}

// removeSourceTool returns the tool definition for remove_source
func removeSourceTool() mcp.Tool {
	return mcp.Tool{
		Name:        "remove_source",
		Description: "Remove every indexed chunk belonging to a source path",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Source path whose chunks should be deleted from the index",
				},
			},
			Required: []string{"path"},
		},
	}
}

// searchContextTool returns the tool definition for search_context
func searchContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_context",
		Description: "Retrieve the indexed chunks most relevant to a query, ranked by blended similarity and recency",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language or code query",
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of chunks to return (1-50)",
					"default":     5,
					"minimum":     1,
					"maximum":     50,
				},
				"recency_weight": map[string]interface{}{
					"type":        "number",
					"description": "Blend weight for recency in [0, 1]; 0 ranks purely by similarity. Omit to use the server default.",
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"source_path": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to chunks from this source path",
				},
				"kinds": map[string]interface{}{
					"type":        "array",
					"description": "Restrict results to these chunk kinds",
					"items": map[string]interface{}{
						"type": "string",
						"enum": []string{"function", "class", "block"},
					},
				},
			},
			Required: []string{"query"},
		},
	}
}

// streamCompleteTool returns the tool definition for stream_complete
func streamCompleteTool() mcp.Tool {
	return mcp.Tool{
		Name:        "stream_complete",
		Description: "Run a completion against the inference backend, optionally augmented with retrieved context, and return the assembled result",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"prompt": map[string]interface{}{
					"type":        "string",
					"description": "Prompt to complete",
				},
				"max_tokens": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum tokens the backend may generate",
					"minimum":     1,
				},
				"temperature": map[string]interface{}{
					"type":        "number",
					"description": "Sampling temperature",
					"minimum":     0.0,
					"maximum":     2.0,
				},
				"use_context": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, prepend the top-k retrieved chunks to the request",
					"default":     true,
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of context chunks to retrieve when use_context is true (1-50)",
					"default":     5,
					"minimum":     1,
					"maximum":     50,
				},
			},
			Required: []string{"prompt"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report store contents, circuit breaker states, session counts, and metrics for this server",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
