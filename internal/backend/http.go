package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

// Config holds the connection settings for an HTTP backend
type Config struct {
	BaseURL      string
	APIKey       string
	EmbedPath    string
	CompletePath string

	// EmbedTimeout bounds a whole embedding round trip. Streaming requests
	// are not bounded here; their lifetime is governed by the caller's
	// context and the orchestrator's idle timer.
	EmbedTimeout time.Duration

	// StreamBuffer is the delta channel capacity per stream
	StreamBuffer int
}

func (c *Config) applyDefaults() {
	if c.EmbedPath == "" {
		c.EmbedPath = DefaultEmbedPath
	}
	if c.CompletePath == "" {
		c.CompletePath = DefaultCompletePath
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = DefaultEmbedTimeoutSec * time.Second
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = DefaultStreamBuffer
	}
}

// HTTPClient implements Client against the abstract backend wire contract:
// POST embed {texts} -> {vectors}, POST complete/stream -> SSE token events.
type HTTPClient struct {
	config Config

	// embedClient carries a request timeout; streamClient must not, because
	// a healthy stream can legitimately outlive any fixed bound.
	embedClient  *http.Client
	streamClient *http.Client
}

// NewHTTPClient creates a backend client for the given endpoint
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	cfg.applyDefaults()

	return &HTTPClient{
		config:       cfg,
		embedClient:  &http.Client{Timeout: cfg.EmbedTimeout},
		streamClient: &http.Client{},
	}, nil
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// Embed calls the embedding endpoint and returns one raw vector per text
func (h *HTTPClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := h.post(ctx, h.embedClient, h.config.EmbedPath, embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", types.ErrBackendTransient, err)
	}
	defer drainAndClose(resp.Body)

	if err := checkStatus(resp, "embed"); err != nil {
		return nil, err
	}

	var apiResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("%w: embed: decode response: %v", types.ErrBackendTransient, err)
	}

	if len(apiResp.Vectors) != len(texts) {
		return nil, fmt.Errorf("%w: embed: got %d vectors for %d texts",
			types.ErrBackendTransient, len(apiResp.Vectors), len(texts))
	}

	return apiResp.Vectors, nil
}

// streamEvent is the wire form of a single SSE data payload
type streamEvent struct {
	Token string `json:"token,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

// CompleteStream starts a streaming completion. Tokens are forwarded in
// arrival order; the channel closes after the terminal event.
func (h *HTTPClient) CompleteStream(ctx context.Context, req CompletionRequest) (<-chan Delta, error) {
	resp, err := h.post(ctx, h.streamClient, h.config.CompletePath, req)
	if err != nil {
		return nil, fmt.Errorf("%w: complete: %v", types.ErrBackendTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		errMsg := readErrorBody(resp)
		drainAndClose(resp.Body)
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: complete: %s", types.ErrBackendTransient, errMsg)
		}
		return nil, fmt.Errorf("complete: %s", errMsg)
	}

	ch := make(chan Delta, h.config.StreamBuffer)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		readSSEStream(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// readSSEStream reads "data: " framed events until a terminal event, EOF, or
// context cancellation. Closing the response body (via ctx) unblocks Scan.
func readSSEStream(ctx context.Context, body io.Reader, ch chan<- Delta) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			send(ctx, ch, Delta{Done: true})
			return
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch {
		case ev.Error != "":
			send(ctx, ch, Delta{Err: fmt.Errorf("%w: complete: %s", types.ErrBackendTransient, ev.Error)})
			return
		case ev.Done:
			send(ctx, ch, Delta{Done: true})
			return
		case ev.Token != "":
			if !send(ctx, ch, Delta{Token: ev.Token}) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		send(ctx, ch, Delta{Err: fmt.Errorf("%w: complete: stream read: %v", types.ErrBackendTransient, err)})
		return
	}

	// EOF without a terminal event: the backend hung up mid-stream
	if ctx.Err() == nil {
		send(ctx, ch, Delta{Err: fmt.Errorf("%w: complete: stream closed before done", types.ErrBackendTransient)})
	}
}

func send(ctx context.Context, ch chan<- Delta, d Delta) bool {
	select {
	case ch <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *HTTPClient) post(ctx context.Context, client *http.Client, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if h.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.config.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}

	return resp, nil
}

// checkStatus maps HTTP status classes onto the failure taxonomy: 5xx is
// transient, anything else non-200 is a permanent caller error.
func checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	errMsg := readErrorBody(resp)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s: %s", types.ErrBackendTransient, op, errMsg)
	}
	return fmt.Errorf("%s: %s", op, errMsg)
}

func drainAndClose(r io.ReadCloser) {
	_, _ = io.Copy(io.Discard, r)
	_ = r.Close()
}

func readErrorBody(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return resp.Status
	}
	return fmt.Sprintf("%s: %s", resp.Status, string(body))
}

// Close releases idle connections on both underlying clients
func (h *HTTPClient) Close() error {
	h.embedClient.CloseIdleConnections()
	h.streamClient.CloseIdleConnections()
	return nil
}
