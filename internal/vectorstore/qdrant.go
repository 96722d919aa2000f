package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

const (
	qdrantTimeout    = 30 * time.Second
	qdrantScrollPage = 256

	// metaOwnerID carries the chunk ID inside the point payload; Qdrant
	// point IDs must be UUIDs, so the real ID travels as payload.
	metaOwnerID = "_id"
)

// QdrantConfig holds connection settings for a remote Qdrant instance
type QdrantConfig struct {
	BaseURL    string
	Collection string
	APIKey     string
	Dims       int
}

// QdrantBackend persists records in a remote Qdrant collection over its REST
// API. Point IDs are UUIDv5 digests of the chunk ID, which keeps puts and
// deletes idempotent against the same chunk.
type QdrantBackend struct {
	cfg    QdrantConfig
	client *http.Client
}

// NewQdrantBackend connects to Qdrant and creates the collection when it
// does not exist yet. Vectors are pre-normalized, so the collection uses
// dot-product distance.
func NewQdrantBackend(ctx context.Context, cfg QdrantConfig) (*QdrantBackend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("qdrant base URL is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	if cfg.Dims <= 0 {
		return nil, fmt.Errorf("qdrant vector dims must be configured")
	}

	b := &QdrantBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: qdrantTimeout},
	}

	if err := b.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *QdrantBackend) ensureCollection(ctx context.Context) error {
	status, _, err := b.do(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", b.cfg.Collection), nil)
	if err != nil {
		return fmt.Errorf("checking qdrant collection: %w", err)
	}
	if status == http.StatusOK {
		return nil
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("checking qdrant collection: unexpected status %d", status)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     b.cfg.Dims,
			"distance": "Dot",
		},
	}
	status, respBody, err := b.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", b.cfg.Collection), body)
	if err != nil {
		return fmt.Errorf("creating qdrant collection: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("creating qdrant collection: status %d: %s", status, respBody)
	}
	return nil
}

// Load scrolls the whole collection page by page
func (b *QdrantBackend) Load(ctx context.Context) ([]Record, error) {
	records := make([]Record, 0)
	var offset any

	for {
		body := map[string]any{
			"limit":        qdrantScrollPage,
			"with_payload": true,
			"with_vector":  true,
		}
		if offset != nil {
			body["offset"] = offset
		}

		status, respBody, err := b.do(ctx, http.MethodPost,
			fmt.Sprintf("/collections/%s/points/scroll", b.cfg.Collection), body)
		if err != nil {
			return nil, fmt.Errorf("scrolling qdrant points: %w", err)
		}
		if status >= 400 {
			return nil, fmt.Errorf("scrolling qdrant points: status %d: %s", status, respBody)
		}

		var resp struct {
			Result struct {
				Points []struct {
					Payload map[string]string `json:"payload"`
					Vector  []float32         `json:"vector"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, fmt.Errorf("decoding qdrant scroll response: %w", err)
		}

		for _, point := range resp.Result.Points {
			rec, err := b.toRecord(point.Payload, point.Vector)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}

		if resp.Result.NextPageOffset == nil {
			return records, nil
		}
		offset = resp.Result.NextPageOffset
	}
}

func (b *QdrantBackend) toRecord(payload map[string]string, vector []float32) (Record, error) {
	id := payload[metaOwnerID]
	if id == "" {
		return Record{}, fmt.Errorf("%w: qdrant point is missing its owner id", types.ErrStoreCorruption)
	}
	if len(vector) != b.cfg.Dims {
		return Record{}, fmt.Errorf("%w: qdrant point %s has %d dims, want %d",
			types.ErrStoreCorruption, id, len(vector), b.cfg.Dims)
	}

	metadata := make(map[string]string, len(payload))
	for k, v := range payload {
		if k == metaOwnerID {
			continue
		}
		metadata[k] = v
	}

	return Record{
		Vector: types.Embedding{
			OwnerID: id,
			Dims:    b.cfg.Dims,
			Values:  vector,
		},
		Metadata: metadata,
	}, nil
}

// Put durably stores a record as one Qdrant point
func (b *QdrantBackend) Put(ctx context.Context, rec Record) error {
	payload := make(map[string]string, len(rec.Metadata)+1)
	for k, v := range rec.Metadata {
		payload[k] = v
	}
	payload[metaOwnerID] = rec.ID()

	body := map[string]any{
		"points": []map[string]any{
			{
				"id":      pointID(rec.ID()),
				"vector":  rec.Vector.Values,
				"payload": payload,
			},
		},
	}

	status, respBody, err := b.do(ctx, http.MethodPut,
		fmt.Sprintf("/collections/%s/points?wait=true", b.cfg.Collection), body)
	if err != nil {
		return fmt.Errorf("upserting qdrant point %s: %w", rec.ID(), err)
	}
	if status >= 400 {
		return fmt.Errorf("upserting qdrant point %s: status %d: %s", rec.ID(), status, respBody)
	}
	return nil
}

// Delete removes a record's point; absent IDs are a no-op
func (b *QdrantBackend) Delete(ctx context.Context, id string) error {
	body := map[string]any{
		"points": []string{pointID(id)},
	}

	status, respBody, err := b.do(ctx, http.MethodPost,
		fmt.Sprintf("/collections/%s/points/delete?wait=true", b.cfg.Collection), body)
	if err != nil {
		return fmt.Errorf("deleting qdrant point %s: %w", id, err)
	}
	if status >= 400 {
		return fmt.Errorf("deleting qdrant point %s: status %d: %s", id, status, respBody)
	}
	return nil
}

// Close releases nothing; the HTTP client holds no persistent connections
// worth tearing down explicitly.
func (b *QdrantBackend) Close() error {
	return nil
}

// pointID derives the deterministic UUID Qdrant requires from a chunk ID
func pointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// do performs one JSON request and returns status plus raw body
func (b *QdrantBackend) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		req.Header.Set("api-key", b.cfg.APIKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}
