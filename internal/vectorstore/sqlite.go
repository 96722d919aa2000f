package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

// SQLiteBackend persists records in an embedded SQLite database
type SQLiteBackend struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteBackend opens (or creates) the database at dbPath and applies
// pending migrations.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// Load reads every persisted record. A vector blob whose length disagrees
// with its recorded dimensionality, or metadata that does not decode, is
// treated as corruption rather than silently skipped.
func (b *SQLiteBackend) Load(ctx context.Context) ([]Record, error) {
	query := `
		SELECT id, dims, vector, metadata
		FROM vector_records
		ORDER BY id
	`
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			id           string
			dims         int
			blob         []byte
			metadataJSON string
		)
		if err := rows.Scan(&id, &dims, &blob, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		if len(blob) != dims*4 {
			return nil, fmt.Errorf("%w: record %s vector blob is %d bytes, want %d",
				types.ErrStoreCorruption, id, len(blob), dims*4)
		}

		var metadata map[string]string
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			return nil, fmt.Errorf("%w: record %s metadata does not decode: %v",
				types.ErrStoreCorruption, id, err)
		}

		records = append(records, Record{
			Vector: types.Embedding{
				OwnerID: id,
				Dims:    dims,
				Values:  deserializeVector(blob),
			},
			Metadata: metadata,
		})
	}

	return records, rows.Err()
}

// Put durably stores a record, replacing any prior row with the same ID
func (b *SQLiteBackend) Put(ctx context.Context, rec Record) error {
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata for %s: %w", rec.ID(), err)
	}

	query := `
		INSERT INTO vector_records (id, source_path, dims, vector, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_path = excluded.source_path,
			dims = excluded.dims,
			vector = excluded.vector,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err = b.db.ExecContext(ctx, query,
		rec.ID(), rec.SourcePath(), rec.Vector.Dims,
		serializeVector(rec.Vector.Values), string(metadataJSON))
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.ID(), err)
	}
	return nil
}

// Delete removes a record row; absent IDs are a no-op
func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM vector_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	return nil
}

// Close closes the database connection
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
