package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

var bucketRecords = []byte("vector_records")

// boltRecord is the msgpack wire form of a persisted record
type boltRecord struct {
	Dims     int               `msgpack:"dims"`
	Values   []float32         `msgpack:"values"`
	Metadata map[string]string `msgpack:"metadata"`
}

// BoltBackend persists records in a bbolt key-value file: one bucket, one
// msgpack-encoded value per record ID. Simpler to operate than SQLite when
// the index is the only thing being stored.
type BoltBackend struct {
	db *bbolt.DB
}

// NewBoltBackend opens (or creates) the bbolt file at path
func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create records bucket: %w", err)
	}

	return &BoltBackend{db: db}, nil
}

// Load reads every persisted record. A value that does not decode, or whose
// vector width disagrees with its recorded dimensionality, is corruption.
func (b *BoltBackend) Load(_ context.Context) ([]Record, error) {
	records := make([]Record, 0)

	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		return bucket.ForEach(func(k, v []byte) error {
			var stored boltRecord
			if err := msgpack.Unmarshal(v, &stored); err != nil {
				return fmt.Errorf("%w: record %s does not decode: %v",
					types.ErrStoreCorruption, string(k), err)
			}
			if len(stored.Values) != stored.Dims {
				return fmt.Errorf("%w: record %s has %d values, want %d",
					types.ErrStoreCorruption, string(k), len(stored.Values), stored.Dims)
			}

			records = append(records, Record{
				Vector: types.Embedding{
					OwnerID: string(k),
					Dims:    stored.Dims,
					Values:  stored.Values,
				},
				Metadata: stored.Metadata,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Put durably stores a record under its ID
func (b *BoltBackend) Put(_ context.Context, rec Record) error {
	data, err := msgpack.Marshal(boltRecord{
		Dims:     rec.Vector.Dims,
		Values:   rec.Vector.Values,
		Metadata: rec.Metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.ID(), err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Put([]byte(rec.ID()), data)
	})
}

// Delete removes a record; absent IDs are a no-op
func (b *BoltBackend) Delete(_ context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Delete([]byte(id))
	})
}

// Close closes the bbolt file
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
