package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

func setupBoltBackend(t *testing.T) *BoltBackend {
	t.Helper()

	backend, err := NewBoltBackend(filepath.Join(t.TempDir(), "index.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestBoltBackendRoundTrip(t *testing.T) {
	backend := setupBoltBackend(t)
	ctx := context.Background()

	recA := testRecord("aaa111", "pkg/a.go", []float32{0.6, 0.8, 0, 0})
	recB := testRecord("bbb222", "pkg/b.go", unitVec(4, 1))
	require.NoError(t, backend.Put(ctx, recA))
	require.NoError(t, backend.Put(ctx, recB))

	records, err := backend.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := make(map[string]Record, len(records))
	for _, rec := range records {
		byID[rec.ID()] = rec
	}
	assert.Equal(t, recA.Vector.Values, byID["aaa111"].Vector.Values)
	assert.Equal(t, recA.Metadata, byID["aaa111"].Metadata)
	assert.Equal(t, 4, byID["bbb222"].Vector.Dims)
}

func TestBoltBackendPutReplaces(t *testing.T) {
	backend := setupBoltBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.Put(ctx, testRecord("aaa111", "pkg/a.go", unitVec(4, 0))))
	require.NoError(t, backend.Put(ctx, testRecord("aaa111", "pkg/moved.go", unitVec(4, 2))))

	records, err := backend.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "pkg/moved.go", records[0].SourcePath())
	assert.Equal(t, unitVec(4, 2), records[0].Vector.Values)
}

func TestBoltBackendDelete(t *testing.T) {
	backend := setupBoltBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.Put(ctx, testRecord("aaa111", "pkg/a.go", unitVec(4, 0))))
	require.NoError(t, backend.Delete(ctx, "aaa111"))
	require.NoError(t, backend.Delete(ctx, "never-existed"))

	records, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestBoltBackendPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bolt")
	ctx := context.Background()

	first, err := NewBoltBackend(path)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, testRecord("aaa111", "pkg/a.go", unitVec(4, 3))))
	require.NoError(t, first.Close())

	second, err := NewBoltBackend(path)
	require.NoError(t, err)
	defer second.Close()

	records, err := second.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "aaa111", records[0].ID())
	assert.Equal(t, unitVec(4, 3), records[0].Vector.Values)
}

func TestBoltBackendUndecodableValueIsCorruption(t *testing.T) {
	backend := setupBoltBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.Put(ctx, testRecord("aaa111", "pkg/a.go", unitVec(4, 0))))

	err := backend.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Put([]byte("aaa111"), []byte{0xc1, 0xff, 0x00})
	})
	require.NoError(t, err)

	_, err = backend.Load(ctx)
	assert.ErrorIs(t, err, types.ErrStoreCorruption)
}

func TestBoltBackendDimsDisagreementIsCorruption(t *testing.T) {
	backend := setupBoltBackend(t)
	ctx := context.Background()

	// A record claiming more dims than it has values decodes fine but is lying
	bad, err := msgpack.Marshal(boltRecord{
		Dims:     8,
		Values:   []float32{1, 0},
		Metadata: map[string]string{MetaSourcePath: "pkg/a.go"},
	})
	require.NoError(t, err)

	err = backend.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Put([]byte("aaa111"), bad)
	})
	require.NoError(t, err)

	_, err = backend.Load(ctx)
	assert.ErrorIs(t, err, types.ErrStoreCorruption)
}
