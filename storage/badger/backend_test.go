package badger

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := t.TempDir()
	backend, err := OpenBackend(tmpDir+"/db", false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
	assert.DirExists(t, tmpDir+"/db")
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)

	assert.False(t, backend.IsClosed())

	err = backend.Close()
	require.NoError(t, err)

	assert.True(t, backend.IsClosed())
}

func TestBackendUpdate_RetriesOnConflict(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	key := []byte("counter")
	require.NoError(t, backend.Update(ctx, func(tx *badger.Txn) error {
		return tx.Set(key, []byte("0"))
	}))

	calls := 0
	err = backend.Update(ctx, func(tx *badger.Txn) error {
		calls++
		if _, err := tx.Get(key); err != nil {
			return err
		}
		if calls == 1 {
			// A competing writer commits between our read and our commit
			require.NoError(t, backend.Update(ctx, func(other *badger.Txn) error {
				return other.Set(key, []byte("1"))
			}))
		}
		return tx.Set(key, []byte("2"))
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	var value []byte
	require.NoError(t, backend.View(func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	}))
	assert.Equal(t, "2", string(value))
}

func TestBackendUpdate_CancelledContext(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err = backend.Update(ctx, func(tx *badger.Txn) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestDeletePrefix(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	require.NoError(t, backend.Update(ctx, func(tx *badger.Txn) error {
		for _, k := range []string{"a:1", "a:2", "b:1"} {
			if err := tx.Set([]byte(k), []byte("x")); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, backend.Update(ctx, func(tx *badger.Txn) error {
		return deletePrefix(tx, []byte("a:"))
	}))

	var keys []string
	require.NoError(t, backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, nil, func(key, _ []byte) error {
			keys = append(keys, string(key))
			return nil
		})
	}))
	assert.Equal(t, []string{"b:1"}, keys)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1e-6)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Equal(t, float32(0), cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}
