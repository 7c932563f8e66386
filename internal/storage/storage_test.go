package storage

import (
	"context"
	stdErrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "openbobs-workflow-history")
	require.True(t, stdErrors.Is(err, ErrNotFound), "expected not found, got %v", err)

	require.NoError(t, store.Set(ctx, "openbobs-workflow-history", []byte(`[{"task":"a"}]`)))
	require.NoError(t, store.Set(ctx, "openbobs-workflow-history", []byte(`[{"task":"b"}]`)))

	got, err := store.Get(ctx, "openbobs-workflow-history")
	require.NoError(t, err)
	require.JSONEq(t, `[{"task":"b"}]`, string(got))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	exerciseStore(t, store)

	// 返回值是副本，修改不影响存储内容。
	got, err := store.Get(context.Background(), "openbobs-workflow-history")
	require.NoError(t, err)
	got[0] = 'X'
	again, err := store.Get(context.Background(), "openbobs-workflow-history")
	require.NoError(t, err)
	require.Equal(t, byte('['), again[0])
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	exerciseStore(t, store)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")
	require.Equal(t, "openbobs-workflow-history.json", entries[0].Name())
}

func TestFileStoreRejectsPathKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.Error(t, store.Set(context.Background(), "../escape", []byte("{}")))
	_, err = store.Get(context.Background(), "")
	require.Error(t, err)
}
