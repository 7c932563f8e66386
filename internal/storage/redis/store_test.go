package redis

import (
	"context"
	stdErrors "errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"OpenBoBS/internal/storage"
)

// 需要真实的 Redis：OPENBOBS_TEST_REDIS_ADDR=127.0.0.1:6379 go test ./...
func TestStoreAgainstRedis(t *testing.T) {
	addr := os.Getenv("OPENBOBS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("OPENBOBS_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	store, err := Open(ctx, Config{Address: addr, Prefix: "openbobs-test:" + uuid.NewString() + ":"})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(ctx, "openbobs-workflow-history")
	require.True(t, stdErrors.Is(err, storage.ErrNotFound))

	require.NoError(t, store.Set(ctx, "openbobs-workflow-history", []byte(`[]`)))
	got, err := store.Get(ctx, "openbobs-workflow-history")
	require.NoError(t, err)
	require.Equal(t, `[]`, string(got))
	require.NoError(t, store.client.Del(ctx, store.prefix+"openbobs-workflow-history").Err())
}

func TestOpenRequiresAddress(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}
