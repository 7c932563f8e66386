package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OpenBoBS/internal/history"
)

func newTestStore() *MemoryStore {
	s := NewMemoryStore()
	clock := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &Task{ID: "t1", Text: "deploy", Mode: history.ModeManual, Status: StatusPending, MaxRetries: 2}))
	assert.ErrorIs(t, s.Create(ctx, &Task{ID: "t1"}), ErrTaskConflict)

	claimed, err := s.Claim(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	_, err = s.Claim(ctx, "t1")
	assert.True(t, IsTaskError(err, CodeTaskConflict))

	require.NoError(t, s.MarkFailed(ctx, "t1", "STORAGE_FAILURE", "disk", false))
	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "disk", got.LastError)

	_, err = s.Claim(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, s.MarkSucceeded(ctx, "t1", Result{Source: "Orchestrator", Body: "ok"}))

	_, err = s.Claim(ctx, "t1")
	assert.True(t, IsTaskError(err, CodeTaskCompleted))
	_, err = s.Claim(ctx, "missing")
	assert.True(t, IsTaskError(err, CodeTaskNotFound))

	got, err = s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, got.LastError)
	got.Result.Body = "mutated"
	again, _ := s.Get(ctx, "t1")
	assert.Equal(t, "ok", again.Result.Body)
}

func TestMemoryStoreClaimStopsAtMaxRetries(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &Task{ID: "t1", Text: "x", Status: StatusPending, MaxRetries: 1}))
	_, err := s.Claim(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, "t1", "TIMEOUT", "slow", false))
	_, err = s.Claim(ctx, "t1")
	assert.True(t, IsTaskError(err, CodeTaskExhausted))
}

func TestMemoryStoreListAndStats(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	for _, task := range []*Task{
		{ID: "t1", Text: "Plan the rollout", Status: StatusPending, MaxRetries: 2},
		{ID: "t2", Text: "Audit access", Status: StatusPending, MaxRetries: 2},
		{ID: "t3", Text: "Rollback drill", Status: StatusPending, MaxRetries: 2},
	} {
		require.NoError(t, s.Create(ctx, task))
	}
	require.NoError(t, s.MarkFailed(ctx, "t2", "TIMEOUT", "slow", true))
	require.NoError(t, s.MarkSucceeded(ctx, "t3", Result{Body: "canary ready"}))

	all, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"t3", "t2", "t1"}, []string{all[0].ID, all[1].ID, all[2].ID})

	asc, err := s.List(ctx, buildListOptions([]ListOption{WithSortOrder(SortByUpdatedAsc), WithLimit(2)}))
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, []string{asc[0].ID, asc[1].ID})

	failed, err := s.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed, "bogus")}))
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "t2", failed[0].ID)

	byQuery, err := s.List(ctx, buildListOptions([]ListOption{WithQuery("ROLL")}))
	require.NoError(t, err)
	assert.Len(t, byQuery, 2)
	byResult, err := s.List(ctx, buildListOptions([]ListOption{WithQuery("canary")}))
	require.NoError(t, err)
	require.Len(t, byResult, 1)
	assert.Equal(t, "t3", byResult[0].ID)

	stats, err := s.Stats(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, TaskStats{Total: 3, Pending: 1, Succeeded: 1, Failed: 1,
		OldestUpdatedAt: 1_700_000_001, NewestUpdatedAt: 1_700_000_005}, stats)
}

func TestMemoryQueueRejectsPublishAfterClose(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, "a"))
	assert.Equal(t, 1, q.Len())
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.Error(t, q.Publish(ctx, "b"))
}
