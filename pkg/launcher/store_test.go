package launcher

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T, ttl time.Duration, history int64) (*RedisSummaryStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisSummaryStoreWithClient(client, ttl, history), mr
}

func degradedSummary(id string) *Summary {
	started := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	return &Summary{
		LaunchID:       id,
		Outcome:        OutcomeDegraded,
		InstanceCount:  3,
		ModelReference: "/models/core.bin",
		Instances: []InstanceOutcome{
			{Ordinal: 0, InstanceName: "hw1", State: "Exited"},
			{Ordinal: 1, InstanceName: "hw2", State: "Exited", ExitCode: 3, ErrorCode: ErrorCodeBindFailed},
			{Ordinal: 2, InstanceName: "hw3", State: "Exited"},
		},
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
	}
}

func TestRedisSummaryStore_SaveLoad(t *testing.T) {
	store, mr := setupTestStore(t, 0, 0)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, degradedSummary("launch-a")))

	loaded, err := store.Load(ctx, "launch-a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDegraded, loaded.Outcome)
	assert.Equal(t, []int{1}, loaded.FailedOrdinals())
	assert.True(t, loaded.StartedAt.Equal(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)))

	states, err := store.InstanceStates(ctx, "launch-a")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"hw1": "Exited",
		"hw2": "Exited:BIND_FAILED",
		"hw3": "Exited",
	}, states)

	assert.True(t, mr.Exists("modelpool:launch:launch-a"))
	assert.True(t, mr.Exists("modelpool:launch:launch-a:instances"))
}

func TestRedisSummaryStore_NotFound(t *testing.T) {
	store, _ := setupTestStore(t, 0, 0)

	_, err := store.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSummaryNotFound)
}

func TestRedisSummaryStore_RecentIsCapped(t *testing.T) {
	store, _ := setupTestStore(t, 0, 2)
	ctx := context.Background()

	for _, id := range []string{"l1", "l2", "l3"} {
		require.NoError(t, store.Save(ctx, degradedSummary(id)))
	}

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"l3", "l2"}, recent)

	recent, err = store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestRedisSummaryStore_TTL(t *testing.T) {
	store, mr := setupTestStore(t, time.Hour, 0)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, degradedSummary("launch-ttl")))
	assert.Equal(t, time.Hour, mr.TTL("modelpool:launch:launch-ttl"))
	assert.Equal(t, time.Hour, mr.TTL("modelpool:launch:launch-ttl:instances"))

	mr.FastForward(2 * time.Hour)
	_, err := store.Load(ctx, "launch-ttl")
	assert.ErrorIs(t, err, ErrSummaryNotFound)
}

func TestNewRedisSummaryStore(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisSummaryStore(context.Background(), RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()

	_, err = NewRedisSummaryStore(context.Background(), RedisConfig{Address: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	assert.Error(t, err)
}

func TestLaunch_PersistsSummary(t *testing.T) {
	store, _ := setupTestStore(t, 0, 0)

	f := newLaunchFixture(t, 0)
	l := f.launcher(t)
	l.store = store

	s, err := l.Launch(context.Background())
	require.Error(t, err)

	loaded, err := store.Load(context.Background(), s.LaunchID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, loaded.Outcome)
	assert.Equal(t, ErrorCodeConfigurationInvalid, loaded.ErrorCode)

	recent, err := store.Recent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{s.LaunchID}, recent)
}
