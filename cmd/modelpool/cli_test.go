package main

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-modelpool/pkg/handoff"
	"github.com/jrepp/prism-modelpool/pkg/launcher"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--protocol")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(handoff.ProtocolVersion), strings.TrimSpace(out))
}

func TestSummaryCommand(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := launcher.NewRedisSummaryStoreWithClient(client, 0, 0)
	started := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(context.Background(), &launcher.Summary{
		LaunchID:      "launch-cli",
		Outcome:       launcher.OutcomeHealthy,
		InstanceCount: 1,
		Instances:     []launcher.InstanceOutcome{{Ordinal: 0, InstanceName: "hw1", State: "Exited"}},
		StartedAt:     started,
		FinishedAt:    started.Add(time.Second),
	}))

	t.Setenv("MODELPOOL_STORE_BACKEND", "redis")
	t.Setenv("MODELPOOL_STORE_REDIS_ADDRESS", mr.Addr())

	out, err := execute(t, "summary")
	require.NoError(t, err)
	assert.Equal(t, "launch-cli\n", out)

	out, err = execute(t, "summary", "launch-cli")
	require.NoError(t, err)
	assert.Contains(t, out, "launch launch-cli: all 1 instances healthy")

	_, err = execute(t, "summary", "missing")
	assert.ErrorIs(t, err, launcher.ErrSummaryNotFound)
}

func TestSummaryCommand_NoStore(t *testing.T) {
	t.Setenv("MODELPOOL_STORE_BACKEND", "none")

	_, err := execute(t, "summary")
	assert.ErrorContains(t, err, "no summary store configured")
}
