//go:build linux

package procmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-modelpool/internal/testutil/workerproc"
)

// The worker only exits cleanly once its own child has stopped, which needs
// SIGTERM to reach the whole process group.
func TestSupervisor_TerminateSignalsProcessGroup(t *testing.T) {
	f := newLaunchFixture(t, 1)
	s := NewSupervisor(f.channel,
		WithCommand(workerproc.Command(nil, workerproc.ModeFork)),
		WithReadinessTimeout(0),
	)
	require.NoError(t, s.Spawn(context.Background(), f.instances[0]))

	s.Terminate(5 * time.Second)

	results := s.JoinAll(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, WorkerStateExited, results[0].State)
	assert.Equal(t, 0, results[0].ExitCode)
}
