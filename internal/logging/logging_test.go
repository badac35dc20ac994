package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		level       string
		development bool
		want        zapcore.Level
		wantErr     bool
	}{
		{name: "default level", want: zapcore.InfoLevel},
		{name: "debug development", level: "debug", development: true, want: zapcore.DebugLevel},
		{name: "warn production", level: "warn", want: zapcore.WarnLevel},
		{name: "invalid", level: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.development)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			assert.False(t, logger.Core().Enabled(tt.want-1))
		})
	}
}

func TestForWorker(t *testing.T) {
	t.Setenv(EnvInstance, "hw2")

	logger := ForWorker("info", false)
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))

	// A bad level degrades to a no-op logger instead of failing the worker
	nop := ForWorker("loud", false)
	assert.False(t, nop.Core().Enabled(zapcore.ErrorLevel))
}

func TestWorkerEnv(t *testing.T) {
	assert.Equal(t, []string{
		"MODELPOOL_LOG_DEVELOPMENT=true",
		"MODELPOOL_LOG_LEVEL=debug",
	}, WorkerEnv("debug", true))

	assert.Equal(t, []string{"MODELPOOL_LOG_DEVELOPMENT=false"}, WorkerEnv("", false))
}
