package procmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestJitter tests jitter function
func TestJitter(t *testing.T) {
	baseDelay := 1 * time.Second

	// No jitter
	result := Jitter(baseDelay, 0.0)
	assert.Equal(t, baseDelay, result)

	// 50% jitter - should be between 0.5s and 1.5s
	for i := 0; i < 100; i++ {
		result := Jitter(baseDelay, 0.5)
		assert.GreaterOrEqual(t, result, 500*time.Millisecond)
		assert.LessOrEqual(t, result, 1500*time.Millisecond)
	}

	// Fractions above 1 are clamped
	for i := 0; i < 100; i++ {
		result := Jitter(baseDelay, 3.0)
		assert.GreaterOrEqual(t, result, 0*time.Millisecond)
		assert.LessOrEqual(t, result, 2*time.Second)
	}
}

// TestExponentialBackoff tests the probe backoff schedule
func TestExponentialBackoff(t *testing.T) {
	baseDelay := 50 * time.Millisecond
	maxDelay := 1 * time.Second

	tests := []struct {
		attempt     int
		minExpected time.Duration
		maxExpected time.Duration
	}{
		{-3, 37500 * time.Microsecond, 62500 * time.Microsecond}, // treated as attempt 0
		{0, 37500 * time.Microsecond, 62500 * time.Microsecond},  // 50ms ± 25%
		{1, 75 * time.Millisecond, 125 * time.Millisecond},       // 100ms ± 25%
		{3, 300 * time.Millisecond, 500 * time.Millisecond},      // 400ms ± 25%
		{5, 750 * time.Millisecond, 1250 * time.Millisecond},     // 1.6s capped at 1s ± 25%
		{20, 750 * time.Millisecond, 1250 * time.Millisecond},    // way over, capped
	}

	for _, tt := range tests {
		result := ExponentialBackoff(tt.attempt, baseDelay, maxDelay)
		assert.GreaterOrEqual(t, result, tt.minExpected,
			"Attempt %d should be >= %v, got %v", tt.attempt, tt.minExpected, result)
		assert.LessOrEqual(t, result, tt.maxExpected,
			"Attempt %d should be <= %v, got %v", tt.attempt, tt.maxExpected, result)
	}
}

// BenchmarkExponentialBackoff benchmarks backoff calculation
func BenchmarkExponentialBackoff(b *testing.B) {
	baseDelay := 50 * time.Millisecond
	maxDelay := 1 * time.Second

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ExponentialBackoff(i%10, baseDelay, maxDelay)
	}
}
