package resilience

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(maxAttempts int, retryable bool) RetryConfig {
	return RetryConfig{
		MaxAttempts:     maxAttempts,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		BackoffFactor:   2.0,
		RetryableErrors: func(error) bool { return retryable },
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := RetryWithConfig(context.Background(), fastRetryConfig(5, true), func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	boom := fmt.Errorf("permanent")
	err := RetryWithConfig(context.Background(), fastRetryConfig(5, false), func() error {
		attempts++
		return boom
	})

	assert.Equal(t, boom, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	boom := fmt.Errorf("still broken")
	err := RetryWithConfig(context.Background(), fastRetryConfig(3, true), func() error {
		attempts++
		return boom
	})

	assert.Equal(t, boom, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := RetryWithConfig(ctx, fastRetryConfig(3, true), func() error {
		attempts++
		return fmt.Errorf("never retried")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, attempts)
}

func TestCalculateDelayCapsAtMax(t *testing.T) {
	config := RetryConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      300 * time.Millisecond,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(config, 0))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(config, 1))
	assert.Equal(t, 300*time.Millisecond, calculateDelay(config, 2))
	assert.Equal(t, 300*time.Millisecond, calculateDelay(config, 5))
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	retryable := []int{408, 429, 500, 502, 503, 504}
	for _, code := range retryable {
		assert.True(t, IsRetryableHTTPStatus(code), "status %d", code)
	}

	terminal := []int{200, 201, 301, 400, 401, 403, 404, 422}
	for _, code := range terminal {
		assert.False(t, IsRetryableHTTPStatus(code), "status %d", code)
	}
}
