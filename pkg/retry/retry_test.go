package retry

import (
	"context"
	"testing"
	"time"

	"github.com/cuba/cuba/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryerSuccess(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryerRetryableError(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 10 * time.Millisecond
	config.Jitter = false
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.New(errors.KindIO, "connection timeout")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryerNonRetryableError(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	retryer := New(config)

	attempts := 0
	testErr := errors.New(errors.KindNotFound, "file not found")

	err := retryer.Do(func() error {
		attempts++
		return testErr
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryerMaxAttemptsExceeded(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 10 * time.Millisecond
	config.Jitter = false
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return errors.New(errors.KindIO, "network error")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryerContextCancellation(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 10
	config.InitialDelay = 100 * time.Millisecond
	retryer := New(config)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
		attempts++
		return errors.New(errors.KindIO, "connection failed")
	})

	require.Error(t, err)
	assert.Less(t, attempts, 10)
}

func TestRetryerExponentialBackoff(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 4
	config.InitialDelay = 100 * time.Millisecond
	config.MaxDelay = 1 * time.Second
	config.Multiplier = 2.0
	config.Jitter = false

	var delays []time.Duration
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}

	retryer := New(config)
	err := retryer.Do(func() error {
		return errors.New(errors.KindIO, "network error")
	})
	require.Error(t, err)

	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	require.Len(t, delays, len(expected))
	for i, d := range expected {
		assert.Equal(t, d, delays[i])
	}
}

func TestRetryerMaxDelayCap(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 10
	config.InitialDelay = 1 * time.Second
	config.MaxDelay = 2 * time.Second
	config.Multiplier = 2.0
	config.Jitter = false

	var maxDelay time.Duration
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		if delay > maxDelay {
			maxDelay = delay
		}
	}

	retryer := New(config)
	_ = retryer.Do(func() error {
		return errors.New(errors.KindIO, "network error")
	})

	assert.LessOrEqual(t, maxDelay, config.MaxDelay)
}

func TestRetryerOnRetryCallback(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 10 * time.Millisecond

	callbackCalled := 0
	var lastAttempt int
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		callbackCalled++
		lastAttempt = attempt
	}

	retryer := New(config)
	testErr := errors.New(errors.KindIO, "network error")
	_ = retryer.Do(func() error {
		return testErr
	})

	assert.Equal(t, 2, callbackCalled)
	assert.Equal(t, 2, lastAttempt)
}

func TestStatsCollector(t *testing.T) {
	collector := NewStatsCollector()

	collector.RecordAttempt(1, true, 100*time.Millisecond)
	collector.RecordAttempt(3, true, 500*time.Millisecond)
	collector.RecordAttempt(5, false, 1*time.Second)

	stats := collector.GetStats()

	assert.Equal(t, 3, stats.TotalAttempts)
	assert.Equal(t, 2, stats.SuccessfulRetry)
	assert.Equal(t, 1, stats.FailedRetry)
	assert.Equal(t, 5, stats.MaxAttemptsUsed)
	assert.Equal(t, 100*time.Millisecond+500*time.Millisecond+1*time.Second, stats.TotalDelay)
}

func TestRetryerJitterVariance(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 100 * time.Millisecond
	config.Jitter = true

	var delays []time.Duration
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}

	retryer := New(config)
	_ = retryer.Do(func() error {
		return errors.New(errors.KindIO, "network error")
	})

	baseDelay := config.InitialDelay
	hasVariance := false
	for _, delay := range delays {
		if delay != baseDelay {
			hasVariance = true
			break
		}
		baseDelay = time.Duration(float64(baseDelay) * config.Multiplier)
	}

	assert.True(t, hasVariance, "expected jitter to create variance in delays")
}
