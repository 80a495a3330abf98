package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errTransient = errors.New("transient")

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:     maxRetries,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, 1*time.Second, config.InitialBackoff)
	assert.Equal(t, 30*time.Second, config.MaxBackoff)
	assert.Equal(t, 2.0, config.BackoffFactor)
}

func TestRetrier_Do_Success(t *testing.T) {
	r := NewRetrier(zap.NewNop(), nil)

	called := 0
	err := r.Do(context.Background(), "test-op", func() error {
		called++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, called)
}

func TestRetrier_Do_SuccessAfterRetry(t *testing.T) {
	r := NewRetrier(zap.NewNop(), nil, fastRetryConfig(3))

	called := 0
	err := r.Do(context.Background(), "test-op", func() error {
		called++
		if called < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, called)
}

func TestRetrier_Do_MaxRetriesExceeded(t *testing.T) {
	r := NewRetrier(zap.NewNop(), nil, fastRetryConfig(2))

	called := 0
	err := r.Do(context.Background(), "test-op", func() error {
		called++
		return errTransient
	})

	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, called) // 초기 시도 + 2번 재시도
}

func TestRetrier_Do_NonRetryableError(t *testing.T) {
	permanent := errors.New("permanent")
	r := NewRetrier(zap.NewNop(), func(err error) bool {
		return errors.Is(err, errTransient)
	}, fastRetryConfig(3))

	called := 0
	err := r.Do(context.Background(), "test-op", func() error {
		called++
		return permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, called)
}

func TestRetrier_Do_ContextCancelled(t *testing.T) {
	r := NewRetrier(zap.NewNop(), nil, RetryConfig{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Second,
		BackoffFactor:  1.0,
	})
	ctx, cancel := context.WithCancel(context.Background())

	called := 0
	err := r.Do(ctx, "test-op", func() error {
		called++
		cancel()
		return errTransient
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, called)
}
