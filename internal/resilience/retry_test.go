package resilience

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BackoffStep: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(eris.New("flaky"), http.StatusServiceUnavailable)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnNonTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
		calls++
		return eris.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(4), func(ctx context.Context) error {
		calls++
		return NewTransientError(eris.New("still down"), http.StatusBadGateway)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestDo_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastConfig(10), func(ctx context.Context) error {
		calls++
		cancel()
		return NewTransientError(eris.New("down"), http.StatusInternalServerError)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error) { attempts = append(attempts, attempt) }

	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		return NewTransientError(eris.New("down"), http.StatusGatewayTimeout)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestComputeBackoff_LinearWithCap(t *testing.T) {
	cfg := RetryConfig{BackoffStep: 2 * time.Second, MaxBackoff: 15 * time.Second, MaxAttempts: 10}
	assert.Equal(t, 2*time.Second, computeBackoff(0, cfg))
	assert.Equal(t, 4*time.Second, computeBackoff(1, cfg))
	assert.Equal(t, 14*time.Second, computeBackoff(6, cfg))
	assert.Equal(t, 15*time.Second, computeBackoff(7, cfg))
	assert.Equal(t, 15*time.Second, computeBackoff(20, cfg))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, status := range []int{408, 425, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(status), "status %d", status)
	}
	for _, status := range []int{200, 201, 301, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(status), "status %d", status)
	}
}

func TestIsTransient_UnwrapsTransientError(t *testing.T) {
	inner := eris.New("kaput")
	wrapped := eris.Wrap(NewTransientError(inner, http.StatusBadGateway), "outer")
	assert.True(t, IsTransient(wrapped))
	assert.False(t, IsTransient(eris.New("plain failure")))
}
