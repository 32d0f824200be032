package httpx

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
)

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   arcerrors.Kind
	}{
		{"unauthorized", http.StatusUnauthorized, errors.New("x"), arcerrors.KindAuth},
		{"forbidden", http.StatusForbidden, errors.New("x"), arcerrors.KindAuth},
		{"rate limited", http.StatusTooManyRequests, errors.New("x"), arcerrors.KindRateLimit},
		{"server error", http.StatusInternalServerError, errors.New("x"), arcerrors.KindNetwork},
		{"bad request", http.StatusBadRequest, errors.New("x"), arcerrors.KindParse},
		{"context deadline", 0, context.DeadlineExceeded, arcerrors.KindCancelled},
		{"context cancelled", 0, context.Canceled, arcerrors.KindCancelled},
		{"unknown transport error", 0, errors.New("connection reset"), arcerrors.KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err, tt.status))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(arcerrors.KindNetwork))
	assert.True(t, Retryable(arcerrors.KindRateLimit))
	assert.False(t, Retryable(arcerrors.KindAuth))
	assert.False(t, Retryable(arcerrors.KindParse))
}

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), "github", "list_prs", func(ctx context.Context) (int, time.Duration, error) {
		calls++
		return 200, 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientFailureThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), "github", "list_prs", func(ctx context.Context) (int, time.Duration, error) {
		calls++
		if calls < 3 {
			return 503, 0, errors.New("server unavailable")
		}
		return 200, 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_AuthFailureStopsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), "github", "list_prs", func(ctx context.Context) (int, time.Duration, error) {
		calls++
		return 401, 0, errors.New("bad credentials")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, arcerrors.KindAuth, arcerrors.KindOf(err))
}

func TestDo_NonRetryableParseErrorStopsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), "github", "list_prs", func(ctx context.Context) (int, time.Duration, error) {
		calls++
		return 400, 0, errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, arcerrors.KindParse, arcerrors.KindOf(err))
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), "github", "list_prs", func(ctx context.Context) (int, time.Duration, error) {
		calls++
		return 503, 0, errors.New("still down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, arcerrors.KindNetwork, arcerrors.KindOf(err))
}

func TestDo_HonorsRateLimitResetAfter(t *testing.T) {
	calls := 0
	start := time.Now()
	err := Do(context.Background(), fastPolicy(2), "github", "list_prs", func(ctx context.Context) (int, time.Duration, error) {
		calls++
		if calls == 1 {
			return 429, 10 * time.Millisecond, errors.New("rate limited")
		}
		return 200, 0, nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestDo_CancelledContextDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}, "github", "list_prs", func(ctx context.Context) (int, time.Duration, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return 503, 0, errors.New("server unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, arcerrors.KindCancelled, arcerrors.KindOf(err))
}
