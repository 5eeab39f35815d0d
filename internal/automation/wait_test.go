package automation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cdpstealth/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetrySucceedsOnThirdAttempt(t *testing.T) {
	var calls atomic.Int32
	start := time.Now()
	v, err := WithRetry(context.Background(), 3, 100*time.Millisecond, func(context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.EqualValues(t, 3, calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestWithRetryExhausted(t *testing.T) {
	e := errors.New("E")
	var calls atomic.Int32
	_, err := WithRetry(context.Background(), 2, 50*time.Millisecond, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, e
	})
	var re *domain.RetryExhaustedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 2, re.Attempts)
	assert.Same(t, e, re.LastErr)
	assert.EqualValues(t, 2, calls.Load())
}

func TestWithRetryStopsOnTerminal(t *testing.T) {
	var calls atomic.Int32
	_, err := WithRetry(context.Background(), 5, time.Millisecond, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, domain.TransportClosed(nil)
	})
	assert.ErrorIs(t, err, domain.ErrTransportClosed)
	assert.NotErrorIs(t, err, domain.ErrRetryExhausted)
	assert.EqualValues(t, 1, calls.Load())
}

func TestWithRetryHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	start := time.Now()
	_, err := WithRetry(ctx, 3, time.Second, func(context.Context) (int, error) {
		return 0, errors.New("x")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPollUntilFixedInterval(t *testing.T) {
	var calls atomic.Int32
	start := time.Now()
	v, err := PollUntil(context.Background(), 20*time.Millisecond, time.Second, "count", func(context.Context) (int32, bool, error) {
		n := calls.Add(1)
		return n, n == 4, nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4, v)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestPollUntilTimeout(t *testing.T) {
	var calls atomic.Int32
	_, err := PollUntil(context.Background(), 10*time.Millisecond, 55*time.Millisecond, "never", func(context.Context) (struct{}, bool, error) {
		calls.Add(1)
		return struct{}{}, false, nil
	})
	var te *domain.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "never", te.Op)
	assert.GreaterOrEqual(t, calls.Load(), int32(5))
}

func TestPollUntilStopsOnError(t *testing.T) {
	boom := &domain.ProtocolError{Method: "DOM.getBoxModel", Code: -32000, Message: "internal"}
	var calls atomic.Int32
	_, err := PollUntil(context.Background(), time.Millisecond, time.Second, "x", func(context.Context) (int, bool, error) {
		calls.Add(1)
		return 0, false, boom
	})
	assert.Same(t, boom, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestPollUntilImmediateSuccessRunsOnce(t *testing.T) {
	var calls atomic.Int32
	_, err := PollUntil(context.Background(), time.Hour, time.Hour, "x", func(context.Context) (bool, bool, error) {
		calls.Add(1)
		return true, true, nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestPollUntilCallerDeadlineIsTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := PollUntil(ctx, 5*time.Millisecond, time.Hour, "short", func(context.Context) (int, bool, error) {
		return 0, false, nil
	})
	assert.ErrorIs(t, err, domain.ErrTimeout)
}
