package automation

import (
	"context"
	"errors"
	"time"

	"cdpstealth/pkg/domain"
)

// Predicate 轮询判定，ok 为 true 时返回 v；err 非空立即终止轮询
type Predicate[T any] func(ctx context.Context) (v T, ok bool, err error)

// PollUntil 以固定间隔调用 pred，直到满足或超过 timeout。
// ctx 的截止时间更早时以其为准，两种到期都返回 Timeout
func PollUntil[T any](ctx context.Context, interval, timeout time.Duration, op string, pred Predicate[T]) (T, error) {
	var zero T
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	pctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	expired := func(err error) bool {
		return pctx.Err() == context.DeadlineExceeded &&
			(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrTimeout))
	}
	for {
		v, ok, err := pred(pctx)
		if err != nil {
			if expired(err) {
				return zero, &domain.TimeoutError{Op: op, After: timeout}
			}
			return zero, err
		}
		if ok {
			return v, nil
		}
		left := time.Until(deadline)
		if left <= 0 {
			return zero, &domain.TimeoutError{Op: op, After: timeout}
		}
		if err := sleep(pctx, min(interval, left)); err != nil {
			if expired(err) {
				return zero, &domain.TimeoutError{Op: op, After: timeout}
			}
			return zero, err
		}
	}
}

// WithRetry 最多执行 attempts 次，间隔固定为 delay；连接或会话终止时不再重试
func WithRetry[T any](ctx context.Context, attempts int, delay time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 1; i <= attempts; i++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		last = err
		if domain.IsTerminal(err) || ctx.Err() != nil {
			return zero, err
		}
		if i < attempts {
			if err := sleep(ctx, delay); err != nil {
				return zero, err
			}
		}
	}
	return zero, &domain.RetryExhaustedError{Attempts: attempts, LastErr: last}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
