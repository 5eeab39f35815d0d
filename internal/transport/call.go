package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"cdpstealth/pkg/domain"
)

// Call 一次命令调用的结果槽
type Call struct {
	ID        int64
	Method    string
	SessionID domain.SessionID

	t       *Transport
	timer   *time.Timer
	tracked bool
	started time.Time

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

func newCall(t *Transport, method string, sessionID domain.SessionID) *Call {
	return &Call{
		Method:    method,
		SessionID: sessionID,
		t:         t,
		started:   time.Now(),
		done:      make(chan struct{}),
	}
}

func (c *Call) finish(result json.RawMessage, err error) {
	c.once.Do(func() {
		c.result, c.err = result, err
		if c.tracked {
			c.t.metrics.CommandFinished(c.Method, outcome(err), time.Since(c.started))
		}
		close(c.done)
	})
}

// Done 命令完成时关闭
func (c *Call) Done() <-chan struct{} { return c.done }

// Result 完成后的结果，未完成时返回 nil, nil
func (c *Call) Result() (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	default:
		return nil, nil
	}
}

// Wait 等待完成；ctx 结束时放弃该命令，迟到的响应会被丢弃
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
	}
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		err = &domain.TimeoutError{Op: c.Method, After: time.Since(c.started)}
	}
	c.Abandon(err)
	<-c.done
	return c.result, c.err
}

// Abandon 从等待表移除命令并以 err 完成，已完成的命令不受影响
func (c *Call) Abandon(err error) {
	if c.tracked {
		c.t.complete(c.ID, nil, err)
		return
	}
	c.finish(nil, err)
}

func outcome(err error) string {
	var pe *domain.ProtocolError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrTransportClosed):
		return "closed"
	case errors.As(err, &pe):
		return "protocol_error"
	default:
		return "error"
	}
}
