package transport

import (
	"context"
	"errors"
	"sync"

	"cdpstealth/internal/protocol"
	"cdpstealth/pkg/domain"
)

// ErrSubscriptionClosed 订阅已被调用方关闭
var ErrSubscriptionClosed = errors.New("subscription closed")

// Subscription 无界有序事件队列，按到达顺序交付
type Subscription struct {
	t         *Transport
	sessionID domain.SessionID
	methods   []string

	mu     sync.Mutex
	queue  []protocol.Event
	closed bool
	err    error
	notify chan struct{}
	done   chan struct{}
}

func newSubscription(t *Transport, sessionID domain.SessionID, methods []string) *Subscription {
	return &Subscription{
		t:         t,
		sessionID: sessionID,
		methods:   append([]string(nil), methods...),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (s *Subscription) push(ev protocol.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Recv 取下一个事件。连接或会话结束后先交付已排队的事件，取完再返回结束原因
func (s *Subscription) Recv(ctx context.Context) (protocol.Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = protocol.Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		if s.closed {
			err := s.err
			s.mu.Unlock()
			return protocol.Event{}, err
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return protocol.Event{}, ctx.Err()
		}
	}
}

// Done 订阅结束时关闭，此时队列中可能仍有未读事件
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err 结束原因
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close 取消订阅并丢弃未读事件
func (s *Subscription) Close() {
	if s.t != nil {
		s.t.unsubscribe(s)
	}
	s.terminate(ErrSubscriptionClosed, true)
}

// CloseWithError 停止接收新事件，已排队的事件读完后 Recv 返回 err
func (s *Subscription) CloseWithError(err error) {
	if s.t != nil {
		s.t.unsubscribe(s)
	}
	s.terminate(err, false)
}

func (s *Subscription) terminate(err error, discard bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		if discard {
			s.queue = nil
		}
		return
	}
	s.closed = true
	s.err = err
	if discard {
		s.queue = nil
	}
	close(s.done)
}
