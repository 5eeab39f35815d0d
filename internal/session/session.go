package session

import (
	"context"
	"encoding/json"
	"sync"

	"cdpstealth/internal/transport"
	"cdpstealth/pkg/domain"
)

// Session 一个已附加目标的命令/事件通道。
// 持有对传输层的非拥有引用，生命周期不超过传输层。
type Session struct {
	ID       domain.SessionID
	TargetID domain.TargetID

	wire Wire

	mu       sync.Mutex
	subs     map[*transport.Subscription]struct{}
	detached bool
	done     chan struct{}
}

func newSession(id domain.SessionID, targetID domain.TargetID, w Wire) *Session {
	return &Session{
		ID:       id,
		TargetID: targetID,
		wire:     w,
		subs:     make(map[*transport.Subscription]struct{}),
		done:     make(chan struct{}),
	}
}

// Send 发送带本会话 sessionId 的命令。会话分离后等待中的命令以 FrameNotFound 结束
func (s *Session) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	select {
	case <-s.done:
		return nil, domain.FrameNotFound(s.ID)
	default:
	}
	c := s.wire.Go(ctx, s.ID, method, params)
	select {
	case <-c.Done():
		return c.Result()
	case <-s.done:
		c.Abandon(domain.FrameNotFound(s.ID))
		<-c.Done()
		return c.Result()
	case <-ctx.Done():
		return c.Wait(ctx)
	}
}

// Subscribe 订阅本会话的事件，多个方法共享一个有序队列
func (s *Session) Subscribe(methods ...string) *transport.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		sub := s.wire.Subscribe(s.ID)
		sub.CloseWithError(domain.FrameNotFound(s.ID))
		return sub
	}
	for sub := range s.subs {
		select {
		case <-sub.Done():
			delete(s.subs, sub)
		default:
		}
	}
	sub := s.wire.Subscribe(s.ID, methods...)
	s.subs[sub] = struct{}{}
	return sub
}

// Done 会话分离时关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// Detached 会话是否已分离
func (s *Session) Detached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

func (s *Session) detach() bool {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return false
	}
	s.detached = true
	subs := s.subs
	s.subs = nil
	close(s.done)
	s.mu.Unlock()

	err := domain.FrameNotFound(s.ID)
	for sub := range subs {
		sub.CloseWithError(err)
	}
	return true
}
