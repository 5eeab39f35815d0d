package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"cdpstealth/internal/cdp"
	"cdpstealth/internal/logger"
	"cdpstealth/internal/metrics"
	"cdpstealth/internal/transport"
	"cdpstealth/pkg/domain"

	"github.com/mafredri/cdp/protocol/target"
)

// Wire 会话复用所需的传输层能力
type Wire interface {
	Send(ctx context.Context, method string, params any) (json.RawMessage, error)
	Go(ctx context.Context, sessionID domain.SessionID, method string, params any) *transport.Call
	Subscribe(sessionID domain.SessionID, methods ...string) *transport.Subscription
}

// Manager 会话复用器，维护 sessionId 到会话的映射
type Manager struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*Session
	wire     Wire
	target   *cdp.Target
	log      logger.Logger
	metrics  *metrics.Collector

	lifecycle *transport.Subscription
	stopped   chan struct{}
}

// NewManager 创建会话管理器并监听浏览器发起的分离事件
func NewManager(w Wire, l logger.Logger, m *metrics.Collector) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	mgr := &Manager{
		sessions: make(map[domain.SessionID]*Session),
		wire:     w,
		target:   cdp.NewClient(w).Target,
		log:      l,
		metrics:  m,
		stopped:  make(chan struct{}),
	}
	mgr.lifecycle = w.Subscribe("", "Target.detachedFromTarget", "Target.targetDestroyed", "Target.targetCrashed")
	go mgr.watch()
	return mgr
}

func (m *Manager) watch() {
	defer close(m.stopped)
	for {
		ev, err := m.lifecycle.Recv(context.Background())
		if err != nil {
			if !errors.Is(err, transport.ErrSubscriptionClosed) {
				m.log.Debug("目标生命周期监听结束", "error", err)
			}
			return
		}
		switch ev.Method {
		case "Target.detachedFromTarget":
			m.drop(domain.SessionID(ev.Get("sessionId").String()), "浏览器分离会话")
		case "Target.targetDestroyed", "Target.targetCrashed":
			tid := domain.TargetID(ev.Get("targetId").String())
			for _, s := range m.List() {
				if s.TargetID == tid {
					m.drop(s.ID, ev.Method)
				}
			}
		}
	}
}

// Attach 以 flatten 模式附加目标并注册会话
func (m *Manager) Attach(ctx context.Context, id domain.TargetID) (*Session, error) {
	reply, err := m.target.AttachToTarget(ctx, target.NewAttachToTargetArgs(target.ID(id)).SetFlatten(true))
	if err != nil {
		return nil, err
	}
	s := newSession(domain.SessionID(reply.SessionID), id, m.wire)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.metrics.SessionAttached()
	m.log.Info("附加目标会话", "sessionID", string(s.ID), "target", string(id))
	return s, nil
}

// Detach 分离会话，浏览器返回错误时本地仍然移除
func (m *Manager) Detach(ctx context.Context, s *Session) error {
	if s.Detached() {
		return nil
	}
	err := m.target.DetachFromTarget(ctx, target.NewDetachFromTargetArgs().SetSessionID(target.SessionID(s.ID)))
	m.drop(s.ID, "主动分离")
	if err != nil {
		m.log.Warn("分离会话失败", "sessionID", string(s.ID), "error", err)
	}
	return err
}

func (m *Manager) drop(id domain.SessionID, reason string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	if s.detach() {
		m.metrics.SessionDetached()
		m.log.Info("销毁目标会话", "sessionID", string(id), "target", string(s.TargetID), "reason", reason)
	}
}

// Get 获取会话
func (m *Manager) Get(id domain.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List 返回所有活动会话
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	return list
}

// Close 停止监听并丢弃所有会话，不向浏览器发送命令
func (m *Manager) Close() {
	m.lifecycle.Close()
	<-m.stopped
	for _, s := range m.List() {
		m.drop(s.ID, "管理器关闭")
	}
}
