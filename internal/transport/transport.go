// Package transport 在单条 websocket 连接上复用并发命令与事件。
//
// 一个读协程独占连接读端，按 id 完成等待中的命令，按 (sessionId, method)
// 把事件分发给订阅者。写端只在分配 id 和写帧时串行。
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"cdpstealth/internal/logger"
	"cdpstealth/internal/metrics"
	"cdpstealth/internal/protocol"
	"cdpstealth/internal/rules"
	"cdpstealth/pkg/domain"

	"github.com/gorilla/websocket"
)

// DefaultCommandTimeout 单条命令的默认超时
const DefaultCommandTimeout = 30 * time.Second

// Conn 双工消息连接，*websocket.Conn 满足该接口
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Options 传输层选项
type Options struct {
	CommandTimeout time.Duration
	// Filter 命令过滤表，为空时使用 rules.Default()
	Filter *rules.Engine
	// FailBlocked 为 true 时被拦截命令返回 FilteredCommand 错误而不是空结果
	FailBlocked bool
	Logger      logger.Logger
	Metrics     *metrics.Collector
	Dialer      *websocket.Dialer
	Header      http.Header
}

type subKey struct {
	session domain.SessionID
	method  string
}

// Transport 单连接上的命令/事件复用器
type Transport struct {
	conn    Conn
	opts    Options
	filter  *rules.Engine
	log     logger.Logger
	metrics *metrics.Collector

	nextID  atomic.Int64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]*Call
	subs    map[subKey]map[*Subscription]struct{}
	closed  bool
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

// Dial 连接调试端点并启动读协程
func Dial(ctx context.Context, endpoint string, opts Options) (*Transport, error) {
	d := opts.Dialer
	if d == nil {
		d = &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   64 << 10,
			WriteBufferSize:  64 << 10,
		}
	}
	conn, resp, err := d.DialContext(ctx, endpoint, opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, domain.TransportClosed(fmt.Errorf("dial %s: %w", endpoint, err))
	}
	return New(conn, opts), nil
}

// New 包装已建立的连接
func New(conn Conn, opts Options) *Transport {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.Filter == nil {
		opts.Filter = rules.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	t := &Transport{
		conn:    conn,
		opts:    opts,
		filter:  opts.Filter,
		log:     opts.Logger,
		metrics: opts.Metrics,
		pending: make(map[int64]*Call),
		subs:    make(map[subKey]map[*Subscription]struct{}),
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Send 发送浏览器级命令并等待结果
func (t *Transport) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return t.Go(ctx, "", method, params).Wait(ctx)
}

// SendSession 发送带 sessionId 的命令并等待结果
func (t *Transport) SendSession(ctx context.Context, sessionID domain.SessionID, method string, params any) (json.RawMessage, error) {
	return t.Go(ctx, sessionID, method, params).Wait(ctx)
}

// Go 异步发送命令，返回的 Call 在响应、超时或连接关闭时完成
func (t *Transport) Go(ctx context.Context, sessionID domain.SessionID, method string, params any) *Call {
	c := newCall(t, method, sessionID)

	d := t.filter.Eval(method)
	if d.Blocked() {
		t.metrics.CommandFiltered(method)
		t.log.Debug("命令已被过滤", "method", method, "session", string(sessionID), "reason", d.Rule.Reason)
		if d.Rule.Fail || t.opts.FailBlocked {
			c.finish(nil, &domain.FilteredCommandError{Method: method, Reason: d.Rule.Reason})
		} else {
			c.finish(protocol.EmptyObject, nil)
		}
		return c
	}
	if d.Warned() {
		t.log.Warn("发送高风险命令", "method", method, "reason", d.Rule.Reason)
	}

	raw, err := protocol.MarshalParams(params)
	if err != nil {
		c.finish(nil, fmt.Errorf("marshal %s params: %w", method, err))
		return c
	}
	c.ID = t.nextID.Add(1)
	frame, err := protocol.EncodeRequest(c.ID, method, raw, sessionID)
	if err != nil {
		c.finish(nil, fmt.Errorf("encode %s: %w", method, err))
		return c
	}

	timeout := t.opts.CommandTimeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}

	t.mu.Lock()
	if t.closed {
		err := t.err
		t.mu.Unlock()
		c.finish(nil, err)
		return c
	}
	t.pending[c.ID] = c
	c.tracked = true
	id := c.ID
	c.timer = time.AfterFunc(timeout, func() { t.expire(id, timeout) })
	t.mu.Unlock()
	t.metrics.CommandStarted()

	if err := t.write(frame); err != nil {
		cause := domain.TransportClosed(fmt.Errorf("write %s: %w", method, err))
		t.complete(id, nil, cause)
		t.shutdown(cause)
	}
	return c
}

func (t *Transport) write(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

// take 从等待表移除并返回命令，保证每个 id 只被完成一次
func (t *Transport) take(id int64) *Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.pending[id]
	if !ok {
		return nil
	}
	delete(t.pending, id)
	return c
}

func (t *Transport) complete(id int64, result json.RawMessage, err error) bool {
	c := t.take(id)
	if c == nil {
		return false
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.finish(result, err)
	return true
}

func (t *Transport) expire(id int64, after time.Duration) {
	c := t.take(id)
	if c == nil {
		return
	}
	t.log.Warn("命令超时", "method", c.Method, "id", id, "timeout", after)
	c.finish(nil, &domain.TimeoutError{Op: c.Method, After: after})
}

func (t *Transport) readLoop() {
	for {
		_, frame, err := t.conn.ReadMessage()
		if err != nil {
			t.shutdown(domain.TransportClosed(err))
			return
		}
		msg, err := protocol.Decode(frame)
		if err != nil {
			t.log.Err(err, "收到非法帧，关闭连接", "frame", clip(frame))
			t.shutdown(domain.TransportClosed(err))
			return
		}
		switch msg.Kind() {
		case protocol.KindResponse:
			t.dispatchResponse(msg)
		case protocol.KindEvent:
			t.dispatchEvent(msg.Event())
		default:
			t.log.Debug("忽略无法识别的消息", "frame", clip(frame))
		}
	}
}

func (t *Transport) dispatchResponse(msg *protocol.Message) {
	c := t.take(msg.ID)
	if c == nil {
		t.metrics.ResponseDropped()
		t.log.Debug("丢弃未知或迟到的响应", "id", msg.ID)
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	if msg.Error != nil {
		c.finish(nil, msg.Error.ProtocolError(c.Method))
		return
	}
	result := msg.Result
	if len(result) == 0 {
		result = protocol.EmptyObject
	}
	c.finish(result, nil)
}

func (t *Transport) dispatchEvent(ev protocol.Event) {
	t.metrics.EventReceived(ev.Method)
	t.mu.Lock()
	set := t.subs[subKey{session: ev.SessionID, method: ev.Method}]
	targets := make([]*Subscription, 0, len(set))
	for s := range set {
		targets = append(targets, s)
	}
	t.mu.Unlock()
	for _, s := range targets {
		s.push(ev)
	}
}

// Subscribe 订阅指定会话的一组事件，多个方法共享同一个有序队列。
// sessionID 为空表示连接级事件。
func (t *Transport) Subscribe(sessionID domain.SessionID, methods ...string) *Subscription {
	s := newSubscription(t, sessionID, methods)
	t.mu.Lock()
	if t.closed {
		err := t.err
		t.mu.Unlock()
		s.terminate(err, false)
		return s
	}
	for _, m := range methods {
		k := subKey{session: sessionID, method: m}
		if t.subs[k] == nil {
			t.subs[k] = make(map[*Subscription]struct{})
		}
		t.subs[k][s] = struct{}{}
	}
	t.mu.Unlock()
	return s
}

func (t *Transport) unsubscribe(s *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range s.methods {
		k := subKey{session: s.sessionID, method: m}
		if set := t.subs[k]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(t.subs, k)
			}
		}
	}
}

// Pending 等待响应的命令数
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Done 连接终止时关闭
func (t *Transport) Done() <-chan struct{} { return t.done }

// Err 连接终止原因，存活时为 nil
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close 关闭连接，所有等待中的命令和订阅以 TransportClosed 结束
func (t *Transport) Close() error {
	t.shutdown(domain.ErrTransportClosed)
	return nil
}

func (t *Transport) shutdown(cause error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.err = cause
		pending := t.pending
		t.pending = make(map[int64]*Call)
		subs := make(map[*Subscription]struct{})
		for _, set := range t.subs {
			for s := range set {
				subs[s] = struct{}{}
			}
		}
		t.subs = make(map[subKey]map[*Subscription]struct{})
		t.mu.Unlock()

		close(t.done)
		if err := t.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			t.log.Debug("关闭连接时出错", "error", err)
		}
		for _, c := range pending {
			if c.timer != nil {
				c.timer.Stop()
			}
			c.finish(nil, cause)
		}
		for s := range subs {
			s.terminate(cause, false)
		}
		t.log.Info("传输连接已关闭", "cause", cause, "failedPending", len(pending), "subscriptions", len(subs))
	})
}

func clip(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
