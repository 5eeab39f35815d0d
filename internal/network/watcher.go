// Package network 跟踪单个会话的网络请求生命周期，提供空闲判定与请求捕获。
package network

import (
	"context"
	"strings"
	"sync"
	"time"

	adapter "cdpstealth/internal/adapter/cdp"
	"cdpstealth/internal/ctxkeys"
	"cdpstealth/internal/logger"
	"cdpstealth/internal/protocol"
	"cdpstealth/internal/transport"
	"cdpstealth/pkg/domain"
	"cdpstealth/pkg/traffic"

	"github.com/mafredri/cdp/protocol/network"
)

// Events 监听的事件，放在同一个订阅里以保持线路顺序
var Events = []string{
	"Network.requestWillBeSent",
	"Network.responseReceived",
	"Network.loadingFinished",
	"Network.loadingFailed",
	"Page.frameNavigated",
}

// State 请求状态，Completed 与 Failed 为终态
type State int

const (
	Pending State = iota
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Record 一个请求的记录
type Record struct {
	ID         domain.RequestID
	URL        string
	Method     string
	State      State
	Status     int
	ErrorText  string
	StartedAt  time.Time
	FinishedAt time.Time
	Request    *traffic.Request
	Response   *traffic.Response
}

// Recorder 持久化进入终态的请求
type Recorder interface {
	RecordRequest(ctx context.Context, sessionID domain.SessionID, rec Record) error
}

// Source 事件来源，*session.Session 满足
type Source interface {
	Subscribe(methods ...string) *transport.Subscription
}

// Options 监听器选项
type Options struct {
	SessionID domain.SessionID
	Logger    logger.Logger
	Recorder  Recorder
	// Capture 为 false 时只维护状态，不保存请求与响应详情
	Capture bool
}

// Watcher 会话级网络监听器
type Watcher struct {
	sessionID domain.SessionID
	log       logger.Logger
	recorder  Recorder
	capture   bool

	mu        sync.Mutex
	records   map[domain.RequestID]*Record
	order     []domain.RequestID
	pending   int
	idleSince time.Time
	changed   chan struct{}

	sub     *transport.Subscription
	stopped chan struct{}
}

// New 创建不带事件循环的监听器，由调用方通过 Handle 喂入事件
func New(opts Options) *Watcher {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Watcher{
		sessionID: opts.SessionID,
		log:       opts.Logger,
		recorder:  opts.Recorder,
		capture:   opts.Capture,
		records:   make(map[domain.RequestID]*Record),
		idleSince: time.Now(),
		changed:   make(chan struct{}),
	}
}

// Watch 订阅会话事件并启动事件循环
func Watch(src Source, opts Options) *Watcher {
	w := New(opts)
	w.sub = src.Subscribe(Events...)
	w.stopped = make(chan struct{})
	go w.run()
	return w
}

func (w *Watcher) run() {
	defer close(w.stopped)
	ctx := ctxkeys.WithTraceID(context.Background(), string(w.sessionID))
	for {
		ev, err := w.sub.Recv(ctx)
		if err != nil {
			w.log.Debug("网络监听结束", "session", string(w.sessionID), "error", err)
			return
		}
		if rec, ok := w.Handle(ev); ok && w.recorder != nil {
			if err := w.recorder.RecordRequest(ctx, w.sessionID, rec); err != nil {
				w.log.Err(err, "保存请求记录失败", "session", string(w.sessionID), "url", rec.URL)
			}
		}
	}
}

// Close 停止事件循环
func (w *Watcher) Close() {
	if w.sub == nil {
		return
	}
	w.sub.Close()
	<-w.stopped
}

// Handle 应用一个事件，请求进入终态时返回其快照
func (w *Watcher) Handle(ev protocol.Event) (Record, bool) {
	switch ev.Method {
	case "Network.requestWillBeSent":
		var p network.RequestWillBeSentReply
		if err := ev.Unmarshal(&p); err != nil {
			w.log.Warn("解析 requestWillBeSent 失败", "error", err)
			return Record{}, false
		}
		w.started(&p, ev.Get("type").String())
	case "Network.responseReceived":
		var p network.ResponseReceivedReply
		if err := ev.Unmarshal(&p); err != nil {
			w.log.Warn("解析 responseReceived 失败", "error", err)
			return Record{}, false
		}
		w.responded(&p)
	case "Network.loadingFinished":
		return w.finish(domain.RequestID(ev.Get("requestId").String()), Completed, "")
	case "Network.loadingFailed":
		var p network.LoadingFailedReply
		if err := ev.Unmarshal(&p); err != nil {
			w.log.Warn("解析 loadingFailed 失败", "error", err)
			return Record{}, false
		}
		return w.finish(domain.RequestID(p.RequestID), Failed, p.ErrorText)
	case "Page.frameNavigated":
		// 只有顶层框架导航才清空
		if !ev.Get("frame.parentId").Exists() {
			w.Clear()
		}
	}
	return Record{}, false
}

func (w *Watcher) started(p *network.RequestWillBeSentReply, resourceType string) {
	id := domain.RequestID(p.RequestID)
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, ok := w.records[id]
	if ok && rec.State == Pending {
		// 重定向复用同一个 requestId，仍为同一个进行中的请求
		rec.URL = p.Request.URL
		rec.Method = p.Request.Method
		if w.capture {
			rec.Request = adapter.ToNeutralRequest(p, resourceType)
		}
		return
	}
	if !ok {
		rec = &Record{ID: id}
		w.records[id] = rec
		w.order = append(w.order, id)
	}
	rec.URL = p.Request.URL
	rec.Method = p.Request.Method
	rec.State = Pending
	rec.StartedAt = time.Now()
	rec.FinishedAt = time.Time{}
	if w.capture {
		rec.Request = adapter.ToNeutralRequest(p, resourceType)
	}
	w.pending++
	w.notifyLocked()
}

func (w *Watcher) responded(p *network.ResponseReceivedReply) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, ok := w.records[domain.RequestID(p.RequestID)]
	if !ok {
		return
	}
	rec.Status = p.Response.Status
	if w.capture {
		rec.Response = adapter.ToNeutralResponse(&p.Response)
	}
}

func (w *Watcher) finish(id domain.RequestID, st State, errText string) (Record, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, ok := w.records[id]
	if !ok || rec.State != Pending {
		return Record{}, false
	}
	rec.State = st
	rec.ErrorText = errText
	rec.FinishedAt = time.Now()
	w.pending--
	if w.pending == 0 {
		w.idleSince = rec.FinishedAt
	}
	w.notifyLocked()
	return rec.snapshot(), true
}

func (w *Watcher) notifyLocked() {
	close(w.changed)
	w.changed = make(chan struct{})
}

// Clear 清空请求表并重置空闲时钟
func (w *Watcher) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = make(map[domain.RequestID]*Record)
	w.order = nil
	w.pending = 0
	w.idleSince = time.Now()
	w.notifyLocked()
}

// PendingCount 进行中的请求数
func (w *Watcher) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// IsIdle 没有进行中的请求且已持续至少 window
func (w *Watcher) IsIdle(window time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending == 0 && time.Since(w.idleSince) >= window
}

// WaitForIdle 等待网络空闲，超过 timeout 返回 Timeout
func (w *Watcher) WaitForIdle(ctx context.Context, window, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		w.mu.Lock()
		pending, since, changed := w.pending, w.idleSince, w.changed
		w.mu.Unlock()

		now := time.Now()
		if pending == 0 && now.Sub(since) >= window {
			return nil
		}
		left := deadline.Sub(now)
		if left <= 0 {
			return &domain.TimeoutError{Op: "wait for network idle", After: timeout}
		}
		wait := left
		if pending == 0 {
			if rem := window - now.Sub(since); rem < wait {
				wait = rem
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-changed:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
	}
}

// Requests 按开始顺序返回所有记录
func (w *Watcher) Requests() []Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Record, 0, len(w.order))
	for _, id := range w.order {
		if rec, ok := w.records[id]; ok {
			out = append(out, rec.snapshot())
		}
	}
	return out
}

// Matching 返回 URL 包含 substr 的记录
func (w *Watcher) Matching(substr string) []Record {
	var out []Record
	for _, rec := range w.Requests() {
		if strings.Contains(rec.URL, substr) {
			out = append(out, rec)
		}
	}
	return out
}

// WaitForRequest 等待 URL 包含 substr 的请求进入终态
func (w *Watcher) WaitForRequest(ctx context.Context, substr string, timeout time.Duration) (Record, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		w.mu.Lock()
		changed := w.changed
		w.mu.Unlock()
		for _, rec := range w.Matching(substr) {
			if rec.State != Pending {
				return rec, nil
			}
		}
		select {
		case <-changed:
		case <-tctx.Done():
			if ctx.Err() != nil {
				return Record{}, ctx.Err()
			}
			return Record{}, &domain.TimeoutError{Op: "wait for request " + substr, After: timeout}
		}
	}
}

func (r *Record) snapshot() Record {
	c := *r
	c.Request = r.Request.Clone()
	c.Response = r.Response.Clone()
	return c
}
