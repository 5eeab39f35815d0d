package network

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"cdpstealth/internal/cdp"
	"cdpstealth/internal/ctxkeys"
	"cdpstealth/internal/logger"
	"cdpstealth/internal/metrics"
	"cdpstealth/internal/protocol"
	"cdpstealth/internal/rules"
	"cdpstealth/internal/transport"
	"cdpstealth/pkg/domain"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

// ErrNoBlockRules 未配置任何拦截规则
var ErrNoBlockRules = errors.New("no block rules")

// decideTimeout 单个暂停请求的处理时限，超时后浏览器侧请求会一直挂起
const decideTimeout = 3 * time.Second

// Conn 既能订阅事件又能发送命令的会话，*session.Session 满足
type Conn interface {
	Source
	cdp.Caller
}

// BlockOptions 拦截器选项
type BlockOptions struct {
	SessionID     domain.SessionID
	URLPatterns   []string
	ResourceTypes []string
	Logger        logger.Logger
	Metrics       *metrics.Collector
}

// Blocker 通过 Fetch 域拒绝匹配的请求，其余请求原样放行
type Blocker struct {
	sessionID domain.SessionID
	log       logger.Logger
	metrics   *metrics.Collector
	fetch     *cdp.Fetch
	urls      *rules.Engine
	types     map[string]struct{}

	sub     *transport.Subscription
	stopped chan struct{}
	blocked atomic.Int64
	passed  atomic.Int64
}

func newBlocker(c cdp.Caller, opts BlockOptions) *Blocker {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	rs := make([]rules.Rule, 0, len(opts.URLPatterns))
	for _, p := range opts.URLPatterns {
		rs = append(rs, rules.Rule{Pattern: p, Mode: rules.ModeGlob, Action: rules.Block})
	}
	types := make(map[string]struct{}, len(opts.ResourceTypes))
	for _, t := range opts.ResourceTypes {
		types[strings.ToLower(t)] = struct{}{}
	}
	return &Blocker{
		sessionID: opts.SessionID,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		fetch:     cdp.NewClient(c).Fetch,
		urls:      rules.New(rs),
		types:     types,
	}
}

// Block 先订阅 Fetch.requestPaused 再启用 Fetch 域，只暂停命中规则的请求
func Block(ctx context.Context, conn Conn, opts BlockOptions) (*Blocker, error) {
	if len(opts.URLPatterns) == 0 && len(opts.ResourceTypes) == 0 {
		return nil, ErrNoBlockRules
	}
	b := newBlocker(conn, opts)
	b.sub = conn.Subscribe("Fetch.requestPaused")
	if err := b.fetch.Enable(ctx, &fetch.EnableArgs{Patterns: b.patterns(opts)}); err != nil {
		b.sub.Close()
		return nil, err
	}
	b.stopped = make(chan struct{})
	go b.run()
	b.log.Info("请求拦截已启用", "session", string(b.sessionID),
		"urlPatterns", len(opts.URLPatterns), "resourceTypes", len(opts.ResourceTypes))
	return b, nil
}

func (b *Blocker) patterns(opts BlockOptions) []fetch.RequestPattern {
	out := make([]fetch.RequestPattern, 0, len(opts.URLPatterns)+len(opts.ResourceTypes))
	for i := range opts.URLPatterns {
		out = append(out, fetch.RequestPattern{URLPattern: &opts.URLPatterns[i], RequestStage: fetch.RequestStageRequest})
	}
	all := "*"
	for _, t := range opts.ResourceTypes {
		rt := network.ResourceType(t)
		out = append(out, fetch.RequestPattern{URLPattern: &all, ResourceType: &rt, RequestStage: fetch.RequestStageRequest})
	}
	return out
}

func (b *Blocker) run() {
	defer close(b.stopped)
	ctx := ctxkeys.WithTraceID(context.Background(), string(b.sessionID))
	for {
		ev, err := b.sub.Recv(ctx)
		if err != nil {
			b.log.Debug("请求拦截结束", "session", string(b.sessionID), "error", err)
			return
		}
		b.Handle(ctx, ev)
	}
}

// Blocks 判断请求是否应被拒绝
func (b *Blocker) Blocks(url, resourceType string) bool {
	if _, ok := b.types[strings.ToLower(resourceType)]; ok {
		return true
	}
	return b.urls.Eval(url).Blocked()
}

// Handle 处理一个 Fetch.requestPaused 事件，返回是否拒绝了该请求
func (b *Blocker) Handle(ctx context.Context, ev protocol.Event) bool {
	var p fetch.RequestPausedReply
	if err := ev.Unmarshal(&p); err != nil {
		b.log.Warn("解析 requestPaused 失败", "error", err)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, decideTimeout)
	defer cancel()

	rt := string(p.ResourceType)
	if b.Blocks(p.Request.URL, rt) {
		if err := b.fetch.FailRequest(ctx, fetch.NewFailRequestArgs(p.RequestID, network.ErrorReasonBlockedByClient)); err != nil {
			b.log.Err(err, "拒绝请求失败", "session", string(b.sessionID), "url", p.Request.URL)
			return false
		}
		b.blocked.Add(1)
		b.metrics.RequestIntercepted(rt, "blocked")
		b.log.Debug("请求已拒绝", "session", string(b.sessionID), "url", p.Request.URL, "type", rt)
		return true
	}
	if err := b.fetch.ContinueRequest(ctx, fetch.NewContinueRequestArgs(p.RequestID)); err != nil {
		b.log.Err(err, "放行请求失败", "session", string(b.sessionID), "url", p.Request.URL)
		return false
	}
	b.passed.Add(1)
	b.metrics.RequestIntercepted(rt, "continued")
	return false
}

// Stats 已拒绝与已放行的请求数
func (b *Blocker) Stats() (blocked, passed int64) {
	return b.blocked.Load(), b.passed.Load()
}

// Stop 只停止事件循环，不通知浏览器
func (b *Blocker) Stop() {
	if b.sub == nil {
		return
	}
	b.sub.Close()
	<-b.stopped
}

// Close 停止事件循环并关闭 Fetch 域，会话已断开时只停止循环
func (b *Blocker) Close(ctx context.Context) error {
	if b.sub == nil {
		return nil
	}
	b.Stop()
	err := b.fetch.Disable(ctx)
	if domain.IsTerminal(err) {
		return nil
	}
	return err
}
