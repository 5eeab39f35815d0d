// Package service 组装传输层、会话复用、网络监视与自动化引擎，对外提供浏览器级入口。
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cdpstealth/internal/automation"
	"cdpstealth/internal/cdp"
	"cdpstealth/internal/config"
	"cdpstealth/internal/logger"
	"cdpstealth/internal/metrics"
	"cdpstealth/internal/network"
	"cdpstealth/internal/rules"
	"cdpstealth/internal/session"
	"cdpstealth/internal/stealth"
	"cdpstealth/internal/storage"
	"cdpstealth/internal/transport"
	"cdpstealth/pkg/domain"

	cdpnet "github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrClosed 浏览器已关闭
var ErrClosed = errors.New("browser closed")

// Option 连接选项
type Option func(*Browser)

// WithEvasion 替换注入的规避脚本
func WithEvasion(src stealth.EvasionSource) Option {
	return func(b *Browser) { b.evasion = src }
}

// WithMotion 替换鼠标轨迹生成器
func WithMotion(m stealth.MotionPlanner) Option {
	return func(b *Browser) { b.motion = m }
}

// WithCadence 替换打字节奏生成器
func WithCadence(c stealth.TypingCadence) Option {
	return func(b *Browser) { b.cadence = c }
}

// WithRegisterer 指标注册到 reg，默认使用独立注册表
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(b *Browser) { b.registerer = reg }
}

// WithFilter 替换命令过滤表
func WithFilter(e *rules.Engine) Option {
	return func(b *Browser) { b.filter = e }
}

type pageEntry struct {
	page    *automation.Page
	sess    *session.Session
	watcher *network.Watcher
	blocker *network.Blocker
}

// halt 只停止本地事件循环，会话已不可用时使用
func (e *pageEntry) halt() {
	if e.watcher != nil {
		e.watcher.Close()
	}
	if e.blocker != nil {
		e.blocker.Stop()
	}
}

// stop 停止页面上的事件循环
func (e *pageEntry) stop(ctx context.Context) {
	if e.watcher != nil {
		e.watcher.Close()
	}
	if e.blocker != nil {
		_ = e.blocker.Close(ctx)
	}
}

// Browser 一条浏览器连接及其上打开的页面
type Browser struct {
	cfg        *config.Config
	log        logger.Logger
	metrics    *metrics.Collector
	registerer prometheus.Registerer
	filter     *rules.Engine

	evasion stealth.EvasionSource
	motion  stealth.MotionPlanner
	cadence stealth.TypingCadence

	wire     *transport.Transport
	sessions *session.Manager
	client   *cdp.Client
	store    *storage.Store
	markers  *automation.Markers

	mu     sync.Mutex
	pages  map[domain.SessionID]*pageEntry
	closed bool
}

// Connect 连接配置中的浏览器。Endpoint 为空时通过 DevToolsURL 发现 websocket 地址
func Connect(ctx context.Context, cfg *config.Config, l logger.Logger, opts ...Option) (*Browser, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	var launcher stealth.Launcher = stealth.StaticEndpoint(cfg.Browser.Endpoint)
	if cfg.Browser.Endpoint == "" {
		launcher = stealth.DevToolsLauncher{URL: cfg.Browser.DevToolsURL}
	}
	return Launch(ctx, launcher, cfg, l, opts...)
}

// Launch 由启动器提供调试端点后建立连接
func Launch(ctx context.Context, launcher stealth.Launcher, cfg *config.Config, l logger.Logger, opts ...Option) (*Browser, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if l == nil {
		l = logger.NewNop()
	}
	endpoint, err := launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := &Browser{
		cfg:   cfg,
		log:   l,
		pages: make(map[domain.SessionID]*pageEntry),
	}
	for _, o := range opts {
		o(b)
	}
	b.defaults()

	b.wire, err = transport.Dial(ctx, endpoint, transport.Options{
		CommandTimeout: cfg.Transport.CommandTimeout(),
		Filter:         b.filter,
		FailBlocked:    !cfg.Transport.SynthesizeBlocked,
		Logger:         l,
		Metrics:        b.metrics,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Capture.Persist {
		if b.store, err = storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l); err != nil {
			_ = b.wire.Close()
			return nil, err
		}
	}
	b.sessions = session.NewManager(b.wire, l, b.metrics)
	b.client = cdp.NewClient(b.wire)
	b.log.Info("已连接浏览器", "endpoint", endpoint)
	return b, nil
}

func (b *Browser) defaults() {
	if b.metrics == nil {
		b.metrics = metrics.NewCollector("cdpstealth", b.registerer)
	}
	if b.filter == nil {
		b.filter = rules.Default()
	}
	if b.evasion == nil {
		b.evasion = stealth.Scripts(stealth.DefaultEvasions)
	}
	if b.motion == nil {
		b.motion = stealth.NewEaseMotion(0, 1.5, 0)
	}
	if b.cadence == nil {
		b.cadence = stealth.NewUniformCadence(40*time.Millisecond, 140*time.Millisecond, 0)
	}
	b.markers = automation.NewMarkers(b.metrics)
}

// Metrics 指标收集器
func (b *Browser) Metrics() *metrics.Collector { return b.metrics }

// Store 持久化存储，未开启时为 nil
func (b *Browser) Store() *storage.Store { return b.store }

// Done 连接断开时关闭
func (b *Browser) Done() <-chan struct{} { return b.wire.Done() }

// NewPage 打开新标签页并完成隐身初始化，url 非空时导航过去
func (b *Browser) NewPage(ctx context.Context, url string) (*automation.Page, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	created, err := b.client.Target.CreateTarget(ctx, target.NewCreateTargetArgs("about:blank"))
	if err != nil {
		return nil, err
	}
	tid := domain.TargetID(created.TargetID)
	s, err := b.sessions.Attach(ctx, tid)
	if err != nil {
		b.closeTarget(tid)
		return nil, err
	}
	entry, err := b.prepare(ctx, s)
	if err != nil {
		b.discard(s)
		return nil, err
	}

	b.mu.Lock()
	b.pages[s.ID] = entry
	b.mu.Unlock()
	go b.track(entry)
	b.log.Info("打开页面", "sessionID", string(s.ID), "target", string(tid))

	if url != "" && url != "about:blank" {
		if err := entry.page.Goto(ctx, url); err != nil {
			return entry.page, err
		}
	}
	return entry.page, nil
}

// prepare 在首个文档加载前启用页面域、注入规避脚本，按需开启请求拦截与网络监视
func (b *Browser) prepare(ctx context.Context, s *session.Session) (*pageEntry, error) {
	c := cdp.NewClient(s)
	if err := c.Page.Enable(ctx); err != nil {
		return nil, err
	}
	if script := b.evasion.Script(); script != "" {
		if _, err := c.Page.AddScriptToEvaluateOnNewDocument(ctx, page.NewAddScriptToEvaluateOnNewDocumentArgs(script)); err != nil {
			return nil, err
		}
	}

	var bl *network.Blocker
	if blk := b.cfg.Block; blk.Enabled() {
		var err error
		bl, err = network.Block(ctx, s, network.BlockOptions{
			SessionID:     s.ID,
			URLPatterns:   blk.URLPatterns,
			ResourceTypes: blk.ResourceTypes,
			Logger:        b.log,
			Metrics:       b.metrics,
		})
		if err != nil {
			return nil, err
		}
	}

	var w *network.Watcher
	if b.cfg.Capture.Enabled {
		args := cdpnet.NewEnableArgs()
		if n := b.cfg.Capture.MaxPostDataLen; n > 0 {
			args.SetMaxPostDataSize(n)
		}
		if err := c.Network.Enable(ctx, args); err != nil {
			if bl != nil {
				_ = bl.Close(ctx)
			}
			return nil, err
		}
		var rec network.Recorder
		if b.store != nil {
			rec = b.store
		}
		w = network.Watch(s, network.Options{
			SessionID: s.ID,
			Logger:    b.log,
			Recorder:  rec,
			Capture:   true,
		})
	}

	a := b.cfg.Automation
	opts := automation.Options{
		SessionID:        s.ID,
		TargetID:         s.TargetID,
		PollInterval:     a.PollInterval(),
		WaitTimeout:      a.WaitTimeout(),
		RetryAttempts:    a.RetryAttempts,
		RetryDelay:       a.RetryDelay(),
		NetworkIdle:      a.NetworkIdle(),
		HumanInput:       a.HumanInput,
		Motion:           b.motion,
		Cadence:          b.cadence,
		MouseMovesPerSec: float64(a.MouseMovesPerSec),
		Watcher:          w,
		Markers:          b.markers,
		Logger:           b.log,
		Metrics:          b.metrics,
	}
	if b.store != nil {
		opts.Snapshots = b.store
	}
	return &pageEntry{page: automation.NewPage(s, opts), sess: s, watcher: w, blocker: bl}, nil
}

// Pages 当前打开的页面
func (b *Browser) Pages() []*automation.Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*automation.Page, 0, len(b.pages))
	for _, e := range b.pages {
		out = append(out, e.page)
	}
	return out
}

// ClosePage 关闭页面对应的标签页
func (b *Browser) ClosePage(ctx context.Context, p *automation.Page) error {
	b.mu.Lock()
	e, ok := b.pages[p.SessionID()]
	delete(b.pages, p.SessionID())
	b.mu.Unlock()
	if !ok {
		return domain.FrameNotFound(p.SessionID())
	}
	e.stop(ctx)
	if err := b.sessions.Detach(ctx, e.sess); err != nil {
		b.log.Err(err, "分离会话失败", "sessionID", string(e.sess.ID))
	}
	err := b.client.Target.CloseTarget(ctx, target.NewCloseTargetArgs(target.ID(e.sess.TargetID)))
	b.log.Info("关闭页面", "sessionID", string(e.sess.ID))
	return err
}

// track 会话被浏览器一侧销毁、分离或崩溃时移除页面
func (b *Browser) track(e *pageEntry) {
	<-e.sess.Done()
	b.mu.Lock()
	cur, ok := b.pages[e.sess.ID]
	if ok && cur == e {
		delete(b.pages, e.sess.ID)
	}
	b.mu.Unlock()
	if !ok || cur != e {
		return
	}
	e.halt()
	b.log.Warn("页面会话已失效", "sessionID", string(e.sess.ID), "target", string(e.sess.TargetID))
}

func (b *Browser) discard(s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = b.sessions.Detach(ctx, s)
	b.closeTarget(s.TargetID)
}

func (b *Browser) closeTarget(id domain.TargetID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.client.Target.CloseTarget(ctx, target.NewCloseTargetArgs(target.ID(id))); err != nil {
		b.log.Err(err, "关闭目标失败", "target", string(id))
	}
}

// Targets 浏览器中的全部目标
func (b *Browser) Targets(ctx context.Context) ([]domain.TargetInfo, error) {
	r, err := b.client.Target.GetTargets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TargetInfo, 0, len(r.TargetInfos))
	for _, t := range r.TargetInfos {
		out = append(out, domain.TargetInfo{
			ID:       domain.TargetID(t.TargetID),
			Type:     t.Type,
			Title:    t.Title,
			URL:      t.URL,
			Attached: t.Attached,
		})
	}
	return out, nil
}

// Version 浏览器版本信息
func (b *Browser) Version(ctx context.Context) (domain.VersionInfo, error) {
	r, err := b.client.Browser.GetVersion(ctx)
	if err != nil {
		return domain.VersionInfo{}, err
	}
	return domain.VersionInfo{
		Product:         r.Product,
		ProtocolVersion: r.ProtocolVersion,
		Revision:        r.Revision,
		UserAgent:       r.UserAgent,
	}, nil
}

// Close 关闭浏览器进程并断开连接
func (b *Browser) Close(ctx context.Context) error {
	if !b.shutdown() {
		return nil
	}
	err := b.client.Browser.Close(ctx)
	if err != nil && !errors.Is(err, domain.ErrTransportClosed) {
		b.log.Err(err, "关闭浏览器失败")
	} else {
		err = nil
	}
	return errors.Join(err, b.release())
}

// Disconnect 只断开连接，不关闭浏览器
func (b *Browser) Disconnect() error {
	if !b.shutdown() {
		return nil
	}
	return b.release()
}

func (b *Browser) shutdown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.closed = true
	for id, e := range b.pages {
		e.halt()
		delete(b.pages, id)
	}
	return true
}

func (b *Browser) release() error {
	b.sessions.Close()
	err := b.wire.Close()
	if errors.Is(err, domain.ErrTransportClosed) {
		err = nil
	}
	if b.store != nil {
		err = errors.Join(err, b.store.Close())
	}
	b.log.Info("已断开浏览器连接")
	return err
}
