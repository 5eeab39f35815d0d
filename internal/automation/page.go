// Package automation 在类型化命令之上组合出面向用户的页面操作：
// 元素查找、点击与输入、可见性检查、等待与重试。
package automation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cdpstealth/internal/cdp"
	"cdpstealth/internal/logger"
	"cdpstealth/internal/metrics"
	"cdpstealth/internal/network"
	"cdpstealth/internal/stealth"
	"cdpstealth/pkg/domain"

	"github.com/mafredri/cdp/protocol/dom"
	cdpnet "github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"golang.org/x/time/rate"
)

// ErrNoHistory 导航历史已到尽头
var ErrNoHistory = errors.New("no navigation history entry")

// ErrNoWatcher 页面未启用网络监视
var ErrNoWatcher = errors.New("network watcher not enabled for page")

// NavigationError 导航被浏览器拒绝
type NavigationError struct {
	URL    string
	Reason string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate to %s: %s", e.URL, e.Reason)
}

// EvalError 页面脚本抛出异常
type EvalError struct {
	Text      string
	Line      int
	Column    int
	Exception string
}

func (e *EvalError) Error() string {
	if e.Exception != "" {
		return fmt.Sprintf("script exception at %d:%d: %s", e.Line, e.Column, e.Exception)
	}
	return fmt.Sprintf("script exception at %d:%d: %s", e.Line, e.Column, e.Text)
}

func newEvalError(d *runtime.ExceptionDetails) *EvalError {
	e := &EvalError{Text: d.Text, Line: d.LineNumber, Column: d.ColumnNumber}
	if d.Exception != nil && d.Exception.Description != nil {
		e.Exception = *d.Exception.Description
	}
	return e
}

// SnapshotStore 调试快照持久化，*storage.Store 满足
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, sessionID domain.SessionID, snap domain.PageSnapshot, format domain.ScreenshotFormat) error
}

// Options 页面选项，零值字段使用默认值
type Options struct {
	SessionID domain.SessionID
	TargetID  domain.TargetID

	PollInterval  time.Duration
	WaitTimeout   time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	NetworkIdle   time.Duration

	// HumanInput 开启后鼠标沿 Motion 轨迹移动，按 Cadence 逐字输入
	HumanInput       bool
	Motion           stealth.MotionPlanner
	Cadence          stealth.TypingCadence
	MouseMovesPerSec float64

	Watcher   *network.Watcher
	Snapshots SnapshotStore
	Markers   *Markers
	Logger    logger.Logger
	Metrics   *metrics.Collector
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 30 * time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
	if o.NetworkIdle <= 0 {
		o.NetworkIdle = 500 * time.Millisecond
	}
	if o.MouseMovesPerSec <= 0 {
		o.MouseMovesPerSec = 120
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	if o.Markers == nil {
		o.Markers = NewMarkers(o.Metrics)
	}
}

// Page 一个已附加页面的自动化入口，可并发使用
type Page struct {
	c       *cdp.Client
	opts    Options
	log     logger.Logger
	markers *Markers
	limiter *rate.Limiter

	mu    sync.Mutex
	root  dom.NodeID
	mouse domain.Point
}

// NewPage 基于会话（或任意 Caller）创建页面
func NewPage(caller cdp.Caller, opts Options) *Page {
	opts.defaults()
	p := &Page{
		c:       cdp.NewClient(caller),
		opts:    opts,
		log:     opts.Logger.With("session", string(opts.SessionID)),
		markers: opts.Markers,
	}
	if opts.HumanInput {
		p.limiter = rate.NewLimiter(rate.Limit(opts.MouseMovesPerSec), 1)
	}
	return p
}

// SessionID 所属会话
func (p *Page) SessionID() domain.SessionID { return p.opts.SessionID }

// TargetID 所属目标
func (p *Page) TargetID() domain.TargetID { return p.opts.TargetID }

// Watcher 网络监视器，未启用时为 nil
func (p *Page) Watcher() *network.Watcher { return p.opts.Watcher }

// Markers 标记分配器
func (p *Page) Markers() *Markers { return p.markers }

// document 返回缓存的文档根节点
func (p *Page) document(ctx context.Context) (dom.NodeID, error) {
	p.mu.Lock()
	id := p.root
	p.mu.Unlock()
	if id != 0 {
		return id, nil
	}
	return p.refreshDocument(ctx)
}

func (p *Page) refreshDocument(ctx context.Context) (dom.NodeID, error) {
	doc, err := p.c.DOM.GetDocument(ctx, dom.NewGetDocumentArgs().SetDepth(0))
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	p.root = doc.Root.NodeID
	p.mu.Unlock()
	return doc.Root.NodeID, nil
}

func (p *Page) resetDocument() {
	p.mu.Lock()
	p.root = 0
	p.mu.Unlock()
}

// withDocument 以文档根调用 fn，根节点失效时刷新后重试一次
func (p *Page) withDocument(ctx context.Context, fn func(root dom.NodeID) error) error {
	root, err := p.document(ctx)
	if err != nil {
		return err
	}
	err = fn(root)
	if !staleNode(err) {
		return err
	}
	p.log.Debug("文档根节点失效，重新获取")
	if root, err = p.refreshDocument(ctx); err != nil {
		return err
	}
	return fn(root)
}

func staleNode(err error) bool {
	var pe *domain.ProtocolError
	if !errors.As(err, &pe) {
		return false
	}
	return errors.Is(domain.Clarify(err, ""), domain.ErrElementNotFound)
}

func (p *Page) evaluate(ctx context.Context, expr string, out any) error {
	r, err := p.c.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs(expr).SetReturnByValue(true).SetAwaitPromise(true))
	if err != nil {
		return err
	}
	if r.ExceptionDetails != nil {
		return newEvalError(r.ExceptionDetails)
	}
	if out == nil || len(r.Result.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result.Value, out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

// Evaluate 求值表达式并返回 JSON 结果，undefined 返回 nil
func (p *Page) Evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := p.evaluate(ctx, expr, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Execute 执行脚本，忽略返回值
func (p *Page) Execute(ctx context.Context, script string) error {
	return p.evaluate(ctx, script, nil)
}

// Goto 导航并等待文档加载完成
func (p *Page) Goto(ctx context.Context, url string) error {
	r, err := p.c.Page.Navigate(ctx, page.NewNavigateArgs(url))
	if err != nil {
		return err
	}
	if r.ErrorText != nil && *r.ErrorText != "" {
		return &NavigationError{URL: url, Reason: *r.ErrorText}
	}
	p.resetDocument()
	p.log.Info("页面导航", "url", url)
	return p.WaitForNavigation(ctx)
}

// Reload 重新加载当前页面
func (p *Page) Reload(ctx context.Context) error {
	if err := p.c.Page.Reload(ctx, page.NewReloadArgs()); err != nil {
		return err
	}
	p.resetDocument()
	return p.WaitForNavigation(ctx)
}

// Back 后退一步
func (p *Page) Back(ctx context.Context) error { return p.history(ctx, -1) }

// Forward 前进一步
func (p *Page) Forward(ctx context.Context) error { return p.history(ctx, 1) }

func (p *Page) history(ctx context.Context, delta int) error {
	h, err := p.c.Page.GetNavigationHistory(ctx)
	if err != nil {
		return err
	}
	idx := h.CurrentIndex + delta
	if idx < 0 || idx >= len(h.Entries) {
		return ErrNoHistory
	}
	if err := p.c.Page.NavigateToHistoryEntry(ctx, page.NewNavigateToHistoryEntryArgs(h.Entries[idx].ID)); err != nil {
		return err
	}
	p.resetDocument()
	return p.WaitForNavigation(ctx)
}

// WaitForNavigation 等待 document.readyState 为 complete。
// 导航过程中执行上下文被销毁产生的协议错误视为尚未完成
func (p *Page) WaitForNavigation(ctx context.Context) error {
	_, err := waitOn(ctx, p, 50*time.Millisecond, "wait for navigation", func(ctx context.Context) (struct{}, bool, error) {
		var state string
		if err := p.evaluate(ctx, exprReadyState, &state); err != nil {
			var pe *domain.ProtocolError
			var ee *EvalError
			if errors.As(err, &pe) || errors.As(err, &ee) {
				return struct{}{}, false, nil
			}
			return struct{}{}, false, err
		}
		return struct{}{}, state == "complete", nil
	})
	return err
}

// URL 主框架当前地址
func (p *Page) URL(ctx context.Context) (string, error) {
	tree, err := p.c.Page.GetFrameTree(ctx)
	if err != nil {
		return "", err
	}
	return tree.FrameTree.Frame.URL, nil
}

// Title 文档标题
func (p *Page) Title(ctx context.Context) (string, error) {
	var s string
	err := p.evaluate(ctx, exprTitle, &s)
	return s, err
}

// Content 整个文档的 HTML
func (p *Page) Content(ctx context.Context) (string, error) {
	var s string
	err := p.evaluate(ctx, exprContent, &s)
	return s, err
}

// Text body 的可见文本
func (p *Page) Text(ctx context.Context) (string, error) {
	var s string
	err := p.evaluate(ctx, exprBodyText, &s)
	return s, err
}

// Screenshot PNG 截图
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	r, err := p.c.Page.CaptureScreenshot(ctx, page.NewCaptureScreenshotArgs().SetFormat("png"))
	if err != nil {
		return nil, err
	}
	return r.Data, nil
}

// ScreenshotJPEG JPEG 截图，quality 取值 0-100
func (p *Page) ScreenshotJPEG(ctx context.Context, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	r, err := p.c.Page.CaptureScreenshot(ctx, page.NewCaptureScreenshotArgs().SetFormat("jpeg").SetQuality(quality))
	if err != nil {
		return nil, err
	}
	return r.Data, nil
}

// ResponseBody 读取已捕获请求的响应体，需在请求完成后、下一次导航前调用
func (p *Page) ResponseBody(ctx context.Context, id domain.RequestID) (domain.ResponseBody, error) {
	r, err := p.c.Network.GetResponseBody(ctx, cdpnet.NewGetResponseBodyArgs(cdpnet.RequestID(id)))
	if err != nil {
		return domain.ResponseBody{}, err
	}
	if !r.Base64Encoded {
		return domain.ResponseBody{Data: []byte(r.Body)}, nil
	}
	data, err := base64.StdEncoding.DecodeString(r.Body)
	if err != nil {
		return domain.ResponseBody{}, fmt.Errorf("decode response body %s: %w", id, err)
	}
	return domain.ResponseBody{Data: data, Binary: true}, nil
}

// Cookies 返回当前页面（或指定地址）的 Cookie
func (p *Page) Cookies(ctx context.Context, urls ...string) ([]domain.Cookie, error) {
	args := cdpnet.NewGetCookiesArgs()
	if len(urls) > 0 {
		args.SetURLs(urls)
	}
	r, err := p.c.Network.GetCookies(ctx, args)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Cookie, 0, len(r.Cookies))
	for _, c := range r.Cookies {
		out = append(out, domain.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			Session:  c.Session,
		})
	}
	return out, nil
}

// SetCookie 写入 Cookie，URL 与 Domain 至少提供一个
func (p *Page) SetCookie(ctx context.Context, c domain.Cookie) error {
	if c.URL == "" && c.Domain == "" {
		return fmt.Errorf("cookie %q: url or domain required", c.Name)
	}
	args := cdpnet.NewSetCookieArgs(c.Name, c.Value)
	if c.URL != "" {
		args.SetURL(c.URL)
	}
	if c.Domain != "" {
		args.SetDomain(c.Domain)
	}
	if c.Path != "" {
		args.SetPath(c.Path)
	}
	if c.Secure {
		args.SetSecure(true)
	}
	if c.HTTPOnly {
		args.SetHTTPOnly(true)
	}
	if !c.Session && c.Expires > 0 {
		args.SetExpires(cdpnet.TimeSinceEpoch(c.Expires))
	}
	return p.c.Network.SetCookie(ctx, args)
}

// DeleteCookie 按名称删除 Cookie，URL/Domain/Path 用于缩小范围
func (p *Page) DeleteCookie(ctx context.Context, c domain.Cookie) error {
	args := cdpnet.NewDeleteCookiesArgs(c.Name)
	if c.URL != "" {
		args.SetURL(c.URL)
	}
	if c.Domain != "" {
		args.SetDomain(c.Domain)
	}
	if c.Path != "" {
		args.SetPath(c.Path)
	}
	return p.c.Network.DeleteCookies(ctx, args)
}
