// Package transporttest 提供基于 httptest 与 gorilla/websocket 的脚本化假浏览器，
// 同时充当线路监听器，记录所有到达线路的请求。
package transporttest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// ErrNoReply 处理函数返回该错误时不发送响应
var ErrNoReply = errors.New("no reply")

// Error 以协议错误响应
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string { return e.Message }

// Request 线路上收到的请求
type Request struct {
	ID        int64
	Method    string
	SessionID string
	Params    gjson.Result
	Raw       []byte
}

// HandlerFunc 自动响应处理函数，返回值会被编码为 result
type HandlerFunc func(req Request) (any, error)

// Browser 假浏览器
type Browser struct {
	srv       *httptest.Server
	connected chan struct{}
	requests  chan Request

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]HandlerFunc
	manual   bool
	seen     []Request

	writeMu sync.Mutex
}

// NewServer 启动假浏览器，默认对未注册的方法回复 {}
func NewServer(tb testing.TB) *Browser {
	tb.Helper()
	b := &Browser{
		connected: make(chan struct{}),
		requests:  make(chan Request, 1024),
		handlers:  make(map[string]HandlerFunc),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		close(b.connected)
		b.serve(conn)
	}))
	tb.Cleanup(b.srv.Close)
	return b
}

// URL websocket 地址
func (b *Browser) URL() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

// Manual 关闭默认的 {} 自动回复，未注册处理函数的请求需由测试手动回复
func (b *Browser) Manual() {
	b.mu.Lock()
	b.manual = true
	b.mu.Unlock()
}

// On 注册方法处理函数
func (b *Browser) On(method string, h HandlerFunc) {
	b.mu.Lock()
	b.handlers[method] = h
	b.mu.Unlock()
}

// OnResult 以固定结果回复某方法
func (b *Browser) OnResult(method string, result any) {
	b.On(method, func(Request) (any, error) { return result, nil })
}

func (b *Browser) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		p := gjson.ParseBytes(data)
		req := Request{
			ID:        p.Get("id").Int(),
			Method:    p.Get("method").String(),
			SessionID: p.Get("sessionId").String(),
			Params:    p.Get("params"),
			Raw:       data,
		}
		b.mu.Lock()
		b.seen = append(b.seen, req)
		h, ok := b.handlers[req.Method]
		manual := b.manual
		b.mu.Unlock()

		select {
		case b.requests <- req:
		default:
		}

		switch {
		case ok:
			res, err := h(req)
			b.answer(req, res, err)
		case !manual:
			b.Reply(req.ID, map[string]any{})
		}
	}
}

func (b *Browser) answer(req Request, res any, err error) {
	var pe *Error
	switch {
	case errors.Is(err, ErrNoReply):
	case errors.As(err, &pe):
		b.ReplyError(req.ID, pe.Code, pe.Message)
	case err != nil:
		b.ReplyError(req.ID, -32000, err.Error())
	default:
		b.Reply(req.ID, res)
	}
}

// Next 等待下一条请求
func (b *Browser) Next(tb testing.TB) Request {
	tb.Helper()
	select {
	case r := <-b.requests:
		return r
	case <-time.After(2 * time.Second):
		tb.Fatal("等待请求超时")
		return Request{}
	}
}

// Seen 按到达顺序返回全部请求
func (b *Browser) Seen() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.seen...)
}

// Methods 到达线路的方法名
func (b *Browser) Methods() []string {
	seen := b.Seen()
	out := make([]string, len(seen))
	for i, r := range seen {
		out[i] = r.Method
	}
	return out
}

// Reply 发送成功响应
func (b *Browser) Reply(id int64, result any) {
	b.WriteJSON(map[string]any{"id": id, "result": result})
}

// ReplyError 发送错误响应
func (b *Browser) ReplyError(id int64, code int, message string) {
	b.WriteJSON(map[string]any{"id": id, "error": map[string]any{"code": code, "message": message}})
}

// Emit 发送事件，sessionID 为空时为连接级事件
func (b *Browser) Emit(sessionID, method string, params any) {
	msg := map[string]any{"method": method, "params": params}
	if sessionID != "" {
		msg["sessionId"] = sessionID
	}
	b.WriteJSON(msg)
}

// WriteJSON 写任意 JSON 帧
func (b *Browser) WriteJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	b.WriteRaw(data)
}

// WriteRaw 写原始帧
func (b *Browser) WriteRaw(data []byte) {
	<-b.connected
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

// Disconnect 断开服务端连接
func (b *Browser) Disconnect() {
	<-b.connected
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	_ = conn.Close()
}
