package domain

import (
	"strings"
	"time"
)

// SessionID 协议会话ID（flatten 模式下由 attachToTarget 返回）
type SessionID string

// TargetID 浏览器目标ID
type TargetID string

// RequestID 网络请求ID
type RequestID string

// TargetInfo 目标信息
type TargetInfo struct {
	ID       TargetID `json:"id"`
	Type     string   `json:"type"`
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	Attached bool     `json:"attached"`
}

// IsPage 是否为普通页面目标
func (t TargetInfo) IsPage() bool { return t.Type == "page" }

// VersionInfo 浏览器版本信息
type VersionInfo struct {
	Product         string `json:"product"`
	ProtocolVersion string `json:"protocolVersion"`
	Revision        string `json:"revision"`
	UserAgent       string `json:"userAgent"`
}

// MatchStrategy 文本匹配策略，所有策略均忽略大小写
type MatchStrategy int

const (
	MatchExact MatchStrategy = iota
	MatchContains
	MatchStartsWith
	MatchEndsWith
)

// String 返回注入脚本使用的策略名
func (m MatchStrategy) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchContains:
		return "contains"
	case MatchStartsWith:
		return "startsWith"
	case MatchEndsWith:
		return "endsWith"
	default:
		return "unknown"
	}
}

// Matches 在控制端按同样的规则比较文本：折叠空白并忽略大小写
func (m MatchStrategy) Matches(text, want string) bool {
	t := NormalizeText(text)
	w := NormalizeText(want)
	switch m {
	case MatchExact:
		return t == w
	case MatchContains:
		return strings.Contains(t, w)
	case MatchStartsWith:
		return strings.HasPrefix(t, w)
	case MatchEndsWith:
		return strings.HasSuffix(t, w)
	default:
		return false
	}
}

// NormalizeText 折叠连续空白、去掉首尾空白并转小写
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Point 视口坐标
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect 轴对齐矩形
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center 矩形中心点
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Contains 点是否落在矩形内
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width && p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// Empty 宽或高为零
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Cookie 浏览器 Cookie
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	URL      string  `json:"url,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	Session  bool    `json:"session,omitempty"`
}

// ResponseBody 响应体，Binary 为真时 Data 已从 base64 解码
type ResponseBody struct {
	Data   []byte
	Binary bool
}

// Text 响应体按文本读取
func (b ResponseBody) Text() string { return string(b.Data) }

// PageSnapshot 调试快照
type PageSnapshot struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	ElementCount int       `json:"elementCount"`
	Screenshot   []byte    `json:"-"`
	CapturedAt   time.Time `json:"capturedAt"`
}

// ScreenshotFormat 截图格式
type ScreenshotFormat string

const (
	FormatPNG  ScreenshotFormat = "png"
	FormatJPEG ScreenshotFormat = "jpeg"
)
