// Package traffic 与协议无关的网络流量模型，供捕获与持久化使用。
package traffic

import (
	"net/url"
	"sort"
	"strings"
)

// Header 键统一为小写的头部表
type Header map[string]string

// Get 大小写不敏感读取
func (h Header) Get(key string) string {
	return h[strings.ToLower(key)]
}

// Set 写入，键转为小写
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Keys 排序后的键
func (h Header) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone 拷贝，nil 返回空表
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Request 捕获到的请求
type Request struct {
	ID           string
	URL          string
	Method       string
	Headers      Header
	Body         []byte
	ResourceType string // Document / XHR / Fetch / Script ...
	DocumentURL  string
	Initiator    string // parser / script / other ...

	// 从 URL 与 Cookie 头预解析，键为小写
	Query   map[string]string
	Cookies map[string]string
}

// NewRequest 创建空请求
func NewRequest() *Request {
	return &Request{
		Headers: Header{},
		Query:   map[string]string{},
		Cookies: map[string]string{},
	}
}

// Host URL 的主机部分，解析失败时为空
func (r *Request) Host() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// IsAPI 是否为页面脚本发起的 XHR/Fetch 请求
func (r *Request) IsAPI() bool {
	return r.ResourceType == "XHR" || r.ResourceType == "Fetch"
}

// Clone 深拷贝
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = r.Headers.Clone()
	c.Query = cloneMap(r.Query)
	c.Cookies = cloneMap(r.Cookies)
	c.Body = append([]byte(nil), r.Body...)
	return &c
}

// Response 捕获到的响应头部信息，不含响应体
type Response struct {
	Status        int
	StatusText    string
	MimeType      string
	Headers       Header
	RemoteAddress string
	Protocol      string
	FromCache     bool
}

// NewResponse 创建空响应
func NewResponse() *Response {
	return &Response{Headers: Header{}}
}

// OK 状态码是否为 2xx
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Clone 深拷贝
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = r.Headers.Clone()
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
