// Package cdp 把协议网络事件转换为 pkg/traffic 中的中立模型。
package cdp

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"cdpstealth/pkg/traffic"

	"github.com/mafredri/cdp/protocol/network"
)

// ToNeutralRequest 由 requestWillBeSent 构造请求，resourceType 取自事件顶层的 type 字段
func ToNeutralRequest(ev *network.RequestWillBeSentReply, resourceType string) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = string(ev.RequestID)
	req.URL = ev.Request.URL
	req.Method = ev.Request.Method
	req.ResourceType = resourceType
	req.DocumentURL = ev.DocumentURL
	req.Initiator = ev.Initiator.Type
	decodeHeaders(req.Headers, ev.Request.Headers)
	if ev.Request.PostData != nil {
		req.Body = []byte(*ev.Request.PostData)
	}

	if u, err := url.Parse(req.URL); err == nil {
		for k, vs := range u.Query() {
			if len(vs) > 0 {
				req.Query[strings.ToLower(k)] = vs[0]
			}
		}
	}
	if line := req.Headers.Get("cookie"); line != "" {
		// 单个畸形 Cookie 会让整行解析失败，逐段解析
		for _, part := range strings.Split(line, ";") {
			cs, err := http.ParseCookie(strings.TrimSpace(part))
			if err != nil {
				continue
			}
			for _, c := range cs {
				req.Cookies[strings.ToLower(c.Name)] = c.Value
			}
		}
	}
	return req
}

// ToNeutralResponse 由 responseReceived 中的 response 构造响应
func ToNeutralResponse(res *network.Response) *traffic.Response {
	out := traffic.NewResponse()
	out.Status = res.Status
	out.StatusText = res.StatusText
	out.MimeType = res.MimeType
	decodeHeaders(out.Headers, res.Headers)
	if res.RemoteIPAddress != nil {
		out.RemoteAddress = *res.RemoteIPAddress
		if res.RemotePort != nil {
			out.RemoteAddress = net.JoinHostPort(*res.RemoteIPAddress, strconv.Itoa(*res.RemotePort))
		}
	}
	if res.Protocol != nil {
		out.Protocol = *res.Protocol
	}
	out.FromCache = (res.FromDiskCache != nil && *res.FromDiskCache) ||
		(res.FromServiceWorker != nil && *res.FromServiceWorker)
	return out
}

// decodeHeaders 头部值通常是字符串，其他类型按 JSON 文本保存
func decodeHeaders(dst traffic.Header, raw network.Headers) {
	if len(raw) == 0 {
		return
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	for k, v := range m {
		if s, ok := v.(string); ok {
			dst.Set(k, s)
			continue
		}
		dst.Set(k, fmt.Sprint(v))
	}
}
