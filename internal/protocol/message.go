package protocol

import (
	"encoding/json"
	"errors"
	"strconv"

	"cdpstealth/pkg/domain"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrMalformed 帧不是合法的 JSON 对象
var ErrMalformed = errors.New("malformed frame")

// Kind 消息类型
type Kind int

const (
	KindUnknown Kind = iota
	KindResponse
	KindEvent
)

// WireError 协议错误体 {code,message,data?}
type WireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// ProtocolError 附上方法名
func (e *WireError) ProtocolError(method string) *domain.ProtocolError {
	return &domain.ProtocolError{Method: method, Code: e.Code, Message: e.Message, Data: e.Data}
}

// Message 解码后的入站帧，响应带 id，事件带 method
type Message struct {
	ID        int64
	HasID     bool
	Method    string
	SessionID domain.SessionID
	Params    json.RawMessage
	Result    json.RawMessage
	Error     *WireError
}

// Kind 判断消息类型
func (m *Message) Kind() Kind {
	switch {
	case m.HasID && m.Method == "":
		return KindResponse
	case !m.HasID && m.Method != "":
		return KindEvent
	default:
		return KindUnknown
	}
}

// Event 转换为事件
func (m *Message) Event() Event {
	return Event{SessionID: m.SessionID, Method: m.Method, Params: m.Params}
}

// Event 协议事件
type Event struct {
	SessionID domain.SessionID
	Method    string
	Params    json.RawMessage
}

// Unmarshal 解码事件参数
func (e Event) Unmarshal(v any) error {
	if len(e.Params) == 0 {
		return nil
	}
	return json.Unmarshal(e.Params, v)
}

// Get 按 gjson 路径读取参数字段
func (e Event) Get(path string) gjson.Result {
	return gjson.GetBytes(e.Params, path)
}

// Decode 解析入站帧
func Decode(frame []byte) (*Message, error) {
	if !gjson.ValidBytes(frame) {
		return nil, ErrMalformed
	}
	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return nil, ErrMalformed
	}
	f := root.Get
	m := &Message{
		Method:    f("method").String(),
		SessionID: domain.SessionID(f("sessionId").String()),
	}
	if id := f("id"); id.Exists() {
		m.ID = id.Int()
		m.HasID = true
	}
	if p := f("params"); p.Exists() {
		m.Params = json.RawMessage(p.Raw)
	}
	if r := f("result"); r.Exists() {
		m.Result = json.RawMessage(r.Raw)
	}
	if e := f("error"); e.Exists() {
		m.Error = &WireError{
			Code:    int(e.Get("code").Int()),
			Message: e.Get("message").String(),
			Data:    e.Get("data").String(),
		}
	}
	return m, nil
}

// EncodeRequest 编码请求帧 {id, method, params, sessionId?}
func EncodeRequest(id int64, method string, params json.RawMessage, sessionID domain.SessionID) ([]byte, error) {
	frame := []byte(`{"id":` + strconv.FormatInt(id, 10) + `}`)
	frame, err := sjson.SetBytes(frame, "method", method)
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		params = EmptyObject
	}
	if frame, err = sjson.SetRawBytes(frame, "params", params); err != nil {
		return nil, err
	}
	if sessionID != "" {
		if frame, err = sjson.SetBytes(frame, "sessionId", string(sessionID)); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

// EmptyObject 空结果 {}
var EmptyObject = json.RawMessage(`{}`)

// MarshalParams 参数为 nil 时返回 {}
func MarshalParams(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return EmptyObject, nil
	case json.RawMessage:
		if len(p) == 0 {
			return EmptyObject, nil
		}
		return p, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return EmptyObject, nil
	}
	return b, nil
}
