package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"cdpstealth/internal/cdp"
	"cdpstealth/internal/protocol"
	"cdpstealth/pkg/domain"

	"github.com/mafredri/cdp/protocol/dom"
	"github.com/tidwall/gjson"
)

// fakeNode 扁平文档中的一个元素，按添加顺序即文档顺序
type fakeNode struct {
	id          dom.NodeID
	tag         string
	text        string
	attrs       map[string]string
	interactive bool
	quad        []float64
	disabled    bool
	editable    bool
	inputType   string
	value       string
	checked     bool
}

func box(x, y, w, h float64) []float64 {
	return []float64{x, y, x + w, y, x + w, y + h, x, y + h}
}

// fakeBrowser 在内存中模拟页面的 Caller，按方法名分派并记录调用
type fakeBrowser struct {
	mu      sync.Mutex
	root    dom.NodeID
	nextID  dom.NodeID
	nodes   []*fakeNode
	objects map[string]dom.NodeID

	url         string
	title       string
	readyStates []string
	history     []string
	histIdx     int
	evalResults map[string]string

	calls         []string
	markers       []string
	failures      map[string]error
	throwAfterTag bool
	delay         time.Duration

	inserted []string
	mouse    []cdp.MouseEventArgs
	keys     []gjson.Result
	cookies  []gjson.Result
	files    []string
	bodies   map[string]map[string]any
	shot     []byte
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		root:        1,
		nextID:      100,
		objects:     make(map[string]dom.NodeID),
		url:         "about:blank",
		title:       "Fake",
		readyStates: []string{"complete"},
		history:     []string{"about:blank"},
		evalResults: make(map[string]string),
		failures:    make(map[string]error),
		bodies:      make(map[string]map[string]any),
	}
}

func (f *fakeBrowser) add(n *fakeNode) *fakeNode {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	n.id = f.nextID
	if n.attrs == nil {
		n.attrs = make(map[string]string)
	}
	f.nodes = append(f.nodes, n)
	return n
}

func (f *fakeBrowser) remove(n *fakeNode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, x := range f.nodes {
		if x == n {
			f.nodes = append(f.nodes[:i], f.nodes[i+1:]...)
			return
		}
	}
}

func (f *fakeBrowser) set(fn func(f *fakeBrowser)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeBrowser) fail(method string, err error) {
	f.set(func(f *fakeBrowser) { f.failures[method] = err })
}

func (f *fakeBrowser) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

// markerAttrs 返回 DOM 中残留的标记属性
func (f *fakeBrowser) markerAttrs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, n := range f.nodes {
		for k := range n.attrs {
			if strings.HasPrefix(k, markerPrefix) {
				out = append(out, k)
			}
		}
	}
	return out
}

func (f *fakeBrowser) seenMarkers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.markers...)
}

func (f *fakeBrowser) Send(_ context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := protocol.MarshalParams(params)
	if err != nil {
		return nil, err
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if err := f.failures[method]; err != nil {
		return nil, err
	}
	res, err := f.handle(method, gjson.ParseBytes(raw))
	if err != nil {
		return nil, err
	}
	if res == nil {
		return protocol.EmptyObject, nil
	}
	return json.Marshal(res)
}

func notFound(method string) error {
	return &domain.ProtocolError{Method: method, Code: -32000, Message: "Could not find node with given id"}
}

func (f *fakeBrowser) byID(id dom.NodeID) *fakeNode {
	for _, n := range f.nodes {
		if n.id == id {
			return n
		}
	}
	return nil
}

func (f *fakeBrowser) node(method string, id gjson.Result) (*fakeNode, error) {
	if n := f.byID(dom.NodeID(id.Int())); n != nil {
		return n, nil
	}
	return nil, notFound(method)
}

func (f *fakeBrowser) query(method, sel string) ([]dom.NodeID, error) {
	var ids []dom.NodeID
	matchOne := func(n *fakeNode, sel string) bool {
		if i := strings.Index(sel, ":"); i > 0 {
			sel = sel[:i]
		}
		if i := strings.Index(sel, "["); i > 0 && strings.HasSuffix(sel, "]") {
			name, _, _ := strings.Cut(sel[i+1:len(sel)-1], "=")
			_, ok := n.attrs[name]
			return n.tag == sel[:i] && ok
		}
		switch {
		case strings.HasPrefix(sel, "#"):
			return n.attrs["id"] == sel[1:]
		case strings.HasPrefix(sel, "[") && strings.HasSuffix(sel, "]"):
			name, _, _ := strings.Cut(sel[1:len(sel)-1], "=")
			_, ok := n.attrs[name]
			return ok
		case strings.HasPrefix(sel, "."):
			return strings.Contains(" "+n.attrs["class"]+" ", " "+sel[1:]+" ")
		default:
			return n.tag == sel
		}
	}
	match := func(n *fakeNode) bool {
		for _, part := range strings.Split(sel, ",") {
			if matchOne(n, strings.TrimSpace(part)) {
				return true
			}
		}
		return false
	}
	if sel == "" || strings.ContainsAny(sel, "!@") {
		return nil, &domain.ProtocolError{Method: method, Code: -32000, Message: "DOM Error while querying"}
	}
	for _, n := range f.nodes {
		if match(n) {
			ids = append(ids, n.id)
		}
	}
	return ids, nil
}

func value(v any) map[string]any {
	return map[string]any{"result": map[string]any{"type": "object", "value": v}}
}

func (f *fakeBrowser) handle(method string, p gjson.Result) (any, error) {
	switch method {
	case "DOM.getDocument":
		return map[string]any{"root": map[string]any{
			"nodeId": f.root, "backendNodeId": 1, "nodeType": 9,
			"nodeName": "#document", "localName": "", "nodeValue": "",
		}}, nil

	case "DOM.querySelector", "DOM.querySelectorAll":
		if dom.NodeID(p.Get("nodeId").Int()) != f.root {
			return nil, notFound(method)
		}
		ids, err := f.query(method, p.Get("selector").String())
		if err != nil {
			return nil, err
		}
		if method == "DOM.querySelectorAll" {
			if ids == nil {
				ids = []dom.NodeID{}
			}
			return map[string]any{"nodeIds": ids}, nil
		}
		var first dom.NodeID
		if len(ids) > 0 {
			first = ids[0]
		}
		return map[string]any{"nodeId": first}, nil

	case "DOM.getBoxModel":
		n, err := f.node(method, p.Get("nodeId"))
		if err != nil {
			return nil, err
		}
		if n.quad == nil {
			return nil, &domain.ProtocolError{Method: method, Code: -32000, Message: "Could not compute box model."}
		}
		q := n.quad
		return map[string]any{"model": map[string]any{
			"content": q, "padding": q, "border": q, "margin": q,
			"width": int(q[2] - q[0]), "height": int(q[5] - q[1]),
		}}, nil

	case "DOM.scrollIntoViewIfNeeded":
		n, err := f.node(method, p.Get("nodeId"))
		if err != nil {
			return nil, err
		}
		if n.quad == nil {
			return nil, &domain.ProtocolError{Method: method, Code: -32000, Message: "Node does not have a layout object"}
		}
		return nil, nil

	case "DOM.focus":
		_, err := f.node(method, p.Get("nodeId"))
		return nil, err

	case "DOM.resolveNode":
		n, err := f.node(method, p.Get("nodeId"))
		if err != nil {
			return nil, err
		}
		oid := fmt.Sprintf("obj-%d", n.id)
		f.objects[oid] = n.id
		return map[string]any{"object": map[string]any{"type": "object", "objectId": oid}}, nil

	case "Runtime.releaseObject":
		delete(f.objects, p.Get("objectId").String())
		return nil, nil

	case "Runtime.callFunctionOn":
		return f.callOn(method, p)

	case "DOM.getAttributes":
		n, err := f.node(method, p.Get("nodeId"))
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(n.attrs))
		for k := range n.attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		flat := make([]string, 0, 2*len(keys))
		for _, k := range keys {
			flat = append(flat, k, n.attrs[k])
		}
		return map[string]any{"attributes": flat}, nil

	case "DOM.getOuterHTML":
		n, err := f.node(method, p.Get("nodeId"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"outerHTML": fmt.Sprintf("<%s>%s</%s>", n.tag, n.text, n.tag)}, nil

	case "DOM.setFileInputFiles":
		for _, v := range p.Get("files").Array() {
			f.files = append(f.files, v.String())
		}
		return nil, nil

	case "Runtime.evaluate":
		return f.evaluate(p.Get("expression").String())

	case "Input.dispatchMouseEvent":
		var ev cdp.MouseEventArgs
		if err := json.Unmarshal([]byte(p.Raw), &ev); err != nil {
			return nil, err
		}
		f.mouse = append(f.mouse, ev)
		return nil, nil

	case "Input.insertText":
		f.inserted = append(f.inserted, p.Get("text").String())
		return nil, nil

	case "Input.dispatchKeyEvent":
		f.keys = append(f.keys, p)
		return nil, nil

	case "Page.getFrameTree":
		return map[string]any{"frameTree": map[string]any{"frame": map[string]any{
			"id": "main", "loaderId": "l1", "url": f.url, "securityOrigin": "", "mimeType": "text/html",
		}}}, nil

	case "Page.navigate":
		u := p.Get("url").String()
		if strings.Contains(u, "unreachable") {
			return map[string]any{"frameId": "main", "errorText": "net::ERR_NAME_NOT_RESOLVED"}, nil
		}
		f.url = u
		f.root++
		f.history = append(f.history[:f.histIdx+1], u)
		f.histIdx = len(f.history) - 1
		return map[string]any{"frameId": "main"}, nil

	case "Page.getNavigationHistory":
		entries := make([]map[string]any, 0, len(f.history))
		for i, u := range f.history {
			entries = append(entries, map[string]any{"id": i + 1, "url": u, "userTypedURL": u, "title": "", "transitionType": "link"})
		}
		return map[string]any{"currentIndex": f.histIdx, "entries": entries}, nil

	case "Page.navigateToHistoryEntry":
		f.histIdx = int(p.Get("entryId").Int()) - 1
		f.url = f.history[f.histIdx]
		f.root++
		return nil, nil

	case "Page.captureScreenshot":
		if f.shot != nil {
			return map[string]any{"data": f.shot}, nil
		}
		return map[string]any{"data": []byte("fake-" + p.Get("format").String())}, nil

	case "Network.getCookies":
		return map[string]any{"cookies": []map[string]any{{
			"name": "sid", "value": "abc", "domain": "example.com", "path": "/",
			"expires": -1, "size": 6, "httpOnly": true, "secure": true, "session": true,
		}}}, nil

	case "Network.getResponseBody":
		body, ok := f.bodies[p.Get("requestId").String()]
		if !ok {
			return nil, &domain.ProtocolError{Method: method, Code: -32000, Message: "No resource with given identifier found"}
		}
		return body, nil

	case "Network.setCookie", "Network.deleteCookies":
		f.cookies = append(f.cookies, p)
		return nil, nil
	}
	return nil, nil
}

func (f *fakeBrowser) callOn(method string, p gjson.Result) (any, error) {
	id, ok := f.objects[p.Get("objectId").String()]
	if !ok {
		return nil, &domain.ProtocolError{Method: method, Code: -32000, Message: "Could not find object with given id"}
	}
	n := f.byID(id)
	if n == nil {
		return nil, notFound(method)
	}
	args := p.Get("arguments.#.value").Array()
	switch p.Get("functionDeclaration").String() {
	case fnElementState:
		return value(map[string]any{
			"tag": n.tag, "disabled": n.disabled, "editable": n.editable,
			"readOnly": false, "type": n.inputType,
		}), nil
	case fnElementText:
		return value(n.text), nil
	case fnElementDescribe:
		typ := ""
		if n.tag == "input" {
			typ = n.inputType
		}
		return value(map[string]any{
			"tag": n.tag, "text": strings.Join(strings.Fields(n.text), " "), "type": typ,
			"href": n.attrs["href"], "role": n.attrs["role"],
		}), nil
	case fnElementValue:
		return value(n.value), nil
	case fnElementChecked:
		return value(n.checked), nil
	case fnElementCSS:
		if len(args) == 1 && args[0].String() == "display" {
			return value("block"), nil
		}
		return value(""), nil
	case fnElementClear:
		n.value = ""
		return map[string]any{"result": map[string]any{"type": "undefined"}}, nil
	}
	return nil, &domain.ProtocolError{Method: method, Code: -32000, Message: "unknown function"}
}

func parseCall(expr string) (string, []gjson.Result, bool) {
	const sep = ").apply(null, "
	i := strings.LastIndex(expr, sep)
	if i < 0 || !strings.HasPrefix(expr, "(") || !strings.HasSuffix(expr, ")") {
		return "", nil, false
	}
	return expr[1:i], gjson.Parse(expr[i+len(sep) : len(expr)-1]).Array(), true
}

var strategies = map[string]domain.MatchStrategy{
	"exact":      domain.MatchExact,
	"contains":   domain.MatchContains,
	"startsWith": domain.MatchStartsWith,
	"endsWith":   domain.MatchEndsWith,
}

func (f *fakeBrowser) evaluate(expr string) (any, error) {
	if fn, args, ok := parseCall(expr); ok {
		switch fn {
		case scriptFindText:
			attr, strategy, needle := args[0].String(), strategies[args[1].String()], args[2].String()
			f.markers = append(f.markers, attr)
			var hits []*fakeNode
			for _, n := range f.nodes {
				if n.interactive && strategy.Matches(n.text, needle) {
					hits = append(hits, n)
				}
			}
			if len(hits) == 0 {
				for _, n := range f.nodes {
					if !n.interactive && strategy.Matches(n.text, needle) {
						hits = append(hits, n)
					}
				}
			}
			for _, n := range hits {
				n.attrs[attr] = ""
			}
			if f.throwAfterTag {
				return map[string]any{
					"result":           map[string]any{"type": "object"},
					"exceptionDetails": map[string]any{"exceptionId": 1, "text": "Uncaught", "lineNumber": 3, "columnNumber": 7},
				}, nil
			}
			return value(len(hits)), nil
		case scriptCleanupMarker:
			attr, removed := args[0].String(), 0
			for _, n := range f.nodes {
				if _, ok := n.attrs[attr]; ok {
					delete(n.attrs, attr)
					removed++
				}
			}
			return value(removed), nil
		case scriptHasText:
			want := domain.NormalizeText(args[0].String())
			for _, n := range f.nodes {
				if strings.Contains(domain.NormalizeText(n.text), want) {
					return value(true), nil
				}
			}
			return value(false), nil
		}
		return nil, &domain.ProtocolError{Method: "Runtime.evaluate", Code: -32000, Message: "unknown script"}
	}

	switch expr {
	case exprReadyState:
		s := f.readyStates[0]
		if len(f.readyStates) > 1 {
			f.readyStates = f.readyStates[1:]
		}
		return value(s), nil
	case exprTitle:
		return value(f.title), nil
	case exprElementCount:
		return value(len(f.nodes)), nil
	case exprBodyText:
		parts := make([]string, 0, len(f.nodes))
		for _, n := range f.nodes {
			parts = append(parts, n.text)
		}
		return value(strings.Join(parts, "\n")), nil
	case exprContent:
		return value("<html></html>"), nil
	}
	if v, ok := f.evalResults[expr]; ok {
		if v == "throw" {
			return map[string]any{
				"result": map[string]any{"type": "object"},
				"exceptionDetails": map[string]any{
					"exceptionId": 1, "text": "Uncaught", "lineNumber": 0, "columnNumber": 1,
					"exception": map[string]any{"type": "object", "description": "Error: boom"},
				},
			}, nil
		}
		return map[string]any{"result": map[string]any{"type": "object", "value": json.RawMessage(v)}}, nil
	}
	return map[string]any{"result": map[string]any{"type": "undefined"}}, nil
}

func newTestPage(t *testing.T, f *fakeBrowser, mutate ...func(*Options)) *Page {
	t.Helper()
	opts := Options{
		SessionID:     "S1",
		TargetID:      "T1",
		PollInterval:  10 * time.Millisecond,
		WaitTimeout:   500 * time.Millisecond,
		RetryAttempts: 2,
		RetryDelay:    10 * time.Millisecond,
		NetworkIdle:   20 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewPage(f, opts)
}
