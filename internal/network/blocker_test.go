package network

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"cdpstealth/internal/protocol"
	"cdpstealth/internal/session"
	"cdpstealth/internal/transport"
	"cdpstealth/internal/transport/transporttest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type sentCommand struct {
	method string
	params gjson.Result
}

type stubCaller struct {
	mu   sync.Mutex
	sent []sentCommand
}

func (s *stubCaller) Send(_ context.Context, method string, params any) (json.RawMessage, error) {
	b, _ := json.Marshal(params)
	s.mu.Lock()
	s.sent = append(s.sent, sentCommand{method: method, params: gjson.ParseBytes(b)})
	s.mu.Unlock()
	return json.RawMessage(`{}`), nil
}

func paused(id, url, resourceType string) map[string]any {
	return map[string]any{
		"requestId":    id,
		"frameId":      "F1",
		"resourceType": resourceType,
		"request": map[string]any{
			"url":             url,
			"method":          "GET",
			"headers":         map[string]string{},
			"initialPriority": "Low",
			"referrerPolicy":  "strict-origin-when-cross-origin",
		},
	}
}

func pausedEvent(id, url, resourceType string) protocol.Event {
	b, _ := json.Marshal(paused(id, url, resourceType))
	return protocol.Event{Method: "Fetch.requestPaused", Params: b}
}

func TestBlocksByPatternAndResourceType(t *testing.T) {
	b := newBlocker(&stubCaller{}, BlockOptions{
		URLPatterns:   []string{"*doubleclick.net*", "https://cdn.test/ads/*", "https://*.tracker.test/*"},
		ResourceTypes: []string{"image", "Font"},
	})

	assert.True(t, b.Blocks("https://ad.doubleclick.net/pixel", "Script"))
	assert.True(t, b.Blocks("https://cdn.test/ads/banner.js", "Script"))
	assert.True(t, b.Blocks("https://example.com/logo.png", "Image"))
	assert.True(t, b.Blocks("https://example.com/a.woff2", "Font"))
	assert.False(t, b.Blocks("https://example.com/app.js", "Script"))
	assert.False(t, b.Blocks("https://cdn.test/app/main.js", "Script"))
	assert.True(t, b.Blocks("https://stats.tracker.test/pixel.gif", "Image"))
	assert.True(t, b.Blocks("https://stats.tracker.test/beacon", "Ping"))
	assert.False(t, b.Blocks("https://tracker.test.example.com/beacon", "Ping"))
}

func TestPatternsCarryResourceTypes(t *testing.T) {
	opts := BlockOptions{URLPatterns: []string{"https://*.ads.test/*"}, ResourceTypes: []string{"Image", "Font"}}
	pats := newBlocker(&stubCaller{}, opts).patterns(opts)
	require.Len(t, pats, 3)

	require.NotNil(t, pats[0].URLPattern)
	assert.Equal(t, "https://*.ads.test/*", *pats[0].URLPattern)
	assert.Nil(t, pats[0].ResourceType)

	for i, want := range []string{"Image", "Font"} {
		p := pats[i+1]
		require.NotNil(t, p.ResourceType)
		assert.EqualValues(t, want, *p.ResourceType)
		assert.Equal(t, "*", *p.URLPattern)
	}
}

func TestHandleFailsOrContinues(t *testing.T) {
	c := &stubCaller{}
	b := newBlocker(c, BlockOptions{ResourceTypes: []string{"Image"}})
	ctx := context.Background()

	assert.True(t, b.Handle(ctx, pausedEvent("i1", "https://example.com/a.png", "Image")))
	assert.False(t, b.Handle(ctx, pausedEvent("i2", "https://example.com/", "Document")))

	require.Len(t, c.sent, 2)
	assert.Equal(t, "Fetch.failRequest", c.sent[0].method)
	assert.Equal(t, "i1", c.sent[0].params.Get("requestId").String())
	assert.Equal(t, "BlockedByClient", c.sent[0].params.Get("errorReason").String())
	assert.Equal(t, "Fetch.continueRequest", c.sent[1].method)
	assert.Equal(t, "i2", c.sent[1].params.Get("requestId").String())

	blocked, passed := b.Stats()
	assert.EqualValues(t, 1, blocked)
	assert.EqualValues(t, 1, passed)
}

func TestBlockRequiresRules(t *testing.T) {
	_, err := Block(context.Background(), nil, BlockOptions{})
	assert.ErrorIs(t, err, ErrNoBlockRules)
}

func TestBlockOverSession(t *testing.T) {
	b := transporttest.NewServer(t)
	b.OnResult("Target.attachToTarget", map[string]string{"sessionId": "S1"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr, err := transport.Dial(ctx, b.URL(), transport.Options{})
	require.NoError(t, err)
	defer tr.Close()
	mgr := session.NewManager(tr, nil, nil)
	defer mgr.Close()
	s, err := mgr.Attach(ctx, "T1")
	require.NoError(t, err)

	bl, err := Block(ctx, s, BlockOptions{SessionID: s.ID, URLPatterns: []string{"*/tracker.js"}, ResourceTypes: []string{"Media"}})
	require.NoError(t, err)

	var enable transporttest.Request
	for _, r := range b.Seen() {
		if r.Method == "Fetch.enable" {
			enable = r
		}
	}
	require.Equal(t, "S1", enable.SessionID)
	pats := enable.Params.Get("patterns").Array()
	require.Len(t, pats, 2)
	assert.Equal(t, "*/tracker.js", pats[0].Get("urlPattern").String())
	assert.Equal(t, "Request", pats[0].Get("requestStage").String())
	assert.False(t, pats[0].Get("resourceType").Exists())
	assert.Equal(t, "Media", pats[1].Get("resourceType").String())
	assert.Equal(t, "*", pats[1].Get("urlPattern").String())

	for i, u := range []string{"https://x.test/tracker.js", "https://x.test/app.js"} {
		b.Emit("S1", "Fetch.requestPaused", paused(fmt.Sprintf("p%d", i), u, "Script"))
	}
	require.Eventually(t, func() bool {
		blocked, passed := bl.Stats()
		return blocked == 1 && passed == 1
	}, time.Second, 5*time.Millisecond)

	methods := b.Methods()
	assert.Contains(t, methods, "Fetch.failRequest")
	assert.Contains(t, methods, "Fetch.continueRequest")

	require.NoError(t, bl.Close(ctx))
	assert.Contains(t, b.Methods(), "Fetch.disable")
}
