package network

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"cdpstealth/internal/protocol"
	"cdpstealth/internal/session"
	"cdpstealth/internal/transport"
	"cdpstealth/internal/transport/transporttest"
	"cdpstealth/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(method, params string) protocol.Event {
	return protocol.Event{Method: method, Params: []byte(params)}
}

func willBeSent(id, url string) protocol.Event {
	return ev("Network.requestWillBeSent", fmt.Sprintf(
		`{"requestId":%q,"loaderId":"L","documentURL":%q,"request":{"url":%q,"method":"GET","headers":{"Accept":"*/*"}},"timestamp":1,"wallTime":1,"initiator":{"type":"other"},"type":"XHR"}`,
		id, url, url))
}

func finished(id string) protocol.Event {
	return ev("Network.loadingFinished", fmt.Sprintf(`{"requestId":%q,"timestamp":2,"encodedDataLength":10}`, id))
}

func failed(id string) protocol.Event {
	return ev("Network.loadingFailed", fmt.Sprintf(`{"requestId":%q,"timestamp":2,"type":"XHR","errorText":"net::ERR_FAILED"}`, id))
}

func TestStateMachine(t *testing.T) {
	w := New(Options{Capture: true})

	w.Handle(willBeSent("r1", "https://a.test/one"))
	w.Handle(willBeSent("r2", "https://a.test/two"))
	assert.Equal(t, 2, w.PendingCount())
	assert.False(t, w.IsIdle(0))

	w.Handle(ev("Network.responseReceived", `{"requestId":"r1","loaderId":"L","timestamp":1.5,"type":"XHR","response":{"url":"https://a.test/one","status":201,"statusText":"Created","headers":{"X-A":"1"},"mimeType":"application/json","connectionReused":false,"connectionId":1,"encodedDataLength":1,"securityState":"secure"}}`))
	rec, done := w.Handle(finished("r1"))
	require.True(t, done)
	assert.Equal(t, Completed, rec.State)
	assert.Equal(t, 201, rec.Status)
	require.NotNil(t, rec.Response)
	assert.Equal(t, "1", rec.Response.Headers.Get("x-a"))
	assert.Equal(t, "*/*", rec.Request.Headers.Get("accept"))

	rec, done = w.Handle(failed("r2"))
	require.True(t, done)
	assert.Equal(t, Failed, rec.State)
	assert.Equal(t, "net::ERR_FAILED", rec.ErrorText)

	// 终态不可再变化
	_, done = w.Handle(finished("r2"))
	assert.False(t, done)
	_, done = w.Handle(finished("unknown"))
	assert.False(t, done)

	assert.Zero(t, w.PendingCount())
	assert.True(t, w.IsIdle(0))
	assert.Len(t, w.Requests(), 2)
	assert.Len(t, w.Matching("/two"), 1)
}

func TestRedirectKeepsSinglePendingEntry(t *testing.T) {
	w := New(Options{})
	w.Handle(willBeSent("r1", "http://a.test/"))
	w.Handle(willBeSent("r1", "https://a.test/"))
	assert.Equal(t, 1, w.PendingCount())
	assert.Equal(t, "https://a.test/", w.Requests()[0].URL)
	w.Handle(finished("r1"))
	assert.Zero(t, w.PendingCount())
}

func TestTopFrameNavigationClearsTable(t *testing.T) {
	w := New(Options{})
	w.Handle(willBeSent("stale", "https://old.test/poll"))
	assert.Equal(t, 1, w.PendingCount())

	w.Handle(ev("Page.frameNavigated", `{"frame":{"id":"child","parentId":"F1","loaderId":"L","url":"https://ads.test/","securityOrigin":"","mimeType":"text/html"}}`))
	assert.Equal(t, 1, w.PendingCount())

	w.Handle(ev("Page.frameNavigated", `{"frame":{"id":"F1","loaderId":"L2","url":"https://new.test/","securityOrigin":"","mimeType":"text/html"}}`))
	assert.Zero(t, w.PendingCount())
	assert.Empty(t, w.Requests())
	assert.False(t, w.IsIdle(time.Hour))
	assert.True(t, w.IsIdle(0))
}

func TestIdleWindowResetsOnNewRequest(t *testing.T) {
	const idle = 150 * time.Millisecond
	w := New(Options{})
	w.Handle(willBeSent("r1", "https://a.test/1"))

	var (
		mu        sync.Mutex
		secondEnd time.Time
	)
	go func() {
		time.Sleep(20 * time.Millisecond)
		w.Handle(finished("r1"))
		time.Sleep(idle / 2)
		w.Handle(willBeSent("r2", "https://a.test/2"))
		time.Sleep(80 * time.Millisecond)
		mu.Lock()
		secondEnd = time.Now()
		mu.Unlock()
		w.Handle(finished("r2"))
	}()

	require.NoError(t, w.WaitForIdle(context.Background(), idle, 2*time.Second))
	resolved := time.Now()

	mu.Lock()
	defer mu.Unlock()
	require.False(t, secondEnd.IsZero(), "resolved before second request started")
	assert.GreaterOrEqual(t, resolved.Sub(secondEnd), idle)
}

func TestWaitForIdleTimesOut(t *testing.T) {
	w := New(Options{})
	w.Handle(willBeSent("hang", "https://a.test/long-poll"))

	start := time.Now()
	err := w.WaitForIdle(context.Background(), 10*time.Millisecond, 60*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestWaitForIdleHonoursContext(t *testing.T) {
	w := New(Options{})
	w.Handle(willBeSent("hang", "https://a.test/"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.WaitForIdle(ctx, 0, time.Second), context.Canceled)
}

func TestWaitForRequest(t *testing.T) {
	w := New(Options{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		w.Handle(willBeSent("r1", "https://a.test/api/login"))
		time.Sleep(10 * time.Millisecond)
		w.Handle(finished("r1"))
	}()
	rec, err := w.WaitForRequest(context.Background(), "/api/login", time.Second)
	require.NoError(t, err)
	assert.Equal(t, Completed, rec.State)

	_, err = w.WaitForRequest(context.Background(), "/never", 30*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

type memRecorder struct {
	mu   sync.Mutex
	recs []Record
}

func (m *memRecorder) RecordRequest(_ context.Context, _ domain.SessionID, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memRecorder) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

func TestWatchOverSession(t *testing.T) {
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

	rec := &memRecorder{}
	w := Watch(s, Options{SessionID: s.ID, Recorder: rec, Capture: true})
	defer w.Close()

	b.Emit("S1", "Network.requestWillBeSent", sentParams("r1", "https://a.test/x"))
	// 其他会话的事件不应影响本会话
	b.Emit("S2", "Network.requestWillBeSent", sentParams("other", "https://b.test/"))
	b.Emit("S1", "Network.loadingFinished", map[string]any{"requestId": "r1", "timestamp": 2, "encodedDataLength": 1})

	_, err = w.WaitForRequest(ctx, "/x", time.Second)
	require.NoError(t, err)
	require.NoError(t, w.WaitForIdle(ctx, 20*time.Millisecond, time.Second))
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, w.Requests(), 1)
}

func sentParams(id, url string) map[string]any {
	return map[string]any{
		"requestId":   id,
		"loaderId":    "L",
		"documentURL": url,
		"request": map[string]any{
			"url":     url,
			"method":  "GET",
			"headers": map[string]string{},
		},
		"timestamp": 1,
		"wallTime":  1,
		"initiator": map[string]string{"type": "other"},
	}
}
