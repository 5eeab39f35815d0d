package automation

import (
	"context"
	"testing"
	"time"

	"cdpstealth/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestFindBySelector(t *testing.T) {
	f := newFakeBrowser()
	f.add(&fakeNode{tag: "div", text: "header"})
	want := f.add(&fakeNode{tag: "button", attrs: map[string]string{"id": "go"}})
	p := newTestPage(t, f)

	el, err := p.Find(context.Background(), "#go")
	require.NoError(t, err)
	assert.Equal(t, want.id, el.NodeID)
	assert.Equal(t, "#go", el.Selector)

	// 文档根被缓存
	_, err = p.Find(context.Background(), "div")
	require.NoError(t, err)
	assert.Equal(t, 1, f.count("DOM.getDocument"))
}

func TestFindMissingIsNotFound(t *testing.T) {
	f := newFakeBrowser()
	p := newTestPage(t, f)

	_, err := p.Find(context.Background(), "#nope")
	assert.ErrorIs(t, err, domain.ErrElementNotFound)

	ok, err := p.Exists(context.Background(), "#nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindInvalidSelectorPassesThrough(t *testing.T) {
	f := newFakeBrowser()
	p := newTestPage(t, f)

	_, err := p.Find(context.Background(), "!!")
	var pe *domain.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "DOM.querySelector", pe.Method)

	_, err = p.Exists(context.Background(), "!!")
	assert.Error(t, err)
}

func TestFindRefreshesStaleDocument(t *testing.T) {
	f := newFakeBrowser()
	f.add(&fakeNode{tag: "p"})
	p := newTestPage(t, f)

	_, err := p.Find(context.Background(), "p")
	require.NoError(t, err)

	// 页面在后台重新加载，旧的根节点失效
	f.set(func(f *fakeBrowser) { f.root = 7 })
	_, err = p.Find(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, 2, f.count("DOM.getDocument"))
}

func TestFindAll(t *testing.T) {
	f := newFakeBrowser()
	a := f.add(&fakeNode{tag: "li"})
	f.add(&fakeNode{tag: "p"})
	b := f.add(&fakeNode{tag: "li"})
	p := newTestPage(t, f)

	els, err := p.FindAll(context.Background(), "li")
	require.NoError(t, err)
	require.Len(t, els, 2)
	assert.Equal(t, a.id, els[0].NodeID)
	assert.Equal(t, b.id, els[1].NodeID)

	els, err = p.FindAll(context.Background(), "table")
	require.NoError(t, err)
	assert.Empty(t, els)
}

func TestFindByTextPrefersInteractive(t *testing.T) {
	f := newFakeBrowser()
	f.add(&fakeNode{tag: "span", text: "Sign in to continue"})
	btn := f.add(&fakeNode{tag: "button", text: "  SIGN   in ", interactive: true})
	p := newTestPage(t, f)

	el, err := p.FindByText(context.Background(), "sign in", domain.MatchExact)
	require.NoError(t, err)
	assert.Equal(t, btn.id, el.NodeID)

	els, err := p.FindAllByText(context.Background(), "sign in", domain.MatchContains)
	require.NoError(t, err)
	require.Len(t, els, 1, "static matches are ignored once an interactive match exists")
	assert.Equal(t, btn.id, els[0].NodeID)
	assert.Empty(t, f.markerAttrs())
}

func TestFindByTextFallsBackToStatic(t *testing.T) {
	f := newFakeBrowser()
	f.add(&fakeNode{tag: "a", text: "Home", interactive: true})
	first := f.add(&fakeNode{tag: "h1", text: "Order summary"})
	second := f.add(&fakeNode{tag: "p", text: "Your order"})
	p := newTestPage(t, f)

	els, err := p.FindAllByText(context.Background(), "ORDER", domain.MatchContains)
	require.NoError(t, err)
	require.Len(t, els, 2)
	assert.Equal(t, first.id, els[0].NodeID)
	assert.Equal(t, second.id, els[1].NodeID)

	el, err := p.FindByText(context.Background(), "summary", domain.MatchEndsWith)
	require.NoError(t, err)
	assert.Equal(t, first.id, el.NodeID)

	el, err = p.FindByText(context.Background(), "your", domain.MatchStartsWith)
	require.NoError(t, err)
	assert.Equal(t, second.id, el.NodeID)
}

func TestFindByTextNotFound(t *testing.T) {
	f := newFakeBrowser()
	f.add(&fakeNode{tag: "p", text: "hello"})
	p := newTestPage(t, f)

	_, err := p.FindByText(context.Background(), "goodbye", domain.MatchContains)
	assert.ErrorIs(t, err, domain.ErrElementNotFound)
	assert.Contains(t, err.Error(), "goodbye")
	assert.Zero(t, f.count("DOM.querySelectorAll"))
	assert.Empty(t, f.markerAttrs())
	assert.Empty(t, p.Markers().Live())
}

func TestConcurrentFindByTextUsesDisjointMarkers(t *testing.T) {
	f := newFakeBrowser()
	for i := 0; i < 5; i++ {
		f.add(&fakeNode{tag: "button", text: "Add to cart", interactive: true})
		f.add(&fakeNode{tag: "p", text: "Add to cart for free shipping"})
	}
	f.set(func(f *fakeBrowser) { f.delay = time.Millisecond })
	p := newTestPage(t, f)

	const workers = 16
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			els, err := p.FindAllByText(context.Background(), "add to cart", domain.MatchExact)
			if err != nil {
				return err
			}
			assert.Len(t, els, 5)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := f.seenMarkers()
	require.Len(t, seen, workers)
	uniq := make(map[string]struct{}, len(seen))
	for _, m := range seen {
		uniq[m] = struct{}{}
	}
	assert.Len(t, uniq, workers, "every call must allocate its own marker")
	assert.Empty(t, f.markerAttrs())
	assert.Empty(t, p.Markers().Live())
}

func TestFindByTextCleansUpWhenQueryFails(t *testing.T) {
	f := newFakeBrowser()
	f.add(&fakeNode{tag: "button", text: "Pay", interactive: true})
	boom := &domain.ProtocolError{Method: "DOM.querySelectorAll", Code: -32603, Message: "Internal error"}
	f.fail("DOM.querySelectorAll", boom)
	p := newTestPage(t, f)

	_, err := p.FindByText(context.Background(), "pay", domain.MatchExact)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, f.seenMarkers(), 1)
	assert.Empty(t, f.markerAttrs())
	assert.Empty(t, p.Markers().Live())
}

func TestFindByTextCleansUpWhenScriptThrows(t *testing.T) {
	f := newFakeBrowser()
	f.add(&fakeNode{tag: "button", text: "Pay", interactive: true})
	f.set(func(f *fakeBrowser) { f.throwAfterTag = true })
	p := newTestPage(t, f)

	_, err := p.FindByText(context.Background(), "pay", domain.MatchExact)
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 3, ee.Line)
	assert.Empty(t, f.markerAttrs())
}

func TestFindByTextCleansUpAfterCallerCancel(t *testing.T) {
	f := newFakeBrowser()
	f.add(&fakeNode{tag: "button", text: "Pay", interactive: true})
	f.fail("DOM.querySelectorAll", context.Canceled)
	p := newTestPage(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.FindByText(ctx, "pay", domain.MatchExact)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.markerAttrs())
}
