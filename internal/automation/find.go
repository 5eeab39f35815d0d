package automation

import (
	"context"
	"fmt"
	"time"

	"cdpstealth/pkg/domain"

	"github.com/mafredri/cdp/protocol/dom"
)

// cleanupTimeout 标记清理的独立超时，调用方 ctx 已取消时仍会执行
const cleanupTimeout = 5 * time.Second

// Find 按 CSS 选择器查找第一个元素
func (p *Page) Find(ctx context.Context, selector string) (*Element, error) {
	var id dom.NodeID
	err := p.withDocument(ctx, func(root dom.NodeID) error {
		r, err := p.c.DOM.QuerySelector(ctx, dom.NewQuerySelectorArgs(root, selector))
		if err != nil {
			return err
		}
		id = r.NodeID
		return nil
	})
	if err != nil {
		return nil, domain.Clarify(err, selector)
	}
	if id == 0 {
		return nil, domain.NotFound(selector)
	}
	return p.element(id, selector), nil
}

// FindAll 按 CSS 选择器查找全部元素，无匹配时返回空切片
func (p *Page) FindAll(ctx context.Context, selector string) ([]*Element, error) {
	var ids []dom.NodeID
	err := p.withDocument(ctx, func(root dom.NodeID) error {
		r, err := p.c.DOM.QuerySelectorAll(ctx, dom.NewQuerySelectorAllArgs(root, selector))
		if err != nil {
			return err
		}
		ids = r.NodeIDs
		return nil
	})
	if err != nil {
		return nil, domain.Clarify(err, selector)
	}
	return p.elements(ids, selector), nil
}

// Exists 选择器是否有匹配
func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	_, err := p.Find(ctx, selector)
	switch {
	case err == nil:
		return true, nil
	case domain.IsMissing(err):
		return false, nil
	default:
		return false, err
	}
}

// FindByText 按可见文本查找第一个元素，可交互元素优先
func (p *Page) FindByText(ctx context.Context, text string, strategy domain.MatchStrategy) (*Element, error) {
	label := textSelector(text, strategy)
	ids, err := p.findByText(ctx, text, strategy)
	if err != nil {
		return nil, domain.Clarify(err, label)
	}
	if len(ids) == 0 {
		return nil, domain.NotFound(label)
	}
	return p.element(ids[0], label), nil
}

// FindAllByText 按可见文本查找全部元素，按文档顺序返回
func (p *Page) FindAllByText(ctx context.Context, text string, strategy domain.MatchStrategy) ([]*Element, error) {
	label := textSelector(text, strategy)
	ids, err := p.findByText(ctx, text, strategy)
	if err != nil {
		return nil, domain.Clarify(err, label)
	}
	return p.elements(ids, label), nil
}

// findByText 分配本次调用独占的标记属性，在页面内打标后查询带标记的节点。
// 无论成功与否都会清理标记。
func (p *Page) findByText(ctx context.Context, text string, strategy domain.MatchStrategy) ([]dom.NodeID, error) {
	attr := p.markers.Acquire()
	defer p.markers.Release(attr)
	defer p.cleanupMarker(ctx, attr)

	var n int
	if err := p.evaluate(ctx, renderCall(scriptFindText, attr, strategy.String(), text, interactiveSelector), &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	var ids []dom.NodeID
	err := p.withDocument(ctx, func(root dom.NodeID) error {
		r, err := p.c.DOM.QuerySelectorAll(ctx, dom.NewQuerySelectorAllArgs(root, "["+attr+"]"))
		if err != nil {
			return err
		}
		ids = r.NodeIDs
		return nil
	})
	return ids, err
}

func (p *Page) cleanupMarker(ctx context.Context, attr string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	var n int
	if err := p.evaluate(ctx, renderCall(scriptCleanupMarker, attr), &n); err != nil {
		p.log.Err(err, "清理文本标记失败", "marker", attr)
		return
	}
	p.log.Debug("清理文本标记", "marker", attr, "nodes", n)
}

func textSelector(text string, strategy domain.MatchStrategy) string {
	return fmt.Sprintf("text[%s]=%q", strategy, text)
}

func (p *Page) element(id dom.NodeID, selector string) *Element {
	return &Element{page: p, NodeID: id, Selector: selector}
}

func (p *Page) elements(ids []dom.NodeID, selector string) []*Element {
	out := make([]*Element, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.element(id, selector))
	}
	return out
}
