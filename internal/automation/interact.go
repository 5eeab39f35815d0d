package automation

import (
	"context"

	"cdpstealth/pkg/domain"
)

// Click 按选择器点击
func (p *Page) Click(ctx context.Context, selector string) error {
	el, err := p.Find(ctx, selector)
	if err != nil {
		return err
	}
	return el.Click(ctx)
}

// ClickByText 点击第一个文本匹配的元素
func (p *Page) ClickByText(ctx context.Context, text string, strategy domain.MatchStrategy) error {
	el, err := p.FindByText(ctx, text, strategy)
	if err != nil {
		return err
	}
	return el.Click(ctx)
}

// Fill 清空输入框后输入文本
func (p *Page) Fill(ctx context.Context, selector, text string) error {
	el, err := p.Find(ctx, selector)
	if err != nil {
		return err
	}
	return el.Fill(ctx, text)
}

// Hover 鼠标悬停
func (p *Page) Hover(ctx context.Context, selector string) error {
	el, err := p.Find(ctx, selector)
	if err != nil {
		return err
	}
	return el.Hover(ctx)
}

// TypeText 向当前焦点输入文本
func (p *Page) TypeText(ctx context.Context, text string) error {
	return p.typeText(ctx, text)
}

// ClickAt 点击视口坐标
func (p *Page) ClickAt(ctx context.Context, x, y float64) error {
	return p.clickAt(ctx, domain.Point{X: x, Y: y})
}

// TryClick 元素不存在或不可见时返回 false，其他错误照常返回
func (p *Page) TryClick(ctx context.Context, selector string) (bool, error) {
	return try(p.Click(ctx, selector))
}

// TryClickByText 同 TryClick，按文本查找
func (p *Page) TryClickByText(ctx context.Context, text string, strategy domain.MatchStrategy) (bool, error) {
	return try(p.ClickByText(ctx, text, strategy))
}

// TryFill 同 TryClick，用于可选输入框
func (p *Page) TryFill(ctx context.Context, selector, text string) (bool, error) {
	return try(p.Fill(ctx, selector, text))
}

func try(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case domain.IsMissing(err):
		return false, nil
	default:
		return false, err
	}
}
