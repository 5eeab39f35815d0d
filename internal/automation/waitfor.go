package automation

import (
	"context"
	"errors"
	"time"

	"cdpstealth/internal/rules"
	"cdpstealth/pkg/domain"
)

// waitOn 以页面的轮询参数执行 PollUntil，interval 为 0 时使用 PollInterval
func waitOn[T any](ctx context.Context, p *Page, interval time.Duration, op string, pred Predicate[T]) (T, error) {
	if interval <= 0 {
		interval = p.opts.PollInterval
	}
	v, err := PollUntil(ctx, interval, p.opts.WaitTimeout, op, pred)
	p.recordWait(op, err)
	return v, err
}

// recordWait 按结果记录等待指标：ok、timeout 或 error
func (p *Page) recordWait(op string, err error) {
	switch {
	case err == nil:
		p.opts.Metrics.Wait("ok")
	case errors.Is(err, domain.ErrTimeout):
		p.opts.Metrics.Wait("timeout")
		p.log.Warn("等待超时", "op", op, "timeout", p.opts.WaitTimeout.String())
	default:
		p.opts.Metrics.Wait("error")
	}
}

// WaitFor 等待元素出现在 DOM 中
func (p *Page) WaitFor(ctx context.Context, selector string) (*Element, error) {
	return waitOn(ctx, p, 0, "wait for "+selector, func(ctx context.Context) (*Element, bool, error) {
		el, err := p.Find(ctx, selector)
		if err != nil {
			if errors.Is(err, domain.ErrElementNotFound) {
				return nil, false, nil
			}
			return nil, false, err
		}
		return el, true, nil
	})
}

// WaitForVisible 等待元素出现且有非退化的盒模型
func (p *Page) WaitForVisible(ctx context.Context, selector string) (*Element, error) {
	return waitOn(ctx, p, 0, "wait for visible "+selector, func(ctx context.Context) (*Element, bool, error) {
		el, err := p.Find(ctx, selector)
		if err != nil {
			if domain.IsMissing(err) {
				return nil, false, nil
			}
			return nil, false, err
		}
		ok, err := el.IsVisible(ctx)
		if err != nil {
			if domain.IsMissing(err) {
				return nil, false, nil
			}
			return nil, false, err
		}
		return el, ok, nil
	})
}

// WaitForHidden 等待元素从 DOM 中消失或不可见
func (p *Page) WaitForHidden(ctx context.Context, selector string) error {
	_, err := waitOn(ctx, p, 0, "wait for hidden "+selector, func(ctx context.Context) (struct{}, bool, error) {
		el, err := p.Find(ctx, selector)
		if err != nil {
			if domain.IsMissing(err) {
				return struct{}{}, true, nil
			}
			return struct{}{}, false, err
		}
		visible, err := el.IsVisible(ctx)
		if err != nil {
			if domain.IsMissing(err) {
				return struct{}{}, true, nil
			}
			return struct{}{}, false, err
		}
		return struct{}{}, !visible, nil
	})
	return err
}

func (p *Page) hasText(ctx context.Context, text string) (bool, error) {
	var ok bool
	err := p.evaluate(ctx, renderCall(scriptHasText, text), &ok)
	return ok, err
}

// WaitForText 等待页面文本包含 text（忽略大小写）
func (p *Page) WaitForText(ctx context.Context, text string) error {
	_, err := waitOn(ctx, p, 0, "wait for text "+text, func(ctx context.Context) (struct{}, bool, error) {
		ok, err := p.hasText(ctx, text)
		return struct{}{}, ok, err
	})
	return err
}

// WaitForTextGone 等待页面文本不再包含 text
func (p *Page) WaitForTextGone(ctx context.Context, text string) error {
	_, err := waitOn(ctx, p, 0, "wait for text gone "+text, func(ctx context.Context) (struct{}, bool, error) {
		ok, err := p.hasText(ctx, text)
		return struct{}{}, !ok, err
	})
	return err
}

// WaitForURL 等待主框架地址匹配 pattern，返回匹配时的地址
func (p *Page) WaitForURL(ctx context.Context, pattern string, mode rules.Mode) (string, error) {
	return waitOn(ctx, p, 0, "wait for url "+pattern, func(ctx context.Context) (string, bool, error) {
		u, err := p.URL(ctx)
		if err != nil {
			return "", false, err
		}
		return u, rules.Match(u, pattern, mode), nil
	})
}

// WaitForURLChange 等待地址不同于 from，from 为空时以当前地址为基准
func (p *Page) WaitForURLChange(ctx context.Context, from string) (string, error) {
	if from == "" {
		u, err := p.URL(ctx)
		if err != nil {
			return "", err
		}
		from = u
	}
	return waitOn(ctx, p, 0, "wait for url change", func(ctx context.Context) (string, bool, error) {
		u, err := p.URL(ctx)
		if err != nil {
			return "", false, err
		}
		return u, u != from, nil
	})
}

// WaitForNetworkIdle 等待进行中的请求清空并保持 NetworkIdle 时长
func (p *Page) WaitForNetworkIdle(ctx context.Context) error {
	const op = "wait for network idle"
	w := p.opts.Watcher
	if w == nil {
		p.recordWait(op, ErrNoWatcher)
		return ErrNoWatcher
	}
	err := w.WaitForIdle(ctx, p.opts.NetworkIdle, p.opts.WaitTimeout)
	p.recordWait(op, err)
	return err
}

// Retry 按页面的重试参数执行 op
func (p *Page) Retry(ctx context.Context, op func(ctx context.Context) error) error {
	attempt := 0
	_, err := WithRetry(ctx, p.opts.RetryAttempts, p.opts.RetryDelay, func(ctx context.Context) (struct{}, error) {
		attempt++
		err := op(ctx)
		if err != nil {
			p.log.Debug("操作失败，准备重试", "attempt", attempt, "error", err.Error())
		}
		return struct{}{}, err
	})
	switch {
	case err == nil:
		p.opts.Metrics.Retry("ok")
	case errors.Is(err, domain.ErrRetryExhausted):
		p.opts.Metrics.Retry("exhausted")
		p.log.Warn("重试次数耗尽", "attempts", p.opts.RetryAttempts)
	default:
		p.opts.Metrics.Retry("aborted")
	}
	return err
}
