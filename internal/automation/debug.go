package automation

import (
	"context"
	"time"

	"cdpstealth/pkg/domain"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Snapshot 采集元素数量、地址与标题
func (p *Page) Snapshot(ctx context.Context) (domain.PageSnapshot, error) {
	snap := domain.PageSnapshot{ID: uuid.NewString(), CapturedAt: time.Now()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := p.URL(gctx)
		snap.URL = u
		return err
	})
	g.Go(func() error {
		t, err := p.Title(gctx)
		snap.Title = t
		return err
	})
	g.Go(func() error {
		return p.evaluate(gctx, exprElementCount, &snap.ElementCount)
	})
	if err := g.Wait(); err != nil {
		return domain.PageSnapshot{}, err
	}
	return snap, nil
}

// DebugScreenshot 采集带时间戳的快照与 PNG 截图，配置了存储时一并保存
func (p *Page) DebugScreenshot(ctx context.Context) (domain.PageSnapshot, error) {
	snap, err := p.Snapshot(ctx)
	if err != nil {
		return domain.PageSnapshot{}, err
	}
	img, err := p.Screenshot(ctx)
	if err != nil {
		return domain.PageSnapshot{}, err
	}
	snap.Screenshot = img
	if p.opts.Snapshots != nil {
		if err := p.opts.Snapshots.SaveSnapshot(ctx, p.opts.SessionID, snap, domain.FormatPNG); err != nil {
			return snap, err
		}
	}
	p.log.Info("调试截图",
		"id", snap.ID,
		"url", snap.URL,
		"elements", snap.ElementCount,
		"bytes", len(img),
		"at", snap.CapturedAt.Format(time.RFC3339Nano))
	return snap, nil
}
