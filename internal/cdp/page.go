package cdp

import (
	"context"

	"github.com/mafredri/cdp/protocol/page"
)

// Page 域
type Page struct{ c Caller }

func (p *Page) Enable(ctx context.Context) error {
	return Invoke(ctx, p.c, "Page.enable", nil, nil)
}

func (p *Page) Navigate(ctx context.Context, args *page.NavigateArgs) (*page.NavigateReply, error) {
	reply := new(page.NavigateReply)
	if err := Invoke(ctx, p.c, "Page.navigate", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (p *Page) Reload(ctx context.Context, args *page.ReloadArgs) error {
	return Invoke(ctx, p.c, "Page.reload", args, nil)
}

func (p *Page) GetNavigationHistory(ctx context.Context) (*page.GetNavigationHistoryReply, error) {
	reply := new(page.GetNavigationHistoryReply)
	if err := Invoke(ctx, p.c, "Page.getNavigationHistory", nil, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (p *Page) NavigateToHistoryEntry(ctx context.Context, args *page.NavigateToHistoryEntryArgs) error {
	return Invoke(ctx, p.c, "Page.navigateToHistoryEntry", args, nil)
}

func (p *Page) AddScriptToEvaluateOnNewDocument(ctx context.Context, args *page.AddScriptToEvaluateOnNewDocumentArgs) (*page.AddScriptToEvaluateOnNewDocumentReply, error) {
	reply := new(page.AddScriptToEvaluateOnNewDocumentReply)
	if err := Invoke(ctx, p.c, "Page.addScriptToEvaluateOnNewDocument", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (p *Page) CaptureScreenshot(ctx context.Context, args *page.CaptureScreenshotArgs) (*page.CaptureScreenshotReply, error) {
	reply := new(page.CaptureScreenshotReply)
	if err := Invoke(ctx, p.c, "Page.captureScreenshot", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (p *Page) GetFrameTree(ctx context.Context) (*page.GetFrameTreeReply, error) {
	reply := new(page.GetFrameTreeReply)
	if err := Invoke(ctx, p.c, "Page.getFrameTree", nil, reply); err != nil {
		return nil, err
	}
	return reply, nil
}
