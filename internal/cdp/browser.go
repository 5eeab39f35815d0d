package cdp

import (
	"context"

	"github.com/mafredri/cdp/protocol/browser"
)

// Browser 域
type Browser struct{ c Caller }

func (b *Browser) GetVersion(ctx context.Context) (*browser.GetVersionReply, error) {
	reply := new(browser.GetVersionReply)
	if err := Invoke(ctx, b.c, "Browser.getVersion", nil, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (b *Browser) Close(ctx context.Context) error {
	return Invoke(ctx, b.c, "Browser.close", nil, nil)
}
