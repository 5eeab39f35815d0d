package cdp

import (
	"context"

	"github.com/mafredri/cdp/protocol/fetch"
)

// Fetch 域，只用于按规则放行或拒绝请求
type Fetch struct{ c Caller }

func (f *Fetch) Enable(ctx context.Context, args *fetch.EnableArgs) error {
	return Invoke(ctx, f.c, "Fetch.enable", args, nil)
}

func (f *Fetch) Disable(ctx context.Context) error {
	return Invoke(ctx, f.c, "Fetch.disable", nil, nil)
}

func (f *Fetch) ContinueRequest(ctx context.Context, args *fetch.ContinueRequestArgs) error {
	return Invoke(ctx, f.c, "Fetch.continueRequest", args, nil)
}

func (f *Fetch) FailRequest(ctx context.Context, args *fetch.FailRequestArgs) error {
	return Invoke(ctx, f.c, "Fetch.failRequest", args, nil)
}
