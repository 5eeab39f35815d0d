package cdp

import (
	"context"

	"github.com/mafredri/cdp/protocol/network"
)

// Network 域
type Network struct{ c Caller }

func (n *Network) Enable(ctx context.Context, args *network.EnableArgs) error {
	return Invoke(ctx, n.c, "Network.enable", args, nil)
}

func (n *Network) Disable(ctx context.Context) error {
	return Invoke(ctx, n.c, "Network.disable", nil, nil)
}

func (n *Network) GetCookies(ctx context.Context, args *network.GetCookiesArgs) (*network.GetCookiesReply, error) {
	reply := new(network.GetCookiesReply)
	if err := Invoke(ctx, n.c, "Network.getCookies", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (n *Network) SetCookie(ctx context.Context, args *network.SetCookieArgs) error {
	return Invoke(ctx, n.c, "Network.setCookie", args, nil)
}

func (n *Network) DeleteCookies(ctx context.Context, args *network.DeleteCookiesArgs) error {
	return Invoke(ctx, n.c, "Network.deleteCookies", args, nil)
}

func (n *Network) GetResponseBody(ctx context.Context, args *network.GetResponseBodyArgs) (*network.GetResponseBodyReply, error) {
	reply := new(network.GetResponseBodyReply)
	if err := Invoke(ctx, n.c, "Network.getResponseBody", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}
