// Package cdp 为各协议域提供类型化的命令封装。
//
// 每个方法只做一次 Send，参数与返回值使用 github.com/mafredri/cdp/protocol
// 中的类型，协议错误原样返回，不做重试或归类。
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
)

// Caller 发送一条命令并返回原始结果，*session.Session 与 *transport.Transport 都满足
type Caller interface {
	Send(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Invoke 发送命令并把结果解码到 reply，reply 为 nil 时忽略结果
func Invoke(ctx context.Context, c Caller, method string, args, reply any) error {
	res, err := c.Send(ctx, method, args)
	if err != nil {
		return err
	}
	if reply == nil || len(res) == 0 {
		return nil
	}
	if err := json.Unmarshal(res, reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	return nil
}

// Client 协议域集合
type Client struct {
	DOM     *DOM
	Runtime *Runtime
	Input   *Input
	Network *Network
	Fetch   *Fetch
	Page    *Page
	Target  *Target
	Browser *Browser
}

// NewClient 基于 Caller 创建各域封装
func NewClient(c Caller) *Client {
	return &Client{
		DOM:     &DOM{c: c},
		Runtime: &Runtime{c: c},
		Input:   &Input{c: c},
		Network: &Network{c: c},
		Fetch:   &Fetch{c: c},
		Page:    &Page{c: c},
		Target:  &Target{c: c},
		Browser: &Browser{c: c},
	}
}
