package cdp

import (
	"context"

	"github.com/mafredri/cdp/protocol/input"
)

// Input 域
type Input struct{ c Caller }

// MouseEventArgs Input.dispatchMouseEvent 参数
type MouseEventArgs struct {
	Type       string  `json:"type"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Button     string  `json:"button,omitempty"`
	Buttons    int     `json:"buttons,omitempty"`
	ClickCount int     `json:"clickCount,omitempty"`
	Modifiers  int     `json:"modifiers,omitempty"`
}

const (
	MouseMoved    = "mouseMoved"
	MousePressed  = "mousePressed"
	MouseReleased = "mouseReleased"
)

func (i *Input) DispatchMouseEvent(ctx context.Context, args *MouseEventArgs) error {
	return Invoke(ctx, i.c, "Input.dispatchMouseEvent", args, nil)
}

func (i *Input) DispatchKeyEvent(ctx context.Context, args *input.DispatchKeyEventArgs) error {
	return Invoke(ctx, i.c, "Input.dispatchKeyEvent", args, nil)
}

func (i *Input) InsertText(ctx context.Context, args *input.InsertTextArgs) error {
	return Invoke(ctx, i.c, "Input.insertText", args, nil)
}
